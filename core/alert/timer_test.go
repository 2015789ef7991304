package alert

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerFiresOnce(t *testing.T) {
	timers := NewEscalationTimers()
	defer timers.Stop()
	var fired atomic.Int32
	timers.Schedule("a1", 10*time.Millisecond, func() { fired.Add(1) })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, timers.Pending("a1"))
}

func TestCancelPreventsFire(t *testing.T) {
	timers := NewEscalationTimers()
	defer timers.Stop()
	var fired atomic.Int32
	timers.Schedule("a1", 50*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, timers.Cancel("a1"))
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancelIdempotent(t *testing.T) {
	timers := NewEscalationTimers()
	defer timers.Stop()
	// Cancelling an unknown or already-cancelled timer is a no-op.
	assert.False(t, timers.Cancel("missing"))
	timers.Schedule("a1", 50*time.Millisecond, func() {})
	assert.True(t, timers.Cancel("a1"))
	assert.False(t, timers.Cancel("a1"))
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	timers := NewEscalationTimers()
	defer timers.Stop()
	done := make(chan struct{})
	timers.Schedule("a1", time.Millisecond, func() { close(done) })
	<-done
	assert.False(t, timers.Cancel("a1"))
}

func TestRescheduleReplaces(t *testing.T) {
	timers := NewEscalationTimers()
	defer timers.Stop()
	var first, second atomic.Int32
	timers.Schedule("a1", 30*time.Millisecond, func() { first.Add(1) })
	timers.Schedule("a1", 5*time.Millisecond, func() { second.Add(1) })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}
