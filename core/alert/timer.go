package alert

import (
	"sync"
	"time"
)

// EscalationTimers schedules one cancellable timer per alert. A timer fires
// exactly once; Cancel is idempotent and cancelling an already-fired or
// already-cancelled timer is a no-op, never an error.
type EscalationTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewEscalationTimers returns an empty timer registry.
func NewEscalationTimers() *EscalationTimers {
	return &EscalationTimers{timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer for the alert, replacing any pending one. fire runs
// on its own goroutine after d elapses, unless cancelled first.
func (t *EscalationTimers) Schedule(id string, d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[id]; ok {
		old.Stop()
	}
	t.timers[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		fire()
	})
}

// Cancel stops the pending timer for the alert, if any. It reports whether
// a timer was actually stopped before firing.
func (t *EscalationTimers) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.timers[id]
	if !ok {
		return false
	}
	delete(t.timers, id)
	return tm.Stop()
}

// Pending reports whether a timer is armed for the alert.
func (t *EscalationTimers) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[id]
	return ok
}

// Stop cancels all pending timers.
func (t *EscalationTimers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tm := range t.timers {
		tm.Stop()
		delete(t.timers, id)
	}
}
