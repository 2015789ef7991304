package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetglide/dispatchd/core/alert/audit"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/infra/logger"
)

func panicEvent(vehicle string) model.TelemetryEvent {
	return model.TelemetryEvent{
		VehicleID:  vehicle,
		Timestamp:  time.Now(),
		Lat:        48.85,
		Lon:        2.35,
		StatusCode: model.StatusPanic,
	}
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	return New(cfg, audit.NewMemoryStore(), logger.NopLogger{}, nil, opts...)
}

func TestClassifyPanicRaisesCritical(t *testing.T) {
	e := newEngine(t, Config{})
	raised := e.Classify(panicEvent("v1"))
	require.Len(t, raised, 1)
	a := raised[0]
	assert.Equal(t, model.SeverityCritical, a.Severity)
	assert.Equal(t, model.AlertRaised, a.State)
	assert.Equal(t, a.RaisedAt.Add(60*time.Second), a.AckDeadline)
	assert.True(t, e.timers.Pending(a.ID))
}

func TestClassifyRules(t *testing.T) {
	cfg := Config{Rules: RulesConfig{
		SpeedLimitMPH:         80,
		CriticalFaultPrefixes: []string{"P0"},
		Geofence:              &Geofence{Center: model.Geo{Lat: 48.85, Lon: 2.35}, RadiusKm: 50},
	}}
	e := newEngine(t, cfg)

	t.Run("critical fault", func(t *testing.T) {
		ev := model.TelemetryEvent{VehicleID: "v1", Timestamp: time.Now(), Lat: 48.85, Lon: 2.35,
			StatusCode: model.StatusFault, FaultCodes: []string{"P0301"}}
		raised := e.Classify(ev)
		require.Len(t, raised, 1)
		assert.Equal(t, "critical_fault", raised[0].Rule)
		assert.Equal(t, model.SeverityCritical, raised[0].Severity)
	})
	t.Run("plain fault is warning", func(t *testing.T) {
		ev := model.TelemetryEvent{VehicleID: "v1", Timestamp: time.Now(), Lat: 48.85, Lon: 2.35,
			StatusCode: model.StatusFault, FaultCodes: []string{"B1234"}}
		raised := e.Classify(ev)
		require.Len(t, raised, 1)
		assert.Equal(t, "fault_code", raised[0].Rule)
		assert.Equal(t, model.SeverityWarning, raised[0].Severity)
	})
	t.Run("speeding", func(t *testing.T) {
		ev := model.TelemetryEvent{VehicleID: "v1", Timestamp: time.Now(), Lat: 48.85, Lon: 2.35,
			SpeedMPH: 95, StatusCode: model.StatusMoving}
		raised := e.Classify(ev)
		require.Len(t, raised, 1)
		assert.Equal(t, "speeding", raised[0].Rule)
	})
	t.Run("geofence exit", func(t *testing.T) {
		ev := model.TelemetryEvent{VehicleID: "v1", Timestamp: time.Now(), Lat: 45.76, Lon: 4.83,
			StatusCode: model.StatusMoving}
		raised := e.Classify(ev)
		require.Len(t, raised, 1)
		assert.Equal(t, "geofence_exit", raised[0].Rule)
	})
	t.Run("clean event", func(t *testing.T) {
		ev := model.TelemetryEvent{VehicleID: "v1", Timestamp: time.Now(), Lat: 48.85, Lon: 2.35,
			SpeedMPH: 40, StatusCode: model.StatusMoving}
		assert.Empty(t, e.Classify(ev))
	})
}

func TestAcknowledgeCancelsEscalation(t *testing.T) {
	e := newEngine(t, Config{CriticalAckSeconds: 1})
	a := e.Classify(panicEvent("v1"))[0]

	require.NoError(t, e.Acknowledge(a.ID, "disp1", "crew contacted"))
	assert.False(t, e.timers.Pending(a.ID))

	got, _ := e.Get(a.ID)
	assert.Equal(t, model.AlertAcknowledged, got.State)
	assert.Equal(t, 0, got.EscalationTier)
}

func TestCriticalAckRequiresNote(t *testing.T) {
	e := newEngine(t, Config{})
	a := e.Classify(panicEvent("v1"))[0]
	err := e.Acknowledge(a.ID, "disp1", "")
	assert.Equal(t, model.ReasonNoteRequired, model.ReasonOf(err))
	got, _ := e.Get(a.ID)
	assert.Equal(t, model.AlertRaised, got.State)
}

func TestEscalationNeverEarly(t *testing.T) {
	clock := time.Now()
	e := New(Config{CriticalAckSeconds: 1, EscalationMultiplier: 2},
		audit.NewMemoryStore(), logger.NopLogger{}, nil,
		WithClock(func() time.Time { return clock }))
	a := e.Classify(panicEvent("v1"))[0]

	deadline := 1 * time.Second
	start := time.Now()
	for {
		got, _ := e.Get(a.ID)
		if got.State == model.AlertEscalated {
			elapsed := time.Since(start)
			assert.GreaterOrEqual(t, elapsed, deadline, "escalation fired before the deadline")
			assert.Equal(t, 1, got.EscalationTier)
			return
		}
		if time.Since(start) > 5*time.Second {
			t.Fatal("alert never escalated")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTieredEscalationSchedulesLongerTimer(t *testing.T) {
	e := newEngine(t, Config{CriticalAckSeconds: 60, EscalationMultiplier: 3})
	a := e.Classify(panicEvent("v1"))[0]

	// Fire the escalation directly rather than waiting a minute.
	e.escalate(a.ID)
	got, _ := e.Get(a.ID)
	assert.Equal(t, model.AlertEscalated, got.State)
	assert.Equal(t, 1, got.EscalationTier)
	// A second, longer-interval timer is armed for the next tier.
	assert.True(t, e.timers.Pending(a.ID))

	e.escalate(a.ID)
	got, _ = e.Get(a.ID)
	assert.Equal(t, 2, got.EscalationTier)
}

// Racing an acknowledgment against the escalation firing at the deadline:
// exactly one wins, and a successful acknowledgment means the alert never
// reaches escalated.
func TestAckEscalationRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		e := newEngine(t, Config{CriticalAckSeconds: 60})
		a := e.Classify(panicEvent("v1"))[0]
		e.timers.Cancel(a.ID) // fire manually below

		var wg sync.WaitGroup
		var ackErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			ackErr = e.Acknowledge(a.ID, "disp1", "on it")
		}()
		go func() {
			defer wg.Done()
			e.escalate(a.ID)
		}()
		wg.Wait()

		got, _ := e.Get(a.ID)
		if ackErr == nil {
			// Ack won: escalation must have been a no-op.
			assert.Equal(t, model.AlertAcknowledged, got.State)
			assert.Equal(t, 0, got.EscalationTier)
		} else {
			// Escalation won: the late ack is an invalid transition.
			assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(ackErr))
			assert.Equal(t, model.AlertEscalated, got.State)
		}
	}
}

func TestResolveLifecycle(t *testing.T) {
	e := newEngine(t, Config{})
	a := e.Classify(panicEvent("v1"))[0]

	// Resolving a raised alert skips acknowledgment: invalid.
	err := e.Resolve(a.ID, "disp1", "done", model.ReasonHandled)
	assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(err))

	require.NoError(t, e.Acknowledge(a.ID, "disp1", "checking"))
	err = e.Resolve(a.ID, "disp1", "", model.ReasonHandled)
	assert.Equal(t, model.ReasonNoteRequired, model.ReasonOf(err))

	require.NoError(t, e.Resolve(a.ID, "disp1", "engine fault cleared", model.ReasonHandled))
	got, _ := e.Get(a.ID)
	assert.Equal(t, model.AlertResolved, got.State)

	// Resolved is terminal.
	err = e.Acknowledge(a.ID, "disp1", "late")
	assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(err))
	err = e.Resolve(a.ID, "disp1", "again", model.ReasonHandled)
	assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(err))
}

func TestFalsePositiveResolution(t *testing.T) {
	e := newEngine(t, Config{})
	a := e.Classify(panicEvent("v1"))[0]
	require.NoError(t, e.Acknowledge(a.ID, "disp1", "checking"))
	require.NoError(t, e.Resolve(a.ID, "disp1", "sensor glitch", model.ReasonFalsePositive))

	trail, err := e.Trail().Query(context.Background(), audit.Query{AlertID: a.ID})
	require.NoError(t, err)
	require.Len(t, trail, 3)
	last := trail[2]
	assert.Equal(t, model.AlertResolved, last.To)
	assert.Equal(t, model.ReasonFalsePositive, last.Reason)
}

func TestResolveFromEscalated(t *testing.T) {
	e := newEngine(t, Config{})
	a := e.Classify(panicEvent("v1"))[0]
	e.timers.Cancel(a.ID)
	e.escalate(a.ID)
	require.NoError(t, e.Resolve(a.ID, "disp2", "handled by secondary tier", model.ReasonHandled))
	assert.False(t, e.timers.Pending(a.ID))
}

func TestQueueSortedBySeverityThenAge(t *testing.T) {
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := New(Config{Rules: RulesConfig{SpeedLimitMPH: 80}},
		audit.NewMemoryStore(), logger.NopLogger{}, nil,
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}))

	speeding := model.TelemetryEvent{VehicleID: "v-warn-old", Timestamp: time.Now(), SpeedMPH: 95, StatusCode: model.StatusMoving}
	e.Classify(speeding)
	speeding.VehicleID = "v-warn-new"
	e.Classify(speeding)
	e.Classify(panicEvent("v-crit"))

	q := e.Queue()
	require.Len(t, q, 3)
	assert.Equal(t, "v-crit", q[0].VehicleID)
	assert.Equal(t, "v-warn-old", q[1].VehicleID)
	assert.Equal(t, "v-warn-new", q[2].VehicleID)

	// Resolved alerts leave the queue.
	require.NoError(t, e.Acknowledge(q[1].ID, "d", "seen"))
	require.NoError(t, e.Resolve(q[1].ID, "d", "cleared", model.ReasonHandled))
	assert.Len(t, e.Queue(), 2)
}

func TestAuditTrailAppendOnly(t *testing.T) {
	e := newEngine(t, Config{})
	a := e.Classify(panicEvent("v1"))[0]
	require.NoError(t, e.Acknowledge(a.ID, "disp1", "on it"))
	require.NoError(t, e.Resolve(a.ID, "disp1", "done", model.ReasonHandled))

	trail, err := e.Trail().Query(context.Background(), audit.Query{AlertID: a.ID})
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, model.AlertRaised, trail[0].To)
	assert.Equal(t, model.AlertAcknowledged, trail[1].To)
	assert.Equal(t, model.AlertResolved, trail[2].To)
}

func TestRunConsumesQueue(t *testing.T) {
	e := newEngine(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan model.TelemetryEvent, 4)
	done := make(chan struct{})
	go func() {
		e.Run(ctx, events)
		close(done)
	}()
	events <- panicEvent("v1")

	deadline := time.After(2 * time.Second)
	for len(e.Queue()) == 0 {
		select {
		case <-deadline:
			t.Fatal("alert never raised")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	<-done
}
