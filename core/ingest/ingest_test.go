package ingest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/state"
	"github.com/fleetglide/dispatchd/infra/logger"
)

func newStoreWithVehicle(t *testing.T, id string) *state.Store {
	t.Helper()
	s := state.New()
	_, err := s.PutVehicle(model.Vehicle{ID: id, Status: model.VehicleIdle})
	require.NoError(t, err)
	return s
}

func event(id string, ts time.Time) model.TelemetryEvent {
	return model.TelemetryEvent{
		VehicleID:  id,
		Timestamp:  ts,
		Lat:        48.85,
		Lon:        2.35,
		SpeedMPH:   30,
		StatusCode: model.StatusMoving,
	}
}

func TestApplyUpdatesVehicle(t *testing.T) {
	s := newStoreWithVehicle(t, "v1")
	in := New(s, nil, logger.NopLogger{}, nil)
	ts := time.Now()
	require.True(t, in.Apply(event("v1", ts)))

	snap, _ := s.Vehicle("v1")
	assert.Equal(t, model.VehicleActive, snap.Status)
	assert.Equal(t, 48.85, snap.Position.Lat)
	assert.Equal(t, ts, snap.LastSeen)
	assert.Equal(t, uint64(1), in.Stats().Applied)
}

func TestOutOfOrderDropped(t *testing.T) {
	s := newStoreWithVehicle(t, "v1")
	in := New(s, nil, logger.NopLogger{}, nil)
	base := time.Now()
	require.True(t, in.Apply(event("v1", base)))
	// Same timestamp is a duplicate, older is out of order: both dropped.
	assert.False(t, in.Apply(event("v1", base)))
	assert.False(t, in.Apply(event("v1", base.Add(-time.Second))))
	assert.Equal(t, uint64(2), in.Stats().Dropped)
}

func TestMalformedCountedNotFatal(t *testing.T) {
	s := newStoreWithVehicle(t, "v1")
	in := New(s, nil, logger.NopLogger{}, nil)
	bad := []model.TelemetryEvent{
		{},
		{VehicleID: "v1"},
		{VehicleID: "v1", Timestamp: time.Now(), Lat: 91},
		{VehicleID: "v1", Timestamp: time.Now(), Lon: -181},
		{VehicleID: "v1", Timestamp: time.Now(), SpeedMPH: -1},
	}
	for _, ev := range bad {
		assert.False(t, in.Apply(ev))
	}
	assert.Equal(t, uint64(5), in.Stats().Malformed)

	// The pipeline keeps working after bad input.
	assert.True(t, in.Apply(event("v1", time.Now())))
}

func TestAppliedEventsForwardedUnmodified(t *testing.T) {
	s := newStoreWithVehicle(t, "v1")
	fwd := make(chan model.TelemetryEvent, 4)
	in := New(s, fwd, logger.NopLogger{}, nil)
	ts := time.Now()
	ev := event("v1", ts)
	ev.FaultCodes = []string{"P0001"}
	require.True(t, in.Apply(ev))
	require.False(t, in.Apply(event("v1", ts))) // duplicate not forwarded

	require.Len(t, fwd, 1)
	got := <-fwd
	assert.Equal(t, ev, got)
}

// Applying a single vehicle's event sequence in any delivery order must
// converge to the same final state as timestamp order.
func TestOrderIndependentConvergence(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	events := make([]model.TelemetryEvent, 20)
	for i := range events {
		ev := event("v1", base.Add(time.Duration(i)*time.Second))
		ev.Lat = 40 + float64(i)*0.01
		events[i] = ev
	}

	final := func(order []model.TelemetryEvent) state.VehicleSnapshot {
		s := newStoreWithVehicle(t, "v1")
		in := New(s, nil, logger.NopLogger{}, nil)
		for _, ev := range order {
			in.Apply(ev)
		}
		snap, _ := s.Vehicle("v1")
		return snap
	}

	want := final(events)
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]model.TelemetryEvent(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := final(shuffled)
		assert.Equal(t, want.Position, got.Position)
		assert.Equal(t, want.LastSeen, got.LastSeen)
	}
}

func TestUnknownVehicleDropped(t *testing.T) {
	s := state.New()
	in := New(s, nil, logger.NopLogger{}, nil)
	assert.False(t, in.Apply(event("ghost", time.Now())))
	assert.Equal(t, uint64(1), in.Stats().Dropped)
}

func TestPanicStatusSetsEmergency(t *testing.T) {
	s := newStoreWithVehicle(t, "v1")
	in := New(s, nil, logger.NopLogger{}, nil)
	ev := event("v1", time.Now())
	ev.StatusCode = model.StatusPanic
	require.True(t, in.Apply(ev))
	snap, _ := s.Vehicle("v1")
	assert.Equal(t, model.VehicleEmergency, snap.Status)
}
