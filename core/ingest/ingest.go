// Package ingest normalizes inbound telemetry into the live state store.
// Events are applied last-write-wins by source timestamp: duplicates and
// out-of-order events are dropped, not merged, so replaying a stream in any
// delivery order converges to the same final state.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/metrics"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/state"
)

// Stats counts ingestion outcomes since process start.
type Stats struct {
	Applied   uint64 `json:"applied"`
	Dropped   uint64 `json:"dropped"`
	Malformed uint64 `json:"malformed"`
}

// Ingestor applies telemetry events to the store and forwards each applied
// event, unmodified, to the alert engine's input queue.
type Ingestor struct {
	store   *state.Store
	forward chan<- model.TelemetryEvent
	log     logger.Logger
	sink    metrics.Sink

	applied   atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
}

// New creates an Ingestor. forward may be nil when no alert engine is wired
// (e.g. in isolated tests). A nil sink disables metrics.
func New(store *state.Store, forward chan<- model.TelemetryEvent, log logger.Logger, sink metrics.Sink) *Ingestor {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Ingestor{store: store, forward: forward, log: log, sink: sink}
}

// Run consumes events from the channel until the context is canceled. A bad
// event never stops the loop: ingestion is skip-and-count, not fail-stop.
func (in *Ingestor) Run(ctx context.Context, events <-chan model.TelemetryEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			in.Apply(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Apply validates and applies one event. It reports whether the event was
// applied; rejected events are counted by cause.
func (in *Ingestor) Apply(ev model.TelemetryEvent) bool {
	if err := validate(ev); err != nil {
		in.malformed.Add(1)
		in.record(ev.VehicleID, "malformed")
		in.log.Warnf("malformed telemetry for %q dropped: %v", ev.VehicleID, err)
		return false
	}

	_, _, err := in.store.UpdateVehicle(ev.VehicleID, func(v *model.Vehicle) error {
		if !ev.Timestamp.After(v.Position.Timestamp) {
			return model.Reject(model.ReasonValidationFailed, "event at %s not newer than %s", ev.Timestamp, v.Position.Timestamp)
		}
		v.Position = model.Position{Lat: ev.Lat, Lon: ev.Lon, AccuracyM: ev.AccuracyM, Timestamp: ev.Timestamp}
		v.LastSeen = ev.Timestamp
		if st := statusFor(ev.StatusCode); st != "" {
			v.Status = st
		}
		return nil
	})
	if err != nil {
		in.dropped.Add(1)
		in.record(ev.VehicleID, "stale_drop")
		return false
	}

	in.applied.Add(1)
	in.record(ev.VehicleID, "applied")
	if in.forward != nil {
		in.forward <- ev
	}
	return true
}

func (in *Ingestor) record(id, outcome string) {
	if err := in.sink.RecordIngest(metrics.IngestEvent{VehicleID: id, Outcome: outcome, Time: time.Now()}); err != nil {
		in.log.Errorf("ingest metrics: %v", err)
	}
}

// Stats returns the current outcome counters.
func (in *Ingestor) Stats() Stats {
	return Stats{
		Applied:   in.applied.Load(),
		Dropped:   in.dropped.Load(),
		Malformed: in.malformed.Load(),
	}
}

func validate(ev model.TelemetryEvent) error {
	switch {
	case ev.VehicleID == "":
		return model.Reject(model.ReasonValidationFailed, "empty vehicle id")
	case ev.Timestamp.IsZero():
		return model.Reject(model.ReasonValidationFailed, "zero timestamp")
	case ev.Lat < -90 || ev.Lat > 90:
		return model.Reject(model.ReasonValidationFailed, "latitude %v out of range", ev.Lat)
	case ev.Lon < -180 || ev.Lon > 180:
		return model.Reject(model.ReasonValidationFailed, "longitude %v out of range", ev.Lon)
	case ev.SpeedMPH < 0:
		return model.Reject(model.ReasonValidationFailed, "negative speed %v", ev.SpeedMPH)
	}
	return nil
}

func statusFor(code model.StatusCode) model.VehicleStatus {
	switch code {
	case model.StatusMoving:
		return model.VehicleActive
	case model.StatusStopped:
		return model.VehicleIdle
	case model.StatusPanic:
		return model.VehicleEmergency
	}
	// Fault codes carry detail for the alert engine but do not change the
	// operational status on their own.
	return ""
}
