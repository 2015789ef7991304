// Package metrics defines the observability contracts recorded by the
// dispatch core. Implementations live under infra/metrics.
package metrics

import (
	"time"

	"github.com/fleetglide/dispatchd/core/model"
)

// IngestEvent records the outcome of one inbound telemetry event.
type IngestEvent struct {
	VehicleID string
	Outcome   string // "applied", "stale_drop", "malformed"
	Time      time.Time
}

// AlertEvent records an alert lifecycle transition.
type AlertEvent struct {
	AlertID  string
	Severity model.Severity
	State    model.AlertState
	Tier     int
	Time     time.Time
}

// AckLatency captures the time from raise to acknowledgment.
type AckLatency struct {
	AlertID  string
	Severity model.Severity
	Latency  time.Duration
}

// AssignmentEvent records the outcome of an assignment attempt.
type AssignmentEvent struct {
	JobID   string
	Outcome string // "offered", "accepted", "expired", or a rejection reason
	Time    time.Time
}

// Sink records dispatch-core events for observability purposes.
type Sink interface {
	RecordIngest(ev IngestEvent) error
	RecordAlert(ev AlertEvent) error
	RecordAssignment(ev AssignmentEvent) error
}

// AckLatencyRecorder is an optional upgrade interface for sinks that track
// acknowledgment latency distributions.
type AckLatencyRecorder interface {
	RecordAckLatency(rec AckLatency) error
}

// FleetSizeRecorder is an optional upgrade interface for sinks that expose
// the live fleet size.
type FleetSizeRecorder interface {
	RecordFleetSize(size int) error
}

// SubscriberDropRecorder is an optional upgrade interface counting fan-out
// subscribers disconnected for backlog overflow.
type SubscriberDropRecorder interface {
	RecordSubscriberDrop() error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordIngest(IngestEvent) error         { return nil }
func (NopSink) RecordAlert(AlertEvent) error           { return nil }
func (NopSink) RecordAssignment(AssignmentEvent) error { return nil }

// Config selects and configures metrics backends.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":2112"
	}
}
