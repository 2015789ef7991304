// Package notify fans live-state changes and alert transitions out to
// connected dispatcher and driver sessions. Delivery is at-least-once with
// per-entity versions in every event: a subscriber that sees a version gap
// resyncs from the query API rather than trusting its local replica.
package notify

import (
	"sync/atomic"

	"github.com/fleetglide/dispatchd/core/alert"
	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/metrics"
	"github.com/fleetglide/dispatchd/core/state"
	"github.com/fleetglide/dispatchd/internal/eventbus"
)

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	EventEntityChange EventType = "entity_change"
	EventAlert        EventType = "alert"
)

// Event is one fan-out notification. Exactly one payload field is set,
// selected by Type. Entity changes carry the entity's version; alert events
// carry the alert snapshot plus the trail record that produced it.
type Event struct {
	Type   EventType         `json:"type"`
	Change state.Change      `json:"change,omitempty"`
	Alert  *alert.Transition `json:"alert,omitempty"`
}

// Config defines fan-out settings.
type Config struct {
	// Backlog is the per-subscriber channel buffer. A subscriber that falls
	// this far behind is disconnected. Default 64.
	Backlog int `json:"backlog"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backlog <= 0 {
		c.Backlog = 64
	}
}

// Hub is the notification fan-out. Producers never block: a subscriber
// whose backlog overflows is dropped and must resubscribe and resync.
type Hub struct {
	bus     *eventbus.Bus[Event]
	log     logger.Logger
	sink    metrics.Sink
	dropped atomic.Uint64
}

// NewHub creates a Hub. A nil sink disables metrics.
func NewHub(cfg Config, log logger.Logger, sink metrics.Sink) *Hub {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	h := &Hub{bus: eventbus.New[Event](cfg.Backlog), log: log, sink: sink}
	h.bus.OnDrop = func(id int) {
		h.dropped.Add(1)
		h.log.Warnf("subscriber %d dropped: backlog overflow", id)
		if rec, ok := h.sink.(metrics.SubscriberDropRecorder); ok {
			if err := rec.RecordSubscriberDrop(); err != nil {
				h.log.Errorf("subscriber drop metrics: %v", err)
			}
		}
	}
	return h
}

// PublishChange forwards a live-state change. Wire this to the state
// store's change hook.
func (h *Hub) PublishChange(c state.Change) {
	h.bus.Publish(Event{Type: EventEntityChange, Change: c})
}

// PublishAlert forwards an alert transition. Wire this to the alert
// engine's transition hook.
func (h *Hub) PublishAlert(tr alert.Transition) {
	h.bus.Publish(Event{Type: EventAlert, Alert: &tr})
}

// Subscribe registers a session and returns its ID and event channel. The
// channel closes when the session is dropped or the hub shuts down.
func (h *Hub) Subscribe() (int, <-chan Event) {
	return h.bus.Subscribe()
}

// Unsubscribe detaches a session. Unknown IDs are a no-op.
func (h *Hub) Unsubscribe(id int) {
	h.bus.Unsubscribe(id)
}

// Subscribers returns the number of live sessions.
func (h *Hub) Subscribers() int { return h.bus.Len() }

// Dropped returns the number of sessions disconnected for overflow since
// startup.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close shuts the hub down and closes every session channel.
func (h *Hub) Close() { h.bus.Close() }
