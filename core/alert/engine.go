// Package alert classifies telemetry events into severity-tiered alerts and
// drives the escalation state machine. Transitions for a single alert are
// strictly sequential; every transition is appended to the audit trail.
package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglide/dispatchd/core/alert/audit"
	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/metrics"
	"github.com/fleetglide/dispatchd/core/model"
)

// RulesConfig parameterizes the classification rules.
type RulesConfig struct {
	SpeedLimitMPH         float64   `json:"speed_limit_mph"`
	CriticalFaultPrefixes []string  `json:"critical_fault_prefixes"`
	Geofence              *Geofence `json:"geofence,omitempty"`
}

// Config defines alert engine settings.
type Config struct {
	// CriticalAckSeconds is the acknowledgment deadline for critical
	// alerts before escalation. Default 60.
	CriticalAckSeconds int `json:"critical_ack_seconds"`
	// EscalationMultiplier stretches each successive escalation interval.
	// Default 3.
	EscalationMultiplier int `json:"escalation_multiplier"`
	// QueueSize bounds the input event queue. Default 256.
	QueueSize int         `json:"queue_size"`
	Rules     RulesConfig `json:"rules"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.CriticalAckSeconds <= 0 {
		c.CriticalAckSeconds = 60
	}
	if c.EscalationMultiplier <= 1 {
		c.EscalationMultiplier = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Transition pairs an alert snapshot with the transition that produced it,
// published to subscribers on every state change.
type Transition struct {
	Alert      model.Alert           `json:"alert"`
	Transition model.AlertTransition `json:"transition"`
}

type alertEntry struct {
	mu sync.Mutex
	a  model.Alert
}

// Engine owns the alert lifecycle. It references vehicles by identifier
// only and never mutates fleet state.
type Engine struct {
	cfg    Config
	rules  []Rule
	timers *EscalationTimers
	trail  audit.Store
	log    logger.Logger
	sink   metrics.Sink
	now    func() time.Time

	onTransition func(Transition)

	mu     sync.RWMutex
	alerts map[string]*alertEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTransitionHook registers a callback invoked after each committed
// transition, outside the per-alert lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(e *Engine) { e.onTransition = fn }
}

// New creates an Engine. A nil trail falls back to an in-memory store; a
// nil sink disables metrics.
func New(cfg Config, trail audit.Store, log logger.Logger, sink metrics.Sink, opts ...Option) *Engine {
	cfg.SetDefaults()
	if trail == nil {
		trail = audit.NewMemoryStore()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	e := &Engine{
		cfg:    cfg,
		rules:  RuleSet(cfg.Rules),
		timers: NewEscalationTimers(),
		trail:  trail,
		log:    log,
		sink:   sink,
		now:    time.Now,
		alerts: make(map[string]*alertEntry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run classifies events from the queue until the context is canceled.
func (e *Engine) Run(ctx context.Context, events <-chan model.TelemetryEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.Classify(ev)
		case <-ctx.Done():
			e.timers.Stop()
			return
		}
	}
}

// Stop cancels all armed escalation timers.
func (e *Engine) Stop() {
	e.timers.Stop()
}

// Classify raises one alert per matching rule and returns the raised alerts.
func (e *Engine) Classify(ev model.TelemetryEvent) []model.Alert {
	var raised []model.Alert
	for _, r := range e.rules {
		if r.Match(ev) {
			raised = append(raised, e.Raise(ev, r))
		}
	}
	return raised
}

// Raise creates an alert in the raised state. Critical alerts get an
// acknowledgment deadline and an armed escalation timer.
func (e *Engine) Raise(ev model.TelemetryEvent, r Rule) model.Alert {
	now := e.now()
	a := model.Alert{
		ID:          uuid.NewString(),
		VehicleID:   ev.VehicleID,
		SourceEvent: sourceRef(ev),
		Rule:        r.Name,
		Severity:    r.Severity,
		State:       model.AlertRaised,
		RaisedAt:    now,
	}
	deadline := e.ackDeadline(r.Severity)
	if deadline > 0 {
		a.AckDeadline = now.Add(deadline)
	}

	entry := &alertEntry{a: a}
	e.mu.Lock()
	e.alerts[a.ID] = entry
	e.mu.Unlock()

	tr := model.AlertTransition{AlertID: a.ID, To: model.AlertRaised, At: now}
	e.commit(a, tr)
	if deadline > 0 {
		id := a.ID
		e.timers.Schedule(id, deadline, func() { e.escalate(id) })
	}
	e.log.Infof("alert %s raised: rule=%s severity=%s vehicle=%s", a.ID, r.Name, r.Severity, ev.VehicleID)
	return a
}

func (e *Engine) ackDeadline(s model.Severity) time.Duration {
	if s == model.SeverityCritical {
		return time.Duration(e.cfg.CriticalAckSeconds) * time.Second
	}
	// Warnings have no hard deadline; they surface in the dispatcher queue.
	return 0
}

// escalate runs when an escalation timer fires. Escalation notifies the
// next responder tier and arms a second, longer timer; it never runs after
// a successful acknowledgment because Acknowledge cancels the timer and the
// state check below closes the firing race.
func (e *Engine) escalate(id string) {
	entry, ok := e.entry(id)
	if !ok {
		return
	}
	entry.mu.Lock()
	if entry.a.State != model.AlertRaised && entry.a.State != model.AlertEscalated {
		entry.mu.Unlock()
		return
	}
	now := e.now()
	from := entry.a.State
	entry.a.State = model.AlertEscalated
	entry.a.EscalationTier++
	tier := entry.a.EscalationTier
	a := entry.a
	entry.mu.Unlock()

	tr := model.AlertTransition{AlertID: id, From: from, To: model.AlertEscalated, At: now, Tier: tier}
	e.commit(a, tr)

	next := e.ackDeadline(a.Severity)
	for i := 0; i < tier; i++ {
		next *= time.Duration(e.cfg.EscalationMultiplier)
	}
	e.timers.Schedule(id, next, func() { e.escalate(id) })
	e.log.Warnf("alert %s escalated to tier %d, next escalation in %s", id, tier, next)
}

// Acknowledge moves a raised alert to acknowledged and cancels its
// escalation timer. Critical alerts require a free-text note.
func (e *Engine) Acknowledge(id, actor, note string) error {
	entry, ok := e.entry(id)
	if !ok {
		return model.Reject(model.ReasonUnknownEntity, "alert %s not found", id)
	}
	entry.mu.Lock()
	if entry.a.State != model.AlertRaised {
		entry.mu.Unlock()
		return model.Reject(model.ReasonInvalidTransition, "cannot acknowledge alert in state %s", entry.a.State)
	}
	if entry.a.Severity == model.SeverityCritical && note == "" {
		entry.mu.Unlock()
		return model.Reject(model.ReasonNoteRequired, "critical alert requires an acknowledgment note")
	}
	now := e.now()
	entry.a.State = model.AlertAcknowledged
	a := entry.a
	entry.mu.Unlock()

	e.timers.Cancel(id)
	tr := model.AlertTransition{AlertID: id, From: model.AlertRaised, To: model.AlertAcknowledged, At: now, Actor: actor, Note: note}
	e.commit(a, tr)
	if lr, ok := e.sink.(metrics.AckLatencyRecorder); ok {
		if err := lr.RecordAckLatency(metrics.AckLatency{AlertID: id, Severity: a.Severity, Latency: now.Sub(a.RaisedAt)}); err != nil {
			e.log.Errorf("ack latency metrics: %v", err)
		}
	}
	return nil
}

// Resolve terminates an acknowledged or escalated alert. Resolution notes
// are mandatory; a false positive resolves with ReasonFalsePositive rather
// than a separate state. Resolved alerts admit no further transitions.
func (e *Engine) Resolve(id, actor, note string, reason model.ResolutionReason) error {
	entry, ok := e.entry(id)
	if !ok {
		return model.Reject(model.ReasonUnknownEntity, "alert %s not found", id)
	}
	entry.mu.Lock()
	if entry.a.State != model.AlertAcknowledged && entry.a.State != model.AlertEscalated {
		entry.mu.Unlock()
		return model.Reject(model.ReasonInvalidTransition, "cannot resolve alert in state %s", entry.a.State)
	}
	if note == "" {
		entry.mu.Unlock()
		return model.Reject(model.ReasonNoteRequired, "resolution requires a note")
	}
	if reason == "" {
		reason = model.ReasonHandled
	}
	now := e.now()
	from := entry.a.State
	entry.a.State = model.AlertResolved
	a := entry.a
	entry.mu.Unlock()

	e.timers.Cancel(id)
	tr := model.AlertTransition{AlertID: id, From: from, To: model.AlertResolved, At: now, Actor: actor, Note: note, Reason: reason}
	e.commit(a, tr)
	return nil
}

// Get returns a snapshot of the alert.
func (e *Engine) Get(id string) (model.Alert, bool) {
	entry, ok := e.entry(id)
	if !ok {
		return model.Alert{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.a, true
}

// Queue returns open alerts sorted by severity, then age (oldest first).
func (e *Engine) Queue() []model.Alert {
	e.mu.RLock()
	entries := make([]*alertEntry, 0, len(e.alerts))
	for _, en := range e.alerts {
		entries = append(entries, en)
	}
	e.mu.RUnlock()

	var open []model.Alert
	for _, en := range entries {
		en.mu.Lock()
		if en.a.Open() {
			open = append(open, en.a)
		}
		en.mu.Unlock()
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].Severity.Rank() != open[j].Severity.Rank() {
			return open[i].Severity.Rank() > open[j].Severity.Rank()
		}
		return open[i].RaisedAt.Before(open[j].RaisedAt)
	})
	return open
}

// Trail exposes the audit store for query APIs.
func (e *Engine) Trail() audit.Store { return e.trail }

func (e *Engine) entry(id string) (*alertEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.alerts[id]
	return en, ok
}

func (e *Engine) commit(a model.Alert, tr model.AlertTransition) {
	if err := e.trail.Append(context.Background(), tr); err != nil {
		e.log.Errorf("audit append for alert %s: %v", tr.AlertID, err)
	}
	if err := e.sink.RecordAlert(metrics.AlertEvent{AlertID: a.ID, Severity: a.Severity, State: tr.To, Tier: tr.Tier, Time: tr.At}); err != nil {
		e.log.Errorf("alert metrics: %v", err)
	}
	if e.onTransition != nil {
		e.onTransition(Transition{Alert: a, Transition: tr})
	}
}

func sourceRef(ev model.TelemetryEvent) string {
	return ev.VehicleID + "@" + ev.Timestamp.UTC().Format(time.RFC3339Nano)
}
