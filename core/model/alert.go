package model

import "time"

// Severity classifies an alert. It is assigned when the alert is raised and
// is immutable afterwards.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for queue sorting, highest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AlertState enumerates the alert state machine.
type AlertState string

const (
	AlertRaised       AlertState = "raised"
	AlertAcknowledged AlertState = "acknowledged"
	AlertEscalated    AlertState = "escalated"
	AlertResolved     AlertState = "resolved"
)

// ResolutionReason qualifies a resolved alert. A false positive is a normal
// resolution with ReasonFalsePositive, not a separate state.
type ResolutionReason string

const (
	ReasonHandled       ResolutionReason = "handled"
	ReasonFalsePositive ResolutionReason = "false_positive"
)

// AlertTransition is one append-only entry in an alert's audit trail.
type AlertTransition struct {
	AlertID string           `json:"alert_id"`
	From    AlertState       `json:"from,omitempty"`
	To      AlertState       `json:"to"`
	At      time.Time        `json:"at"`
	Actor   string           `json:"actor,omitempty"`
	Note    string           `json:"note,omitempty"`
	Reason  ResolutionReason `json:"reason,omitempty"`
	Tier    int              `json:"tier,omitempty"`
}

// Alert references its source event and vehicle by identifier only; the
// alert engine owns the lifecycle but none of the fleet entities.
type Alert struct {
	ID          string     `json:"id"`
	VehicleID   string     `json:"vehicle_id"`
	SourceEvent string     `json:"source_event"`
	Rule        string     `json:"rule"`
	Severity    Severity   `json:"severity"`
	State       AlertState `json:"state"`
	RaisedAt    time.Time  `json:"raised_at"`
	AckDeadline time.Time  `json:"ack_deadline,omitempty"`
	// EscalationTier counts how many escalation hops have fired.
	EscalationTier int `json:"escalation_tier"`
}

// Open reports whether the alert still needs dispatcher attention.
func (a Alert) Open() bool { return a.State != AlertResolved }
