package model

import "time"

// JobStatus enumerates the delivery job lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobOffered    JobStatus = "offered"
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Priority orders jobs when candidates tie on everything else.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Cargo describes what a job moves and how it must be handled.
type Cargo struct {
	WeightLb   float64     `json:"weight_lb"`
	VolumeCuFt float64     `json:"volume_cu_ft"`
	Pallets    int         `json:"pallets"`
	Handling   []Equipment `json:"handling,omitempty"`
}

// Geo is a point used for job origins and destinations.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Window is the delivery time window for a job. LateTolerance extends the
// end for projected-arrival checks without changing the contractual window.
type Window struct {
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	LateTolerance time.Duration `json:"late_tolerance"`
}

// Reachable reports whether an arrival at t falls inside the window,
// including the late-tolerance slack past the end.
func (w Window) Reachable(t time.Time) bool {
	return !t.After(w.End.Add(w.LateTolerance))
}

// Job is one delivery or pickup unit. A job may be sequenced into a
// multi-stop route but always keeps its own window and completion record.
type Job struct {
	ID            string        `json:"id"`
	Cargo         Cargo         `json:"cargo"`
	Origin        Geo           `json:"origin"`
	Destination   Geo           `json:"destination"`
	Window        Window        `json:"window"`
	Priority      Priority      `json:"priority"`
	Status        JobStatus     `json:"status"`
	StatusVersion uint64        `json:"status_version"`
	ServiceTime   time.Duration `json:"service_time"`
	RouteID       string        `json:"route_id,omitempty"`
	OfferedAt     time.Time     `json:"offered_at,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at,omitempty"`
}
