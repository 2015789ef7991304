package model

import "time"

// Certification is a driver capability tag.
type Certification string

const (
	CertStandard    Certification = "standard"
	CertHazmat      Certification = "hazmat"
	CertTeamSleeper Certification = "team_sleeper"
)

// Driver is the authoritative record for one driver. DutyRemaining is the
// regulatory duty-time budget left in the rolling compliance window; it is
// recomputed each time a driving interval closes.
type Driver struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Certifications []Certification `json:"certifications"`
	DutyRemaining  time.Duration   `json:"duty_remaining"`
	DutyIntervals  []DutyInterval  `json:"duty_intervals,omitempty"`
	AssignmentID   string          `json:"assignment_id,omitempty"`
	IdleSince      time.Time       `json:"idle_since"`
}

// Certified reports whether the driver holds the given certification.
func (d Driver) Certified(c Certification) bool {
	for _, dc := range d.Certifications {
		if dc == c {
			return true
		}
	}
	return false
}

// IdleFor returns how long the driver has been without an assignment at the
// given instant. Zero when the driver is currently assigned.
func (d Driver) IdleFor(now time.Time) time.Duration {
	if d.AssignmentID != "" || d.IdleSince.IsZero() {
		return 0
	}
	return now.Sub(d.IdleSince)
}

// DutyInterval is one closed driving interval counted against the rolling
// compliance window.
type DutyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RemainingDuty recomputes the duty budget from the closed intervals that
// fall inside the rolling window ending at now. Intervals straddling the
// window edge are clipped.
func RemainingDuty(limit time.Duration, window time.Duration, intervals []DutyInterval, now time.Time) time.Duration {
	cutoff := now.Add(-window)
	var used time.Duration
	for _, iv := range intervals {
		start, end := iv.Start, iv.End
		if !end.After(cutoff) {
			continue
		}
		if start.Before(cutoff) {
			start = cutoff
		}
		used += end.Sub(start)
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
