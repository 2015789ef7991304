package model

import "time"

// Stop is one entry in a route's ordered sequence, referencing a job by ID.
type Stop struct {
	JobID string    `json:"job_id"`
	ETA   time.Time `json:"eta"`
	Done  bool      `json:"done"`
}

// Route is an ordered sequence of stops worked by one driver/vehicle pair.
// Entities reference each other by identifier only; resolution happens
// through the live state store on read.
type Route struct {
	ID        string    `json:"id"`
	DriverID  string    `json:"driver_id"`
	VehicleID string    `json:"vehicle_id"`
	Stops     []Stop    `json:"stops"`
	Status    JobStatus `json:"status"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Remaining returns the stops not yet completed, in order.
func (r Route) Remaining() []Stop {
	var out []Stop
	for _, s := range r.Stops {
		if !s.Done {
			out = append(out, s)
		}
	}
	return out
}

// AggregateStatus derives the route status from its jobs' statuses: failed
// if any failed, completed only when all completed, in_progress as soon as
// any job is past accepted.
func AggregateStatus(jobs []Job) JobStatus {
	if len(jobs) == 0 {
		return JobPending
	}
	completed := 0
	inProgress := false
	for _, j := range jobs {
		switch j.Status {
		case JobFailed:
			return JobFailed
		case JobCompleted:
			completed++
		case JobInProgress:
			inProgress = true
		}
	}
	if completed == len(jobs) {
		return JobCompleted
	}
	if inProgress || completed > 0 {
		return JobInProgress
	}
	return JobAccepted
}
