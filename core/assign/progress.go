package assign

import (
	"github.com/fleetglide/dispatchd/core/model"
)

// Start marks an accepted job as underway. The driving interval opens here
// and closes when the job completes or fails.
func (e *Engine) Start(jobID string) (model.Job, error) {
	now := e.now()
	job, _, err := e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobAccepted {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s, not accepted", jobID, j.Status)
		}
		j.Status = model.JobInProgress
		j.StartedAt = now
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	if job.RouteID != "" {
		if _, _, err := e.store.UpdateRoute(job.RouteID, func(r *model.Route) error {
			r.Status = model.AggregateStatus(e.store.RouteJobs(*r))
			return nil
		}); err != nil {
			return model.Job{}, err
		}
	}
	e.recordAssignment(jobID, "started")
	return job, nil
}

// Complete closes out an in-progress job: the stop is marked done, the
// vehicle sheds the cargo, and the driver's duty budget is recomputed from
// the closed driving interval.
func (e *Engine) Complete(jobID string) (model.Job, error) {
	return e.finish(jobID, model.JobCompleted)
}

// Fail records a job that cannot be delivered. The stop closes and the
// cargo is released exactly as on completion; only the terminal status
// differs.
func (e *Engine) Fail(jobID string) (model.Job, error) {
	return e.finish(jobID, model.JobFailed)
}

func (e *Engine) finish(jobID string, terminal model.JobStatus) (model.Job, error) {
	now := e.now()
	job, _, err := e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobInProgress {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s, not in_progress", jobID, j.Status)
		}
		j.Status = terminal
		j.CompletedAt = now
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	if job.RouteID == "" {
		e.recordAssignment(jobID, string(terminal))
		return job, nil
	}

	route, _, err := e.store.UpdateRoute(job.RouteID, func(r *model.Route) error {
		for i := range r.Stops {
			if r.Stops[i].JobID == jobID {
				r.Stops[i].Done = true
			}
		}
		r.Status = model.AggregateStatus(e.store.RouteJobs(*r))
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}

	if _, _, err := e.store.UpdateVehicle(route.VehicleID, func(v *model.Vehicle) error {
		v.Load.WeightLb -= job.Cargo.WeightLb
		if v.Load.WeightLb < 0 {
			v.Load.WeightLb = 0
		}
		v.Load.VolumeCuFt -= job.Cargo.VolumeCuFt
		if v.Load.VolumeCuFt < 0 {
			v.Load.VolumeCuFt = 0
		}
		v.Load.Pallets -= job.Cargo.Pallets
		if v.Load.Pallets < 0 {
			v.Load.Pallets = 0
		}
		return nil
	}); err != nil {
		return model.Job{}, err
	}

	released := len(route.Remaining()) == 0
	if _, _, err := e.store.UpdateDriver(route.DriverID, func(d *model.Driver) error {
		start := job.StartedAt
		if start.IsZero() {
			start = now
		}
		d.DutyIntervals = append(d.DutyIntervals, model.DutyInterval{Start: start, End: now})
		d.DutyRemaining = model.RemainingDuty(e.cfg.DutyLimit(), e.cfg.DutyWindow(), d.DutyIntervals, now)
		if released {
			d.AssignmentID = ""
			d.IdleSince = now
		}
		return nil
	}); err != nil {
		return model.Job{}, err
	}

	e.recordAssignment(jobID, string(terminal))
	e.log.Infof("job %s %s, route %s now %s", jobID, terminal, route.ID, route.Status)
	return job, nil
}
