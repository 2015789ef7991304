package reopt

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglide/dispatchd/core/model"
)

// AddStop inserts a pending job into an active route. The insertion is a
// hard-constraint commit, not an advisory proposal: capacity, duty-time and
// every window on the re-sequenced route must hold or the whole action is
// rejected and nothing changes. The route swap is version-checked so a
// concurrent re-sequencing cannot be silently overwritten.
func (e *Engine) AddStop(ctx context.Context, routeID, jobID string) (Proposal, error) {
	route, ok := e.store.Route(routeID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "route %s not found", routeID)
	}
	jobSnap, ok := e.store.Job(jobID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "job %s not found", jobID)
	}
	job := jobSnap.Job
	if job.Status != model.JobPending {
		return Proposal{}, model.Reject(model.ReasonInvalidTransition, "job %s is %s, not pending", jobID, job.Status)
	}
	vehicle, ok := e.store.Vehicle(route.VehicleID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "vehicle %s not found", route.VehicleID)
	}
	driver, ok := e.store.Driver(route.DriverID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "driver %s not found", route.DriverID)
	}
	if !vehicle.CanCarry(job.Cargo) {
		return Proposal{}, model.Reject(model.ReasonCapacityExceeded,
			"vehicle %s cannot take %.0f lb for job %s", vehicle.ID, job.Cargo.WeightLb, jobID)
	}
	if !vehicle.HasEquipment(job.Cargo.Handling) {
		return Proposal{}, model.Reject(model.ReasonEquipmentMissing,
			"vehicle %s lacks handling equipment for job %s", vehicle.ID, jobID)
	}

	var current []model.Job
	for _, st := range route.Remaining() {
		if j, jok := e.store.Job(st.JobID); jok {
			current = append(current, j.Job)
		}
	}
	now := e.now()
	pos := model.Geo{Lat: vehicle.Position.Lat, Lon: vehicle.Position.Lon}

	// Duty-time is charged incrementally: the driver already paid for the
	// existing stops at acceptance, so only the added drive+service counts.
	_, baseTotal, _, baseOK, err := e.walk(ctx, pos, current, now)
	if err != nil {
		return Proposal{}, err
	}
	if !baseOK {
		baseTotal = 0
	}

	with := append(append([]model.Job(nil), current...), job)
	order, err := e.sequence(ctx, pos, with, now)
	if err != nil {
		return Proposal{}, err
	}
	var proposal Proposal
	found := false
	for _, cand := range [][]model.Job{order, byDeadline(with)} {
		stops, total, degraded, feasible, werr := e.walk(ctx, pos, cand, now)
		if werr != nil {
			return Proposal{}, werr
		}
		if !feasible {
			continue
		}
		added := total - baseTotal
		if added < 0 {
			added = 0
		}
		if added > driver.DutyRemaining {
			return Proposal{}, model.Reject(model.ReasonDutyTimeInsufficient,
				"driver %s has %s remaining, insertion needs %s", driver.ID, driver.DutyRemaining, added)
		}
		proposal = Proposal{
			ID:          uuid.NewString(),
			RouteID:     routeID,
			BaseVersion: route.Version,
			Trigger:     TriggerStopAdded,
			Stops:       stops,
			TotalDrive:  total,
			Degraded:    degraded,
			CreatedAt:   now,
		}
		found = true
		break
	}
	if !found {
		return Proposal{}, model.Reject(model.ReasonReoptimizationInfeasible,
			"no stop order fits job %s into route %s", jobID, routeID)
	}

	if _, err := e.Apply(proposal); err != nil {
		return Proposal{}, err
	}

	if _, _, err := e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobPending {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s", jobID, j.Status)
		}
		j.Status = model.JobAccepted
		j.RouteID = routeID
		return nil
	}); err != nil {
		return Proposal{}, err
	}
	if _, _, err := e.store.UpdateVehicle(vehicle.ID, func(v *model.Vehicle) error {
		v.Load.WeightLb += job.Cargo.WeightLb
		v.Load.VolumeCuFt += job.Cargo.VolumeCuFt
		v.Load.Pallets += job.Cargo.Pallets
		return nil
	}); err != nil {
		return Proposal{}, err
	}
	if _, _, err := e.store.UpdateDriver(driver.ID, func(d *model.Driver) error {
		added := proposal.TotalDrive - baseTotal
		if added > 0 {
			d.DutyRemaining -= added
			if d.DutyRemaining < 0 {
				d.DutyRemaining = 0
			}
		}
		return nil
	}); err != nil {
		return Proposal{}, err
	}
	e.log.Infof("job %s inserted into route %s (%d stops)", jobID, routeID, len(proposal.Stops))
	return proposal, nil
}

// EditWindow updates a job's delivery window. The edit itself only needs to
// be internally valid; if the job sits on an active route, a fresh proposal
// for that route is returned so the dispatcher can re-sequence. A proposal
// failure (including ReoptimizationInfeasible) does not undo the edit.
func (e *Engine) EditWindow(ctx context.Context, jobID string, w model.Window) (Proposal, error) {
	if !w.End.After(w.Start) {
		return Proposal{}, model.Reject(model.ReasonValidationFailed,
			"window end %s not after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	job, _, err := e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status.Terminal() {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s", jobID, j.Status)
		}
		j.Window = w
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	if job.RouteID == "" {
		return Proposal{}, nil
	}
	return e.Propose(ctx, job.RouteID, TriggerWindowEdit)
}
