// Package assign matches pending jobs to eligible driver/vehicle pairs
// under hard constraints. Capacity, certification, duty-time and delivery
// windows are rejecting preconditions: a violating pair is filtered out,
// never offered as an "unsafe" assignment.
package assign

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/metrics"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/state"
	"github.com/fleetglide/dispatchd/core/travel"
)

// Candidate is one eligible driver/vehicle pair for a job, carrying the
// figures the ranking is computed from.
type Candidate struct {
	DriverID  string        `json:"driver_id"`
	VehicleID string        `json:"vehicle_id"`
	// Impact is the estimated added fleet drive time: approach leg plus
	// the job's own travel and service time.
	Impact   time.Duration `json:"impact"`
	Arrival  time.Time     `json:"arrival"`
	Idle     time.Duration `json:"idle"`
	DueIn    time.Duration `json:"maintenance_due_in"`
	Degraded bool          `json:"estimate_degraded"`
}

// Offer records an outstanding assignment offer for a job.
type Offer struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	DriverID  string    `json:"driver_id"`
	VehicleID string    `json:"vehicle_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Engine evaluates eligibility against the live state store snapshot and
// drives the offer lifecycle.
type Engine struct {
	cfg   Config
	store *state.Store
	est   travel.Estimator
	log   logger.Logger
	sink  metrics.Sink
	now   func() time.Time

	mu       sync.Mutex
	offers   map[string]Offer // keyed by job ID
	expiry   map[string]*time.Timer
	onExpire func(jobID string)
	onOffer  func(Offer)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithExpireHook registers a callback invoked after an offer expires and
// the job has reverted to pending.
func WithExpireHook(fn func(jobID string)) Option {
	return func(e *Engine) { e.onExpire = fn }
}

// WithOfferHook registers a callback invoked after an offer is opened,
// used to push it to the driver's mobile channel.
func WithOfferHook(fn func(Offer)) Option {
	return func(e *Engine) { e.onOffer = fn }
}

// New creates an Engine. A nil sink disables metrics.
func New(cfg Config, store *state.Store, est travel.Estimator, log logger.Logger, sink metrics.Sink, opts ...Option) *Engine {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		est:    est,
		log:    log,
		sink:   sink,
		now:    time.Now,
		offers: make(map[string]Offer),
		expiry: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Candidates returns eligible pairs for the job ranked best-first, or a
// NoEligibleCandidate rejection summarizing why every pair was filtered.
func (e *Engine) Candidates(ctx context.Context, job model.Job) ([]Candidate, error) {
	drivers := e.store.Drivers()
	vehicles := e.store.Vehicles()
	now := e.now()
	service := job.ServiceTime
	if service <= 0 {
		service = time.Duration(e.cfg.DefaultServiceMinutes) * time.Minute
	}

	// A driver mid-route stays with the vehicle serving that route. Pairing
	// them with another vehicle would book cargo on a vehicle the route
	// never sees, so capacity checks would pass against the wrong truck.
	routeVehicle := map[string]string{}
	for _, d := range drivers {
		if d.AssignmentID == "" {
			continue
		}
		routeVehicle[d.ID] = ""
		if r, rok := e.store.Route(d.AssignmentID); rok {
			routeVehicle[d.ID] = r.VehicleID
		}
	}

	var out []Candidate
	tally := map[model.Reason]int{}
	for _, v := range vehicles {
		if !vehicleUsable(v.Vehicle) {
			continue
		}
		if !v.CanCarry(job.Cargo) {
			tally[model.ReasonCapacityExceeded]++
			continue
		}
		if !v.HasEquipment(job.Cargo.Handling) {
			tally[model.ReasonEquipmentMissing]++
			continue
		}
		approach, err := e.est.Estimate(ctx, model.Geo{Lat: v.Position.Lat, Lon: v.Position.Lon}, job.Origin, now)
		if err != nil {
			return nil, err
		}
		haul, err := e.est.Estimate(ctx, job.Origin, job.Destination, now.Add(approach.Duration))
		if err != nil {
			return nil, err
		}
		arrival := now.Add(approach.Duration + haul.Duration)
		if !job.Window.Reachable(arrival) {
			tally[model.ReasonWindowUnreachable]++
			continue
		}
		total := approach.Duration + haul.Duration + service

		for _, d := range drivers {
			if rv, busy := routeVehicle[d.ID]; busy && rv != v.ID {
				continue
			}
			if !driverCertified(d.Driver, job.Cargo.Handling) {
				tally[model.ReasonEquipmentMissing]++
				continue
			}
			if d.DutyRemaining < total {
				tally[model.ReasonDutyTimeInsufficient]++
				continue
			}
			out = append(out, Candidate{
				DriverID:  d.ID,
				VehicleID: v.ID,
				Impact:    total,
				Arrival:   arrival,
				Idle:      d.IdleFor(now),
				DueIn:     v.LastMaintenanceDue.Sub(now),
				Degraded:  approach.Degraded || haul.Degraded,
			})
		}
	}
	if len(out) == 0 {
		// A single dominant cause is more actionable than the generic
		// outcome: 2.5h of duty against a 3.5h job should read as
		// DutyTimeInsufficient, not NoEligibleCandidate.
		if len(tally) == 1 {
			for r := range tally {
				return nil, model.Reject(r, "all pairs rejected: %s", tallyString(tally))
			}
		}
		return nil, model.Reject(model.ReasonNoEligibleCandidate, "no pair qualifies: %s", tallyString(tally))
	}
	e.rank(out)
	return out, nil
}

// OfferJob computes candidates and transitions the job pending→offered for
// the best pair. Exactly one concurrent attempt can win; losers receive
// AlreadyOffered. The offer expires back to pending after the acceptance
// window; requeue re-runs eligibility from scratch since conditions may
// have changed.
func (e *Engine) OfferJob(ctx context.Context, jobID string) (Offer, error) {
	snap, ok := e.store.Job(jobID)
	if !ok {
		return Offer{}, model.Reject(model.ReasonUnknownEntity, "job %s not found", jobID)
	}
	cands, err := e.Candidates(ctx, snap.Job)
	if err != nil {
		e.recordAssignment(jobID, string(model.ReasonOf(err)))
		return Offer{}, err
	}
	best := cands[0]

	now := e.now()
	_, _, err = e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobPending {
			return model.Reject(model.ReasonAlreadyOffered, "job %s is %s", jobID, j.Status)
		}
		j.Status = model.JobOffered
		j.OfferedAt = now
		return nil
	})
	if err != nil {
		e.recordAssignment(jobID, string(model.ReasonOf(err)))
		return Offer{}, err
	}

	offer := Offer{
		ID:        uuid.NewString(),
		JobID:     jobID,
		DriverID:  best.DriverID,
		VehicleID: best.VehicleID,
		ExpiresAt: now.Add(e.cfg.AcceptWindow()),
	}
	e.mu.Lock()
	e.offers[jobID] = offer
	if old, ok := e.expiry[jobID]; ok {
		old.Stop()
	}
	e.expiry[jobID] = time.AfterFunc(e.cfg.AcceptWindow(), func() { e.expire(jobID, offer.ID) })
	e.mu.Unlock()

	e.recordAssignment(jobID, "offered")
	e.log.Infof("job %s offered to driver=%s vehicle=%s (impact %s)", jobID, best.DriverID, best.VehicleID, best.Impact)
	if e.onOffer != nil {
		e.onOffer(offer)
	}
	return offer, nil
}

// expire reverts an unanswered offer. The offer ID guard makes a stale
// timer firing after a re-offer a no-op.
func (e *Engine) expire(jobID, offerID string) {
	e.mu.Lock()
	cur, ok := e.offers[jobID]
	if !ok || cur.ID != offerID {
		e.mu.Unlock()
		return
	}
	delete(e.offers, jobID)
	delete(e.expiry, jobID)
	e.mu.Unlock()

	_, _, err := e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobOffered {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s", jobID, j.Status)
		}
		j.Status = model.JobPending
		j.OfferedAt = time.Time{}
		return nil
	})
	if err != nil {
		return
	}
	e.recordAssignment(jobID, "expired")
	e.log.Warnf("offer for job %s expired, job requeued", jobID)
	if e.onExpire != nil {
		e.onExpire(jobID)
	}
}

// Accept commits an offered job onto the pair's route. Hard constraints are
// re-checked at accept time; a violation rejects the acceptance and the
// offer stays open until it expires.
func (e *Engine) Accept(ctx context.Context, jobID string) (model.Route, error) {
	e.mu.Lock()
	offer, ok := e.offers[jobID]
	e.mu.Unlock()
	if !ok {
		return model.Route{}, model.Reject(model.ReasonUnknownEntity, "no open offer for job %s", jobID)
	}

	jobSnap, ok := e.store.Job(jobID)
	if !ok {
		return model.Route{}, model.Reject(model.ReasonUnknownEntity, "job %s not found", jobID)
	}
	job := jobSnap.Job
	vehicle, ok := e.store.Vehicle(offer.VehicleID)
	if !ok {
		return model.Route{}, model.Reject(model.ReasonUnknownEntity, "vehicle %s not found", offer.VehicleID)
	}
	driver, ok := e.store.Driver(offer.DriverID)
	if !ok {
		return model.Route{}, model.Reject(model.ReasonUnknownEntity, "driver %s not found", offer.DriverID)
	}

	// Conditions may have drifted since the offer: enforce, never degrade.
	if !vehicle.CanCarry(job.Cargo) {
		return model.Route{}, model.Reject(model.ReasonCapacityExceeded,
			"vehicle %s cannot take %.0f lb / %.0f cuft / %d pallets", vehicle.ID,
			job.Cargo.WeightLb, job.Cargo.VolumeCuFt, job.Cargo.Pallets)
	}
	now := e.now()
	service := job.ServiceTime
	if service <= 0 {
		service = time.Duration(e.cfg.DefaultServiceMinutes) * time.Minute
	}
	approach, err := e.est.Estimate(ctx, model.Geo{Lat: vehicle.Position.Lat, Lon: vehicle.Position.Lon}, job.Origin, now)
	if err != nil {
		return model.Route{}, err
	}
	haul, err := e.est.Estimate(ctx, job.Origin, job.Destination, now.Add(approach.Duration))
	if err != nil {
		return model.Route{}, err
	}
	total := approach.Duration + haul.Duration + service
	if driver.DutyRemaining < total {
		return model.Route{}, model.Reject(model.ReasonDutyTimeInsufficient,
			"driver %s has %s remaining, job needs %s", driver.ID, driver.DutyRemaining, total)
	}
	arrival := now.Add(approach.Duration + haul.Duration)
	if !job.Window.Reachable(arrival) {
		return model.Route{}, model.Reject(model.ReasonWindowUnreachable,
			"projected arrival %s outside window", arrival.Format(time.RFC3339))
	}

	routeID := driver.AssignmentID
	var route model.Route
	if routeID == "" {
		routeID = uuid.NewString()
		route = model.Route{
			ID:        routeID,
			DriverID:  driver.ID,
			VehicleID: vehicle.ID,
			Stops:     []model.Stop{{JobID: jobID, ETA: arrival}},
			Status:    model.JobAccepted,
			StartedAt: now,
		}
		if _, err := e.store.PutRoute(route); err != nil {
			return model.Route{}, err
		}
	} else {
		route, _, err = e.store.UpdateRoute(routeID, func(r *model.Route) error {
			if r.VehicleID != offer.VehicleID {
				return model.Reject(model.ReasonValidationFailed,
					"offer pairs vehicle %s but route %s is served by %s", offer.VehicleID, routeID, r.VehicleID)
			}
			r.Stops = append(r.Stops, model.Stop{JobID: jobID, ETA: arrival})
			return nil
		})
		if err != nil {
			return model.Route{}, err
		}
	}

	_, _, err = e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobOffered {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s", jobID, j.Status)
		}
		j.Status = model.JobAccepted
		j.RouteID = routeID
		return nil
	})
	if err != nil {
		return model.Route{}, err
	}
	if _, _, err := e.store.UpdateVehicle(vehicle.ID, func(v *model.Vehicle) error {
		v.Load.WeightLb += job.Cargo.WeightLb
		v.Load.VolumeCuFt += job.Cargo.VolumeCuFt
		v.Load.Pallets += job.Cargo.Pallets
		return nil
	}); err != nil {
		return model.Route{}, err
	}
	if _, _, err := e.store.UpdateDriver(driver.ID, func(d *model.Driver) error {
		d.AssignmentID = routeID
		d.DutyRemaining -= total
		if d.DutyRemaining < 0 {
			d.DutyRemaining = 0
		}
		return nil
	}); err != nil {
		return model.Route{}, err
	}

	e.clearOffer(jobID)
	e.recordAssignment(jobID, "accepted")
	return route, nil
}

// Decline withdraws an open offer and requeues the job immediately.
func (e *Engine) Decline(jobID string) error {
	e.mu.Lock()
	_, ok := e.offers[jobID]
	e.mu.Unlock()
	if !ok {
		return model.Reject(model.ReasonUnknownEntity, "no open offer for job %s", jobID)
	}
	e.clearOffer(jobID)
	_, _, err := e.store.UpdateJob(jobID, func(j *model.Job) error {
		if j.Status != model.JobOffered {
			return model.Reject(model.ReasonInvalidTransition, "job %s is %s", jobID, j.Status)
		}
		j.Status = model.JobPending
		j.OfferedAt = time.Time{}
		return nil
	})
	if err != nil {
		return err
	}
	e.recordAssignment(jobID, "declined")
	return nil
}

// OpenOffer returns the outstanding offer for a job, if any.
func (e *Engine) OpenOffer(jobID string) (Offer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.offers[jobID]
	return o, ok
}

// Close cancels all pending offer expiry timers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, tm := range e.expiry {
		tm.Stop()
		delete(e.expiry, id)
	}
}

func (e *Engine) clearOffer(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.offers, jobID)
	if tm, ok := e.expiry[jobID]; ok {
		tm.Stop()
		delete(e.expiry, jobID)
	}
}

func (e *Engine) recordAssignment(jobID, outcome string) {
	if err := e.sink.RecordAssignment(metrics.AssignmentEvent{JobID: jobID, Outcome: outcome, Time: time.Now()}); err != nil {
		e.log.Errorf("assignment metrics: %v", err)
	}
}

func vehicleUsable(v model.Vehicle) bool {
	if v.Deactivated {
		return false
	}
	switch v.Status {
	case model.VehicleMaintenance, model.VehicleOutOfService, model.VehicleEmergency:
		return false
	}
	return true
}

func driverCertified(d model.Driver, handling []model.Equipment) bool {
	for _, h := range handling {
		// Hazmat needs certification on both the vehicle and the driver;
		// other handling flags are vehicle equipment only.
		if h == model.EquipHazmat && !d.Certified(model.CertHazmat) {
			return false
		}
		if h == model.EquipTeamSleeper && !d.Certified(model.CertTeamSleeper) {
			return false
		}
	}
	return true
}
