// Package reopt re-evaluates active routes when conditions change and
// proposes revised stop sequences. Proposals are advisory: nothing mutates
// until a proposal is explicitly applied, so a superseded proposal is
// simply dropped. Applying swaps the stop order atomically with respect to
// the live state store.
package reopt

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/state"
	"github.com/fleetglide/dispatchd/core/travel"
)

// Trigger identifies what prompted a re-optimization.
type Trigger string

const (
	TriggerETADrift   Trigger = "eta_drift"
	TriggerStopAdded  Trigger = "stop_added"
	TriggerWindowEdit Trigger = "window_edit"
)

// Config defines re-optimization settings.
type Config struct {
	// EtaDriftMinutes is the travel-time delta that triggers a proposal
	// for an in-progress route. Default 15.
	EtaDriftMinutes int `json:"eta_drift_minutes"`
	// DefaultServiceMinutes is assumed per-stop service time when a job
	// does not carry one. Default 15.
	DefaultServiceMinutes int `json:"default_service_minutes"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.EtaDriftMinutes <= 0 {
		c.EtaDriftMinutes = 15
	}
	if c.DefaultServiceMinutes <= 0 {
		c.DefaultServiceMinutes = 15
	}
}

// Proposal is a candidate re-sequencing of a route's remaining stops. It is
// versioned against the route it was computed from; applying a proposal
// built on an older version fails with VersionConflict.
type Proposal struct {
	ID          string        `json:"id"`
	RouteID     string        `json:"route_id"`
	BaseVersion uint64        `json:"base_version"`
	Trigger     Trigger       `json:"trigger"`
	Stops       []model.Stop  `json:"stops"`
	TotalDrive  time.Duration `json:"total_drive"`
	Degraded    bool          `json:"estimate_degraded"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Engine computes and applies route re-sequencing proposals.
type Engine struct {
	cfg   Config
	store *state.Store
	est   travel.Estimator
	log   logger.Logger
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(cfg Config, store *state.Store, est travel.Estimator, log logger.Logger, opts ...Option) *Engine {
	cfg.SetDefaults()
	e := &Engine{cfg: cfg, store: store, est: est, log: log, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// walk simulates driving the given jobs in order from pos, returning the
// per-stop ETAs, the total drive+service time and whether any estimate was
// degraded. ok is false as soon as a stop's projected arrival falls outside
// its window beyond the late tolerance.
func (e *Engine) walk(ctx context.Context, pos model.Geo, jobs []model.Job, start time.Time) (stops []model.Stop, total time.Duration, degraded, ok bool, err error) {
	t := start
	for _, j := range jobs {
		leg, eerr := e.est.Estimate(ctx, pos, j.Destination, t)
		if eerr != nil {
			return nil, 0, false, false, eerr
		}
		degraded = degraded || leg.Degraded
		t = t.Add(leg.Duration)
		if !j.Window.Reachable(t) {
			return nil, 0, degraded, false, nil
		}
		stops = append(stops, model.Stop{JobID: j.ID, ETA: t})
		service := j.ServiceTime
		if service <= 0 {
			service = time.Duration(e.cfg.DefaultServiceMinutes) * time.Minute
		}
		total += leg.Duration + service
		t = t.Add(service)
		pos = j.Destination
	}
	return stops, total, degraded, true, nil
}

// sequence orders jobs greedily by nearest travel time from the running
// position, ties broken by job ID for determinism.
func (e *Engine) sequence(ctx context.Context, pos model.Geo, jobs []model.Job, start time.Time) ([]model.Job, error) {
	remaining := append([]model.Job(nil), jobs...)
	var ordered []model.Job
	t := start
	for len(remaining) > 0 {
		bestIdx := -1
		var bestDur time.Duration
		for i, j := range remaining {
			leg, err := e.est.Estimate(ctx, pos, j.Destination, t)
			if err != nil {
				return nil, err
			}
			if bestIdx == -1 || leg.Duration < bestDur ||
				(leg.Duration == bestDur && j.ID < remaining[bestIdx].ID) {
				bestIdx, bestDur = i, leg.Duration
			}
		}
		next := remaining[bestIdx]
		ordered = append(ordered, next)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		t = t.Add(bestDur)
		pos = next.Destination
	}
	return ordered, nil
}

// Propose builds a re-sequencing proposal for the route's remaining stops.
// The proposal must satisfy the same hard constraints as assignment:
// capacity, duty-time and delivery windows. When neither the greedy order
// nor an earliest-deadline order is feasible, the route is left untouched
// and ReoptimizationInfeasible is returned.
func (e *Engine) Propose(ctx context.Context, routeID string, trigger Trigger) (Proposal, error) {
	route, ok := e.store.Route(routeID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "route %s not found", routeID)
	}
	vehicle, ok := e.store.Vehicle(route.VehicleID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "vehicle %s not found", route.VehicleID)
	}
	driver, ok := e.store.Driver(route.DriverID)
	if !ok {
		return Proposal{}, model.Reject(model.ReasonUnknownEntity, "driver %s not found", route.DriverID)
	}

	var jobs []model.Job
	for _, st := range route.Remaining() {
		if j, jok := e.store.Job(st.JobID); jok {
			jobs = append(jobs, j.Job)
		}
	}
	if len(jobs) == 0 {
		return Proposal{}, model.Reject(model.ReasonValidationFailed, "route %s has no remaining stops", routeID)
	}
	if err := checkCapacity(vehicle.Vehicle, jobs); err != nil {
		return Proposal{}, err
	}

	now := e.now()
	pos := model.Geo{Lat: vehicle.Position.Lat, Lon: vehicle.Position.Lon}

	greedy, err := e.sequence(ctx, pos, jobs, now)
	if err != nil {
		return Proposal{}, err
	}
	candidates := [][]model.Job{greedy, byDeadline(jobs)}
	for _, order := range candidates {
		stops, total, degraded, feasible, err := e.walk(ctx, pos, order, now)
		if err != nil {
			return Proposal{}, err
		}
		if !feasible {
			continue
		}
		if total > driver.DutyRemaining {
			continue
		}
		return Proposal{
			ID:          uuid.NewString(),
			RouteID:     routeID,
			BaseVersion: route.Version,
			Trigger:     trigger,
			Stops:       stops,
			TotalDrive:  total,
			Degraded:    degraded,
			CreatedAt:   now,
		}, nil
	}
	return Proposal{}, model.Reject(model.ReasonReoptimizationInfeasible,
		"no stop order satisfies windows and duty-time for route %s", routeID)
}

// Evaluate recomputes the route's ETAs and reports whether the drift since
// the stored ETAs warrants a proposal. It never mutates the route.
func (e *Engine) Evaluate(ctx context.Context, routeID string) (Proposal, bool, error) {
	route, ok := e.store.Route(routeID)
	if !ok {
		return Proposal{}, false, model.Reject(model.ReasonUnknownEntity, "route %s not found", routeID)
	}
	vehicle, ok := e.store.Vehicle(route.VehicleID)
	if !ok {
		return Proposal{}, false, model.Reject(model.ReasonUnknownEntity, "vehicle %s not found", route.VehicleID)
	}
	var jobs []model.Job
	remaining := route.Remaining()
	for _, st := range remaining {
		if j, jok := e.store.Job(st.JobID); jok {
			jobs = append(jobs, j.Job)
		}
	}
	if len(jobs) == 0 {
		return Proposal{}, false, nil
	}
	pos := model.Geo{Lat: vehicle.Position.Lat, Lon: vehicle.Position.Lon}
	stops, _, _, _, err := e.walk(ctx, pos, jobs, e.now())
	if err != nil {
		return Proposal{}, false, err
	}
	threshold := time.Duration(e.cfg.EtaDriftMinutes) * time.Minute
	drifted := false
	for i, st := range stops {
		if i < len(remaining) {
			delta := st.ETA.Sub(remaining[i].ETA)
			if delta < 0 {
				delta = -delta
			}
			if delta > threshold {
				drifted = true
				break
			}
		}
	}
	if !drifted {
		return Proposal{}, false, nil
	}
	p, err := e.Propose(ctx, routeID, TriggerETADrift)
	if err != nil {
		return Proposal{}, false, err
	}
	return p, true, nil
}

// Apply swaps the route's remaining stops for the proposal's sequence in a
// single atomic mutation. A proposal computed against an older route
// version is rejected with VersionConflict; completed stops are preserved.
func (e *Engine) Apply(proposal Proposal) (model.Route, error) {
	route, _, err := e.store.UpdateRouteAt(proposal.RouteID, proposal.BaseVersion, func(r *model.Route) error {
		var done []model.Stop
		for _, st := range r.Stops {
			if st.Done {
				done = append(done, st)
			}
		}
		r.Stops = append(done, proposal.Stops...)
		return nil
	})
	if err != nil {
		return model.Route{}, err
	}
	e.log.Infof("route %s re-sequenced (%s, %d stops)", proposal.RouteID, proposal.Trigger, len(proposal.Stops))
	return route, nil
}

func checkCapacity(v model.Vehicle, jobs []model.Job) error {
	var total model.Cargo
	for _, j := range jobs {
		total.WeightLb += j.Cargo.WeightLb
		total.VolumeCuFt += j.Cargo.VolumeCuFt
		total.Pallets += j.Cargo.Pallets
	}
	if total.WeightLb > v.Capacity.WeightLb || total.VolumeCuFt > v.Capacity.VolumeCuFt || total.Pallets > v.Capacity.Pallets {
		return model.Reject(model.ReasonCapacityExceeded,
			"route cargo %.0f lb exceeds vehicle %s capacity %.0f lb", total.WeightLb, v.ID, v.Capacity.WeightLb)
	}
	return nil
}

func byDeadline(jobs []model.Job) []model.Job {
	out := append([]model.Job(nil), jobs...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Window.End.Equal(out[j].Window.End) {
			return out[i].Window.End.Before(out[j].Window.End)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
