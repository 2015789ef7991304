package state

import (
	"time"

	"github.com/fleetglide/dispatchd/core/model"
)

// VehicleSnapshot is a read-time view of a vehicle. Stale is computed at
// read time from LastSeen, never stored, so it cannot drift.
type VehicleSnapshot struct {
	model.Vehicle
	Version uint64 `json:"version"`
	Stale   bool   `json:"stale"`
}

// DriverSnapshot is a read-time view of a driver.
type DriverSnapshot struct {
	model.Driver
	Version uint64 `json:"version"`
}

// JobSnapshot is a read-time view of a job.
type JobSnapshot struct {
	model.Job
	Version uint64 `json:"version"`
}

// RouteSnapshot is a read-time view of a route.
type RouteSnapshot struct {
	model.Route
	Version uint64 `json:"version"`
}

func (s *Store) stale(lastSeen time.Time) bool {
	if lastSeen.IsZero() {
		return true
	}
	return s.now().Sub(lastSeen) > s.staleAfter
}

// PutVehicle registers or replaces a vehicle record.
func (s *Store) PutVehicle(v model.Vehicle) (uint64, error) {
	_, ver, err := mutate(s, s.vehicles, KindVehicle, v.ID, true, func(cur *model.Vehicle) error {
		*cur = v
		return nil
	})
	return ver, err
}

// UpdateVehicle applies fn to the vehicle under its writer lock.
func (s *Store) UpdateVehicle(id string, fn func(*model.Vehicle) error) (model.Vehicle, uint64, error) {
	return mutate(s, s.vehicles, KindVehicle, id, false, fn)
}

// Vehicle returns a snapshot of the vehicle, with the staleness flag
// computed against the configured freshness threshold.
func (s *Store) Vehicle(id string) (VehicleSnapshot, bool) {
	v, ver, ok := s.vehicles.get(id)
	if !ok {
		return VehicleSnapshot{}, false
	}
	return VehicleSnapshot{Vehicle: v, Version: ver, Stale: s.stale(v.LastSeen)}, true
}

// Vehicles lists snapshots of all vehicles.
func (s *Store) Vehicles() []VehicleSnapshot {
	vs := s.vehicles.list()
	out := make([]VehicleSnapshot, 0, len(vs))
	for _, v := range vs {
		snap, _ := s.Vehicle(v.ID)
		out = append(out, snap)
	}
	return out
}

// PutDriver registers or replaces a driver record.
func (s *Store) PutDriver(d model.Driver) (uint64, error) {
	_, ver, err := mutate(s, s.drivers, KindDriver, d.ID, true, func(cur *model.Driver) error {
		*cur = d
		return nil
	})
	return ver, err
}

// UpdateDriver applies fn to the driver under its writer lock.
func (s *Store) UpdateDriver(id string, fn func(*model.Driver) error) (model.Driver, uint64, error) {
	return mutate(s, s.drivers, KindDriver, id, false, fn)
}

// Driver returns a snapshot of the driver.
func (s *Store) Driver(id string) (DriverSnapshot, bool) {
	d, ver, ok := s.drivers.get(id)
	if !ok {
		return DriverSnapshot{}, false
	}
	return DriverSnapshot{Driver: d, Version: ver}, true
}

// Drivers lists snapshots of all drivers.
func (s *Store) Drivers() []DriverSnapshot {
	ds := s.drivers.list()
	out := make([]DriverSnapshot, 0, len(ds))
	for _, d := range ds {
		snap, _ := s.Driver(d.ID)
		out = append(out, snap)
	}
	return out
}

// PutJob registers or replaces a job record.
func (s *Store) PutJob(j model.Job) (uint64, error) {
	if j.Status == "" {
		j.Status = model.JobPending
	}
	_, ver, err := mutate(s, s.jobs, KindJob, j.ID, true, func(cur *model.Job) error {
		*cur = j
		return nil
	})
	return ver, err
}

// UpdateJob applies fn to the job under its writer lock. Because writers for
// one entity are serialized, fn can implement compare-and-set transitions:
// exactly one of two concurrent pending→offered attempts observes pending.
func (s *Store) UpdateJob(id string, fn func(*model.Job) error) (model.Job, uint64, error) {
	return mutate(s, s.jobs, KindJob, id, false, func(j *model.Job) error {
		if err := fn(j); err != nil {
			return err
		}
		j.StatusVersion++
		return nil
	})
}

// Job returns a snapshot of the job.
func (s *Store) Job(id string) (JobSnapshot, bool) {
	j, ver, ok := s.jobs.get(id)
	if !ok {
		return JobSnapshot{}, false
	}
	return JobSnapshot{Job: j, Version: ver}, true
}

// Jobs lists snapshots of all jobs.
func (s *Store) Jobs() []JobSnapshot {
	js := s.jobs.list()
	out := make([]JobSnapshot, 0, len(js))
	for _, j := range js {
		snap, _ := s.Job(j.ID)
		out = append(out, snap)
	}
	return out
}

// PutRoute registers or replaces a route record.
func (s *Store) PutRoute(r model.Route) (uint64, error) {
	_, ver, err := mutate(s, s.routes, KindRoute, r.ID, true, func(cur *model.Route) error {
		*cur = r
		return nil
	})
	return ver, err
}

// UpdateRoute applies fn to the route under its writer lock.
func (s *Store) UpdateRoute(id string, fn func(*model.Route) error) (model.Route, uint64, error) {
	return mutate(s, s.routes, KindRoute, id, false, fn)
}

// UpdateRouteAt applies fn only if the route is still at the expected
// version, so advisory proposals built against an older snapshot are
// rejected instead of silently clobbering newer state. The swap is atomic:
// readers observe either the old or the new stop order, never a mix.
func (s *Store) UpdateRouteAt(id string, expect uint64, fn func(*model.Route) error) (model.Route, uint64, error) {
	return mutate(s, s.routes, KindRoute, id, false, func(r *model.Route) error {
		if cur, ok := s.routes.lookup(id); ok {
			if v := cur.snap.Load(); v != nil && v.version != expect {
				return model.Reject(model.ReasonVersionConflict, "route %s at version %d, expected %d", id, v.version, expect)
			}
		}
		return fn(r)
	})
}

// Route returns a snapshot of the route.
func (s *Store) Route(id string) (RouteSnapshot, bool) {
	r, ver, ok := s.routes.get(id)
	if !ok {
		return RouteSnapshot{}, false
	}
	return RouteSnapshot{Route: r, Version: ver}, true
}

// Routes lists snapshots of all routes.
func (s *Store) Routes() []RouteSnapshot {
	rs := s.routes.list()
	out := make([]RouteSnapshot, 0, len(rs))
	for _, r := range rs {
		snap, _ := s.Route(r.ID)
		out = append(out, snap)
	}
	return out
}

// RouteJobs resolves the jobs referenced by a route's stops, in stop order.
// Unknown job IDs are skipped.
func (s *Store) RouteJobs(r model.Route) []model.Job {
	out := make([]model.Job, 0, len(r.Stops))
	for _, st := range r.Stops {
		if j, _, ok := s.jobs.get(st.JobID); ok {
			out = append(out, j)
		}
	}
	return out
}
