package assign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/state"
	"github.com/fleetglide/dispatchd/infra/logger"
)

func newClockedEngine(t *testing.T, s *state.Store, cur *time.Time) *Engine {
	t.Helper()
	e := New(Config{}, s, fixedEstimator(30*time.Minute), logger.NopLogger{}, nil,
		WithClock(func() time.Time { return *cur }))
	t.Cleanup(e.Close)
	return e
}

func TestLifecycleCompleteReleasesResources(t *testing.T) {
	s := fleet(t)
	cur := time.Now()
	e := newClockedEngine(t, s, &cur)
	putJob(t, s, model.Job{ID: "j1", Cargo: model.Cargo{WeightLb: 4200, Pallets: 2}})

	_, err := e.OfferJob(context.Background(), "j1")
	require.NoError(t, err)
	route, err := e.Accept(context.Background(), "j1")
	require.NoError(t, err)

	job, err := e.Start("j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobInProgress, job.Status)
	rt, _ := s.Route(route.ID)
	assert.Equal(t, model.JobInProgress, rt.Status)

	cur = cur.Add(90 * time.Minute)
	job, err = e.Complete("j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, cur, job.CompletedAt)

	rt, _ = s.Route(route.ID)
	assert.Equal(t, model.JobCompleted, rt.Status)
	require.True(t, rt.Stops[0].Done)
	assert.Empty(t, rt.Remaining())

	veh, _ := s.Vehicle("v1")
	assert.Zero(t, veh.Load.WeightLb)
	assert.Zero(t, veh.Load.Pallets)

	drv, _ := s.Driver("d1")
	assert.Empty(t, drv.AssignmentID)
	assert.Equal(t, cur, drv.IdleSince)
	require.Len(t, drv.DutyIntervals, 1)
	// The allowance is recomputed from the closed 90-minute interval, not
	// from the pre-charged estimate.
	assert.Equal(t, 11*time.Hour-90*time.Minute, drv.DutyRemaining)
}

func TestFailClosesStopAndReleasesDriver(t *testing.T) {
	s := fleet(t)
	cur := time.Now()
	e := newClockedEngine(t, s, &cur)
	putJob(t, s, model.Job{ID: "j1", Cargo: model.Cargo{WeightLb: 4200}})

	_, err := e.OfferJob(context.Background(), "j1")
	require.NoError(t, err)
	route, err := e.Accept(context.Background(), "j1")
	require.NoError(t, err)
	_, err = e.Start("j1")
	require.NoError(t, err)

	cur = cur.Add(20 * time.Minute)
	job, err := e.Fail("j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)

	rt, _ := s.Route(route.ID)
	assert.Equal(t, model.JobFailed, rt.Status)
	assert.True(t, rt.Stops[0].Done)

	veh, _ := s.Vehicle("v1")
	assert.Zero(t, veh.Load.WeightLb)
	drv, _ := s.Driver("d1")
	assert.Empty(t, drv.AssignmentID)
}

func TestPartialRouteKeepsDriverAssigned(t *testing.T) {
	s := fleet(t)
	e := newEngine(t, s, fixedEstimator(10*time.Minute), Config{})

	for _, id := range []string{"a", "b"} {
		putJob(t, s, model.Job{ID: id, Cargo: model.Cargo{WeightLb: 1000}})
		_, err := e.OfferJob(context.Background(), id)
		require.NoError(t, err)
		_, err = e.Accept(context.Background(), id)
		require.NoError(t, err)
	}
	_, err := e.Start("a")
	require.NoError(t, err)
	_, err = e.Complete("a")
	require.NoError(t, err)

	job, _ := s.Job("a")
	routeID := job.RouteID
	rt, _ := s.Route(routeID)
	assert.Equal(t, model.JobInProgress, rt.Status)
	require.Len(t, rt.Remaining(), 1)
	assert.Equal(t, "b", rt.Remaining()[0].JobID)

	// One stop still open, so the pair stays bound.
	drv, _ := s.Driver("d1")
	assert.Equal(t, routeID, drv.AssignmentID)
	veh, _ := s.Vehicle("v1")
	assert.Equal(t, 1000.0, veh.Load.WeightLb)
}

func TestFinishRequiresInProgress(t *testing.T) {
	s := fleet(t)
	e := newEngine(t, s, fixedEstimator(10*time.Minute), Config{})
	putJob(t, s, model.Job{ID: "j1"})

	_, err := e.Start("j1")
	assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(err))

	_, err = e.OfferJob(context.Background(), "j1")
	require.NoError(t, err)
	_, err = e.Accept(context.Background(), "j1")
	require.NoError(t, err)

	_, err = e.Complete("j1")
	assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(err))

	_, err = e.Start("j1")
	require.NoError(t, err)
	_, err = e.Complete("j1")
	require.NoError(t, err)

	// Terminal means terminal.
	_, err = e.Fail("j1")
	assert.Equal(t, model.ReasonInvalidTransition, model.ReasonOf(err))
}
