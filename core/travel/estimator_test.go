package travel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/infra/logger"
)

func TestHaversineKnownDistance(t *testing.T) {
	paris := model.Geo{Lat: 48.8566, Lon: 2.3522}
	lyon := model.Geo{Lat: 45.7640, Lon: 4.8357}
	km := HaversineKm(paris, lyon)
	// Great-circle Paris-Lyon is roughly 392 km.
	assert.InDelta(t, 392, km, 5)
	assert.Zero(t, HaversineKm(paris, paris))
}

func TestStaticEstimator(t *testing.T) {
	est := NewStaticEstimator(60)
	a := model.Geo{Lat: 0, Lon: 0}
	b := model.Geo{Lat: 0, Lon: 1} // ~111 km on the equator
	got, err := est.Estimate(context.Background(), a, b, time.Now())
	require.NoError(t, err)
	assert.False(t, got.Degraded)
	assert.InDelta(t, 111.0/60.0, got.Duration.Hours(), 0.01)
}

func TestStaticEstimatorDefaultSpeed(t *testing.T) {
	est := NewStaticEstimator(0)
	assert.Equal(t, 60.0, est.AvgSpeedKmh)
}

func TestFallbackUsesPrimary(t *testing.T) {
	primary := EstimatorFunc(func(context.Context, model.Geo, model.Geo, time.Time) (Estimate, error) {
		return Estimate{Duration: 42 * time.Minute}, nil
	})
	f := NewFallback(primary, NewStaticEstimator(60), logger.NopLogger{})
	got, err := f.Estimate(context.Background(), model.Geo{}, model.Geo{Lat: 1}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 42*time.Minute, got.Duration)
	assert.False(t, got.Degraded)
}

func TestFallbackDegradesOnError(t *testing.T) {
	primary := EstimatorFunc(func(context.Context, model.Geo, model.Geo, time.Time) (Estimate, error) {
		return Estimate{}, errors.New("upstream timeout")
	})
	f := NewFallback(primary, NewStaticEstimator(60), logger.NopLogger{})
	got, err := f.Estimate(context.Background(), model.Geo{}, model.Geo{Lat: 0, Lon: 1}, time.Now())
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Greater(t, got.Duration, time.Duration(0))
}

func TestFallbackNilPrimary(t *testing.T) {
	f := NewFallback(nil, NewStaticEstimator(60), nil)
	got, err := f.Estimate(context.Background(), model.Geo{}, model.Geo{Lat: 0, Lon: 1}, time.Now())
	require.NoError(t, err)
	assert.True(t, got.Degraded)
}
