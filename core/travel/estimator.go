// Package travel defines the drive-time estimator port consumed by the
// assignment and re-optimization engines. The real estimator is an external
// collaborator; a static great-circle fallback keeps dispatch working when
// it is unreachable.
package travel

import (
	"context"
	"math"
	"time"

	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/model"
)

// Estimate is a travel-duration answer. Degraded is set when the primary
// estimator failed and the static fallback produced the value.
type Estimate struct {
	Duration time.Duration `json:"duration"`
	Degraded bool          `json:"degraded"`
}

// Estimator answers synchronous drive-time queries.
type Estimator interface {
	Estimate(ctx context.Context, origin, dest model.Geo, departAt time.Time) (Estimate, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(ctx context.Context, origin, dest model.Geo, departAt time.Time) (Estimate, error)

func (f EstimatorFunc) Estimate(ctx context.Context, origin, dest model.Geo, departAt time.Time) (Estimate, error) {
	return f(ctx, origin, dest, departAt)
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b model.Geo) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// StaticEstimator derives durations from straight-line distance at a fixed
// average speed. It never fails and never consults the network.
type StaticEstimator struct {
	AvgSpeedKmh float64
}

// NewStaticEstimator returns an estimator assuming the given average speed,
// defaulting to 60 km/h.
func NewStaticEstimator(avgSpeedKmh float64) StaticEstimator {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 60
	}
	return StaticEstimator{AvgSpeedKmh: avgSpeedKmh}
}

func (s StaticEstimator) Estimate(_ context.Context, origin, dest model.Geo, _ time.Time) (Estimate, error) {
	km := HaversineKm(origin, dest)
	hours := km / s.AvgSpeedKmh
	return Estimate{Duration: time.Duration(hours * float64(time.Hour))}, nil
}

// Fallback wraps a primary estimator and degrades to the static one when it
// fails. Degraded estimates are flagged, never silently substituted.
type Fallback struct {
	Primary Estimator
	Static  StaticEstimator
	Log     logger.Logger
}

// NewFallback builds a Fallback around the primary estimator.
func NewFallback(primary Estimator, static StaticEstimator, log logger.Logger) Fallback {
	return Fallback{Primary: primary, Static: static, Log: log}
}

func (f Fallback) Estimate(ctx context.Context, origin, dest model.Geo, departAt time.Time) (Estimate, error) {
	if f.Primary != nil {
		est, err := f.Primary.Estimate(ctx, origin, dest, departAt)
		if err == nil {
			return est, nil
		}
		if f.Log != nil {
			f.Log.Warnf("drive-time estimator failed, using static fallback: %v", err)
		}
	}
	est, _ := f.Static.Estimate(ctx, origin, dest, departAt)
	est.Degraded = true
	return est, nil
}
