package matrix

import (
	"context"
	"fmt"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/vrp"
)

// DefaultSpeedMPS is the average urban driving speed assumed by the
// estimator, roughly 30 km/h.
const DefaultSpeedMPS = 8.33

// Estimator is the great-circle fallback Backend used when the road-network
// instance is unreachable. Durations are haversine meters divided by a flat
// average speed; geometries are straight segments.
type Estimator struct {
	// SpeedMPS is the assumed average speed. Zero means DefaultSpeedMPS.
	SpeedMPS float64
}

var _ Backend = (*Estimator)(nil)

// Name identifies the backend in logs.
func (e *Estimator) Name() string { return "haversine" }

func (e *Estimator) speed() float64 {
	if e.SpeedMPS > 0 {
		return e.SpeedMPS
	}
	return DefaultSpeedMPS
}

// Table computes the requested block from pairwise great-circle distances.
func (e *Estimator) Table(_ context.Context, req TableRequest) (*Matrix, error) {
	if len(req.Coords) == 0 {
		return nil, fmt.Errorf("matrix: empty coordinate list: %w", vrp.ErrInvalidInput)
	}
	sources := req.Sources
	if sources == nil {
		sources = fullRange(len(req.Coords))
	}
	dests := req.Dests
	if dests == nil {
		dests = fullRange(len(req.Coords))
	}
	for _, i := range sources {
		if i < 0 || i >= len(req.Coords) {
			return nil, fmt.Errorf("matrix: source index %d out of range: %w", i, vrp.ErrInvalidInput)
		}
	}
	for _, j := range dests {
		if j < 0 || j >= len(req.Coords) {
			return nil, fmt.Errorf("matrix: dest index %d out of range: %w", j, vrp.ErrInvalidInput)
		}
	}

	speed := e.speed()
	m := NewMatrix(len(sources), len(dests), 0)
	for r, i := range sources {
		for c, j := range dests {
			d := geo.HaversineM(req.Coords[i], req.Coords[j])
			m.Distances[r][c] = d
			m.Durations[r][c] = d / speed
		}
	}
	return m, nil
}

// Route returns straight segments through coords with estimated timing.
func (e *Estimator) Route(_ context.Context, coords []geo.Coordinate, _ Overview, _ string) (*RouteGeometry, error) {
	if len(coords) < 2 {
		return nil, fmt.Errorf("matrix: route needs at least 2 coordinates: %w", vrp.ErrInvalidInput)
	}
	out := &RouteGeometry{Points: append([]geo.Coordinate(nil), coords...)}
	for i := 1; i < len(coords); i++ {
		out.DistanceM += geo.HaversineM(coords[i-1], coords[i])
	}
	out.DurationS = out.DistanceM / e.speed()
	return out, nil
}

// Healthy always holds: the estimator needs no external service.
func (e *Estimator) Healthy(context.Context) bool { return true }

func fullRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
