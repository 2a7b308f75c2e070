package solver

import (
	"time"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/vrp"
)

// fullWindowSpan is the reference shift width (8h) against which window
// tightness is normalized.
const fullWindowSpan = 8 * time.Hour

// SelectorConfig tunes the feature thresholds of solver selection.
type SelectorConfig struct {
	// DispersionThresholdM is the geographic spread, in meters, above which
	// a problem counts as multi-city. Default 50km.
	DispersionThresholdM float64
}

func (c SelectorConfig) withDefaults() SelectorConfig {
	if c.DispersionThresholdM <= 0 {
		c.DispersionThresholdM = 50_000
	}
	return c
}

// Features are the problem traits solver selection decides on.
type Features struct {
	NJobs     int
	NVehicles int

	HasTimeWindows    bool
	HasPickupDelivery bool
	HasCapacity       bool

	// Tightness is 1 − min(1, meanWindow/8h): 0 for wide-open windows, 1
	// for point windows. A problem without bounded windows scores 0.
	Tightness float64

	// DispersionM is the standard deviation of job distances from their
	// centroid.
	DispersionM float64

	// ConstraintComplexity counts the active constraint classes: windows,
	// capacity, pickup-delivery, plus one for multi-city dispersion.
	ConstraintComplexity int
}

// ExtractFeatures computes selection features from a problem.
func ExtractFeatures(p *vrp.Problem, cfg SelectorConfig) Features {
	cfg = cfg.withDefaults()
	f := Features{
		NJobs:             len(p.Jobs),
		NVehicles:         len(p.Vehicles),
		HasTimeWindows:    p.HasTimeWindows,
		HasPickupDelivery: p.HasPickupDelivery,
		HasCapacity:       p.HasCapacity,
	}

	if p.HasTimeWindows {
		if mean := p.MeanWindowSpan(); mean > 0 {
			ratio := float64(mean) / float64(fullWindowSpan)
			if ratio > 1 {
				ratio = 1
			}
			f.Tightness = 1 - ratio
		}
	}

	coords := make([]geo.Coordinate, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		coords = append(coords, j.Location.Coordinate)
	}
	f.DispersionM = geo.Dispersion(coords)

	if f.HasTimeWindows {
		f.ConstraintComplexity++
	}
	if f.HasCapacity {
		f.ConstraintComplexity++
	}
	if f.HasPickupDelivery {
		f.ConstraintComplexity++
	}
	if f.DispersionM > cfg.DispersionThresholdM {
		f.ConstraintComplexity++
	}
	return f
}

// Selector picks the solver a problem should go to first; the registry chain
// still backs the pick up when that solver fails.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector creates a Selector.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{cfg: cfg.withDefaults()}
}

// Select extracts features and applies the decision rules.
func (s *Selector) Select(p *vrp.Problem) vrp.SolverKind {
	return s.Pick(ExtractFeatures(p, s.cfg))
}

// Pick applies the decision rules, first match wins: large pickup-delivery
// problems go to the evolutionary solver, any pickup-delivery problem needs
// the engine that can express pairs, very large instances avoid external
// round-trip limits, hard instances go to the constraint service, small
// simple ones to the fast engine, and everything else to the constraint
// service.
func (s *Selector) Pick(f Features) vrp.SolverKind {
	switch {
	case f.HasPickupDelivery && f.NJobs > 500:
		return vrp.KindGenetic
	case f.HasPickupDelivery:
		return vrp.KindORTools
	case f.NJobs > 1000:
		return vrp.KindGenetic
	case f.NJobs > 200 || f.Tightness > 0.8 || f.ConstraintComplexity > 3:
		return vrp.KindORTools
	case f.NJobs < 150 && f.ConstraintComplexity <= 2:
		return vrp.KindVROOM
	default:
		return vrp.KindORTools
	}
}
