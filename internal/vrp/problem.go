package vrp

import (
	"fmt"
	"time"

	"github.com/karavan-route/karavan/internal/geo"
)

// Demand is the two-dimensional load of a job: weight and volume.
type Demand struct {
	WeightKg float64 `json:"weight_kg"`
	VolumeM3 float64 `json:"volume_m3"`
}

// Add returns the component-wise sum.
func (d Demand) Add(other Demand) Demand {
	return Demand{WeightKg: d.WeightKg + other.WeightKg, VolumeM3: d.VolumeM3 + other.VolumeM3}
}

// Sub returns the component-wise difference.
func (d Demand) Sub(other Demand) Demand {
	return Demand{WeightKg: d.WeightKg - other.WeightKg, VolumeM3: d.VolumeM3 - other.VolumeM3}
}

// Fits reports whether d fits inside capacity on every dimension.
func (d Demand) Fits(capacity Demand) bool {
	return d.WeightKg <= capacity.WeightKg && d.VolumeM3 <= capacity.VolumeM3
}

// IsNegative reports whether any dimension is below zero.
func (d Demand) IsNegative() bool {
	return d.WeightKg < 0 || d.VolumeM3 < 0
}

// Job is a single visit to perform: a delivery, a pickup, or a sales call.
type Job struct {
	ID       string       `json:"id"`
	Location geo.Location `json:"location"`
	Demand   Demand       `json:"demand"`
	// Priority ranks jobs 1 (lowest) to 10 (highest).
	Priority int `json:"priority"`
	// PickupPairID links a pickup job to its delivery counterpart. When
	// set, both jobs must ride the same route with the pickup first.
	PickupPairID string `json:"pickup_pair_id,omitempty"`
}

// BreakRule is an interval during which no visit may start (lunch, prayer).
// A vehicle arriving inside the interval waits until it ends.
type BreakRule struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Covers reports whether t falls inside the break.
func (b BreakRule) Covers(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Vehicle is a delivery truck or a field agent's car.
type Vehicle struct {
	ID       string       `json:"id"`
	Depot    geo.Location `json:"depot"`
	Capacity Demand       `json:"capacity"`
	// WorkWindow bounds the shift; visits outside it are late.
	WorkWindow geo.TimeWindow `json:"work_window,omitzero"`
	Breaks     []BreakRule    `json:"breaks,omitempty"`
}

// NextAllowedStart pushes t past any break covering it. Breaks are assumed
// non-overlapping; a single pass over the sorted rules is enough because a
// deferred start can only land in a later break.
func (v Vehicle) NextAllowedStart(t time.Time) time.Time {
	for _, b := range v.Breaks {
		if b.Covers(t) {
			t = b.End
		}
	}
	return t
}

// Problem is an immutable solve request: solvers must never mutate it.
type Problem struct {
	Jobs     []Job     `json:"jobs"`
	Vehicles []Vehicle `json:"vehicles"`

	// Constraint flags describing which hard constraints are active.
	HasTimeWindows    bool `json:"has_time_windows"`
	HasCapacity       bool `json:"has_capacity"`
	HasPickupDelivery bool `json:"has_pickup_delivery"`
	// AllowUnassigned permits solutions that leave jobs out; when false,
	// an unassignable job makes the whole problem infeasible.
	AllowUnassigned bool `json:"allow_unassigned"`

	// DepartAt anchors the schedule; zero means the first vehicle window
	// start (or the current time at solve, decided by the caller).
	DepartAt time.Time `json:"depart_at,omitzero"`
}

// Validate rejects malformed problems per the InvalidInput taxonomy:
// duplicate ids, invalid coordinates, negative demands, inverted windows,
// dangling pickup pairs.
func (p *Problem) Validate() error {
	if len(p.Vehicles) == 0 {
		return &InvalidInputError{Reason: "problem has no vehicles"}
	}
	if len(p.Jobs) == 0 {
		return &InvalidInputError{Reason: "problem has no jobs"}
	}

	jobIdx := make(map[string]int, len(p.Jobs))
	var dup []string
	for i, j := range p.Jobs {
		if j.ID == "" {
			return &InvalidInputError{Reason: fmt.Sprintf("job at index %d has empty id", i)}
		}
		if _, seen := jobIdx[j.ID]; seen {
			dup = append(dup, j.ID)
			continue
		}
		jobIdx[j.ID] = i
	}
	if len(dup) > 0 {
		return &InvalidInputError{Reason: "duplicate job ids", IDs: dup}
	}

	var bad []string
	for _, j := range p.Jobs {
		if err := j.Location.Validate(); err != nil {
			bad = append(bad, j.ID)
			continue
		}
		if j.Demand.IsNegative() {
			bad = append(bad, j.ID)
			continue
		}
		if j.Priority < 0 || j.Priority > 10 {
			bad = append(bad, j.ID)
		}
	}
	if len(bad) > 0 {
		return &InvalidInputError{Reason: "jobs with invalid location, demand, or priority", IDs: bad}
	}

	seen := make(map[string]bool, len(p.Vehicles))
	for i, v := range p.Vehicles {
		if v.ID == "" {
			return &InvalidInputError{Reason: fmt.Sprintf("vehicle at index %d has empty id", i)}
		}
		if seen[v.ID] {
			return &InvalidInputError{Reason: "duplicate vehicle ids", IDs: []string{v.ID}}
		}
		seen[v.ID] = true
		if err := v.Depot.Validate(); err != nil {
			return &InvalidInputError{Reason: "vehicle depot invalid", IDs: []string{v.ID}}
		}
		if v.Capacity.IsNegative() {
			return &InvalidInputError{Reason: "vehicle capacity negative", IDs: []string{v.ID}}
		}
		if err := v.WorkWindow.Validate(); err != nil {
			return &InvalidInputError{Reason: "vehicle work window inverted", IDs: []string{v.ID}}
		}
	}

	var dangling []string
	for _, j := range p.Jobs {
		if j.PickupPairID == "" {
			continue
		}
		if _, ok := jobIdx[j.PickupPairID]; !ok {
			dangling = append(dangling, j.ID)
		}
	}
	if len(dangling) > 0 {
		return &InvalidInputError{Reason: "pickup pair references missing jobs", IDs: dangling}
	}
	return nil
}

// JobIndex returns a map from job id to its position in Jobs.
func (p *Problem) JobIndex() map[string]int {
	idx := make(map[string]int, len(p.Jobs))
	for i, j := range p.Jobs {
		idx[j.ID] = i
	}
	return idx
}

// Coordinates returns depot coordinates of every vehicle followed by every
// job coordinate, the canonical layout used to build distance matrices:
// index i < len(Vehicles) is vehicle i's depot, index len(Vehicles)+k is
// job k.
func (p *Problem) Coordinates() []geo.Coordinate {
	coords := make([]geo.Coordinate, 0, len(p.Vehicles)+len(p.Jobs))
	for _, v := range p.Vehicles {
		coords = append(coords, v.Depot.Coordinate)
	}
	for _, j := range p.Jobs {
		coords = append(coords, j.Location.Coordinate)
	}
	return coords
}

// MeanWindowSpan returns the average width of job time windows that are
// fully bounded. Zero when no bounded windows exist.
func (p *Problem) MeanWindowSpan() time.Duration {
	var total time.Duration
	var n int
	for _, j := range p.Jobs {
		if span := j.Location.Window.Span(); span > 0 {
			total += span
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
