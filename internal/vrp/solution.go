package vrp

import (
	"time"

	"github.com/karavan-route/karavan/internal/geo"
)

// StepKind discriminates route steps.
type StepKind string

const (
	StepDepotStart StepKind = "depot_start"
	StepVisit      StepKind = "visit"
	StepBreak      StepKind = "break"
	StepDepotEnd   StepKind = "depot_end"
)

// Step is one stop on a route. The JSON field names are a stable contract
// consumed by delivery apps and the web dashboard; do not rename.
type Step struct {
	Kind  StepKind `json:"kind"`
	JobID string   `json:"job_id,omitempty"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	// Arrival and Departure are RFC3339 in the agent's zone.
	Arrival   time.Time `json:"arrival_iso"`
	Departure time.Time `json:"departure_iso"`
	// LoadAfter is the remaining on-board load after this step.
	LoadAfter Demand `json:"load_after"`
}

// Route is one vehicle's ordered schedule.
type Route struct {
	VehicleID      string  `json:"vehicle_id"`
	Steps          []Step  `json:"steps"`
	TotalMeters    float64 `json:"total_meters"`
	TotalSeconds   float64 `json:"total_seconds"`
	ServiceSeconds float64 `json:"service_seconds"`
}

// Visits returns the job ids visited on the route, in order.
func (r *Route) Visits() []string {
	var ids []string
	for _, s := range r.Steps {
		if s.Kind == StepVisit {
			ids = append(ids, s.JobID)
		}
	}
	return ids
}

// SolverKind identifies which solver produced a solution.
type SolverKind string

const (
	KindGreedy  SolverKind = "greedy"
	KindGenetic SolverKind = "genetic"
	KindVROOM   SolverKind = "vroom"
	KindORTools SolverKind = "ortools"
)

// IsValid reports whether the value names a known solver.
func (k SolverKind) IsValid() bool {
	switch k {
	case KindGreedy, KindGenetic, KindVROOM, KindORTools:
		return true
	}
	return false
}

// Solution is the result of a solve: routes, leftovers, totals, and solver
// metadata. JSON field names are part of the external contract.
type Solution struct {
	Routes         []Route  `json:"routes"`
	UnassignedJobs []string `json:"unassigned_job_ids"`

	TotalMeters  float64 `json:"total_meters"`
	TotalSeconds float64 `json:"total_seconds"`

	SolverKind  SolverKind `json:"solver_kind"`
	ElapsedMS   int64      `json:"elapsed_ms"`
	QualityNote string     `json:"quality_note,omitempty"`
}

// RecomputeTotals refreshes the aggregate distance/duration from routes.
func (s *Solution) RecomputeTotals() {
	s.TotalMeters, s.TotalSeconds = 0, 0
	for _, r := range s.Routes {
		s.TotalMeters += r.TotalMeters
		s.TotalSeconds += r.TotalSeconds
	}
}

// AssignedCount returns the number of visit steps across all routes.
func (s *Solution) AssignedCount() int {
	n := 0
	for _, r := range s.Routes {
		for _, st := range r.Steps {
			if st.Kind == StepVisit {
				n++
			}
		}
	}
	return n
}

// Empty reports whether the solution assigns no jobs at all.
func (s *Solution) Empty() bool { return s.AssignedCount() == 0 }

// NewStep builds a visit-agnostic step at the given location and times.
func NewStep(kind StepKind, c geo.Coordinate, arrival, departure time.Time, load Demand) Step {
	return Step{
		Kind:      kind,
		Lat:       c.Lat,
		Lon:       c.Lon,
		Arrival:   arrival,
		Departure: departure,
		LoadAfter: load,
	}
}
