// Package solver hosts the VRP solver fleet: the local heuristics (greedy
// nearest-neighbor with 2-opt improvement, a genetic algorithm) and network
// adapters for the VROOM and OR-Tools engines, all behind one contract. The
// Registry maps solver kinds to factories and walks a fallback chain when a
// backend goes down; the Selector picks a starting kind from problem
// features.
package solver

import (
	"context"
	"time"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Solver turns a Problem into a Solution. Implementations never mutate the
// problem. A solver that cannot reach its backing engine fails with an
// ErrBackendUnavailable-classified error so the registry can advance the
// fallback chain; InvalidInput and Infeasible errors propagate unchanged.
type Solver interface {
	Solve(ctx context.Context, p *vrp.Problem) (*vrp.Solution, error)
	// Kind identifies the solver in solution metadata and registry chains.
	Kind() vrp.SolverKind
	// HealthCheck reports whether the solver can serve requests right now.
	// Local heuristics always can; adapters probe their engine.
	HealthCheck(ctx context.Context) bool
}

// MatrixFunc supplies the travel table for the layout of
// Problem.Coordinates(): vehicle depots first, then jobs. The matrix-driven
// solvers (greedy, genetic) are constructed with one; wiring usually binds
// it to the cached matrix provider.
type MatrixFunc func(ctx context.Context, coords []geo.Coordinate, profile string) (*matrix.Matrix, error)

// DefaultSolveTimeout caps a single external solve request.
const DefaultSolveTimeout = 30 * time.Second

// elapsedMS converts a solve duration to the millisecond field of the
// solution metadata, never reporting less than zero.
func elapsedMS(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
