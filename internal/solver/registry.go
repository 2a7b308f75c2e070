package solver

import (
	"context"
	"fmt"
	"log"

	"github.com/karavan-route/karavan/internal/vrp"
)

// DefaultChain is the fallback order used when no explicit chain is
// configured: external engines first, local algorithms as the safety net.
func DefaultChain() []vrp.SolverKind {
	return []vrp.SolverKind{vrp.KindVROOM, vrp.KindORTools, vrp.KindGenetic, vrp.KindGreedy}
}

// Registry holds the configured solvers and runs the fallback chain. It is
// built once at startup and read-only afterwards, so lookups need no lock.
type Registry struct {
	solvers map[vrp.SolverKind]Solver
	chain   []vrp.SolverKind
}

// NewRegistry builds the registry. A nil chain takes DefaultChain. Chain
// entries without a registered solver are skipped at solve time, so a
// deployment without an external engine just configures fewer solvers.
func NewRegistry(chain []vrp.SolverKind, solvers ...Solver) (*Registry, error) {
	if len(solvers) == 0 {
		return nil, fmt.Errorf("solver: registry needs at least one solver: %w", vrp.ErrInvalidInput)
	}
	if chain == nil {
		chain = DefaultChain()
	}
	r := &Registry{
		solvers: make(map[vrp.SolverKind]Solver, len(solvers)),
		chain:   append([]vrp.SolverKind(nil), chain...),
	}
	for _, s := range solvers {
		if _, dup := r.solvers[s.Kind()]; dup {
			return nil, fmt.Errorf("solver: duplicate registration for %q: %w", s.Kind(), vrp.ErrInvalidInput)
		}
		r.solvers[s.Kind()] = s
	}
	return r, nil
}

// Get returns the registered solver of the given kind.
func (r *Registry) Get(kind vrp.SolverKind) (Solver, bool) {
	s, ok := r.solvers[kind]
	return s, ok
}

// Kinds returns the registered solver kinds in chain order, then the rest.
func (r *Registry) Kinds() []vrp.SolverKind {
	out := make([]vrp.SolverKind, 0, len(r.solvers))
	seen := make(map[vrp.SolverKind]bool, len(r.solvers))
	for _, k := range r.chain {
		if _, ok := r.solvers[k]; ok && !seen[k] {
			out = append(out, k)
			seen[k] = true
		}
	}
	for k := range r.solvers {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// Chain returns a copy of the configured fallback order.
func (r *Registry) Chain() []vrp.SolverKind {
	return append([]vrp.SolverKind(nil), r.chain...)
}

// SolveWithFallback runs the chain starting at preferred (the full chain
// when preferred is empty). A solver that reports unavailability, times out,
// or returns an unusable solution advances the chain; invalid input,
// infeasibility and internal errors propagate immediately; cancellation
// short-circuits. The returned solution carries the kind of the solver that
// produced it.
func (r *Registry) SolveWithFallback(ctx context.Context, p *vrp.Problem, preferred vrp.SolverKind) (*vrp.Solution, error) {
	order := r.order(preferred)
	var lastErr error
	for _, kind := range order {
		s, ok := r.solvers[kind]
		if !ok {
			continue
		}
		sol, err := s.Solve(ctx, p)
		if err != nil {
			if vrp.IsCancelled(err) {
				return nil, err
			}
			if vrp.IsUnavailable(err) {
				log.Printf("[solver] %s unavailable, advancing chain: %v", kind, err)
				lastErr = err
				continue
			}
			return nil, err
		}
		if !vrp.Usable(p, sol) {
			n := len(vrp.Verify(p, sol))
			log.Printf("[solver] %s solution unusable (%d violations), advancing chain", kind, n)
			lastErr = fmt.Errorf("solver: %s solution unusable (%d violations): %w", kind, n, vrp.ErrBackendUnavailable)
			continue
		}
		return sol, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("solver: fallback chain exhausted: %w", lastErr)
	}
	return nil, fmt.Errorf("solver: no registered solver in chain %v: %w", order, vrp.ErrBackendUnavailable)
}

// order resolves the attempt sequence: the chain from preferred onwards, or
// preferred prepended to the whole chain when it is not a chain member.
func (r *Registry) order(preferred vrp.SolverKind) []vrp.SolverKind {
	if preferred == "" {
		return r.chain
	}
	for i, k := range r.chain {
		if k == preferred {
			return r.chain[i:]
		}
	}
	return append([]vrp.SolverKind{preferred}, r.chain...)
}
