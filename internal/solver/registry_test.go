package solver

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karavan-route/karavan/internal/testutil"
	"github.com/karavan-route/karavan/internal/vrp"
)

// stubSolver returns a fixed solution or error under an arbitrary kind.
type stubSolver struct {
	kind   vrp.SolverKind
	sol    *vrp.Solution
	err    error
	solves int
}

func (s *stubSolver) Kind() vrp.SolverKind             { return s.kind }
func (s *stubSolver) HealthCheck(context.Context) bool { return s.err == nil }

func (s *stubSolver) Solve(context.Context, *vrp.Problem) (*vrp.Solution, error) {
	s.solves++
	return s.sol, s.err
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, vrp.ErrInvalidInput)

	_, err = NewRegistry(nil,
		NewGreedy(GreedyConfig{}, testutil.HaversineMatrix),
		NewGreedy(GreedyConfig{}, testutil.HaversineMatrix))
	assert.ErrorIs(t, err, vrp.ErrInvalidInput)
}

func TestFallbackAdvancesPastUnavailable(t *testing.T) {
	down := &stubSolver{
		kind: vrp.KindVROOM,
		err:  fmt.Errorf("connection refused: %w", vrp.ErrBackendUnavailable),
	}
	r, err := NewRegistry(nil, down, NewGreedy(GreedyConfig{}, testutil.HaversineMatrix))
	require.NoError(t, err)

	sol, err := r.SolveWithFallback(context.Background(), testutil.LineProblem(3), vrp.KindVROOM)
	require.NoError(t, err)
	assert.Equal(t, vrp.KindGreedy, sol.SolverKind)
	assert.Equal(t, 1, down.solves)
}

func TestFallbackAdvancesPastUnusableSolution(t *testing.T) {
	p := testutil.LineProblem(3)
	p.AllowUnassigned = false
	// An empty solution on a problem that demands full assignment is
	// unusable, so the chain moves on.
	empty := &stubSolver{kind: vrp.KindVROOM, sol: &vrp.Solution{SolverKind: vrp.KindVROOM}}
	r, err := NewRegistry(nil, empty, NewGreedy(GreedyConfig{}, testutil.HaversineMatrix))
	require.NoError(t, err)

	sol, err := r.SolveWithFallback(context.Background(), p, vrp.KindVROOM)
	require.NoError(t, err)
	assert.Equal(t, vrp.KindGreedy, sol.SolverKind)
	assert.Equal(t, 3, sol.AssignedCount())
}

func TestFallbackCancellationShortCircuits(t *testing.T) {
	cancelled := &stubSolver{
		kind: vrp.KindVROOM,
		err:  fmt.Errorf("solve interrupted: %w", context.Canceled),
	}
	next := &stubSolver{kind: vrp.KindGreedy, sol: &vrp.Solution{}}
	r, err := NewRegistry(nil, cancelled, next)
	require.NoError(t, err)

	_, err = r.SolveWithFallback(context.Background(), testutil.LineProblem(2), vrp.KindVROOM)
	assert.True(t, vrp.IsCancelled(err))
	assert.Zero(t, next.solves, "cancellation must not reach the next solver")
}

func TestFallbackStopsOnInvalidInput(t *testing.T) {
	r, err := NewRegistry(nil, NewGreedy(GreedyConfig{}, testutil.HaversineMatrix))
	require.NoError(t, err)

	_, err = r.SolveWithFallback(context.Background(), &vrp.Problem{}, "")
	assert.ErrorIs(t, err, vrp.ErrInvalidInput)
}

func TestFallbackChainExhausted(t *testing.T) {
	down := &stubSolver{
		kind: vrp.KindVROOM,
		err:  fmt.Errorf("engine gone: %w", vrp.ErrBackendUnavailable),
	}
	r, err := NewRegistry(nil, down)
	require.NoError(t, err)

	_, err = r.SolveWithFallback(context.Background(), testutil.LineProblem(2), "")
	assert.True(t, vrp.IsUnavailable(err))
}

func TestOrderStartsAtPreferred(t *testing.T) {
	r, err := NewRegistry(nil, NewGreedy(GreedyConfig{}, testutil.HaversineMatrix))
	require.NoError(t, err)

	assert.Equal(t, DefaultChain(), r.order(""))
	assert.Equal(t, []vrp.SolverKind{vrp.KindGenetic, vrp.KindGreedy}, r.order(vrp.KindGenetic))
	// An off-chain preference is tried first, then the whole chain.
	custom := vrp.SolverKind("experimental")
	assert.Equal(t, append([]vrp.SolverKind{custom}, DefaultChain()...), r.order(custom))
}

func TestKindsFollowChainOrder(t *testing.T) {
	r, err := NewRegistry(nil,
		NewGreedy(GreedyConfig{}, testutil.HaversineMatrix),
		NewGenetic(GeneticConfig{}, testutil.HaversineMatrix))
	require.NoError(t, err)
	assert.Equal(t, []vrp.SolverKind{vrp.KindGenetic, vrp.KindGreedy}, r.Kinds())
}
