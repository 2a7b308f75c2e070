package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karavan-route/karavan/internal/testutil"
	"github.com/karavan-route/karavan/internal/vrp"
)

// smallGA keeps test runs quick while leaving the evolutionary machinery
// fully exercised.
func smallGA(seed uint64) GeneticConfig {
	return GeneticConfig{
		Population:  40,
		Generations: 80,
		EarlyStop:   20,
		Seed:        seed,
	}
}

func TestGeneticSolvesLine(t *testing.T) {
	g := NewGenetic(smallGA(42), testutil.HaversineMatrix)

	p := testutil.LineProblem(5)
	p.AllowUnassigned = false
	sol, err := g.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 5, sol.AssignedCount())
	assert.Equal(t, vrp.KindGenetic, sol.SolverKind)
	assert.Empty(t, vrp.Verify(p, sol))
}

func TestGeneticDeterministicWithSeed(t *testing.T) {
	p := testutil.LineProblem(6)

	var orders [2][][]string
	for run := 0; run < 2; run++ {
		g := NewGenetic(smallGA(7), testutil.HaversineMatrix)
		sol, err := g.Solve(context.Background(), p)
		require.NoError(t, err)
		for i := range sol.Routes {
			orders[run] = append(orders[run], sol.Routes[i].Visits())
		}
	}
	assert.Equal(t, orders[0], orders[1])
}

func TestGeneticSplitsByCapacity(t *testing.T) {
	p := testutil.LineProblem(4)
	p.AllowUnassigned = false
	p.HasCapacity = true
	p.Vehicles[0].Capacity = vrp.Demand{WeightKg: 10, VolumeM3: 1}
	p.Vehicles = append(p.Vehicles, vrp.Vehicle{
		ID:       "veh-2",
		Depot:    p.Vehicles[0].Depot,
		Capacity: vrp.Demand{WeightKg: 10, VolumeM3: 1},
	})
	for i := range p.Jobs {
		p.Jobs[i].Demand = vrp.Demand{WeightKg: 5}
	}

	g := NewGenetic(smallGA(11), testutil.HaversineMatrix)
	sol, err := g.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 4, sol.AssignedCount())
	assert.Empty(t, sol.UnassignedJobs)
	assert.Empty(t, vrp.Verify(p, sol))
}

func TestGeneticOverflowGoesUnassigned(t *testing.T) {
	p := testutil.LineProblem(3)
	p.HasCapacity = true
	p.Vehicles[0].Capacity = vrp.Demand{WeightKg: 10, VolumeM3: 1}
	for i := range p.Jobs {
		p.Jobs[i].Demand = vrp.Demand{WeightKg: 8}
	}

	g := NewGenetic(smallGA(3), testutil.HaversineMatrix)
	sol, err := g.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, sol.AssignedCount())
	assert.Len(t, sol.UnassignedJobs, 2)
}

func TestGeneticCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGenetic(smallGA(1), testutil.HaversineMatrix)

	_, err := g.Solve(ctx, testutil.LineProblem(4))
	assert.True(t, vrp.IsCancelled(err))
}
