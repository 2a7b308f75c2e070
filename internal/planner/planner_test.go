package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/region"
	"github.com/karavan-route/karavan/internal/solver"
	"github.com/karavan-route/karavan/internal/testutil"
	"github.com/karavan-route/karavan/internal/vrp"
)

func newTestPlanner(t *testing.T, cfg Config, clients ...model.Client) *Planner {
	t.Helper()
	agent := testutil.Agent("a1")
	store := testutil.Repo(agent, testutil.Vehicle("a1"), clients...)

	reg, err := solver.NewRegistry(nil, solver.NewGreedy(solver.GreedyConfig{}, testutil.HaversineMatrix))
	require.NoError(t, err)
	regions, err := region.New("", clock.NewManual(testutil.Day))
	require.NoError(t, err)

	cfg.Preferred = vrp.KindGreedy
	return New(cfg, store, testutil.Provider(t), reg, regions, clock.NewManual(testutil.Day))
}

func clientIDs(dp DayPlan) []string { return dp.ClientIDs }

func TestPlanWeekSequencesPrescribedDays(t *testing.T) {
	p := newTestPlanner(t, Config{},
		testutil.Client("a-1", "a1", model.FrequencyA, 1, 0),
		testutil.Client("a-2", "a1", model.FrequencyA, 2, 0),
		testutil.Client("b-1", "a1", model.FrequencyB, 3, 0),
		testutil.Client("c-1", "a1", model.FrequencyC, 4, 0),
	)

	plan, err := p.PlanWeek(context.Background(), "a1", testutil.Day)
	require.NoError(t, err)
	assert.Equal(t, testutil.Day, plan.WeekStart)
	assert.Empty(t, plan.Unplanned)
	require.Len(t, plan.Days, 2)

	monday := plan.Days[0]
	assert.Equal(t, testutil.Day, monday.Day)
	// Clients sit on an eastward line, so the nearest-neighbor sweep visits
	// them in distance order.
	assert.Equal(t, []string{"a-1", "a-2", "b-1", "c-1"}, clientIDs(monday))
	require.NotNil(t, monday.Solution)
	assert.Empty(t, monday.Solution.UnassignedJobs)

	wednesday := plan.Days[1]
	assert.Equal(t, testutil.Day.AddDate(0, 0, 2), wednesday.Day)
	assert.Equal(t, []string{"a-1", "a-2"}, clientIDs(wednesday))
}

func TestPlanWeekBuildsRouteSnapshots(t *testing.T) {
	p := newTestPlanner(t, Config{},
		testutil.Client("a-1", "a1", model.FrequencyA, 1, 0),
		testutil.Client("b-1", "a1", model.FrequencyB, 2, 0),
	)
	plan, err := p.PlanWeek(context.Background(), "a1", testutil.Day)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Days)

	route := plan.Days[0].Route
	assert.NotEmpty(t, route.ID)
	assert.Equal(t, "a1", route.AgentID)
	assert.Equal(t, "veh-a1", route.VehicleID)
	assert.Equal(t, model.RoutePlanned, route.Status)
	assert.Equal(t, string(vrp.KindGreedy), route.SolverKind)
	require.Len(t, route.Stops, 2)
	// Stops arrive within the 09:00-18:00 shift and in planned order.
	assert.Equal(t, "a-1", route.Stops[0].ClientID)
	assert.False(t, route.Stops[0].PlannedArrival.Before(testutil.Day.Add(9*time.Hour)))
	assert.True(t, route.Stops[1].PlannedArrival.After(route.Stops[0].PlannedArrival))
	assert.Positive(t, route.TotalMeters)
}

func TestPlanWeekDefersFarClustersWhenDayOverflows(t *testing.T) {
	p := newTestPlanner(t, Config{MaxVisitsPerDay: 2},
		testutil.Client("a-1", "a1", model.FrequencyA, 1, 0),
		testutil.Client("b-far1", "a1", model.FrequencyB, 10, 0),
		testutil.Client("b-far2", "a1", model.FrequencyB, 11, 0),
		testutil.Client("b-near", "a1", model.FrequencyB, 2, 0),
	)

	plan, err := p.PlanWeek(context.Background(), "a1", testutil.Day)
	require.NoError(t, err)
	assert.Empty(t, plan.Unplanned)
	require.Len(t, plan.Days, 3) // Mon, Tue (deferred), Wed (tier A)

	// Monday keeps the premium client plus its geographic neighbor; the far
	// pair moves to Tuesday as one coherent group.
	assert.ElementsMatch(t, []string{"a-1", "b-near"}, clientIDs(plan.Days[0]))
	assert.Equal(t, testutil.Day.AddDate(0, 0, 1), plan.Days[1].Day)
	assert.ElementsMatch(t, []string{"b-far1", "b-far2"}, clientIDs(plan.Days[1]))
	assert.Equal(t, []string{"a-1"}, clientIDs(plan.Days[2]))
}

func TestPlanDay(t *testing.T) {
	p := newTestPlanner(t, Config{},
		testutil.Client("a-1", "a1", model.FrequencyA, 1, 0),
		testutil.Client("b-1", "a1", model.FrequencyB, 2, 0),
	)

	wednesday := testutil.Day.AddDate(0, 0, 2)
	dp, err := p.PlanDay(context.Background(), "a1", wednesday.Add(11*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, wednesday, dp.Day)
	assert.Equal(t, []string{"a-1"}, dp.ClientIDs)

	// Thursday has no prescribed visits: empty plan, not an error.
	empty, err := p.PlanDay(context.Background(), "a1", testutil.Day.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Empty(t, empty.ClientIDs)
	assert.Nil(t, empty.Solution)
}

func TestPlanWeekUnknownAgent(t *testing.T) {
	p := newTestPlanner(t, Config{})
	_, err := p.PlanWeek(context.Background(), "ghost", testutil.Day)
	assert.Error(t, err)
}
