// Package planner builds the weekly visit schedule for a field agent:
// frequency tiers decompose into weekdays, overloaded days shed their
// geographically farthest visits to later days, and each day is sequenced
// through the solver chain with the agent's regional constraints applied.
package planner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/region"
	"github.com/karavan-route/karavan/internal/repo"
	"github.com/karavan-route/karavan/internal/solver"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Job priorities by frequency tier; premium clients are dropped last when a
// day cannot fit everyone.
const (
	priorityTierA = 8
	priorityTierB = 5
	priorityTierC = 2
)

// Config sizes the planner.
type Config struct {
	// MaxVisitsPerDay caps one agent-day. Default 12.
	MaxVisitsPerDay int
	// Profile is the routing profile for matrix lookups. Default "car".
	Profile string
	// Preferred is the first solver tried for day sequencing. Default vroom.
	Preferred vrp.SolverKind
}

func (c Config) withDefaults() Config {
	if c.MaxVisitsPerDay <= 0 {
		c.MaxVisitsPerDay = 12
	}
	if c.Profile == "" {
		c.Profile = "car"
	}
	if c.Preferred == "" {
		c.Preferred = vrp.KindVROOM
	}
	return c
}

// DayPlan is the sequenced schedule for one agent-day. ClientIDs are in
// visit order; Solution and Route are nil/zero when the day has no visits.
type DayPlan struct {
	Day       time.Time           `json:"day"`
	ClientIDs []string            `json:"client_ids"`
	Solution  *vrp.Solution       `json:"solution,omitempty"`
	Route     model.DeliveryRoute `json:"route,omitzero"`
}

// WeekPlan is the full week for one agent. Days holds only days with
// visits, Monday first. Unplanned lists clients no day could absorb.
type WeekPlan struct {
	AgentID   string    `json:"agent_id"`
	WeekStart time.Time `json:"week_start"`
	Days      []DayPlan `json:"days"`
	Unplanned []string  `json:"unplanned_client_ids,omitempty"`
}

// Planner builds weekly and daily visit schedules.
type Planner struct {
	cfg      Config
	store    repo.Repository
	matrices *matrix.Provider
	registry *solver.Registry
	regions  *region.Service
	clk      clock.Clock
}

// New builds a planner.
func New(cfg Config, store repo.Repository, matrices *matrix.Provider, registry *solver.Registry, regions *region.Service, clk clock.Clock) *Planner {
	if clk == nil {
		clk = clock.System()
	}
	return &Planner{
		cfg:      cfg.withDefaults(),
		store:    store,
		matrices: matrices,
		registry: registry,
		regions:  regions,
		clk:      clk,
	}
}

// PlanWeek builds the schedule for the ISO week containing weekStart.
func (p *Planner) PlanWeek(ctx context.Context, agentID string, weekStart time.Time) (*WeekPlan, error) {
	monday := WeekStart(weekStart)
	agent, veh, clients, err := p.load(ctx, agentID)
	if err != nil {
		return nil, err
	}

	days := decompose(clients, monday)
	for _, d := range workWeek {
		if len(days[d]) > p.cfg.MaxVisitsPerDay {
			days[d] = p.reorderForCap(ctx, agent, days[d])
		}
	}
	days, unplanned := capDays(days, p.cfg.MaxVisitsPerDay)

	plan := &WeekPlan{AgentID: agentID, WeekStart: monday, Unplanned: unplanned}
	for offset, d := range workWeek {
		bucket := days[d]
		if len(bucket) == 0 {
			continue
		}
		dayDate := monday.AddDate(0, 0, offset)
		dp, err := p.planDay(ctx, agent, veh, dayDate, bucket)
		if err != nil {
			return nil, fmt.Errorf("planner: %s %s: %w", agentID, model.DayKey(dayDate), err)
		}
		plan.Days = append(plan.Days, dp)
	}
	return plan, nil
}

// PlanDay builds the schedule for a single calendar day, deriving the day's
// client list from the same weekly decomposition PlanWeek uses. A day with
// no prescribed visits returns an empty plan, not an error.
func (p *Planner) PlanDay(ctx context.Context, agentID string, day time.Time) (DayPlan, error) {
	monday := WeekStart(day)
	agent, veh, clients, err := p.load(ctx, agentID)
	if err != nil {
		return DayPlan{}, err
	}

	days := decompose(clients, monday)
	for _, d := range workWeek {
		if len(days[d]) > p.cfg.MaxVisitsPerDay {
			days[d] = p.reorderForCap(ctx, agent, days[d])
		}
	}
	days, _ = capDays(days, p.cfg.MaxVisitsPerDay)

	dayDate := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	bucket := days[dayDate.Weekday()]
	if len(bucket) == 0 {
		return DayPlan{Day: dayDate}, nil
	}
	dp, err := p.planDay(ctx, agent, veh, dayDate, bucket)
	if err != nil {
		return DayPlan{}, fmt.Errorf("planner: %s %s: %w", agentID, model.DayKey(dayDate), err)
	}
	return dp, nil
}

func (p *Planner) load(ctx context.Context, agentID string) (model.Agent, model.Vehicle, []model.Client, error) {
	agent, err := p.store.Agent(ctx, agentID)
	if err != nil {
		return model.Agent{}, model.Vehicle{}, nil, fmt.Errorf("planner: agent %s: %w", agentID, err)
	}
	veh, err := p.store.Vehicle(ctx, agent.VehicleID)
	if err != nil {
		return model.Agent{}, model.Vehicle{}, nil, fmt.Errorf("planner: vehicle for %s: %w", agentID, err)
	}
	clients, err := p.store.ClientsByAgent(ctx, agentID)
	if err != nil {
		return model.Agent{}, model.Vehicle{}, nil, fmt.Errorf("planner: clients for %s: %w", agentID, err)
	}
	return agent, veh, clients, nil
}

// reorderForCap rearranges an overloaded day so the clients kept by the day
// cap form a geographically coherent set: tier-A clients first, then the
// rest walked cluster by cluster outward from the depot. On a matrix
// failure the tier/id order from decompose stands, which still defers the
// lowest tiers first.
func (p *Planner) reorderForCap(ctx context.Context, agent model.Agent, day []model.Client) []model.Client {
	coords := make([]geo.Coordinate, 0, len(day)+1)
	coords = append(coords, agent.Depot())
	for _, c := range day {
		coords = append(coords, c.Coord())
	}
	m, err := p.matrices.Matrix(ctx, agent.ID, coords, p.cfg.Profile)
	if err != nil {
		log.Printf("[planner] matrix for %s unavailable, deferring by tier: %v", agent.ID, err)
		return day
	}

	// Cluster client-to-client durations; index i here is coords index i+1.
	sub := make([][]float64, len(day))
	for i := range day {
		sub[i] = m.Durations[i+1][1 : len(day)+1]
	}
	k := (len(day) + p.cfg.MaxVisitsPerDay - 1) / p.cfg.MaxVisitsPerDay
	clusters := KMedoids(sub, k)

	order := make([]int, 0, len(clusters.Medoids))
	for i := range clusters.Medoids {
		order = append(order, i)
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if m.Durations[0][clusters.Medoids[b]+1] < m.Durations[0][clusters.Medoids[a]+1] {
				order[j-1], order[j] = b, a
			}
		}
	}

	out := make([]model.Client, 0, len(day))
	for _, c := range day {
		if c.Frequency == model.FrequencyA {
			out = append(out, c)
		}
	}
	for _, ci := range order {
		for _, idx := range clusters.Members[ci] {
			if day[idx].Frequency != model.FrequencyA {
				out = append(out, day[idx])
			}
		}
	}
	return out
}

// planDay sequences one day's visits through the solver chain.
func (p *Planner) planDay(ctx context.Context, agent model.Agent, veh model.Vehicle, day time.Time, clients []model.Client) (DayPlan, error) {
	vehicle := veh.ToVRP(day, agent.Depot())
	if startMin, endMin, ok := p.regions.SummerShift(agent.Region, day); ok {
		vehicle.WorkWindow = geo.WindowFromMinutes(day, startMin, endMin)
	}
	for _, w := range p.regions.ForbiddenWindows(agent.Region, day) {
		vehicle.Breaks = append(vehicle.Breaks, vrp.BreakRule{Start: w.Earliest, End: w.Latest})
	}

	prob := vrp.Problem{Vehicles: []vrp.Vehicle{vehicle}, AllowUnassigned: true}
	for _, c := range clients {
		loc := c.Location(day)
		if loc.ServiceMinutes == 0 {
			loc.ServiceMinutes = p.regions.DefaultServiceMinutes(agent.Region)
		}
		if !loc.Window.IsZero() {
			prob.HasTimeWindows = true
		}
		prob.Jobs = append(prob.Jobs, vrp.Job{
			ID:       c.ID,
			Location: loc,
			Priority: tierPriority(c.Frequency),
		})
	}
	if len(vehicle.Breaks) > 0 || !vehicle.WorkWindow.IsZero() {
		prob.HasTimeWindows = true
	}

	sol, err := p.registry.SolveWithFallback(ctx, &prob, p.cfg.Preferred)
	if err != nil {
		return DayPlan{}, err
	}
	return DayPlan{
		Day:       day,
		ClientIDs: visitOrder(sol),
		Solution:  sol,
		Route:     p.buildRoute(agent, veh, day, clients, sol),
	}, nil
}

func tierPriority(f model.VisitFrequency) int {
	switch f {
	case model.FrequencyA:
		return priorityTierA
	case model.FrequencyB:
		return priorityTierB
	default:
		return priorityTierC
	}
}

func visitOrder(sol *vrp.Solution) []string {
	var ids []string
	for _, r := range sol.Routes {
		ids = append(ids, r.Visits()...)
	}
	return ids
}

// buildRoute materializes the solve result as a persistable route snapshot.
// Planned sales visits have no delivery order, so each stop carries the
// client id as its order key.
func (p *Planner) buildRoute(agent model.Agent, veh model.Vehicle, day time.Time, clients []model.Client, sol *vrp.Solution) model.DeliveryRoute {
	byID := make(map[string]model.Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	route := model.DeliveryRoute{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		VehicleID:  veh.ID,
		Day:        day,
		Status:     model.RoutePlanned,
		SolverKind: string(sol.SolverKind),
		UpdatedAt:  p.clk.Now(),
	}
	for _, r := range sol.Routes {
		for _, step := range r.Steps {
			if step.Kind != vrp.StepVisit {
				continue
			}
			c := byID[step.JobID]
			route.Stops = append(route.Stops, model.RouteStop{
				OrderID:        c.ID,
				ClientID:       c.ID,
				Lat:            c.Lat,
				Lon:            c.Lon,
				ServiceMinutes: c.ServiceMinutes,
				WindowStartMin: c.WindowStartMin,
				WindowEndMin:   c.WindowEndMin,
				PlannedArrival: step.Arrival,
			})
		}
	}
	route.TotalMeters = sol.TotalMeters
	route.TotalSeconds = sol.TotalSeconds
	return route
}
