// Package service is the routing facade: the optimize, plan, and reroute
// entrypoints callers use, plus the pipeline handlers that keep live state
// (GPS positions, traffic overrides, route progress) flowing into the core.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/metrics"
	"github.com/karavan-route/karavan/internal/planner"
	"github.com/karavan-route/karavan/internal/region"
	"github.com/karavan-route/karavan/internal/repo"
	"github.com/karavan-route/karavan/internal/reroute"
	"github.com/karavan-route/karavan/internal/solver"
	"github.com/karavan-route/karavan/internal/spatial"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Deps collects the facade's collaborators.
type Deps struct {
	Store    repo.Repository
	Cache    cache.Cache
	TTL      cache.TTLPolicy
	Registry *solver.Registry
	Selector *solver.Selector
	Planner  *planner.Planner
	Rerouter *reroute.Engine
	Spatial  spatial.Index
	Regions  *region.Service
	Metrics  *metrics.Collector
	Clock    clock.Clock
}

// Service is the routing facade.
type Service struct {
	store    repo.Repository
	cache    cache.Cache
	ttl      cache.TTLPolicy
	registry *solver.Registry
	selector *solver.Selector
	plans    *planner.Planner
	rerouter *reroute.Engine
	spatial  spatial.Index
	regions  *region.Service
	coll     *metrics.Collector
	clk      clock.Clock
}

// New builds the facade.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewCollector()
	}
	return &Service{
		store:    d.Store,
		cache:    d.Cache,
		ttl:      d.TTL,
		registry: d.Registry,
		selector: d.Selector,
		plans:    d.Planner,
		rerouter: d.Rerouter,
		spatial:  d.Spatial,
		regions:  d.Regions,
		coll:     d.Metrics,
		clk:      d.Clock,
	}
}

// solveLatency is the histogram tracking end-to-end solve time.
const solveLatency = "solve.latency"

// Optimize validates the problem, picks a starting solver from its
// features, and runs the fallback chain.
func (s *Service) Optimize(ctx context.Context, p *vrp.Problem) (*vrp.Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	preferred := s.selector.Select(p)
	start := time.Now()
	sol, err := s.registry.SolveWithFallback(ctx, p, preferred)
	s.coll.Observe(solveLatency, time.Since(start))
	if err != nil {
		s.coll.Inc(metrics.CounterSolveFailed)
		return nil, err
	}
	s.coll.Inc(metrics.CounterSolveOK)
	if sol.SolverKind != preferred {
		s.coll.Inc(metrics.CounterSolveFallback)
		log.Printf("[service] solve fell back from %s to %s", preferred, sol.SolverKind)
	}
	return sol, nil
}

// PlanWeek builds and persists an agent's week: every day plan is cached
// and its route snapshot saved.
func (s *Service) PlanWeek(ctx context.Context, agentID string, weekStart time.Time) (*planner.WeekPlan, error) {
	plan, err := s.plans.PlanWeek(ctx, agentID, weekStart)
	if err != nil {
		return nil, err
	}
	for _, dp := range plan.Days {
		if err := s.storeDayPlan(ctx, agentID, dp); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// PlanDay returns the agent's plan for a day, from cache when warm.
func (s *Service) PlanDay(ctx context.Context, agentID string, day time.Time) (planner.DayPlan, error) {
	key := cache.ScheduleKey(agentID, day)
	if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var dp planner.DayPlan
		if err := json.Unmarshal(b, &dp); err == nil {
			s.coll.Inc(metrics.CounterCacheHit)
			return dp, nil
		}
		// A corrupt entry falls through to a fresh plan.
		log.Printf("[service] dropping unreadable schedule entry %s", key)
		_ = s.cache.Delete(ctx, key)
	}
	s.coll.Inc(metrics.CounterCacheMiss)

	dp, err := s.plans.PlanDay(ctx, agentID, day)
	if err != nil {
		return planner.DayPlan{}, err
	}
	if err := s.storeDayPlan(ctx, agentID, dp); err != nil {
		return planner.DayPlan{}, err
	}
	return dp, nil
}

// CheckAgent runs one predictive reroute check.
func (s *Service) CheckAgent(ctx context.Context, agentID string) (reroute.Result, error) {
	return s.rerouter.CheckAgent(ctx, agentID)
}

// Nearby returns the agents indexed within meters of the given agent's last
// position, nearest first.
func (s *Service) Nearby(agentID string, meters float64) ([]spatial.Neighbor, error) {
	pos, ok := s.spatial.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("service: agent %s has no indexed position: %w", agentID, vrp.ErrNotFound)
	}
	neighbors := s.spatial.Radius(pos, meters)
	out := neighbors[:0]
	for _, n := range neighbors {
		if n.ID != agentID {
			out = append(out, n)
		}
	}
	return out, nil
}

// storeDayPlan caches the plan and persists its route snapshot.
func (s *Service) storeDayPlan(ctx context.Context, agentID string, dp planner.DayPlan) error {
	b, err := json.Marshal(dp)
	if err != nil {
		return fmt.Errorf("service: marshal plan for %s: %w", agentID, err)
	}
	if err := s.cache.Set(ctx, cache.ScheduleKey(agentID, dp.Day), b, s.ttl.Schedule); err != nil {
		return fmt.Errorf("service: cache plan for %s: %w", agentID, err)
	}
	if len(dp.Route.Stops) == 0 {
		return nil
	}
	if err := s.store.SaveRoute(ctx, dp.Route); err != nil {
		return fmt.Errorf("service: save route for %s: %w", agentID, err)
	}
	return nil
}

// invalidateAgentPlans drops an agent's cached schedules and routes after
// its plan changed.
func (s *Service) invalidateAgentPlans(ctx context.Context, agentID string) {
	for _, pattern := range []string{cache.SchedulePattern(agentID), cache.RoutesPattern(agentID)} {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			log.Printf("[service] invalidate %s: %v", pattern, err)
		}
	}
}
