// Package warmer pre-populates the caches before the morning dispatch rush:
// reference lists, travel matrices for the bigger territories, and today's
// schedule for agents that still lack one. It runs on a wall-clock cron
// schedule and on demand.
package warmer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/metrics"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/planner"
	"github.com/karavan-route/karavan/internal/repo"
)

// DayPlanner is the single-day path of the weekly planner.
type DayPlanner interface {
	PlanDay(ctx context.Context, agentID string, day time.Time) (planner.DayPlan, error)
}

// Config tunes the warmer.
type Config struct {
	// Schedule is a standard cron expression. Default "0 5 * * *".
	Schedule string
	// MinClients is the territory size above which the travel matrix is
	// pre-computed. Default 5.
	MinClients int
	// Profile is the routing profile for matrix warm-up. Default "car".
	Profile string
	// AgentTimeout bounds the work for one agent. Default 2m.
	AgentTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "0 5 * * *"
	}
	if c.MinClients <= 0 {
		c.MinClients = 5
	}
	if c.Profile == "" {
		c.Profile = "car"
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = 2 * time.Minute
	}
	return c
}

// Deps collects the warmer's collaborators.
type Deps struct {
	Store    repo.Repository
	Matrices *matrix.Provider
	Plans    DayPlanner
	Cache    cache.Cache
	TTL      cache.TTLPolicy
	Metrics  *metrics.Collector
	Clock    clock.Clock
}

// Warmer runs the scheduled warm-up pass.
type Warmer struct {
	cfg      Config
	store    repo.Repository
	matrices *matrix.Provider
	plans    DayPlanner
	cache    cache.Cache
	ttl      cache.TTLPolicy
	coll     *metrics.Collector
	clk      clock.Clock

	cron       *cron.Cron
	warmMu     sync.Mutex // serializes warm passes
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// New builds a warmer and registers its cron entry.
func New(cfg Config, d Deps) *Warmer {
	cfg = cfg.withDefaults()
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewCollector()
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	w := &Warmer{
		cfg:        cfg,
		store:      d.Store,
		matrices:   d.Matrices,
		plans:      d.Plans,
		cache:      d.Cache,
		ttl:        d.TTL,
		coll:       d.Metrics,
		clk:        d.Clock,
		cron:       cron.New(),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
	if _, err := w.cron.AddFunc(cfg.Schedule, func() {
		if err := w.WarmNow(w.lifeCtx); err != nil {
			log.Printf("[warmer] scheduled pass failed: %v", err)
		}
	}); err != nil {
		log.Printf("[warmer] invalid cron expression %q: %v", cfg.Schedule, err)
	}
	return w
}

// Start launches the cron scheduler.
func (w *Warmer) Start() {
	w.cron.Start()
	log.Printf("[warmer] scheduled at %q", w.cfg.Schedule)
}

// Stop cancels in-flight work and waits for a running cron entry to return.
func (w *Warmer) Stop() {
	w.lifeCancel()
	<-w.cron.Stop().Done()
}

// WarmNow runs one full pass immediately. Per-agent failures are counted
// and logged but never stop the pass; only failure to enumerate the fleet
// is an error.
func (w *Warmer) WarmNow(ctx context.Context) error {
	w.warmMu.Lock()
	defer w.warmMu.Unlock()

	agents, err := w.store.ActiveAgents(ctx)
	if err != nil {
		return fmt.Errorf("warmer: list agents: %w", err)
	}
	start := w.clk.Now()
	warmed := 0
	for _, a := range agents {
		agentCtx, cancel := context.WithTimeout(ctx, w.cfg.AgentTimeout)
		err := w.warmAgent(agentCtx, a)
		cancel()
		if err != nil {
			w.coll.Inc(metrics.CounterWarmerErrors)
			log.Printf("[warmer] agent %s: %v", a.ID, err)
			continue
		}
		w.coll.Inc(metrics.CounterWarmedAgents)
		warmed++
	}
	log.Printf("[warmer] pass done: %d/%d agents in %s", warmed, len(agents), time.Since(start).Round(time.Millisecond))
	return nil
}

// warmAgent refreshes one agent's reference lists, matrix, and today's plan.
func (w *Warmer) warmAgent(ctx context.Context, agent model.Agent) error {
	clients, err := w.store.ClientsByAgent(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("clients: %w", err)
	}
	if err := w.cacheJSON(ctx, cache.ClientsKey(agent.ID), clients, w.ttl.Reference); err != nil {
		return err
	}
	vehicles, err := w.store.VehiclesByAgent(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("vehicles: %w", err)
	}
	if err := w.cacheJSON(ctx, cache.VehiclesKey(agent.ID), vehicles, w.ttl.Reference); err != nil {
		return err
	}

	if len(clients) > w.cfg.MinClients {
		coords := make([]geo.Coordinate, 0, len(clients)+1)
		coords = append(coords, agent.Depot())
		for _, c := range clients {
			coords = append(coords, c.Coord())
		}
		if _, err := w.matrices.Matrix(ctx, agent.ID, coords, w.cfg.Profile); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
	}

	today := w.clk.Now()
	key := cache.ScheduleKey(agent.ID, today)
	if _, ok, err := w.cache.Get(ctx, key); err == nil && ok {
		return nil // today's plan is already warm
	}
	dp, err := w.plans.PlanDay(ctx, agent.ID, today)
	if err != nil {
		return fmt.Errorf("plan day: %w", err)
	}
	return w.cacheJSON(ctx, key, dp, w.ttl.Schedule)
}

func (w *Warmer) cacheJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := w.cache.Set(ctx, key, b, ttl); err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return nil
}
