package reroute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/config"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/metrics"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/notify"
	"github.com/karavan-route/karavan/internal/region"
	"github.com/karavan-route/karavan/internal/repo"
	"github.com/karavan-route/karavan/internal/scanloop"
	"github.com/karavan-route/karavan/internal/solver"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Locator resolves an agent's latest known position. The service layer backs
// it with the GPS cache and the spatial index; vrp.ErrNotFound means no fix.
type Locator interface {
	Position(ctx context.Context, agentID string) (geo.Coordinate, error)
}

// Config tunes the engine thresholds and sweep cadence.
type Config struct {
	// WarningDelay marks a visit at risk. Default 15m.
	WarningDelay time.Duration
	// CriticalDelay marks a visit critical. Default 30m.
	CriticalDelay time.Duration
	// AutoDelay is the total slip beyond which the route is rebuilt.
	// Default 20m.
	AutoDelay time.Duration
	// SweepInterval is the fleet sweep cadence. Default 30m, jittered.
	SweepInterval time.Duration
	// CheckTimeout bounds one agent check during a sweep. Default 2m.
	CheckTimeout time.Duration
	// Profile is the routing profile for matrix lookups. Default "car".
	Profile string
	// Preferred is the first solver tried when rebuilding. Default vroom.
	Preferred vrp.SolverKind
}

func (c Config) withDefaults() Config {
	if c.WarningDelay <= 0 {
		c.WarningDelay = 15 * time.Minute
	}
	if c.CriticalDelay <= 0 {
		c.CriticalDelay = 30 * time.Minute
	}
	if c.AutoDelay <= 0 {
		c.AutoDelay = 20 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Minute
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 2 * time.Minute
	}
	if c.Profile == "" {
		c.Profile = "car"
	}
	if c.Preferred == "" {
		c.Preferred = vrp.KindVROOM
	}
	return c
}

// Outcome classifies one agent check.
type Outcome string

const (
	// OutcomeOnTime: no visit slips past the warning threshold.
	OutcomeOnTime Outcome = "on_time"
	// OutcomeWarned: delays published, route kept.
	OutcomeWarned Outcome = "warned"
	// OutcomeRerouted: a replacement plan was solved and saved.
	OutcomeRerouted Outcome = "rerouted"
	// OutcomeFailed: every solver failed; the route stands.
	OutcomeFailed Outcome = "reroute_failed"
	// OutcomeSkipped: no active route or no recent GPS fix.
	OutcomeSkipped Outcome = "skipped"
)

// Result is the outcome of one agent check.
type Result struct {
	Outcome  Outcome
	Forecast *Forecast
	// Route is the replacement plan when Outcome is OutcomeRerouted.
	Route *model.DeliveryRoute
}

// Deps collects the engine's collaborators.
type Deps struct {
	Store    repo.Repository
	Matrices *matrix.Provider
	Registry *solver.Registry
	Regions  *region.Service
	Locator  Locator
	Sink     notify.Sink
	Metrics  *metrics.Collector
	Clock    clock.Clock
}

// Engine runs the predictive reroute checks, on demand and on a fleet sweep.
type Engine struct {
	cfg      Config
	store    repo.Repository
	matrices *matrix.Provider
	registry *solver.Registry
	regions  *region.Service
	locator  Locator
	sink     notify.Sink
	coll     *metrics.Collector
	clk      clock.Clock

	flights singleflight.Group
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds an engine.
func New(cfg Config, d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Sink == nil {
		d.Sink = notify.NoOp{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewCollector()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    d.Store,
		matrices: d.Matrices,
		registry: d.Registry,
		regions:  d.Regions,
		locator:  d.Locator,
		sink:     d.Sink,
		coll:     d.Metrics,
		clk:      d.Clock,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the fleet sweep loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		scanloop.Run(e.stopCh, e.cfg.SweepInterval, e.cfg.SweepInterval/4, e.Sweep)
	}()
}

// Stop signals the sweep loop and waits for the in-flight pass.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Sweep checks every active agent once. Per-agent failures are logged and
// do not stop the pass.
func (e *Engine) Sweep() {
	ctx := context.Background()
	agents, err := e.store.ActiveAgents(ctx)
	if err != nil {
		log.Printf("[reroute] sweep: list agents: %v", err)
		return
	}
	for _, a := range agents {
		select {
		case <-e.stopCh:
			return
		default:
		}
		checkCtx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
		res, err := e.CheckAgent(checkCtx, a.ID)
		cancel()
		if err != nil {
			log.Printf("[reroute] sweep: agent %s: %v", a.ID, err)
			continue
		}
		if res.Outcome != OutcomeOnTime && res.Outcome != OutcomeSkipped {
			log.Printf("[reroute] sweep: agent %s: %s (total delay %s)",
				a.ID, res.Outcome, res.Forecast.TotalDelay)
		}
	}
}

// CheckAgent forecasts one agent's remaining day and acts on the outcome.
// Concurrent calls for the same agent coalesce into one check.
func (e *Engine) CheckAgent(ctx context.Context, agentID string) (Result, error) {
	v, err, _ := e.flights.Do(agentID, func() (any, error) {
		defer e.flights.Forget(agentID)
		return e.check(ctx, agentID)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) check(ctx context.Context, agentID string) (Result, error) {
	route, err := e.store.ActiveRoute(ctx, agentID)
	if errors.Is(err, vrp.ErrNotFound) {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if err != nil {
		return Result{}, err
	}
	pos, err := e.locator.Position(ctx, agentID)
	if errors.Is(err, vrp.ErrNotFound) {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if err != nil {
		return Result{}, err
	}
	agent, err := e.store.Agent(ctx, agentID)
	if err != nil {
		return Result{}, err
	}

	now := e.clk.Now()
	fc, err := e.forecast(ctx, agent, route, pos, now)
	if err != nil {
		return Result{}, err
	}
	if fc.Remaining == 0 || fc.TotalDelay == 0 {
		e.coll.Inc(metrics.CounterRerouteSkip)
		return Result{Outcome: OutcomeOnTime, Forecast: fc}, nil
	}

	if fc.TotalDelay > e.cfg.AutoDelay {
		return e.rebuild(ctx, agent, route, pos, fc, now)
	}

	kind := notify.KindDelayWarning
	if fc.Critical() {
		kind = notify.KindDelayCritical
	}
	if len(fc.Delays) > 0 {
		n := notify.New(kind, agentID, now)
		n.RouteID = route.ID
		n.TotalPredictedDelay = config.Duration(fc.TotalDelay)
		n.Delays = fc.Delays
		e.sink.Publish(n)
	}
	e.coll.Inc(metrics.CounterRerouteSkip)
	return Result{Outcome: OutcomeWarned, Forecast: fc}, nil
}

// rebuild solves the remaining visits anchored at the live position and
// replaces the route snapshot. Solver failure keeps the existing route.
func (e *Engine) rebuild(ctx context.Context, agent model.Agent, route model.DeliveryRoute, pos geo.Coordinate, fc *Forecast, now time.Time) (Result, error) {
	e.coll.Inc(metrics.CounterRerouteTrig)

	prob, err := e.buildProblem(ctx, agent, route, pos, now)
	if err != nil {
		return Result{}, err
	}
	sol, err := e.registry.SolveWithFallback(ctx, prob, e.cfg.Preferred)
	if err != nil {
		if vrp.IsCancelled(err) {
			return Result{}, err
		}
		e.coll.Inc(metrics.CounterRerouteFailed)
		log.Printf("[reroute] agent %s: all solvers failed, keeping route %s: %v", agent.ID, route.ID, err)
		n := notify.New(notify.KindRerouteFailed, agent.ID, now)
		n.RouteID = route.ID
		n.TotalPredictedDelay = config.Duration(fc.TotalDelay)
		n.Error = err.Error()
		e.sink.Publish(n)
		return Result{Outcome: OutcomeFailed, Forecast: fc}, nil
	}

	updated := e.applySolution(route, sol, now)
	if err := e.store.SaveRoute(ctx, updated); err != nil {
		return Result{}, fmt.Errorf("reroute: save route %s: %w", route.ID, err)
	}

	n := notify.New(notify.KindRouteUpdated, agent.ID, now)
	n.RouteID = route.ID
	n.Reason = notify.ReasonPredictedDelay
	n.TotalPredictedDelay = config.Duration(fc.TotalDelay)
	n.Delays = fc.Delays
	n.Solution = sol
	n.Geometry = e.routeGeometry(ctx, pos, updated)
	e.sink.Publish(n)
	log.Printf("[reroute] agent %s: route %s replaced by %s (%d stops, predicted delay %s)",
		agent.ID, route.ID, sol.SolverKind, len(updated.Remaining()), fc.TotalDelay)
	return Result{Outcome: OutcomeRerouted, Forecast: fc, Route: &updated}, nil
}

// routeGeometry fetches the road path for the replacement plan. Geometry is
// decoration on the notification; a backend failure never blocks the reroute.
func (e *Engine) routeGeometry(ctx context.Context, pos geo.Coordinate, route model.DeliveryRoute) *matrix.RouteGeometry {
	coords := []geo.Coordinate{pos}
	for _, s := range route.Remaining() {
		coords = append(coords, s.Coord())
	}
	if len(coords) < 2 {
		return nil
	}
	g, err := e.matrices.Geometry(ctx, coords, e.cfg.Profile)
	if err != nil {
		log.Printf("[reroute] route %s: geometry unavailable: %v", route.ID, err)
		return nil
	}
	return g
}

// buildProblem turns the remaining stops into a solve anchored at pos.
func (e *Engine) buildProblem(ctx context.Context, agent model.Agent, route model.DeliveryRoute, pos geo.Coordinate, now time.Time) (*vrp.Problem, error) {
	veh, err := e.store.Vehicle(ctx, route.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("reroute: vehicle %s: %w", route.VehicleID, err)
	}
	vehicle := veh.ToVRP(route.Day, pos)
	for _, w := range e.regions.ForbiddenWindows(agent.Region, route.Day) {
		vehicle.Breaks = append(vehicle.Breaks, vrp.BreakRule{Start: w.Earliest, End: w.Latest})
	}

	prob := &vrp.Problem{
		Vehicles:        []vrp.Vehicle{vehicle},
		AllowUnassigned: true,
		DepartAt:        now,
	}
	for _, stop := range route.Remaining() {
		job := stop.ToJob(route.Day)
		if !job.Location.Window.IsZero() {
			prob.HasTimeWindows = true
		}
		prob.Jobs = append(prob.Jobs, job)
	}
	if len(vehicle.Breaks) > 0 {
		prob.HasTimeWindows = true
	}
	return prob, nil
}

// applySolution rewrites the route's remaining stops in the solved order,
// keeping completed stops in place.
func (e *Engine) applySolution(route model.DeliveryRoute, sol *vrp.Solution, now time.Time) model.DeliveryRoute {
	byOrder := make(map[string]model.RouteStop, len(route.Stops))
	for _, s := range route.Stops {
		byOrder[s.OrderID] = s
	}

	updated := route
	updated.Stops = nil
	for _, s := range route.Stops {
		if s.Completed {
			updated.Stops = append(updated.Stops, s)
		}
	}
	for _, r := range sol.Routes {
		for _, step := range r.Steps {
			if step.Kind != vrp.StepVisit {
				continue
			}
			stop := byOrder[step.JobID]
			stop.PlannedArrival = step.Arrival
			updated.Stops = append(updated.Stops, stop)
		}
	}
	// Unassigned leftovers keep their old slot at the tail so no stop is
	// silently dropped from the plan.
	planned := make(map[string]bool, len(updated.Stops))
	for _, s := range updated.Stops {
		planned[s.OrderID] = true
	}
	for _, s := range route.Stops {
		if !planned[s.OrderID] {
			updated.Stops = append(updated.Stops, s)
		}
	}
	updated.TotalMeters = sol.TotalMeters
	updated.TotalSeconds = sol.TotalSeconds
	updated.SolverKind = string(sol.SolverKind)
	updated.UpdatedAt = now
	return updated
}
