package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/config"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/health"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/metrics"
	"github.com/karavan-route/karavan/internal/netutil"
	"github.com/karavan-route/karavan/internal/notify"
	"github.com/karavan-route/karavan/internal/pipeline"
	"github.com/karavan-route/karavan/internal/planner"
	"github.com/karavan-route/karavan/internal/region"
	"github.com/karavan-route/karavan/internal/repo"
	"github.com/karavan-route/karavan/internal/reroute"
	"github.com/karavan-route/karavan/internal/service"
	"github.com/karavan-route/karavan/internal/solver"
	"github.com/karavan-route/karavan/internal/spatial"
	"github.com/karavan-route/karavan/internal/vrp"
	"github.com/karavan-route/karavan/internal/warmer"
)

// matrixOwnerSolver namespaces ad-hoc solver matrices in the cache, away
// from the per-agent matrices the warmer and planner own.
const matrixOwnerSolver = "solver"

// defaultMemoryCacheBytes sizes the in-process cache backend. A week of
// warmed matrices for a mid-size fleet fits with room to spare.
const defaultMemoryCacheBytes = 256 << 20

type karavanApp struct {
	envCfg *config.EnvConfig
	clk    clock.Clock

	store    *repo.Memory
	cache    cache.Cache
	ttl      cache.TTLPolicy
	coll     *metrics.Collector
	regions  *region.Service
	index    spatial.Index
	osrm     *matrix.OSRM
	provider *matrix.Provider

	registry *solver.Registry
	selector *solver.Selector
	plans    *planner.Planner
	engine   *reroute.Engine
	svc      *service.Service
	pipe     *pipeline.Pipeline
	warm     *warmer.Warmer
	monitor  *health.Monitor
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	app, err := newKaravanApp(envCfg)
	if err != nil {
		return err
	}

	app.startBackgroundServices()
	waitForShutdown()
	app.shutdown()
	return nil
}

func newKaravanApp(envCfg *config.EnvConfig) (*karavanApp, error) {
	app := &karavanApp{
		envCfg: envCfg,
		clk:    clock.System(),
		store:  repo.NewMemory(),
		coll:   metrics.NewCollector(),
	}

	// Phase 1: stores and regional profiles.
	if err := app.initInfrastructure(); err != nil {
		return nil, err
	}

	// Phase 2: road-network access behind the cache.
	app.initMatrix()

	// Phase 3: the solver fleet and its fallback chain.
	if err := app.initSolvers(); err != nil {
		return nil, err
	}

	// Phase 4: planning, rerouting, and the event pipeline on top.
	app.initServices()
	return app, nil
}

func (a *karavanApp) initInfrastructure() error {
	c, err := buildCache(a.envCfg)
	if err != nil {
		return fmt.Errorf("cache backend: %w", err)
	}
	a.cache = c
	a.ttl = cache.TTLPolicy{
		Matrix:    a.envCfg.CacheTTLMatrix,
		Geometry:  a.envCfg.CacheTTLGeometry,
		Reference: a.envCfg.CacheTTLReference,
		Schedule:  a.envCfg.CacheTTLSchedule,
		AgentLoc:  a.envCfg.CacheTTLAgentLocation,
		Route:     a.envCfg.CacheTTLRoute,
		GPS:       a.envCfg.CacheTTLGPS,
	}
	log.Printf("Cache backend ready (%s)", a.envCfg.CacheBackend)

	regions, err := region.New(a.envCfg.RegionProfilePath, a.clk)
	if err != nil {
		return fmt.Errorf("region profiles: %w", err)
	}
	a.regions = regions
	log.Printf("Region profiles loaded (%d regions)", len(regions.Regions()))

	idx, err := spatial.New(spatial.Config{
		Impl:       spatial.Impl(a.envCfg.SpatialImpl),
		Resolution: a.envCfg.SpatialH3Resolution,
		GridCellM:  a.envCfg.SpatialGridCellM,
	})
	if err != nil {
		return fmt.Errorf("spatial index: %w", err)
	}
	a.index = idx
	log.Printf("Spatial index ready (%s)", a.envCfg.SpatialImpl)
	return nil
}

func (a *karavanApp) initMatrix() {
	osrm, err := matrix.NewOSRM(matrix.OSRMConfig{
		BaseURL: a.envCfg.OSRMURL,
		Profile: a.envCfg.OSRMProfile,
		Timeout: a.envCfg.MatrixBackendTimeout,
		Retry: netutil.RetryPolicy{
			Attempts: a.envCfg.MatrixRetryAttempts,
			Base:     a.envCfg.MatrixRetryBase,
			Factor:   2,
			Jitter:   0.2,
		},
	})
	if err != nil {
		// LoadEnvConfig already rejected an empty URL; this cannot happen.
		log.Printf("OSRM client misconfigured (%v); continuing with estimates only", err)
	}
	a.osrm = osrm

	var backend matrix.Backend = osrm
	if osrm == nil {
		backend = &matrix.Estimator{SpeedMPS: a.envCfg.AverageSpeedMPS}
	}
	parallel := matrix.NewParallel(backend, matrix.ParallelConfig{
		BatchSize:      a.envCfg.MatrixBatchSize,
		MaxConcurrent:  int64(a.envCfg.MatrixMaxConcurrent),
		BackendTimeout: a.envCfg.MatrixBackendTimeout,
	})
	a.provider = matrix.NewProvider(parallel, a.cache, a.ttl)
	log.Printf("Matrix provider ready (backend %s, batch %d)", backend.Name(), a.envCfg.MatrixBatchSize)
}

// solverMatrix binds the cached provider to the in-process solvers. When the
// road network cannot serve, the haversine estimator keeps the fallback
// chain solving on approximate times instead of failing the whole request.
func solverMatrix(p *matrix.Provider, speedMPS float64) solver.MatrixFunc {
	est := &matrix.Estimator{SpeedMPS: speedMPS}
	return func(ctx context.Context, coords []geo.Coordinate, profile string) (*matrix.Matrix, error) {
		m, err := p.Matrix(ctx, matrixOwnerSolver, coords, profile)
		if err == nil {
			return m, nil
		}
		if vrp.IsCancelled(err) {
			return nil, err
		}
		log.Printf("[app] matrix provider failed (%v); estimating travel times", err)
		return est.Table(ctx, matrix.TableRequest{Coords: coords, Profile: profile})
	}
}

func (a *karavanApp) initSolvers() error {
	mf := solverMatrix(a.provider, a.envCfg.AverageSpeedMPS)

	solvers := []solver.Solver{
		solver.NewGreedy(solver.GreedyConfig{
			Max2OptIterations: a.envCfg.GreedyMax2OptIterations,
			MinImprovement:    a.envCfg.GreedyMinImprovement,
			Profile:           a.envCfg.OSRMProfile,
		}, mf),
		solver.NewGenetic(solver.GeneticConfig{
			Population:    a.envCfg.GeneticPopulation,
			Generations:   a.envCfg.GeneticGenerations,
			MutationRate:  a.envCfg.GeneticMutationRate,
			CrossoverRate: a.envCfg.GeneticCrossoverRate,
			Elite:         a.envCfg.GeneticElite,
			EarlyStop:     a.envCfg.GeneticEarlyStop,
			Profile:       a.envCfg.OSRMProfile,
		}, mf),
	}

	if a.envCfg.VroomURL != "" {
		v, err := solver.NewVroom(solver.VroomConfig{
			BaseURL: a.envCfg.VroomURL,
			Timeout: a.envCfg.SolveTimeout,
		})
		if err != nil {
			return fmt.Errorf("vroom adapter: %w", err)
		}
		solvers = append(solvers, v)
		log.Printf("VROOM adapter registered (%s)", a.envCfg.VroomURL)
	}
	if a.envCfg.ORToolsURL != "" {
		o, err := solver.NewORTools(solver.ORToolsConfig{
			BaseURL: a.envCfg.ORToolsURL,
			Timeout: a.envCfg.SolveTimeout,
		})
		if err != nil {
			return fmt.Errorf("ortools adapter: %w", err)
		}
		solvers = append(solvers, o)
		log.Printf("OR-Tools adapter registered (%s)", a.envCfg.ORToolsURL)
	}

	chain := make([]vrp.SolverKind, 0, len(a.envCfg.SolverChain))
	for _, kind := range a.envCfg.SolverChain {
		chain = append(chain, vrp.SolverKind(kind))
	}
	registry, err := solver.NewRegistry(chain, solvers...)
	if err != nil {
		return err
	}
	a.registry = registry
	a.selector = solver.NewSelector(solver.SelectorConfig{
		DispersionThresholdM: a.envCfg.DispersionThresholdM,
	})
	log.Printf("Solver registry ready (chain %v)", registry.Kinds())
	return nil
}

func (a *karavanApp) initServices() {
	preferred := vrp.SolverKind("")
	if len(a.envCfg.SolverChain) > 0 {
		preferred = vrp.SolverKind(a.envCfg.SolverChain[0])
	}

	a.plans = planner.New(planner.Config{
		MaxVisitsPerDay: a.envCfg.PlannerMaxVisitsPerDay,
		Profile:         a.envCfg.OSRMProfile,
		Preferred:       preferred,
	}, a.store, a.provider, a.registry, a.regions, a.clk)

	locator := service.NewLocator(a.cache, a.index)
	a.engine = reroute.New(reroute.Config{
		WarningDelay:  a.envCfg.RerouteWarningDelay,
		CriticalDelay: a.envCfg.RerouteCriticalDelay,
		AutoDelay:     a.envCfg.RerouteAutoDelay,
		SweepInterval: a.envCfg.RerouteSweepInterval,
		Profile:       a.envCfg.OSRMProfile,
		Preferred:     preferred,
	}, reroute.Deps{
		Store:    a.store,
		Matrices: a.provider,
		Registry: a.registry,
		Regions:  a.regions,
		Locator:  locator,
		Sink:     notify.LogSink{},
		Metrics:  a.coll,
		Clock:    a.clk,
	})

	a.svc = service.New(service.Deps{
		Store:    a.store,
		Cache:    a.cache,
		TTL:      a.ttl,
		Registry: a.registry,
		Selector: a.selector,
		Planner:  a.plans,
		Rerouter: a.engine,
		Spatial:  a.index,
		Regions:  a.regions,
		Metrics:  a.coll,
		Clock:    a.clk,
	})

	a.pipe = pipeline.New(pipeline.Config{
		QueueSize:      a.envCfg.PipelineQueueSize,
		Workers:        a.envCfg.PipelineWorkers,
		HandlerTimeout: a.envCfg.PipelineHandlerTimeout,
		MaxRetries:     a.envCfg.PipelineMaxRetries,
		DeadLetterSize: a.envCfg.PipelineDeadLetterSize,
	})
	a.svc.RegisterHandlers(a.pipe)

	a.warm = warmer.New(warmer.Config{
		Schedule:   a.envCfg.WarmSchedule,
		MinClients: a.envCfg.WarmMinClients,
		Profile:    a.envCfg.OSRMProfile,
	}, warmer.Deps{
		Store:    a.store,
		Matrices: a.provider,
		Plans:    a.plans,
		Cache:    a.cache,
		TTL:      a.ttl,
		Metrics:  a.coll,
		Clock:    a.clk,
	})

	checks := health.SolverChecks(a.registry)
	if a.osrm != nil {
		checks = append(checks, health.BackendCheck(a.osrm))
	}
	checks = append(checks, health.CacheCheck(a.envCfg.CacheBackend, a.cache.Ping))
	a.monitor = health.NewMonitor(health.Config{
		Interval:     a.envCfg.HealthSweepInterval,
		ProbeTimeout: a.envCfg.HealthCheckTimeout,
	}, a.clk, checks...)
}

func (a *karavanApp) startBackgroundServices() {
	a.pipe.Start()
	log.Println("Event pipeline started")

	a.engine.Start()
	log.Println("Reroute engine started")

	a.warm.Start()
	log.Println("Cache warmer started")

	a.monitor.Start()
	log.Println("Health monitor started")
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)
}

func (a *karavanApp) shutdown() {
	// Stop in order: event sources first, then consumers, then storage.
	a.warm.Stop()
	log.Println("Cache warmer stopped")

	a.engine.Stop()
	log.Println("Reroute engine stopped")

	a.monitor.Stop()
	log.Println("Health monitor stopped")

	a.pipe.Stop() // drains queued events before returning
	log.Println("Event pipeline stopped")

	if err := a.cache.Close(); err != nil {
		log.Printf("Cache close error: %v", err)
	}
	log.Println("Server stopped")
}

func buildCache(cfg *config.EnvConfig) (cache.Cache, error) {
	if cfg.CacheBackend == config.CacheBackendRedis {
		return cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return cache.NewMemory(defaultMemoryCacheBytes)
}
