// Package config handles environment-based configuration loading for the
// routing core. Every recognized option has a KARAVAN_* variable, a typed
// default, and a unit; loading validates the whole surface in one pass and
// reports every problem at once.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/karavan-route/karavan/internal/spatial"
	"github.com/karavan-route/karavan/internal/vrp"
)

// EnvConfig holds all environment-variable-driven settings. It is loaded
// once at startup and treated as read-only afterwards.
type EnvConfig struct {
	// Backends
	OSRMURL      string
	OSRMProfile  string
	VroomURL     string
	ORToolsURL   string
	SolveTimeout time.Duration

	// Matrix fan-out
	MatrixBatchSize      int
	MatrixMaxConcurrent  int
	MatrixBackendTimeout time.Duration
	MatrixRetryAttempts  int
	MatrixRetryBase      time.Duration
	AverageSpeedMPS      float64

	// Spatial index
	SpatialImpl         string
	SpatialH3Resolution int
	SpatialGridCellM    float64

	// Genetic solver
	GeneticPopulation    int
	GeneticGenerations   int
	GeneticMutationRate  float64
	GeneticCrossoverRate float64
	GeneticElite         int
	GeneticEarlyStop     int

	// Greedy solver
	GreedyMax2OptIterations int
	GreedyMinImprovement    float64

	// Solver selection
	SolverChain          []string
	DispersionThresholdM float64

	// Predictive rerouting
	RerouteWarningDelay  time.Duration
	RerouteCriticalDelay time.Duration
	RerouteAutoDelay     time.Duration
	RerouteSweepInterval time.Duration

	// Event pipeline
	PipelineQueueSize      int
	PipelineWorkers        int
	PipelineHandlerTimeout time.Duration
	PipelineMaxRetries     int
	PipelineDeadLetterSize int

	// Cache
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CacheTTLMatrix        time.Duration
	CacheTTLGeometry      time.Duration
	CacheTTLReference     time.Duration
	CacheTTLSchedule      time.Duration
	CacheTTLAgentLocation time.Duration
	CacheTTLRoute         time.Duration
	CacheTTLGPS           time.Duration

	// Weekly planner
	PlannerMaxVisitsPerDay int

	// Cache warmer
	WarmSchedule   string
	WarmMinClients int

	// Regional profiles. Empty path means built-in defaults.
	RegionProfilePath string

	// Backend health sweeps
	HealthSweepInterval time.Duration
	HealthCheckTimeout  time.Duration
}

// Cache backend selectors.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error listing every invalid or inconsistent value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Backends ---
	cfg.OSRMURL = strings.TrimSpace(envStr("KARAVAN_OSRM_URL", "http://localhost:5000"))
	cfg.OSRMProfile = strings.TrimSpace(envStr("KARAVAN_OSRM_PROFILE", "driving"))
	cfg.VroomURL = strings.TrimSpace(envStr("KARAVAN_VROOM_URL", "http://localhost:3000"))
	cfg.ORToolsURL = strings.TrimSpace(envStr("KARAVAN_ORTOOLS_URL", "http://localhost:8080"))
	cfg.SolveTimeout = envDuration("KARAVAN_SOLVE_TIMEOUT", 30*time.Second, &errs)

	// --- Matrix fan-out ---
	cfg.MatrixBatchSize = envInt("KARAVAN_MATRIX_BATCH_SIZE", 100, &errs)
	cfg.MatrixMaxConcurrent = envInt("KARAVAN_MATRIX_MAX_CONCURRENT", 4, &errs)
	cfg.MatrixBackendTimeout = envDuration("KARAVAN_MATRIX_BACKEND_TIMEOUT", 30*time.Second, &errs)
	cfg.MatrixRetryAttempts = envInt("KARAVAN_MATRIX_RETRY_ATTEMPTS", 3, &errs)
	cfg.MatrixRetryBase = envDuration("KARAVAN_MATRIX_RETRY_BASE", 2*time.Second, &errs)
	cfg.AverageSpeedMPS = envFloat("KARAVAN_AVERAGE_SPEED_MPS", 8.33, &errs)

	// --- Spatial index ---
	cfg.SpatialImpl = envStr("KARAVAN_SPATIAL_IMPL", string(spatial.ImplH3))
	cfg.SpatialH3Resolution = envInt("KARAVAN_SPATIAL_H3_RESOLUTION", 9, &errs)
	cfg.SpatialGridCellM = envFloat("KARAVAN_SPATIAL_GRID_CELL_M", 175, &errs)

	// --- Genetic solver ---
	cfg.GeneticPopulation = envInt("KARAVAN_GENETIC_POPULATION", 100, &errs)
	cfg.GeneticGenerations = envInt("KARAVAN_GENETIC_GENERATIONS", 500, &errs)
	cfg.GeneticMutationRate = envFloat("KARAVAN_GENETIC_MUTATION_RATE", 0.1, &errs)
	cfg.GeneticCrossoverRate = envFloat("KARAVAN_GENETIC_CROSSOVER_RATE", 0.8, &errs)
	cfg.GeneticElite = envInt("KARAVAN_GENETIC_ELITE", 10, &errs)
	cfg.GeneticEarlyStop = envInt("KARAVAN_GENETIC_EARLY_STOP", 50, &errs)

	// --- Greedy solver ---
	cfg.GreedyMax2OptIterations = envInt("KARAVAN_GREEDY_MAX_2OPT_ITERATIONS", 100, &errs)
	cfg.GreedyMinImprovement = envFloat("KARAVAN_GREEDY_MIN_IMPROVEMENT", 0.001, &errs)

	// --- Solver selection ---
	cfg.SolverChain = envStringSlice("KARAVAN_SOLVER_CHAIN",
		[]string{string(vrp.KindVROOM), string(vrp.KindORTools), string(vrp.KindGenetic), string(vrp.KindGreedy)}, &errs)
	cfg.DispersionThresholdM = envFloat("KARAVAN_DISPERSION_THRESHOLD_M", 50_000, &errs)

	// --- Predictive rerouting ---
	cfg.RerouteWarningDelay = envDuration("KARAVAN_REROUTE_WARNING_DELAY", 15*time.Minute, &errs)
	cfg.RerouteCriticalDelay = envDuration("KARAVAN_REROUTE_CRITICAL_DELAY", 30*time.Minute, &errs)
	cfg.RerouteAutoDelay = envDuration("KARAVAN_REROUTE_AUTO_DELAY", 20*time.Minute, &errs)
	cfg.RerouteSweepInterval = envDuration("KARAVAN_REROUTE_SWEEP_INTERVAL", 30*time.Minute, &errs)

	// --- Event pipeline ---
	cfg.PipelineQueueSize = envInt("KARAVAN_PIPELINE_QUEUE_SIZE", 1000, &errs)
	cfg.PipelineWorkers = envInt("KARAVAN_PIPELINE_WORKERS", 8, &errs)
	cfg.PipelineHandlerTimeout = envDuration("KARAVAN_PIPELINE_HANDLER_TIMEOUT", 10*time.Second, &errs)
	cfg.PipelineMaxRetries = envInt("KARAVAN_PIPELINE_MAX_RETRIES", 3, &errs)
	cfg.PipelineDeadLetterSize = envInt("KARAVAN_PIPELINE_DEAD_LETTER_SIZE", 256, &errs)

	// --- Cache ---
	cfg.CacheBackend = envStr("KARAVAN_CACHE_BACKEND", CacheBackendMemory)
	cfg.RedisAddr = strings.TrimSpace(envStr("KARAVAN_REDIS_ADDR", "localhost:6379"))
	cfg.RedisPassword = envStr("KARAVAN_REDIS_PASSWORD", "")
	cfg.RedisDB = envInt("KARAVAN_REDIS_DB", 0, &errs)

	cfg.CacheTTLMatrix = envDuration("KARAVAN_CACHE_TTL_MATRIX", 7*24*time.Hour, &errs)
	cfg.CacheTTLGeometry = envDuration("KARAVAN_CACHE_TTL_GEOMETRY", 24*time.Hour, &errs)
	cfg.CacheTTLReference = envDuration("KARAVAN_CACHE_TTL_REFERENCE", time.Hour, &errs)
	cfg.CacheTTLSchedule = envDuration("KARAVAN_CACHE_TTL_SCHEDULE", 30*time.Minute, &errs)
	cfg.CacheTTLAgentLocation = envDuration("KARAVAN_CACHE_TTL_AGENT_LOCATION", time.Minute, &errs)
	cfg.CacheTTLRoute = envDuration("KARAVAN_CACHE_TTL_ROUTE", 5*time.Minute, &errs)
	cfg.CacheTTLGPS = envDuration("KARAVAN_CACHE_TTL_GPS", 10*time.Second, &errs)

	// --- Weekly planner ---
	cfg.PlannerMaxVisitsPerDay = envInt("KARAVAN_PLANNER_MAX_VISITS_PER_DAY", 12, &errs)

	// --- Cache warmer ---
	cfg.WarmSchedule = envStr("KARAVAN_WARM_SCHEDULE", "0 5 * * *")
	cfg.WarmMinClients = envInt("KARAVAN_WARM_MIN_CLIENTS", 5, &errs)

	// --- Regional profiles ---
	cfg.RegionProfilePath = strings.TrimSpace(envStr("KARAVAN_REGION_PROFILE", ""))

	// --- Backend health sweeps ---
	cfg.HealthSweepInterval = envDuration("KARAVAN_HEALTH_SWEEP_INTERVAL", time.Minute, &errs)
	cfg.HealthCheckTimeout = envDuration("KARAVAN_HEALTH_CHECK_TIMEOUT", 5*time.Second, &errs)

	// --- Validation ---
	if cfg.OSRMURL == "" {
		errs = append(errs, "KARAVAN_OSRM_URL must not be empty")
	}
	if cfg.OSRMProfile == "" {
		errs = append(errs, "KARAVAN_OSRM_PROFILE must not be empty")
	}
	validatePositiveDuration("KARAVAN_SOLVE_TIMEOUT", cfg.SolveTimeout, &errs)

	validatePositive("KARAVAN_MATRIX_BATCH_SIZE", cfg.MatrixBatchSize, &errs)
	validatePositive("KARAVAN_MATRIX_MAX_CONCURRENT", cfg.MatrixMaxConcurrent, &errs)
	validatePositiveDuration("KARAVAN_MATRIX_BACKEND_TIMEOUT", cfg.MatrixBackendTimeout, &errs)
	validatePositive("KARAVAN_MATRIX_RETRY_ATTEMPTS", cfg.MatrixRetryAttempts, &errs)
	validatePositiveDuration("KARAVAN_MATRIX_RETRY_BASE", cfg.MatrixRetryBase, &errs)
	if cfg.AverageSpeedMPS <= 0 {
		errs = append(errs, fmt.Sprintf("KARAVAN_AVERAGE_SPEED_MPS: must be positive, got %g", cfg.AverageSpeedMPS))
	}

	if !spatial.Impl(cfg.SpatialImpl).IsValid() {
		errs = append(errs, fmt.Sprintf(
			"KARAVAN_SPATIAL_IMPL: invalid value %q (allowed: %s, %s)",
			cfg.SpatialImpl, spatial.ImplH3, spatial.ImplGrid,
		))
	}
	if cfg.SpatialH3Resolution < 0 || cfg.SpatialH3Resolution > 15 {
		errs = append(errs, fmt.Sprintf("KARAVAN_SPATIAL_H3_RESOLUTION: must be 0-15, got %d", cfg.SpatialH3Resolution))
	}
	if cfg.SpatialGridCellM <= 0 {
		errs = append(errs, fmt.Sprintf("KARAVAN_SPATIAL_GRID_CELL_M: must be positive, got %g", cfg.SpatialGridCellM))
	}

	validatePositive("KARAVAN_GENETIC_POPULATION", cfg.GeneticPopulation, &errs)
	validatePositive("KARAVAN_GENETIC_GENERATIONS", cfg.GeneticGenerations, &errs)
	validateRate("KARAVAN_GENETIC_MUTATION_RATE", cfg.GeneticMutationRate, &errs)
	validateRate("KARAVAN_GENETIC_CROSSOVER_RATE", cfg.GeneticCrossoverRate, &errs)
	validatePositive("KARAVAN_GENETIC_ELITE", cfg.GeneticElite, &errs)
	validatePositive("KARAVAN_GENETIC_EARLY_STOP", cfg.GeneticEarlyStop, &errs)
	if cfg.GeneticElite >= cfg.GeneticPopulation {
		errs = append(errs, "KARAVAN_GENETIC_ELITE must be less than KARAVAN_GENETIC_POPULATION")
	}

	validatePositive("KARAVAN_GREEDY_MAX_2OPT_ITERATIONS", cfg.GreedyMax2OptIterations, &errs)
	if cfg.GreedyMinImprovement <= 0 || cfg.GreedyMinImprovement >= 1 {
		errs = append(errs, fmt.Sprintf("KARAVAN_GREEDY_MIN_IMPROVEMENT: must be in (0, 1), got %g", cfg.GreedyMinImprovement))
	}

	if len(cfg.SolverChain) == 0 {
		errs = append(errs, "KARAVAN_SOLVER_CHAIN must name at least one solver")
	}
	for _, kind := range cfg.SolverChain {
		if !vrp.SolverKind(kind).IsValid() {
			errs = append(errs, fmt.Sprintf(
				"KARAVAN_SOLVER_CHAIN: unknown solver %q (allowed: %s, %s, %s, %s)",
				kind, vrp.KindVROOM, vrp.KindORTools, vrp.KindGenetic, vrp.KindGreedy,
			))
		}
	}
	if cfg.DispersionThresholdM <= 0 {
		errs = append(errs, fmt.Sprintf("KARAVAN_DISPERSION_THRESHOLD_M: must be positive, got %g", cfg.DispersionThresholdM))
	}

	validatePositiveDuration("KARAVAN_REROUTE_WARNING_DELAY", cfg.RerouteWarningDelay, &errs)
	validatePositiveDuration("KARAVAN_REROUTE_CRITICAL_DELAY", cfg.RerouteCriticalDelay, &errs)
	validatePositiveDuration("KARAVAN_REROUTE_AUTO_DELAY", cfg.RerouteAutoDelay, &errs)
	validatePositiveDuration("KARAVAN_REROUTE_SWEEP_INTERVAL", cfg.RerouteSweepInterval, &errs)
	if cfg.RerouteWarningDelay >= cfg.RerouteCriticalDelay {
		errs = append(errs, "KARAVAN_REROUTE_WARNING_DELAY must be less than KARAVAN_REROUTE_CRITICAL_DELAY")
	}

	validatePositive("KARAVAN_PIPELINE_QUEUE_SIZE", cfg.PipelineQueueSize, &errs)
	validatePositive("KARAVAN_PIPELINE_WORKERS", cfg.PipelineWorkers, &errs)
	validatePositiveDuration("KARAVAN_PIPELINE_HANDLER_TIMEOUT", cfg.PipelineHandlerTimeout, &errs)
	if cfg.PipelineMaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("KARAVAN_PIPELINE_MAX_RETRIES: must not be negative, got %d", cfg.PipelineMaxRetries))
	}
	validatePositive("KARAVAN_PIPELINE_DEAD_LETTER_SIZE", cfg.PipelineDeadLetterSize, &errs)

	switch cfg.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, "KARAVAN_REDIS_ADDR must not be empty when KARAVAN_CACHE_BACKEND is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf(
			"KARAVAN_CACHE_BACKEND: invalid value %q (allowed: %s, %s)",
			cfg.CacheBackend, CacheBackendMemory, CacheBackendRedis,
		))
	}
	if cfg.RedisDB < 0 {
		errs = append(errs, fmt.Sprintf("KARAVAN_REDIS_DB: must not be negative, got %d", cfg.RedisDB))
	}

	validatePositiveDuration("KARAVAN_CACHE_TTL_MATRIX", cfg.CacheTTLMatrix, &errs)
	validatePositiveDuration("KARAVAN_CACHE_TTL_GEOMETRY", cfg.CacheTTLGeometry, &errs)
	validatePositiveDuration("KARAVAN_CACHE_TTL_REFERENCE", cfg.CacheTTLReference, &errs)
	validatePositiveDuration("KARAVAN_CACHE_TTL_SCHEDULE", cfg.CacheTTLSchedule, &errs)
	validatePositiveDuration("KARAVAN_CACHE_TTL_AGENT_LOCATION", cfg.CacheTTLAgentLocation, &errs)
	validatePositiveDuration("KARAVAN_CACHE_TTL_ROUTE", cfg.CacheTTLRoute, &errs)
	validatePositiveDuration("KARAVAN_CACHE_TTL_GPS", cfg.CacheTTLGPS, &errs)

	validatePositive("KARAVAN_PLANNER_MAX_VISITS_PER_DAY", cfg.PlannerMaxVisitsPerDay, &errs)

	if _, err := cron.ParseStandard(cfg.WarmSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("KARAVAN_WARM_SCHEDULE: invalid cron expression %q: %v", cfg.WarmSchedule, err))
	}
	validatePositive("KARAVAN_WARM_MIN_CLIENTS", cfg.WarmMinClients, &errs)

	if cfg.RegionProfilePath != "" {
		if _, err := os.Stat(cfg.RegionProfilePath); err != nil {
			errs = append(errs, fmt.Sprintf("KARAVAN_REGION_PROFILE: cannot read %q: %v", cfg.RegionProfilePath, err))
		}
	}

	validatePositiveDuration("KARAVAN_HEALTH_SWEEP_INTERVAL", cfg.HealthSweepInterval, &errs)
	validatePositiveDuration("KARAVAN_HEALTH_CHECK_TIMEOUT", cfg.HealthCheckTimeout, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %v", name, value))
	}
}

func validateRate(name string, value float64, errs *[]string) {
	if value < 0 || value > 1 {
		*errs = append(*errs, fmt.Sprintf("%s: must be in [0, 1], got %g", name, value))
	}
}
