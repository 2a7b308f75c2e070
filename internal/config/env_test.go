package config

import (
	"strings"
	"testing"
	"time"
)

// setEnvs sets multiple env vars for the duration of the test.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Backends
	assertEqual(t, "OSRMURL", cfg.OSRMURL, "http://localhost:5000")
	assertEqual(t, "OSRMProfile", cfg.OSRMProfile, "driving")
	assertEqual(t, "VroomURL", cfg.VroomURL, "http://localhost:3000")
	assertEqual(t, "ORToolsURL", cfg.ORToolsURL, "http://localhost:8080")
	assertEqual(t, "SolveTimeout", cfg.SolveTimeout, 30*time.Second)

	// Matrix
	assertEqual(t, "MatrixBatchSize", cfg.MatrixBatchSize, 100)
	assertEqual(t, "MatrixMaxConcurrent", cfg.MatrixMaxConcurrent, 4)
	assertEqual(t, "MatrixBackendTimeout", cfg.MatrixBackendTimeout, 30*time.Second)
	assertEqual(t, "MatrixRetryAttempts", cfg.MatrixRetryAttempts, 3)
	assertEqual(t, "MatrixRetryBase", cfg.MatrixRetryBase, 2*time.Second)
	assertEqual(t, "AverageSpeedMPS", cfg.AverageSpeedMPS, 8.33)

	// Spatial
	assertEqual(t, "SpatialImpl", cfg.SpatialImpl, "h3")
	assertEqual(t, "SpatialH3Resolution", cfg.SpatialH3Resolution, 9)
	assertEqual(t, "SpatialGridCellM", cfg.SpatialGridCellM, 175.0)

	// Genetic
	assertEqual(t, "GeneticPopulation", cfg.GeneticPopulation, 100)
	assertEqual(t, "GeneticGenerations", cfg.GeneticGenerations, 500)
	assertEqual(t, "GeneticMutationRate", cfg.GeneticMutationRate, 0.1)
	assertEqual(t, "GeneticCrossoverRate", cfg.GeneticCrossoverRate, 0.8)
	assertEqual(t, "GeneticElite", cfg.GeneticElite, 10)
	assertEqual(t, "GeneticEarlyStop", cfg.GeneticEarlyStop, 50)

	// Greedy
	assertEqual(t, "GreedyMax2OptIterations", cfg.GreedyMax2OptIterations, 100)
	assertEqual(t, "GreedyMinImprovement", cfg.GreedyMinImprovement, 0.001)

	// Selection
	assertEqual(t, "SolverChainLength", len(cfg.SolverChain), 4)
	assertEqual(t, "SolverChain[0]", cfg.SolverChain[0], "vroom")
	assertEqual(t, "SolverChain[1]", cfg.SolverChain[1], "ortools")
	assertEqual(t, "SolverChain[2]", cfg.SolverChain[2], "genetic")
	assertEqual(t, "SolverChain[3]", cfg.SolverChain[3], "greedy")
	assertEqual(t, "DispersionThresholdM", cfg.DispersionThresholdM, 50_000.0)

	// Rerouting
	assertEqual(t, "RerouteWarningDelay", cfg.RerouteWarningDelay, 15*time.Minute)
	assertEqual(t, "RerouteCriticalDelay", cfg.RerouteCriticalDelay, 30*time.Minute)
	assertEqual(t, "RerouteAutoDelay", cfg.RerouteAutoDelay, 20*time.Minute)
	assertEqual(t, "RerouteSweepInterval", cfg.RerouteSweepInterval, 30*time.Minute)

	// Pipeline
	assertEqual(t, "PipelineQueueSize", cfg.PipelineQueueSize, 1000)
	assertEqual(t, "PipelineWorkers", cfg.PipelineWorkers, 8)
	assertEqual(t, "PipelineHandlerTimeout", cfg.PipelineHandlerTimeout, 10*time.Second)
	assertEqual(t, "PipelineMaxRetries", cfg.PipelineMaxRetries, 3)
	assertEqual(t, "PipelineDeadLetterSize", cfg.PipelineDeadLetterSize, 256)

	// Cache
	assertEqual(t, "CacheBackend", cfg.CacheBackend, "memory")
	assertEqual(t, "RedisAddr", cfg.RedisAddr, "localhost:6379")
	assertEqual(t, "CacheTTLMatrix", cfg.CacheTTLMatrix, 7*24*time.Hour)
	assertEqual(t, "CacheTTLGeometry", cfg.CacheTTLGeometry, 24*time.Hour)
	assertEqual(t, "CacheTTLReference", cfg.CacheTTLReference, time.Hour)
	assertEqual(t, "CacheTTLSchedule", cfg.CacheTTLSchedule, 30*time.Minute)
	assertEqual(t, "CacheTTLAgentLocation", cfg.CacheTTLAgentLocation, time.Minute)
	assertEqual(t, "CacheTTLRoute", cfg.CacheTTLRoute, 5*time.Minute)
	assertEqual(t, "CacheTTLGPS", cfg.CacheTTLGPS, 10*time.Second)

	// Planner / warmer / health
	assertEqual(t, "PlannerMaxVisitsPerDay", cfg.PlannerMaxVisitsPerDay, 12)
	assertEqual(t, "WarmSchedule", cfg.WarmSchedule, "0 5 * * *")
	assertEqual(t, "WarmMinClients", cfg.WarmMinClients, 5)
	assertEqual(t, "RegionProfilePath", cfg.RegionProfilePath, "")
	assertEqual(t, "HealthSweepInterval", cfg.HealthSweepInterval, time.Minute)
	assertEqual(t, "HealthCheckTimeout", cfg.HealthCheckTimeout, 5*time.Second)
}

func TestLoadEnvConfig_EnvOverrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"KARAVAN_OSRM_URL":              "http://osrm.example:5001",
		"KARAVAN_OSRM_PROFILE":          "truck",
		"KARAVAN_SOLVE_TIMEOUT":         "45s",
		"KARAVAN_MATRIX_BATCH_SIZE":     "50",
		"KARAVAN_MATRIX_MAX_CONCURRENT": "8",
		"KARAVAN_MATRIX_RETRY_BASE":     "1.5s",
		"KARAVAN_SPATIAL_IMPL":          "grid",
		"KARAVAN_SPATIAL_H3_RESOLUTION": "8",
		"KARAVAN_GENETIC_POPULATION":    "200",
		"KARAVAN_GENETIC_MUTATION_RATE": "0.25",
		"KARAVAN_SOLVER_CHAIN":          `["genetic","greedy"]`,
		"KARAVAN_REROUTE_AUTO_DELAY":    "10m",
		"KARAVAN_PIPELINE_QUEUE_SIZE":   "5000",
		"KARAVAN_CACHE_BACKEND":         "redis",
		"KARAVAN_REDIS_ADDR":            "redis.example:6380",
		"KARAVAN_REDIS_DB":              "2",
		"KARAVAN_CACHE_TTL_MATRIX":      "48h",
		"KARAVAN_WARM_SCHEDULE":         "30 4 * * *",
		"KARAVAN_AVERAGE_SPEED_MPS":     "11.1",
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "OSRMURL", cfg.OSRMURL, "http://osrm.example:5001")
	assertEqual(t, "OSRMProfile", cfg.OSRMProfile, "truck")
	assertEqual(t, "SolveTimeout", cfg.SolveTimeout, 45*time.Second)
	assertEqual(t, "MatrixBatchSize", cfg.MatrixBatchSize, 50)
	assertEqual(t, "MatrixMaxConcurrent", cfg.MatrixMaxConcurrent, 8)
	assertEqual(t, "MatrixRetryBase", cfg.MatrixRetryBase, 1500*time.Millisecond)
	assertEqual(t, "SpatialImpl", cfg.SpatialImpl, "grid")
	assertEqual(t, "SpatialH3Resolution", cfg.SpatialH3Resolution, 8)
	assertEqual(t, "GeneticPopulation", cfg.GeneticPopulation, 200)
	assertEqual(t, "GeneticMutationRate", cfg.GeneticMutationRate, 0.25)
	assertEqual(t, "SolverChainLength", len(cfg.SolverChain), 2)
	assertEqual(t, "SolverChain[0]", cfg.SolverChain[0], "genetic")
	assertEqual(t, "SolverChain[1]", cfg.SolverChain[1], "greedy")
	assertEqual(t, "RerouteAutoDelay", cfg.RerouteAutoDelay, 10*time.Minute)
	assertEqual(t, "PipelineQueueSize", cfg.PipelineQueueSize, 5000)
	assertEqual(t, "CacheBackend", cfg.CacheBackend, "redis")
	assertEqual(t, "RedisAddr", cfg.RedisAddr, "redis.example:6380")
	assertEqual(t, "RedisDB", cfg.RedisDB, 2)
	assertEqual(t, "CacheTTLMatrix", cfg.CacheTTLMatrix, 48*time.Hour)
	assertEqual(t, "WarmSchedule", cfg.WarmSchedule, "30 4 * * *")
	assertEqual(t, "AverageSpeedMPS", cfg.AverageSpeedMPS, 11.1)
}

func TestLoadEnvConfig_InvalidInteger(t *testing.T) {
	t.Setenv("KARAVAN_MATRIX_BATCH_SIZE", "abc")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for non-numeric batch size")
	}
	assertContains(t, err.Error(), "KARAVAN_MATRIX_BATCH_SIZE")
}

func TestLoadEnvConfig_NegativeValue(t *testing.T) {
	t.Setenv("KARAVAN_PIPELINE_WORKERS", "-2")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for negative worker count")
	}
	assertContains(t, err.Error(), "KARAVAN_PIPELINE_WORKERS")
}

func TestLoadEnvConfig_InvalidDuration(t *testing.T) {
	t.Setenv("KARAVAN_MATRIX_BACKEND_TIMEOUT", "not-a-duration")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	assertContains(t, err.Error(), "KARAVAN_MATRIX_BACKEND_TIMEOUT")
}

func TestLoadEnvConfig_InvalidSpatialImpl(t *testing.T) {
	t.Setenv("KARAVAN_SPATIAL_IMPL", "quadtree")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for unknown spatial impl")
	}
	assertContains(t, err.Error(), "KARAVAN_SPATIAL_IMPL")
}

func TestLoadEnvConfig_H3ResolutionOutOfRange(t *testing.T) {
	t.Setenv("KARAVAN_SPATIAL_H3_RESOLUTION", "16")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for out-of-range H3 resolution")
	}
	assertContains(t, err.Error(), "KARAVAN_SPATIAL_H3_RESOLUTION")
}

func TestLoadEnvConfig_MutationRateOutOfRange(t *testing.T) {
	t.Setenv("KARAVAN_GENETIC_MUTATION_RATE", "1.5")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for out-of-range mutation rate")
	}
	assertContains(t, err.Error(), "KARAVAN_GENETIC_MUTATION_RATE")
}

func TestLoadEnvConfig_EliteMustBeUnderPopulation(t *testing.T) {
	setEnvs(t, map[string]string{
		"KARAVAN_GENETIC_POPULATION": "10",
		"KARAVAN_GENETIC_ELITE":      "10",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for elite >= population")
	}
	assertContains(t, err.Error(), "KARAVAN_GENETIC_ELITE")
}

func TestLoadEnvConfig_UnknownSolverInChain(t *testing.T) {
	t.Setenv("KARAVAN_SOLVER_CHAIN", `["vroom","quantum"]`)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for unknown solver kind")
	}
	assertContains(t, err.Error(), "quantum")
}

func TestLoadEnvConfig_SolverChainNotJSON(t *testing.T) {
	t.Setenv("KARAVAN_SOLVER_CHAIN", "vroom,ortools")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for non-JSON solver chain")
	}
	assertContains(t, err.Error(), "KARAVAN_SOLVER_CHAIN")
}

func TestLoadEnvConfig_WarningMustBeUnderCritical(t *testing.T) {
	setEnvs(t, map[string]string{
		"KARAVAN_REROUTE_WARNING_DELAY":  "30m",
		"KARAVAN_REROUTE_CRITICAL_DELAY": "30m",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for warning >= critical")
	}
	assertContains(t, err.Error(), "KARAVAN_REROUTE_WARNING_DELAY")
}

func TestLoadEnvConfig_InvalidCacheBackend(t *testing.T) {
	t.Setenv("KARAVAN_CACHE_BACKEND", "memcached")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for unknown cache backend")
	}
	assertContains(t, err.Error(), "KARAVAN_CACHE_BACKEND")
}

func TestLoadEnvConfig_RedisBackendRequiresAddr(t *testing.T) {
	setEnvs(t, map[string]string{
		"KARAVAN_CACHE_BACKEND": "redis",
		"KARAVAN_REDIS_ADDR":    "   ",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for empty redis addr")
	}
	assertContains(t, err.Error(), "KARAVAN_REDIS_ADDR")
}

func TestLoadEnvConfig_InvalidWarmSchedule(t *testing.T) {
	t.Setenv("KARAVAN_WARM_SCHEDULE", "not-a-cron")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for invalid warm schedule")
	}
	assertContains(t, err.Error(), "KARAVAN_WARM_SCHEDULE")
}

func TestLoadEnvConfig_MissingRegionProfile(t *testing.T) {
	t.Setenv("KARAVAN_REGION_PROFILE", "/nonexistent/regions.yaml")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for unreadable region profile")
	}
	assertContains(t, err.Error(), "KARAVAN_REGION_PROFILE")
}

func TestLoadEnvConfig_CollectsMultipleErrors(t *testing.T) {
	setEnvs(t, map[string]string{
		"KARAVAN_MATRIX_BATCH_SIZE": "0",
		"KARAVAN_PIPELINE_WORKERS":  "0",
		"KARAVAN_CACHE_TTL_GPS":     "0s",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected combined validation error")
	}
	assertContains(t, err.Error(), "KARAVAN_MATRIX_BATCH_SIZE")
	assertContains(t, err.Error(), "KARAVAN_PIPELINE_WORKERS")
	assertContains(t, err.Error(), "KARAVAN_CACHE_TTL_GPS")
}

// --- test helpers ---

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
