// Package health sweeps the optimization backends: each registered check is
// probed on a jittered interval with bounded concurrency, and the latest
// status per target is kept for the fallback chain and operators to read.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/scanloop"
	"github.com/karavan-route/karavan/internal/solver"
)

// Check probes one target. Probe must respect ctx and return promptly after
// its deadline.
type Check struct {
	Name  string
	Probe func(ctx context.Context) bool
}

// Status is the last observed state of a target.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	// Flips counts healthy/unhealthy transitions since startup; a high
	// value flags a flapping backend.
	Flips int64 `json:"flips"`
}

// Config sizes the monitor.
type Config struct {
	// Interval is the sweep cadence. Default 1m, jittered by a quarter.
	Interval time.Duration
	// ProbeTimeout bounds one probe. Default 5s.
	ProbeTimeout time.Duration
	// Concurrency bounds parallel probes in one sweep. Default 4.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Monitor runs the periodic sweep. Construct with NewMonitor, then Start.
type Monitor struct {
	cfg    Config
	checks []Check
	clk    clock.Clock

	statuses *xsync.Map[string, Status]
	sem      chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor over the given checks.
func NewMonitor(cfg Config, clk clock.Clock, checks ...Check) *Monitor {
	if clk == nil {
		clk = clock.System()
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:      cfg,
		checks:   append([]Check(nil), checks...),
		clk:      clk,
		statuses: xsync.NewMap[string, Status](),
		sem:      make(chan struct{}, cfg.Concurrency),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately so status
// is available before the first interval elapses.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Sweep()
		scanloop.Run(m.stopCh, m.cfg.Interval, m.cfg.Interval/4, m.Sweep)
	}()
}

// Stop signals the loop and waits for in-flight probes.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Sweep probes every check once, bounded by the configured concurrency.
// Callable directly for an on-demand refresh.
func (m *Monitor) Sweep() {
	var sweep sync.WaitGroup
	for _, c := range m.checks {
		select {
		case m.sem <- struct{}{}:
		case <-m.stopCh:
			sweep.Wait()
			return
		}
		sweep.Add(1)
		go func(c Check) {
			defer sweep.Done()
			defer func() { <-m.sem }()
			m.probe(c)
		}(c)
	}
	sweep.Wait()
}

func (m *Monitor) probe(c Check) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()
	healthy := c.Probe(ctx)

	prev, had := m.statuses.Load(c.Name)
	next := Status{Healthy: healthy, CheckedAt: m.clk.Now(), Flips: prev.Flips}
	if had && prev.Healthy != healthy {
		next.Flips++
		log.Printf("[health] %s went %s", c.Name, stateWord(healthy))
	} else if !had && !healthy {
		log.Printf("[health] %s unhealthy on first probe", c.Name)
	}
	m.statuses.Store(c.Name, next)
}

func stateWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

// Status returns the last state of one target.
func (m *Monitor) Status(name string) (Status, bool) {
	return m.statuses.Load(name)
}

// Snapshot returns the last state of every target.
func (m *Monitor) Snapshot() map[string]Status {
	out := make(map[string]Status)
	m.statuses.Range(func(name string, st Status) bool {
		out[name] = st
		return true
	})
	return out
}

// AllHealthy reports whether every probed target was healthy at last sweep.
// True when nothing has been probed yet.
func (m *Monitor) AllHealthy() bool {
	ok := true
	m.statuses.Range(func(_ string, st Status) bool {
		if !st.Healthy {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// SolverChecks builds one check per registered solver.
func SolverChecks(reg *solver.Registry) []Check {
	var out []Check
	for _, kind := range reg.Kinds() {
		s, ok := reg.Get(kind)
		if !ok {
			continue
		}
		out = append(out, Check{
			Name:  "solver." + string(kind),
			Probe: s.HealthCheck,
		})
	}
	return out
}

// BackendCheck builds a check over a matrix backend.
func BackendCheck(b matrix.Backend) Check {
	return Check{Name: "matrix." + b.Name(), Probe: b.Healthy}
}

// CacheCheck builds a check over a cache ping function.
func CacheCheck(name string, ping func(ctx context.Context) error) Check {
	return Check{
		Name:  "cache." + name,
		Probe: func(ctx context.Context) bool { return ping(ctx) == nil },
	}
}
