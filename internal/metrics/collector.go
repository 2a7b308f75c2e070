// Package metrics keeps the core's in-process operational counters: solve
// attempts and latency per solver, matrix cache traffic, pipeline throughput
// and reroute outcomes. Counters are striped for write-heavy paths; snapshots
// are cheap and taken by the realtime ring and any surrounding transport.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Collector aggregates the core's counters. The zero value is not usable;
// construct with NewCollector. All methods are safe for concurrent use.
type Collector struct {
	counters *xsync.Map[string, *xsync.Counter]

	mu         sync.RWMutex
	histograms map[string]*Histogram
}

// Well-known counter names. Components may record ad-hoc names too; these are
// the ones dashboards rely on.
const (
	CounterSolveOK        = "solve.ok"
	CounterSolveFailed    = "solve.failed"
	CounterSolveFallback  = "solve.fallback"
	CounterCacheHit       = "cache.hit"
	CounterCacheMiss      = "cache.miss"
	CounterMatrixBatch    = "matrix.batches"
	CounterMatrixBatchErr = "matrix.batch_errors"
	CounterRerouteTrig    = "reroute.triggered"
	CounterRerouteSkip    = "reroute.under_threshold"
	CounterRerouteFailed  = "reroute.failed"
	CounterWarmedAgents   = "warmer.agents"
	CounterWarmerErrors   = "warmer.errors"
)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		counters:   xsync.NewMap[string, *xsync.Counter](),
		histograms: make(map[string]*Histogram),
	}
}

// Inc adds one to the named counter.
func (c *Collector) Inc(name string) { c.Add(name, 1) }

// Add adds delta to the named counter, creating it on first use.
func (c *Collector) Add(name string, delta int64) {
	ctr, _ := c.counters.LoadOrCompute(name, func() (*xsync.Counter, bool) {
		return xsync.NewCounter(), false
	})
	ctr.Add(delta)
}

// Value returns the current value of a counter, zero when it never fired.
func (c *Collector) Value(name string) int64 {
	if ctr, ok := c.counters.Load(name); ok {
		return ctr.Value()
	}
	return 0
}

// Observe records a duration sample into the named histogram.
func (c *Collector) Observe(name string, d time.Duration) {
	c.mu.RLock()
	h, ok := c.histograms[name]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		h, ok = c.histograms[name]
		if !ok {
			h = NewHistogram(DefaultLatencyBoundsMS)
			c.histograms[name] = h
		}
		c.mu.Unlock()
	}
	h.Observe(d)
}

// Snapshot captures every counter and histogram at a point in time.
type Snapshot struct {
	At         time.Time                    `json:"at"`
	Counters   map[string]int64             `json:"counters"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

// Snapshot returns a copy of the current state. Counter names come back
// sorted via the Names helper for stable rendering.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		At:         time.Now(),
		Counters:   make(map[string]int64),
		Histograms: make(map[string]HistogramSnapshot),
	}
	c.counters.Range(func(name string, ctr *xsync.Counter) bool {
		snap.Counters[name] = ctr.Value()
		return true
	})
	c.mu.RLock()
	for name, h := range c.histograms {
		snap.Histograms[name] = h.Snapshot()
	}
	c.mu.RUnlock()
	return snap
}

// Names returns the snapshot's counter names, sorted.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
