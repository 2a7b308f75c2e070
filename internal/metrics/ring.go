package metrics

import (
	"sync"
	"time"
)

// RealtimeSample is one point in the realtime ring: the counter deltas since
// the previous sample plus instantaneous gauges.
type RealtimeSample struct {
	At            time.Time        `json:"at"`
	QueueDepth    int              `json:"queue_depth"`
	CounterDeltas map[string]int64 `json:"counter_deltas"`
}

// RealtimeRing keeps a fixed window of realtime samples for dashboards.
// Oldest entries are overwritten when the ring is full.
type RealtimeRing struct {
	mu      sync.RWMutex
	samples []RealtimeSample
	head    int
	count   int

	lastCounters map[string]int64
}

// NewRealtimeRing creates a ring with the given capacity; zero or negative
// defaults to 720 samples (one hour at 5s cadence).
func NewRealtimeRing(capacity int) *RealtimeRing {
	if capacity <= 0 {
		capacity = 720
	}
	return &RealtimeRing{samples: make([]RealtimeSample, capacity)}
}

// Sample diffs the collector against the previous call and pushes a sample.
// queueDepth is supplied by the caller (the pipeline owns that gauge).
func (r *RealtimeRing) Sample(c *Collector, queueDepth int) {
	snap := c.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	deltas := make(map[string]int64, len(snap.Counters))
	for name, v := range snap.Counters {
		deltas[name] = v - r.lastCounters[name]
	}
	r.lastCounters = snap.Counters

	r.samples[r.head] = RealtimeSample{
		At:            snap.At,
		QueueDepth:    queueDepth,
		CounterDeltas: deltas,
	}
	r.head = (r.head + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

// Query returns samples within [from, to], newest first.
func (r *RealtimeRing) Query(from, to time.Time) []RealtimeSample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RealtimeSample
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.samples)) % len(r.samples)
		s := r.samples[idx]
		if s.At.Before(from) {
			break // ring is chronologically ordered; stop early
		}
		if s.At.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Len returns the number of stored samples.
func (r *RealtimeRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
