package metrics

import (
	"sync"
	"time"
)

// DefaultLatencyBoundsMS are the upper bounds, in milliseconds, of the solve
// latency buckets. The last implicit bucket is unbounded.
var DefaultLatencyBoundsMS = []int64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Histogram is a fixed-bucket duration histogram.
type Histogram struct {
	mu       sync.RWMutex
	boundsMS []int64
	counts   []int64
	sumMS    int64
	total    int64
	maxMS    int64
}

// NewHistogram creates a histogram with the given ascending bucket bounds in
// milliseconds, plus an implicit overflow bucket.
func NewHistogram(boundsMS []int64) *Histogram {
	return &Histogram{
		boundsMS: append([]int64(nil), boundsMS...),
		counts:   make([]int64, len(boundsMS)+1),
	}
}

// Observe records one sample.
func (h *Histogram) Observe(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := len(h.boundsMS)
	for i, b := range h.boundsMS {
		if ms <= b {
			idx = i
			break
		}
	}
	h.counts[idx]++
	h.sumMS += ms
	h.total++
	if ms > h.maxMS {
		h.maxMS = ms
	}
}

// HistogramSnapshot is a point-in-time copy of a histogram.
type HistogramSnapshot struct {
	BoundsMS []int64 `json:"bounds_ms"`
	Counts   []int64 `json:"counts"`
	Total    int64   `json:"total"`
	MeanMS   float64 `json:"mean_ms"`
	MaxMS    int64   `json:"max_ms"`
}

// Snapshot copies the histogram state.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := HistogramSnapshot{
		BoundsMS: append([]int64(nil), h.boundsMS...),
		Counts:   append([]int64(nil), h.counts...),
		Total:    h.total,
		MaxMS:    h.maxMS,
	}
	if h.total > 0 {
		snap.MeanMS = float64(h.sumMS) / float64(h.total)
	}
	return snap
}
