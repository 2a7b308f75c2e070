// Package clock abstracts wall-clock access so that time-dependent logic
// (feasibility forecasts, TTL policies, planners) is testable.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by time.Now.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Manual is a settable Clock for tests. The zero value starts at the zero
// time; use NewManual to start from a known instant.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock pinned to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the manually controlled instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
