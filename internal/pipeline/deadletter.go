package pipeline

import (
	"sync"
	"time"
)

// DeadLetter is an event that exhausted its retries, retained with the last
// failure for inspection and manual replay.
type DeadLetter struct {
	Event Event
	Error string
	At    time.Time
}

// deadLetterRing is a fixed-size ring over dead letters; when full the oldest
// entry is overwritten.
type deadLetterRing struct {
	mu      sync.RWMutex
	entries []DeadLetter
	head    int
	count   int
}

func newDeadLetterRing(capacity int) *deadLetterRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &deadLetterRing{entries: make([]DeadLetter, capacity)}
}

func (r *deadLetterRing) add(d DeadLetter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = d
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// snapshot returns the retained letters, newest first.
func (r *deadLetterRing) snapshot() []DeadLetter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeadLetter, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// drain returns and clears the retained letters, oldest first, for replay.
func (r *deadLetterRing) drain() []DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeadLetter, 0, r.count)
	for i := r.count; i > 0; i-- {
		idx := (r.head - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	r.head, r.count = 0, 0
	return out
}
