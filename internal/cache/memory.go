package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/maypok86/otter"
)

// DefaultMemoryCapacity bounds the in-process cache to roughly 256 MiB of
// cached value bytes.
const DefaultMemoryCapacity = 256 << 20

// Memory is the in-process Cache implementation backed by an otter cache
// with per-entry TTL. Entry cost is the value size in bytes, so the
// configured capacity bounds total cached bytes rather than entry count.
type Memory struct {
	cache otter.CacheWithVariableTTL[string, []byte]
}

// NewMemory creates a Memory cache bounded to capacityBytes. A non-positive
// capacity uses DefaultMemoryCapacity.
func NewMemory(capacityBytes int) (*Memory, error) {
	if capacityBytes <= 0 {
		capacityBytes = DefaultMemoryCapacity
	}
	c, err := otter.MustBuilder[string, []byte](capacityBytes).
		Cost(func(key string, value []byte) uint32 {
			cost := len(key) + len(value)
			if cost < 1 {
				cost = 1
			}
			return uint32(cost)
		}).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("cache: build memory cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

var _ Cache = (*Memory)(nil)

// Get returns the value for key, if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(key)
	return v, ok, nil
}

// MGet returns the present subset of keys.
func (m *Memory) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.cache.Get(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set stores value under key for ttl.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	m.cache.Set(key, value, ttl)
	return nil
}

// MSet stores every item with a shared ttl.
func (m *Memory) MSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the given keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.cache.Delete(k)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern. Keys contain no
// path separators, so path.Match gives exact glob semantics.
func (m *Memory) DeletePattern(_ context.Context, pattern string) error {
	var matched []string
	m.cache.Range(func(key string, _ []byte) bool {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			matched = append(matched, key)
		}
		return true
	})
	for _, k := range matched {
		m.cache.Delete(k)
	}
	return nil
}

// Ping always succeeds for the in-process cache.
func (m *Memory) Ping(context.Context) error { return nil }

// Size returns the number of live entries.
func (m *Memory) Size() int { return m.cache.Size() }

// Close releases the underlying cache.
func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
