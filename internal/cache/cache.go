// Package cache provides the key to bytes TTL store the routing core keeps
// derived data in: distance matrices, route geometries, reference lookups and
// live agent state. Two implementations honor the same contract, an
// in-process otter cache and a Redis client, so deployments pick locality or
// sharing per environment.
package cache

import (
	"context"
	"time"
)

// Cache is the key-value TTL store consumed by the routing core.
//
// Values are opaque byte slices. Implementations must treat MGet/MSet as
// best-effort atomic: partial results are acceptable on backend failure, but
// a returned map never contains stale-beyond-TTL entries. Returned byte
// slices are shared; callers must not modify them.
type Cache interface {
	// Get returns the value for key. The bool is false on a miss;
	// a miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// MGet returns the present subset of keys. Missing keys are simply
	// absent from the result map.
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// Set stores value under key for ttl. A non-positive ttl means the
	// implementation default retention.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// MSet stores every item with a shared ttl.
	MSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Delete removes the given keys. Unknown keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching a glob pattern such as
	// "matrix:agent-7:*".
	DeletePattern(ctx context.Context, pattern string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Default retention per key class.
const (
	DefaultMatrixTTL    = 7 * 24 * time.Hour
	DefaultGeometryTTL  = 24 * time.Hour
	DefaultReferenceTTL = time.Hour
	DefaultScheduleTTL  = 30 * time.Minute
	DefaultAgentLocTTL  = time.Minute
	DefaultRouteTTL     = 5 * time.Minute
	DefaultGPSTTL       = 10 * time.Second
)

// TTLPolicy holds the retention for each cached key class. The zero value is
// not usable; construct with DefaultTTLPolicy and override from config.
type TTLPolicy struct {
	Matrix    time.Duration
	Geometry  time.Duration
	Reference time.Duration
	Schedule  time.Duration
	AgentLoc  time.Duration
	Route     time.Duration
	GPS       time.Duration
}

// DefaultTTLPolicy returns the standard retention table.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Matrix:    DefaultMatrixTTL,
		Geometry:  DefaultGeometryTTL,
		Reference: DefaultReferenceTTL,
		Schedule:  DefaultScheduleTTL,
		AgentLoc:  DefaultAgentLocTTL,
		Route:     DefaultRouteTTL,
		GPS:       DefaultGPSTTL,
	}
}

// ForKey returns the retention for a key based on its class prefix.
// Unknown prefixes fall back to the reference TTL.
func (p TTLPolicy) ForKey(key string) time.Duration {
	switch prefixOf(key) {
	case PrefixMatrix:
		return p.Matrix
	case PrefixGeometry:
		return p.Geometry
	case PrefixClients, PrefixVehicles:
		return p.Reference
	case PrefixSchedule:
		return p.Schedule
	case PrefixAgentLoc:
		return p.AgentLoc
	case PrefixRoutes:
		return p.Route
	case PrefixGPS:
		return p.GPS
	default:
		return p.Reference
	}
}

func prefixOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i+1]
		}
	}
	return key
}
