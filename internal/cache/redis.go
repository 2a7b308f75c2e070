package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed Cache.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	// ScanCount is the COUNT hint for pattern scans. Zero means 200.
	ScanCount int64
}

// Redis is the Cache implementation backed by a Redis server. It exists so
// several routing processes can share warmed matrices; the contract matches
// Memory exactly.
type Redis struct {
	client    *redis.Client
	scanCount int64
}

// NewRedis connects to the configured Redis server and verifies it responds.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache: redis address is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 200
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, scanCount: cfg.ScanCount}, nil
}

var _ Cache = (*Redis)(nil)

// Get returns the value for key, if present.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get %q: %w", key, err)
	}
	return b, true, nil
}

// MGet returns the present subset of keys in a single round trip.
func (r *Redis) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis mget: %w", err)
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

// Set stores value under key for ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}
	return nil
}

// MSet stores every item with a shared ttl. Redis MSET cannot carry an
// expiry, so the writes are pipelined SETs.
func (r *Redis) MSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range items {
			pipe.Set(ctx, k, v, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis mset %d keys: %w", len(items), err)
	}
	return nil
}

// Delete removes the given keys.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern using an
// incremental SCAN so large keyspaces never block the server.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	batch := make([]string, 0, 128)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis scan %q: %w", pattern, err)
	}
	return r.Delete(ctx, batch...)
}

// Ping verifies the server responds.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	return nil
}

// Close closes the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
