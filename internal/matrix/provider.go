package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Provider serves full matrices through the two-level cache: a request-level
// entry for the whole matrix and batch-level entries per block. Lookups are
// order-insensitive: coordinates are canonicalized before keying, so the
// same client set in any order hits the same entries. Concurrent misses for
// one key collapse into a single computation.
type Provider struct {
	parallel *Parallel
	cache    cache.Cache
	ttl      cache.TTLPolicy
	group    singleflight.Group
}

// NewProvider wraps parallel with the cache. A nil cache disables caching
// but keeps the coalescing behaviour.
func NewProvider(parallel *Parallel, c cache.Cache, ttl cache.TTLPolicy) *Provider {
	return &Provider{parallel: parallel, cache: c, ttl: ttl}
}

// Matrix returns the full matrix over coords in the caller's coordinate
// order. owner scopes cache keys for event-driven invalidation; pass
// cache.SharedOwner when no agent owns the request.
func (p *Provider) Matrix(ctx context.Context, owner string, coords []geo.Coordinate, profile string) (*Matrix, error) {
	n := len(coords)
	if n == 0 {
		return nil, fmt.Errorf("matrix: empty coordinate list: %w", vrp.ErrInvalidInput)
	}
	if owner == "" {
		owner = cache.SharedOwner
	}

	sorted, pos := canonicalize(coords)
	requestKey := cache.MatrixKey(owner, sorted, profile)

	if m := p.cachedMatrix(ctx, requestKey, n, n); m != nil {
		return permute(m, pos), nil
	}

	v, err, _ := p.group.Do(requestKey, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have filled
		// the entry between our miss and the flight start.
		if m := p.cachedMatrix(ctx, requestKey, n, n); m != nil {
			return m, nil
		}
		return p.computeCanonical(ctx, owner, sorted, profile, requestKey)
	})
	if err != nil {
		return nil, err
	}
	return permute(v.(*Matrix), pos), nil
}

// computeCanonical assembles the canonical-order matrix from cached blocks
// plus backend calls for the misses, then writes both cache levels.
func (p *Provider) computeCanonical(ctx context.Context, owner string, sorted []geo.Coordinate, profile, requestKey string) (*Matrix, error) {
	n := len(sorted)
	chunks := p.parallel.Chunks(n)

	type blockRef struct {
		key  string
		task BlockTask
	}
	refs := make([]blockRef, 0, len(chunks)*len(chunks))
	keys := make([]string, 0, cap(refs))
	for _, src := range chunks {
		for _, dst := range chunks {
			key := cache.BatchKey(owner, sorted, profile, src, dst)
			refs = append(refs, blockRef{key: key, task: BlockTask{Sources: src, Dests: dst}})
			keys = append(keys, key)
		}
	}

	full := NewMatrix(n, n, Unreachable)
	hits := p.cachedBlocks(ctx, keys)
	var missing []BlockTask
	for _, ref := range refs {
		blob, ok := hits[ref.key]
		if !ok {
			missing = append(missing, ref.task)
			continue
		}
		var block Matrix
		if err := block.UnmarshalBinary(blob); err != nil ||
			block.Rows() != len(ref.task.Sources) || block.Cols() != len(ref.task.Dests) {
			missing = append(missing, ref.task)
			continue
		}
		stitch(full, &block, ref.task)
	}

	if len(missing) > 0 {
		bctx, cancel := context.WithTimeout(ctx, p.parallel.Deadline(len(chunks)))
		defer cancel()
		stats, err := p.parallel.Blocks(bctx, sorted, profile, missing, full)
		if err != nil {
			return nil, err
		}
		if stats.FailedBatches > 0 {
			log.Printf("[matrix] %s: %d/%d fresh batches failed", requestKey, stats.FailedBatches, stats.Batches)
		}
		p.storeBlocks(ctx, owner, sorted, profile, missing, full)
	}

	p.storeMatrix(ctx, requestKey, full)
	return full, nil
}

// Geometry returns the road path through coords, cached for a day.
func (p *Provider) Geometry(ctx context.Context, coords []geo.Coordinate, profile string) (*RouteGeometry, error) {
	key := cache.GeometryKey(coords, profile)
	if p.cache != nil {
		if blob, ok, err := p.cache.Get(ctx, key); err == nil && ok {
			var g RouteGeometry
			if err := json.Unmarshal(blob, &g); err == nil {
				return &g, nil
			}
		}
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		g, err := p.parallel.Backend().Route(ctx, coords, OverviewFull, profile)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if blob, err := json.Marshal(g); err == nil {
				if err := p.cache.Set(ctx, key, blob, p.ttl.Geometry); err != nil {
					log.Printf("[matrix] geometry cache write failed: %v", err)
				}
			}
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RouteGeometry), nil
}

// Invalidate drops every cached matrix owned by owner.
func (p *Provider) Invalidate(ctx context.Context, owner string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.DeletePattern(ctx, cache.MatrixPattern(owner))
}

func (p *Provider) cachedMatrix(ctx context.Context, key string, rows, cols int) *Matrix {
	if p.cache == nil {
		return nil
	}
	blob, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Printf("[matrix] cache read failed for %s: %v", key, err)
		return nil
	}
	if !ok {
		return nil
	}
	var m Matrix
	if err := m.UnmarshalBinary(blob); err != nil || m.Rows() != rows || m.Cols() != cols {
		log.Printf("[matrix] dropping undecodable entry %s", key)
		_ = p.cache.Delete(ctx, key)
		return nil
	}
	return &m
}

func (p *Provider) cachedBlocks(ctx context.Context, keys []string) map[string][]byte {
	if p.cache == nil {
		return nil
	}
	hits, err := p.cache.MGet(ctx, keys)
	if err != nil {
		log.Printf("[matrix] batch cache read failed: %v", err)
		return nil
	}
	return hits
}

func (p *Provider) storeBlocks(ctx context.Context, owner string, sorted []geo.Coordinate, profile string, tasks []BlockTask, full *Matrix) {
	if p.cache == nil {
		return
	}
	items := make(map[string][]byte, len(tasks))
	for _, task := range tasks {
		block := NewMatrix(len(task.Sources), len(task.Dests), Unreachable)
		for r, i := range task.Sources {
			for c, j := range task.Dests {
				block.Durations[r][c] = full.Durations[i][j]
				block.Distances[r][c] = full.Distances[i][j]
			}
		}
		blob, err := block.MarshalBinary()
		if err != nil {
			continue
		}
		items[cache.BatchKey(owner, sorted, profile, task.Sources, task.Dests)] = blob
	}
	if err := p.cache.MSet(ctx, items, p.ttl.Matrix); err != nil {
		log.Printf("[matrix] batch cache write failed: %v", err)
	}
}

func (p *Provider) storeMatrix(ctx context.Context, key string, m *Matrix) {
	if p.cache == nil {
		return
	}
	blob, err := m.MarshalBinary()
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, blob, p.ttl.Matrix); err != nil {
		log.Printf("[matrix] cache write failed for %s: %v", key, err)
	}
}

// canonicalize returns coords in canonical order plus each original
// coordinate's position in the sorted slice.
func canonicalize(coords []geo.Coordinate) ([]geo.Coordinate, []int) {
	n := len(coords)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ca, cb := coords[order[a]], coords[order[b]]
		if ca.Less(cb) {
			return true
		}
		if cb.Less(ca) {
			return false
		}
		return order[a] < order[b]
	})
	sorted := make([]geo.Coordinate, n)
	pos := make([]int, n)
	for k, orig := range order {
		sorted[k] = coords[orig]
		pos[orig] = k
	}
	return sorted, pos
}

// permute maps a canonical-order matrix back to the caller's order.
func permute(canonical *Matrix, pos []int) *Matrix {
	n := len(pos)
	out := NewMatrix(n, n, Unreachable)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Durations[i][j] = canonical.Durations[pos[i]][pos[j]]
			out.Distances[i][j] = canonical.Distances[pos[i]][pos[j]]
		}
	}
	return out
}
