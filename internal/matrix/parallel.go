package matrix

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/vrp"
)

// ParallelConfig controls the batch decomposition of large table requests.
type ParallelConfig struct {
	// BatchSize is the maximum chunk edge B; a request over n coordinates
	// becomes ceil(n/B)^2 backend calls. Default 100.
	BatchSize int
	// MaxConcurrent bounds in-flight backend calls. Default 4.
	MaxConcurrent int64
	// BackendTimeout is the expected per-call ceiling, used to derive the
	// overall deadline 2 * BackendTimeout * ceil(n/B). Default 30s.
	BackendTimeout time.Duration
	// RequireFull makes any batch failure abort the whole computation
	// instead of leaving sentinel cells.
	RequireFull bool
}

func (c ParallelConfig) withDefaults() ParallelConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 30 * time.Second
	}
	return c
}

// BlockTask is one backend call covering Sources x Dests.
type BlockTask struct {
	Sources []int
	Dests   []int
}

// BatchStats reports how a decomposed computation went.
type BatchStats struct {
	Batches       int
	FailedBatches int
	SentinelCells int
}

// Parallel decomposes full-matrix requests into bounded concurrent backend
// calls and stitches the blocks back together.
type Parallel struct {
	backend Backend
	cfg     ParallelConfig
}

// NewParallel wraps backend with batch decomposition.
func NewParallel(backend Backend, cfg ParallelConfig) *Parallel {
	return &Parallel{backend: backend, cfg: cfg.withDefaults()}
}

// Backend returns the wrapped road-network backend.
func (p *Parallel) Backend() Backend { return p.backend }

// Chunks partitions n indices into runs of at most the configured batch size.
func (p *Parallel) Chunks(n int) [][]int {
	return chunkIndices(n, p.cfg.BatchSize)
}

// Deadline returns the overall budget for a computation spanning chunkCount
// chunks per dimension: twice the per-call ceiling per chunk wave.
func (p *Parallel) Deadline(chunkCount int) time.Duration {
	if chunkCount < 1 {
		chunkCount = 1
	}
	return 2 * p.cfg.BackendTimeout * time.Duration(chunkCount)
}

func chunkIndices(n, size int) [][]int {
	if n <= 0 {
		return nil
	}
	out := make([][]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunk := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			chunk = append(chunk, i)
		}
		out = append(out, chunk)
	}
	return out
}

// FullMatrix computes the n x n matrix over coords. Small requests go to the
// backend in a single call; larger ones fan out per chunk pair. Cells of
// failed batches hold Unreachable unless RequireFull is set, in which case
// the first failure aborts everything.
func (p *Parallel) FullMatrix(ctx context.Context, coords []geo.Coordinate, profile string) (*Matrix, BatchStats, error) {
	n := len(coords)
	if n == 0 {
		return nil, BatchStats{}, fmt.Errorf("matrix: empty coordinate list: %w", vrp.ErrInvalidInput)
	}

	if n <= p.cfg.BatchSize {
		m, err := p.backend.Table(ctx, TableRequest{Coords: coords, Profile: profile})
		if err != nil {
			return nil, BatchStats{Batches: 1, FailedBatches: 1}, err
		}
		return m, BatchStats{Batches: 1}, nil
	}

	chunks := p.Chunks(n)
	tasks := make([]BlockTask, 0, len(chunks)*len(chunks))
	for _, src := range chunks {
		for _, dst := range chunks {
			tasks = append(tasks, BlockTask{Sources: src, Dests: dst})
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.Deadline(len(chunks)))
	defer cancel()

	result := NewMatrix(n, n, Unreachable)
	stats, err := p.Blocks(ctx, coords, profile, tasks, result)
	if err != nil {
		return nil, stats, err
	}
	stats.SentinelCells = result.UnreachableCells()
	return result, stats, nil
}

// Blocks runs the given tasks against the backend with bounded concurrency
// and stitches each returned block into dst at its chunk offsets. Tasks
// cover disjoint cell sets, so stitching needs no lock.
func (p *Parallel) Blocks(ctx context.Context, coords []geo.Coordinate, profile string, tasks []BlockTask, dst *Matrix) (BatchStats, error) {
	stats := BatchStats{Batches: len(tasks)}
	if len(tasks) == 0 {
		return stats, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(p.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var failed atomic.Int64
	var firstErr atomic.Value

	for ti, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone: remaining tasks are abandoned, their cells
			// keep the sentinel fill.
			failed.Add(int64(len(tasks) - ti))
			break
		}
		wg.Add(1)
		go func(task BlockTask) {
			defer wg.Done()
			defer sem.Release(1)

			block, err := p.backend.Table(ctx, TableRequest{
				Coords:  coords,
				Sources: task.Sources,
				Dests:   task.Dests,
				Profile: profile,
			})
			if err == nil && (block.Rows() != len(task.Sources) || block.Cols() != len(task.Dests)) {
				err = fmt.Errorf("matrix: block shape %dx%d, want %dx%d",
					block.Rows(), block.Cols(), len(task.Sources), len(task.Dests))
			}
			if err != nil {
				failed.Add(1)
				if p.cfg.RequireFull {
					firstErr.CompareAndSwap(nil, err)
					cancel()
				} else if ctx.Err() == nil {
					log.Printf("[matrix] batch %dx%d failed, cells marked unreachable: %v",
						len(task.Sources), len(task.Dests), err)
				}
				return
			}
			stitch(dst, block, task)
		}(task)
	}
	wg.Wait()

	stats.FailedBatches = int(failed.Load())
	if p.cfg.RequireFull && stats.FailedBatches > 0 {
		if err, ok := firstErr.Load().(error); ok && err != nil {
			return stats, fmt.Errorf("matrix: %d/%d batches failed: %w", stats.FailedBatches, stats.Batches, err)
		}
		return stats, fmt.Errorf("matrix: %d/%d batches failed: %w", stats.FailedBatches, stats.Batches, vrp.ErrBackendUnavailable)
	}
	if stats.FailedBatches == stats.Batches {
		return stats, fmt.Errorf("matrix: all %d batches failed: %w", stats.Batches, vrp.ErrBackendUnavailable)
	}
	return stats, nil
}

// stitch copies a block into the full matrix at the task's offsets.
func stitch(dst *Matrix, block *Matrix, task BlockTask) {
	for r, i := range task.Sources {
		for c, j := range task.Dests {
			dst.Durations[i][j] = block.Durations[r][c]
			dst.Distances[i][j] = block.Distances[r][c]
		}
	}
}
