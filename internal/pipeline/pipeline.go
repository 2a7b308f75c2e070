package pipeline

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karavan-route/karavan/internal/vrp"
)

// ErrStopped is returned by Submit after the pipeline has shut down.
var ErrStopped = errors.New("pipeline stopped")

// errHandlerTimeout classifies a handler that overran its deadline.
var errHandlerTimeout = errors.New("handler timeout")

// Handler processes one event. A returned error triggers the retry policy;
// handlers must honor ctx, which carries the per-handler deadline.
type Handler func(ctx context.Context, ev Event) error

// Config sizes the pipeline.
type Config struct {
	// QueueSize bounds the waiting events. Default 1000.
	QueueSize int
	// Workers is the dispatch pool size. Default 8.
	Workers int
	// HandlerTimeout bounds one handler invocation. Default 10s.
	HandlerTimeout time.Duration
	// MaxRetries is how many redeliveries a failing event gets before it
	// dead-letters. Default 3.
	MaxRetries int
	// RetryBase is the backoff unit between redeliveries, doubled per
	// attempt. Default 1s.
	RetryBase time.Duration
	// DeadLetterSize bounds the retained dead letters. Default 256.
	DeadLetterSize int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.DeadLetterSize <= 0 {
		c.DeadLetterSize = 256
	}
	return c
}

// Stats are the pipeline's lifetime counters.
type Stats struct {
	Submitted    int64
	Rejected     int64
	Processed    int64
	Failed       int64
	Retried      int64
	Timeouts     int64
	DeadLettered int64
}

// Pipeline is the bounded priority queue plus its worker pool. Construct with
// New, register handlers, then Start. Within one priority class dispatch is
// FIFO by submission; a higher priority event always pops before lower ones.
// Handlers for distinct events may run concurrently, so cross-event ordering
// at execution time is not guaranteed beyond pop order.
type Pipeline struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	queue   eventHeap
	stopped bool

	seq      atomic.Uint64
	handlers map[Kind]Handler
	dead     *deadLetterRing

	stopCh chan struct{}
	wg     sync.WaitGroup

	submitted    atomic.Int64
	rejected     atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	retried      atomic.Int64
	timeouts     atomic.Int64
	deadLettered atomic.Int64
}

// New builds a stopped pipeline. Handlers are registered before Start.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		cfg:      cfg.withDefaults(),
		handlers: make(map[Kind]Handler),
		stopCh:   make(chan struct{}),
	}
	p.dead = newDeadLetterRing(p.cfg.DeadLetterSize)
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Register binds the handler for a kind. Exactly one handler serves each
// kind; a second registration replaces the first. Not safe to call after
// Start.
func (p *Pipeline) Register(kind Kind, h Handler) {
	p.handlers[kind] = h
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.workerLoop()
		}()
	}
	log.Printf("[pipeline] started %d workers, queue capacity %d", p.cfg.Workers, p.cfg.QueueSize)
}

// Stop rejects new submissions, lets the workers drain whatever is queued,
// and waits for in-flight handlers. Events still waiting on a retry delay
// dead-letter instead of dropping, so the pipeline reaches quiescence with
// every accepted event accounted for.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[pipeline] stopped after draining, %d events processed", p.processed.Load())
}

// Submit enqueues the event without blocking. A full queue rejects with
// ErrQueueFull; the event is never silently dropped.
func (p *Pipeline) Submit(ev Event) error {
	if !ev.Kind.IsValid() {
		return fmt.Errorf("pipeline: unknown event kind %q: %w", ev.Kind, vrp.ErrInvalidInput)
	}
	ev.seq = p.seq.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.rejected.Add(1)
		return fmt.Errorf("pipeline: %s event rejected: %w", ev.Kind, ErrStopped)
	}
	if len(p.queue) >= p.cfg.QueueSize {
		p.rejected.Add(1)
		return fmt.Errorf("pipeline: %d events waiting: %w", len(p.queue), vrp.ErrQueueFull)
	}
	heap.Push(&p.queue, ev)
	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// Depth returns the number of waiting events.
func (p *Pipeline) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// DeadLetters returns the retained dead letters, newest first.
func (p *Pipeline) DeadLetters() []DeadLetter {
	return p.dead.snapshot()
}

// ReplayDeadLetters resubmits every retained dead letter with a reset
// attempt counter and returns how many were requeued. Letters that no longer
// fit stay dead.
func (p *Pipeline) ReplayDeadLetters() int {
	requeued := 0
	for _, d := range p.dead.drain() {
		ev := d.Event
		ev.attempts = 0
		if err := p.Submit(ev); err != nil {
			p.dead.add(d)
			break
		}
		requeued++
	}
	return requeued
}

// Snapshot returns the lifetime counters.
func (p *Pipeline) Snapshot() Stats {
	return Stats{
		Submitted:    p.submitted.Load(),
		Rejected:     p.rejected.Load(),
		Processed:    p.processed.Load(),
		Failed:       p.failed.Load(),
		Retried:      p.retried.Load(),
		Timeouts:     p.timeouts.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

func (p *Pipeline) workerLoop() {
	for {
		ev, ok := p.pop()
		if !ok {
			return
		}
		p.dispatch(ev)
	}
}

// pop blocks until an event is available. A stopped pipeline keeps handing
// out queued events until the queue is empty, then releases the worker.
func (p *Pipeline) pop() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.stopped {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return Event{}, false
	}
	return heap.Pop(&p.queue).(Event), true
}

// dispatch runs the handler under its deadline. The handler executes on a
// side goroutine watched from here, so an overrun is logged and counted
// without wedging the worker; the abandoned invocation keeps its ctx
// cancelled.
func (p *Pipeline) dispatch(ev Event) {
	h, ok := p.handlers[ev.Kind]
	if !ok {
		p.failed.Add(1)
		log.Printf("[pipeline] no handler for %s event %s, dropping", ev.Kind, ev.ID)
		return
	}

	ev.attempts++
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h(ctx, ev)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		p.timeouts.Add(1)
		err = fmt.Errorf("pipeline: %s handler for %s: %w", ev.Kind, ev.ID, errHandlerTimeout)
	}
	if err == nil {
		p.processed.Add(1)
		return
	}

	p.failed.Add(1)
	log.Printf("[pipeline] %s event %s attempt %d failed: %v", ev.Kind, ev.ID, ev.attempts, err)
	if ev.attempts > p.cfg.MaxRetries {
		p.deadLettered.Add(1)
		p.dead.add(DeadLetter{Event: ev, Error: err.Error(), At: time.Now()})
		log.Printf("[pipeline] %s event %s dead-lettered after %d attempts", ev.Kind, ev.ID, ev.attempts)
		return
	}
	p.scheduleRetry(ev, err)
}

// scheduleRetry requeues the event after an exponential delay. The waiting
// goroutine is owned by the pipeline; a stop cuts the delay short and the
// event dead-letters rather than vanishing.
func (p *Pipeline) scheduleRetry(ev Event, cause error) {
	delay := p.cfg.RetryBase << (ev.attempts - 1)
	p.retried.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-time.After(delay):
		case <-p.stopCh:
			p.deadLettered.Add(1)
			p.dead.add(DeadLetter{Event: ev, Error: cause.Error(), At: time.Now()})
			return
		}
		if err := p.resubmit(ev); err != nil {
			p.deadLettered.Add(1)
			p.dead.add(DeadLetter{Event: ev, Error: cause.Error(), At: time.Now()})
		}
	}()
}

// resubmit requeues a retried event with a fresh sequence number; it joins
// the back of its priority class.
func (p *Pipeline) resubmit(ev Event) error {
	ev.seq = p.seq.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if len(p.queue) >= p.cfg.QueueSize {
		return vrp.ErrQueueFull
	}
	heap.Push(&p.queue, ev)
	p.cond.Signal()
	return nil
}
