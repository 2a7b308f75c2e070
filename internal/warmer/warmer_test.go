package warmer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/metrics"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/planner"
	"github.com/karavan-route/karavan/internal/repo"
	"github.com/karavan-route/karavan/internal/testutil"
)

type countingBackend struct {
	matrix.Estimator
	calls atomic.Int32
}

func (b *countingBackend) Table(ctx context.Context, req matrix.TableRequest) (*matrix.Matrix, error) {
	b.calls.Add(1)
	return b.Estimator.Table(ctx, req)
}

type fakePlanner struct {
	mu     sync.Mutex
	calls  []string
	failID string
}

func (f *fakePlanner) PlanDay(_ context.Context, agentID string, day time.Time) (planner.DayPlan, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agentID)
	f.mu.Unlock()
	if agentID == f.failID {
		return planner.DayPlan{}, errors.New("solver exploded")
	}
	return planner.DayPlan{Day: day, ClientIDs: []string{"c1"}}, nil
}

func (f *fakePlanner) planned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	warmer  *Warmer
	cache   cache.Cache
	backend *countingBackend
	plans   *fakePlanner
	coll    *metrics.Collector
	now     time.Time
}

// newFixture seeds two active agents: a1 with six clients (above the matrix
// warm threshold), a2 with two.
func newFixture(t *testing.T, plans *fakePlanner) *fixture {
	t.Helper()
	store := repo.NewMemory()
	for _, id := range []string{"a1", "a2"} {
		store.PutAgent(testutil.Agent(id))
		store.PutVehicle(testutil.Vehicle(id))
	}
	off := testutil.Agent("a3")
	off.Active = false
	store.PutAgent(off)
	for i := 0; i < 6; i++ {
		store.PutClient(testutil.Client("a1-c"+string(rune('0'+i)), "a1", model.FrequencyB, i+1, 0))
	}
	store.PutClient(testutil.Client("a2-c0", "a2", model.FrequencyB, 1, 1))
	store.PutClient(testutil.Client("a2-c1", "a2", model.FrequencyB, 2, 1))

	mem, err := cache.NewMemory(8 << 20)
	if err != nil {
		t.Fatalf("cache.NewMemory: %v", err)
	}
	backend := &countingBackend{}
	par := matrix.NewParallel(backend, matrix.ParallelConfig{BatchSize: 100, MaxConcurrent: 4})
	provider := matrix.NewProvider(par, mem, cache.DefaultTTLPolicy())

	now := testutil.Day.Add(5 * time.Hour)
	coll := metrics.NewCollector()
	w := New(Config{MinClients: 5}, Deps{
		Store:    store,
		Matrices: provider,
		Plans:    plans,
		Cache:    mem,
		TTL:      cache.DefaultTTLPolicy(),
		Metrics:  coll,
		Clock:    clock.NewManual(now),
	})
	return &fixture{warmer: w, cache: mem, backend: backend, plans: plans, coll: coll, now: now}
}

func mustHave(t *testing.T, c cache.Cache, key string) {
	t.Helper()
	if _, ok, err := c.Get(context.Background(), key); err != nil || !ok {
		t.Fatalf("key %s missing (ok=%v, err=%v)", key, ok, err)
	}
}

func TestWarmNowFullPass(t *testing.T) {
	plans := &fakePlanner{}
	f := newFixture(t, plans)

	if err := f.warmer.WarmNow(context.Background()); err != nil {
		t.Fatalf("WarmNow: %v", err)
	}

	for _, id := range []string{"a1", "a2"} {
		mustHave(t, f.cache, cache.ClientsKey(id))
		mustHave(t, f.cache, cache.VehiclesKey(id))
		mustHave(t, f.cache, cache.ScheduleKey(id, f.now))
	}
	// Only a1 crosses the matrix threshold; its 7x7 table fits one batch.
	if got := f.backend.calls.Load(); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}
	if got := f.plans.planned(); len(got) != 2 {
		t.Fatalf("planned agents = %v, want both", got)
	}
	if n := f.coll.Value(metrics.CounterWarmedAgents); n != 2 {
		t.Fatalf("warmed counter = %d, want 2", n)
	}
	// The inactive agent is never touched.
	if _, ok, _ := f.cache.Get(context.Background(), cache.ClientsKey("a3")); ok {
		t.Fatal("inactive agent was warmed")
	}
}

func TestWarmNowIsolatesAgentFailures(t *testing.T) {
	plans := &fakePlanner{failID: "a1"}
	f := newFixture(t, plans)

	if err := f.warmer.WarmNow(context.Background()); err != nil {
		t.Fatalf("WarmNow: %v", err)
	}
	// a1's plan failed, a2 still warmed end to end.
	mustHave(t, f.cache, cache.ScheduleKey("a2", f.now))
	if _, ok, _ := f.cache.Get(context.Background(), cache.ScheduleKey("a1", f.now)); ok {
		t.Fatal("failed plan should not be cached")
	}
	if n := f.coll.Value(metrics.CounterWarmerErrors); n != 1 {
		t.Fatalf("error counter = %d, want 1", n)
	}
	if n := f.coll.Value(metrics.CounterWarmedAgents); n != 1 {
		t.Fatalf("warmed counter = %d, want 1", n)
	}
}

func TestWarmNowSkipsWarmSchedules(t *testing.T) {
	plans := &fakePlanner{}
	f := newFixture(t, plans)

	key := cache.ScheduleKey("a1", f.now)
	if err := f.cache.Set(context.Background(), key, []byte(`{}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.warmer.WarmNow(context.Background()); err != nil {
		t.Fatalf("WarmNow: %v", err)
	}
	if got := f.plans.planned(); len(got) != 1 || got[0] != "a2" {
		t.Fatalf("planned agents = %v, want only a2", got)
	}
}
