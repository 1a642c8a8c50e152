package tasks

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"tasklist-api/internal/cache"
	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore counts reads and serves canned data.
type fakeStore struct {
	storage.Store

	pageFetches  atomic.Int32
	statsFetches atomic.Int32

	tasks   []domain.Task
	counts  domain.StatsCounts
	err     error
	release chan struct{}

	created []domain.Task
}

func (f *fakeStore) FetchPage(ctx context.Context, userID string, spec filter.FilterSpec) ([]domain.Task, error) {
	f.pageFetches.Add(1)
	if f.release != nil {
		<-f.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks, nil
}

func (f *fakeStore) FetchStats(ctx context.Context, userID string) (domain.StatsCounts, error) {
	f.statsFetches.Add(1)
	if f.err != nil {
		return domain.StatsCounts{}, f.err
	}
	return f.counts, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeStore) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}

func (f *fakeStore) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	return t, nil
}

type fixture struct {
	store *fakeStore
	clock *fakeClock
	svc   *Service
}

func newFixture(t *testing.T, singleFlight bool) fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := &fakeStore{
		tasks:  []domain.Task{{ID: "t1", UserID: "u1", Title: "a", Priority: "medium", Tags: []string{}, CreatedAt: clock.Now()}},
		counts: domain.StatsCounts{Total: 3, Completed: 2, Pending: 1},
	}
	list := cache.NewMemoryResultCache(cache.MemoryConfig{Name: "list", TTL: 30 * time.Second, Now: clock.Now})
	stats := cache.NewMemoryResultCache(cache.MemoryConfig{Name: "stats", TTL: 30 * time.Second, Now: clock.Now})
	t.Cleanup(func() {
		list.Close()
		stats.Close()
	})

	svc := NewService(store, list, stats, Options{SingleFlight: singleFlight, Logger: zaptest.NewLogger(t)})
	svc.now = clock.Now
	svc.newID = func() string { return "fixed-id" }
	return fixture{store: store, clock: clock, svc: svc}
}

func TestService_ListServesWithinTTL(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()
	f := filter.Build(url.Values{"page": {"1"}, "limit": {"10"}}, filter.Options{})

	steps := []struct {
		advance    time.Duration
		wantCached bool
		wantFetch  int32
	}{
		{0, false, 1},
		{10 * time.Second, true, 1},
		{21 * time.Second, false, 2}, // t=31s, past the 30s TTL
	}

	for i, step := range steps {
		fx.clock.Advance(step.advance)
		res, err := fx.svc.List(ctx, "u1", f)
		if err != nil {
			t.Fatalf("step %d: List: %v", i, err)
		}
		if res.Cached != step.wantCached {
			t.Fatalf("step %d: expected cached=%v, got %v", i, step.wantCached, res.Cached)
		}
		if got := fx.store.pageFetches.Load(); got != step.wantFetch {
			t.Fatalf("step %d: expected %d fetches, got %d", i, step.wantFetch, got)
		}
		if res.Page.Count != 1 || res.Page.Page != 1 || res.Page.Limit != 10 {
			t.Fatalf("step %d: unexpected page %+v", i, res.Page)
		}
	}
}

func TestService_CachedPageMatchesFresh(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()
	f := filter.Build(url.Values{}, filter.Options{})

	fresh, err := fx.svc.List(ctx, "u1", f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	cached, err := fx.svc.List(ctx, "u1", f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !cached.Cached {
		t.Fatal("expected second call to be served from cache")
	}
	if diff := cmp.Diff(fresh.Page, cached.Page); diff != "" {
		t.Errorf("cached page differs (-fresh +cached):\n%s", diff)
	}
}

func TestService_DistinctFiltersAreDistinctEntries(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	for _, params := range []url.Values{
		{},
		{"completed": {"true"}},
		{"completed": {"false"}},
		{"priority": {"high"}},
		{"page": {"2"}},
	} {
		if _, err := fx.svc.List(ctx, "u1", filter.Build(params, filter.Options{})); err != nil {
			t.Fatalf("List(%v): %v", params, err)
		}
	}
	if got := fx.store.pageFetches.Load(); got != 5 {
		t.Fatalf("expected 5 fetches, got %d", got)
	}

	// another identity never sees u1's entry
	if res, _ := fx.svc.List(ctx, "u2", filter.Build(url.Values{}, filter.Options{})); res.Cached {
		t.Fatal("expected a miss for a different identity")
	}
}

func TestService_FetchFailureIsNotCached(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()
	f := filter.Build(url.Values{}, filter.Options{})

	fx.store.err = errors.New("connection reset")
	_, err := fx.svc.List(ctx, "u1", f)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	fx.store.err = nil
	res, err := fx.svc.List(ctx, "u1", f)
	if err != nil {
		t.Fatalf("List after recovery: %v", err)
	}
	if res.Cached {
		t.Fatal("a failed fetch must not populate the cache")
	}
	if got := fx.store.pageFetches.Load(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestService_FailedRefetchAfterExpiryIsNotCached(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()
	f := filter.Build(url.Values{}, filter.Options{})

	if _, err := fx.svc.List(ctx, "u1", f); err != nil {
		t.Fatalf("List: %v", err)
	}
	fx.clock.Advance(31 * time.Second)

	fx.store.err = errors.New("connection reset")
	if _, err := fx.svc.List(ctx, "u1", f); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	// the expired entry is neither served nor refreshed by the failed fetch
	fx.store.err = nil
	res, err := fx.svc.List(ctx, "u1", f)
	if err != nil {
		t.Fatalf("List after recovery: %v", err)
	}
	if res.Cached {
		t.Fatal("expired entry served after a failed refetch")
	}
	if got := fx.store.pageFetches.Load(); got != 3 {
		t.Fatalf("expected 3 fetches, got %d", got)
	}

	res, err = fx.svc.List(ctx, "u1", f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !res.Cached {
		t.Fatal("recovered fetch must repopulate the cache")
	}
}

func TestService_CancelledCallerDoesNotPublish(t *testing.T) {
	fx := newFixture(t, false)
	f := filter.Build(url.Values{}, filter.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.svc.List(ctx, "u1", f); err != nil {
		t.Fatalf("List: %v", err)
	}

	res, err := fx.svc.List(context.Background(), "u1", f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Cached {
		t.Fatal("result fetched for a cancelled caller must not be cached")
	}
}

func TestService_Stats(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	first, err := fx.svc.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if first.Cached {
		t.Fatal("first Stats call must miss")
	}
	if !first.Stats.CompletionRate.Equal(decimal.RequireFromString("66.67")) {
		t.Fatalf("expected completion rate 66.67, got %s", first.Stats.CompletionRate)
	}

	second, err := fx.svc.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !second.Cached || fx.store.statsFetches.Load() != 1 {
		t.Fatalf("expected cached stats and one fetch, got cached=%v fetches=%d", second.Cached, fx.store.statsFetches.Load())
	}
	if !second.Stats.CompletionRate.Equal(first.Stats.CompletionRate) || second.Stats.Total != 3 {
		t.Fatalf("cached stats differ: %+v vs %+v", second.Stats, first.Stats)
	}

	// list and stats caches are independent
	if res, _ := fx.svc.List(ctx, "u1", filter.Build(url.Values{}, filter.Options{})); res.Cached {
		t.Fatal("stats entry must not satisfy a list read")
	}
}

func TestService_SingleFlightCollapsesMisses(t *testing.T) {
	fx := newFixture(t, true)
	fx.store.release = make(chan struct{})
	f := filter.Build(url.Values{}, filter.Options{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.List(context.Background(), "u1", f)
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(fx.store.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
	}
	if got := fx.store.pageFetches.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
}

func TestService_SingleFlightSurvivesLeaderCancel(t *testing.T) {
	fx := newFixture(t, true)
	fx.store.release = make(chan struct{})
	f := filter.Build(url.Values{}, filter.Options{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := fx.svc.List(leaderCtx, "u1", f)
		leaderDone <- err
	}()
	for fx.store.pageFetches.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		res ListResult
		err error
	}
	followerDone := make(chan result, 1)
	go func() {
		res, err := fx.svc.List(context.Background(), "u1", f)
		followerDone <- result{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(fx.store.release)

	if err := <-leaderDone; err != nil {
		t.Fatalf("leader List: %v", err)
	}
	got := <-followerDone
	if got.err != nil {
		t.Fatalf("follower failed because the leader went away: %v", got.err)
	}
	if len(got.res.Page.Data) != 1 {
		t.Fatalf("expected the fetched page, got %+v", got.res.Page)
	}
	if n := fx.store.pageFetches.Load(); n != 1 {
		t.Fatalf("expected one shared fetch, got %d", n)
	}

	// the follower is still waiting, so it publishes
	res, err := fx.svc.List(context.Background(), "u1", f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !res.Cached {
		t.Fatal("expected the shared result to be cached")
	}
}

type failingCache struct{ name string }

func (c failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (c failingCache) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("redis: connection refused")
}

func (c failingCache) Name() string { return c.name }

func TestService_CacheErrorsDegradeToMiss(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := &fakeStore{
		tasks:  []domain.Task{{ID: "t1", UserID: "u1", Title: "a", Priority: "medium", Tags: []string{}}},
		counts: domain.StatsCounts{Total: 1, Completed: 1},
	}
	svc := NewService(store, failingCache{"list"}, failingCache{"stats"}, Options{Logger: zap.New(core)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := svc.List(ctx, "u1", filter.Build(url.Values{}, filter.Options{}))
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if res.Cached || len(res.Page.Data) != 1 {
			t.Fatalf("expected a fresh page, got %+v", res)
		}
	}
	if got := store.pageFetches.Load(); got != 2 {
		t.Fatalf("expected every read to reach the store, got %d", got)
	}
	if _, err := svc.Stats(ctx, "u1"); err != nil {
		t.Fatalf("Stats: %v", err)
	}

	// cache errors are reported once, by the logging decorator
	if n := logs.Len(); n != 0 {
		t.Fatalf("service logged %d entries for cache errors: %v", n, logs.All())
	}
}

func TestService_CreateValidates(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, "u1", TaskInput{Title: "   "})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, domain.ErrInvalidTask) {
		t.Fatalf("expected validation error, got %v", err)
	}

	created, err := fx.svc.Create(ctx, "u1", TaskInput{Title: " write tests "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := domain.Task{
		ID:        "fixed-id",
		UserID:    "u1",
		Title:     "write tests",
		Priority:  domain.PriorityMedium,
		Tags:      []string{},
		CreatedAt: fx.clock.Now(),
	}
	if diff := cmp.Diff(want, created); diff != "" {
		t.Errorf("created task mismatch (-want +got):\n%s", diff)
	}
}

func TestService_GetNotFound(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.svc.Get(context.Background(), "u1", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
