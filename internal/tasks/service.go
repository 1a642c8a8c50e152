// Package tasks wires the result caches in front of the task store.
//
// Reads go cache first; on a miss the store is queried and the encoded result
// is written back only when the fetch succeeded and the caller is still
// waiting. Writes go straight to the store and do not invalidate: list and
// stats results may lag a write by up to the cache TTL.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tasklist-api/internal/cache"
	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/metrics"
	"tasklist-api/internal/storage"
	"tasklist-api/pkg/logging/logging"
)

type Options struct {
	// SingleFlight collapses concurrent misses on the same key into one fetch.
	SingleFlight bool
	Logger       *zap.Logger
}

type Service struct {
	store      storage.Store
	listCache  cache.ResultCache
	statsCache cache.ResultCache
	group      *singleflight.Group
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(store storage.Store, listCache, statsCache cache.ResultCache, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		listCache:  listCache,
		statsCache: statsCache,
		logger:     logger.Named("tasks"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if opts.SingleFlight {
		s.group = &singleflight.Group{}
	}
	return s
}

type ListResult struct {
	Page   domain.Page
	Cached bool
}

type StatsResult struct {
	Stats  domain.Stats
	Cached bool
}

// List returns one filtered page of the user's tasks.
func (s *Service) List(ctx context.Context, userID string, f filter.FilterSpec) (ListResult, error) {
	key := cache.ListKey(userID, f).String()

	page, cached, err := readThrough(ctx, s, s.listCache, key, "fetch_page", func(ctx context.Context) (domain.Page, error) {
		tasks, err := s.store.FetchPage(ctx, userID, f)
		if err != nil {
			return domain.Page{}, err
		}
		return domain.Page{
			Page:  f.Page,
			Limit: f.PageSize,
			Count: len(tasks),
			Data:  tasks,
		}, nil
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list tasks: %w", err)
	}
	return ListResult{Page: page, Cached: cached}, nil
}

// Stats returns the user's aggregate counts and completion rate.
func (s *Service) Stats(ctx context.Context, userID string) (StatsResult, error) {
	key := cache.StatsKey(userID).String()

	stats, cached, err := readThrough(ctx, s, s.statsCache, key, "fetch_stats", func(ctx context.Context) (domain.Stats, error) {
		counts, err := s.store.FetchStats(ctx, userID)
		if err != nil {
			return domain.Stats{}, err
		}
		return domain.NewStats(counts), nil
	})
	if err != nil {
		return StatsResult{}, fmt.Errorf("task stats: %w", err)
	}
	return StatsResult{Stats: stats, Cached: cached}, nil
}

// readThrough serves key from c, or fetches, stores and returns a fresh value.
// Cache failures degrade to a miss; they never fail the request. The cache
// decorator logs them.
func readThrough[T any](
	ctx context.Context,
	s *Service,
	c cache.ResultCache,
	key, op string,
	fetch func(ctx context.Context) (T, error),
) (T, bool, error) {
	var zero T
	logger := logging.FromContextOr(ctx, s.logger)

	raw, hit, _ := c.Get(ctx, key)
	if hit {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			return v, true, nil
		}
		logger.Warn("result_cache_decode_error", zap.String("cache", c.Name()), zap.Error(err))
	}

	load := func(ctx context.Context) (T, error) {
		start := time.Now()
		v, err := fetch(ctx)
		metrics.ObserveFetch(op, start, err)
		if err != nil {
			return zero, storage.Unavailable(op, err)
		}
		return v, nil
	}

	var v T
	if s.group == nil {
		var err error
		if v, err = load(ctx); err != nil {
			return zero, false, err
		}
	} else {
		// the shared fetch outlives any one caller's cancellation
		shared, err, _ := s.group.Do(c.Name()+"|"+key, func() (any, error) {
			return load(context.WithoutCancel(ctx))
		})
		if err != nil {
			return zero, false, err
		}
		v = shared.(T)
	}

	// a caller that gave up must not publish a result
	if ctx.Err() != nil {
		return v, false, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		logger.Warn("result_encode_error", zap.String("cache", c.Name()), zap.Error(err))
		return v, false, nil
	}
	// Set failures are logged by the decorator
	_ = c.Set(ctx, key, encoded)
	return v, false, nil
}

// TaskInput is the client-editable part of a task.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    string     `json:"priority"`
	Category    *string    `json:"category"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"dueDate"`
}

func (in TaskInput) apply(t *domain.Task) {
	t.Title = in.Title
	t.Description = in.Description
	t.Completed = in.Completed
	t.Priority = in.Priority
	t.Category = in.Category
	t.Tags = in.Tags
	t.DueDate = nil
	if in.DueDate != nil {
		due := in.DueDate.UTC()
		t.DueDate = &due
	}
}

func (s *Service) Create(ctx context.Context, userID string, in TaskInput) (domain.Task, error) {
	t := domain.Task{
		ID:        s.newID(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	in.apply(&t)
	t.Normalize()
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}

	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.logger.Debug("task created", zap.String("task_id", created.ID), zap.String("user_id", userID))
	return created, nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (domain.Task, error) {
	t, err := s.store.GetTask(ctx, userID, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Update replaces every editable field of the task.
func (s *Service) Update(ctx context.Context, userID, id string, in TaskInput) (domain.Task, error) {
	t := domain.Task{ID: id, UserID: userID}
	in.apply(&t)
	t.Normalize()
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}

	updated, err := s.store.UpdateTask(ctx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteTask(ctx, userID, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
