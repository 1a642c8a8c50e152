package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
)

type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 50 * time.Millisecond
	}
	return c
}

// Retrying retries reads and Ping on transient failures. Writes pass through
// unchanged: a retried insert could land twice.
type Retrying struct {
	next   Store
	cfg    RetryConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ Store = (*Retrying)(nil)

func NewRetrying(next Store, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{
		next:   next,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("store_retry"),
		sleep:  sleepCtx,
	}
}

func (r *Retrying) FetchPage(ctx context.Context, userID string, f filter.FilterSpec) ([]domain.Task, error) {
	var out []domain.Task
	err := r.do(ctx, "FetchPage", func(ctx context.Context) error {
		var err error
		out, err = r.next.FetchPage(ctx, userID, f)
		return err
	})
	return out, err
}

func (r *Retrying) FetchStats(ctx context.Context, userID string) (domain.StatsCounts, error) {
	var out domain.StatsCounts
	err := r.do(ctx, "FetchStats", func(ctx context.Context) error {
		var err error
		out, err = r.next.FetchStats(ctx, userID)
		return err
	})
	return out, err
}

func (r *Retrying) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	var out domain.Task
	err := r.do(ctx, "GetTask", func(ctx context.Context) error {
		var err error
		out, err = r.next.GetTask(ctx, userID, id)
		return err
	})
	return out, err
}

func (r *Retrying) Ping(ctx context.Context) error {
	return r.do(ctx, "Ping", r.next.Ping)
}

func (r *Retrying) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	return r.next.CreateTask(ctx, t)
}

func (r *Retrying) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	return r.next.UpdateTask(ctx, t)
}

func (r *Retrying) DeleteTask(ctx context.Context, userID, id string) error {
	return r.next.DeleteTask(ctx, userID, id)
}

func (r *Retrying) Close() error {
	return r.next.Close()
}

// do runs call up to MaxRetries+1 times, backing off with full jitter between
// transient failures. Context errors are never retried.
func (r *Retrying) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	maxAttempts := r.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		backoff := computeBackoff(r.cfg.BaseBackoff, attempt)
		r.logger.Debug("transient storage error, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	r.logger.Warn("storage call exhausted retries",
		zap.String("op", op),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 40001 serialization failure; 57P01 admin shutdown
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "57P01"
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write"
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"database is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// computeBackoff returns a random delay in [0, base*2^attempt), capped at 5s.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	maxBackoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	const maxAllowed = 5 * time.Second
	if maxBackoff > maxAllowed {
		maxBackoff = maxAllowed
	}
	return time.Duration(rand.Float64() * float64(maxBackoff))
}
