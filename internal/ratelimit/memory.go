package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

type window struct {
	count int
	start time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryLimiter keeps per-identity windows in process. State is lost on restart.
type MemoryLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time
	shards []*shard

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter with empty state.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return newMemoryLimiter(cfg, time.Now)
}

func newMemoryLimiter(cfg Config, now func() time.Time) *MemoryLimiter {
	cfg = cfg.withDefaults()

	l := &MemoryLimiter{
		window: cfg.Window,
		max:    cfg.Max,
		now:    now,
		shards: make([]*shard, defaultShards),
		stop:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}

	if cfg.SweepInterval > 0 {
		go l.sweepLoop(cfg.SweepInterval)
	}
	return l
}

func (l *MemoryLimiter) shardFor(identity string) *shard {
	return l.shards[xxhash.Sum64String(identity)%uint64(len(l.shards))]
}

// Admit counts one operation for identity. Over-limit calls are still counted.
func (l *MemoryLimiter) Admit(_ context.Context, identity string) (Decision, error) {
	s := l.shardFor(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	w, ok := s.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		s.windows[identity] = w
	}
	w.count++

	return Decision{
		Allowed: w.count <= l.max,
		Count:   w.count,
		Limit:   l.max,
		ResetAt: w.start.Add(l.window),
	}, nil
}

func (l *MemoryLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Sweep drops windows that have ended and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		now := l.now()
		for id, w := range s.windows {
			if now.Sub(w.start) >= l.window {
				delete(s.windows, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len is the number of tracked identities.
func (l *MemoryLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Close stops the sweep goroutine.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}
