package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

type memoryEntry struct {
	value    []byte
	storedAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

type MemoryConfig struct {
	Name string
	TTL  time.Duration
	// SweepInterval enables a background sweep of stale entries; 0 disables it
	// and expiry stays purely lazy.
	SweepInterval time.Duration
	Shards        int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryResultCache is an in-process ResultCache. Keys are spread across
// shards so operations on different keys do not contend on one lock; every
// operation on a given key runs under its shard lock.
type MemoryResultCache struct {
	name        string
	ttl         time.Duration
	now         func() time.Time
	shards      []*shard
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewMemoryResultCache creates an empty cache.
// A TTL <= 0 falls back to DefaultTTL.
func NewMemoryResultCache(cfg MemoryConfig) *MemoryResultCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &MemoryResultCache{
		name:        cfg.Name,
		ttl:         cfg.TTL,
		now:         cfg.Now,
		shards:      make([]*shard, cfg.Shards),
		stopCleanup: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]memoryEntry)}
	}

	if cfg.SweepInterval > 0 {
		go c.sweepExpired(cfg.SweepInterval)
	}

	return c
}

func (c *MemoryResultCache) Name() string { return c.name }

func (c *MemoryResultCache) TTL() time.Duration { return c.ttl }

func (c *MemoryResultCache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Get returns a copy of the stored value while it is fresh.
// A stale entry is left in place; the next Set overwrites it.
func (c *MemoryResultCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := c.shardFor(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[key]
	if !ok || c.now().Sub(entry.storedAt) >= c.ttl {
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set unconditionally replaces the entry for key.
func (c *MemoryResultCache) Set(_ context.Context, key string, value []byte) error {
	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = memoryEntry{
		value:    valueCopy,
		storedAt: c.now(),
	}
	s.mu.Unlock()

	return nil
}

// sweepExpired periodically drops stale entries.
func (c *MemoryResultCache) sweepExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

// Sweep removes every stale entry and returns how many were dropped.
func (c *MemoryResultCache) Sweep() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		now := c.now()
		for k, v := range s.items {
			if now.Sub(v.storedAt) >= c.ttl {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Close stops the sweep goroutine, if any. Call this on shutdown or in tests.
func (c *MemoryResultCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

// Len returns the number of entries held, stale ones included.
func (c *MemoryResultCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear drops every entry in every shard.
func (c *MemoryResultCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]memoryEntry)
		s.mu.Unlock()
	}
}
