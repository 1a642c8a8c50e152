package cache

import (
	"context"
	"time"
)

// DefaultTTL is how long a stored result is served before it counts as stale.
const DefaultTTL = 30 * time.Second

// ResultCache memoizes encoded read results.
// Implemented by the in-process memory cache and the Redis cache.
type ResultCache interface {
	// Get returns the stored value if it is younger than the cache TTL.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set replaces any entry for key, stamping it with the current time.
	Set(ctx context.Context, key string, value []byte) error
	// Name identifies the cache instance ("list", "stats") in logs and metrics.
	Name() string
}
