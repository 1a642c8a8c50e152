package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window on first use.
// Returns {count, remaining window in ms}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisLimiter shares windows across replicas. The script runs atomically in
// Redis, so concurrent Admit calls for one identity never tear.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
	prefix string
}

func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	cfg = cfg.withDefaults()
	return &RedisLimiter{
		client: client,
		window: cfg.Window,
		max:    cfg.Max,
		prefix: cfg.Prefix,
	}
}

func (l *RedisLimiter) key(identity string) string {
	k := "ratelimit:" + identity
	if l.prefix == "" {
		return k
	}
	return l.prefix + ":" + k
}

func (l *RedisLimiter) Admit(ctx context.Context, identity string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.key(identity)},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}

	count := int(res[0])
	return Decision{
		Allowed: count <= l.max,
		Count:   count,
		Limit:   l.max,
		ResetAt: time.Now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}
