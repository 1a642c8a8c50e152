package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisResultCache implements ResultCache using Redis key expiry for the TTL.
type RedisResultCache struct {
	client *redis.Client
	name   string
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Name   string
	Prefix string
	TTL    time.Duration
}

// NewRedisResultCache creates a Redis-backed cache.
func NewRedisResultCache(client *redis.Client, config RedisConfig) *RedisResultCache {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &RedisResultCache{
		client: client,
		name:   config.Name,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

func (c *RedisResultCache) Name() string { return c.name }

// key builds the final Redis key: <prefix>:<name>:<key>.
// The name segment keeps the list and stats instances apart.
func (c *RedisResultCache) key(k string) string {
	k = c.name + ":" + k
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get retrieves a value from Redis cache.
// On Redis error, it returns (nil, false, err) so caller can log and treat as miss.
func (c *RedisResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}

	res, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	return res, true, nil
}

// Set stores a value with the cache TTL, replacing any previous value.
func (c *RedisResultCache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := c.client.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}
