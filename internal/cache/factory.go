package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend       string
	Name          string
	TTL           time.Duration
	SweepInterval time.Duration
	Prefix        string
}

// NewResultCache picks the backend named in cfg. Unknown backends get memory.
func NewResultCache(cfg Config, redisClient *redis.Client) ResultCache {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisResultCache(redisClient, RedisConfig{
			Name:   cfg.Name,
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL,
		})
	default:
		return NewMemoryResultCache(MemoryConfig{
			Name:          cfg.Name,
			TTL:           cfg.TTL,
			SweepInterval: cfg.SweepInterval,
		})
	}
}
