package ratelimit

import "github.com/redis/go-redis/v9"

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New picks the backend named in cfg. Unknown backends get memory.
func New(cfg Config, redisClient *redis.Client) Limiter {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisLimiter(redisClient, cfg)
	default:
		return NewMemoryLimiter(cfg)
	}
}
