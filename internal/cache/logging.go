package cache

import (
	"context"
	"time"

	"tasklist-api/internal/metrics"
	"tasklist-api/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingResultCache wraps a ResultCache with logging + metrics.
type LoggingResultCache struct {
	inner ResultCache
}

// NewLoggingResultCache returns a cache that logs and records metrics.
func NewLoggingResultCache(inner ResultCache) ResultCache {
	return &LoggingResultCache{inner: inner}
}

func (c *LoggingResultCache) Name() string { return c.inner.Name() }

func (c *LoggingResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(c.inner.Name(), result).Inc()

	fields := append(c.keyFields(key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("result_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("result_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingResultCache) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(c.keyFields(key),
		zap.Int("bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues(c.inner.Name(), "set_error").Inc()
		logger.Error("result_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("result_cache_set", fields...)
	}

	return err
}

func (c *LoggingResultCache) keyFields(key string) []zap.Field {
	fields := []zap.Field{
		zap.String("cache", c.inner.Name()),
		zap.String("cache_key", key),
	}
	if parts, ok := parseKey(key); ok {
		fields = append(fields,
			zap.String("operation", parts.operation),
			zap.String("identity", parts.identity),
		)
	}
	return fields
}
