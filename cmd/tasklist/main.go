package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tasklist-api/internal/cache"
	"tasklist-api/internal/config"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/handlers"
	"tasklist-api/internal/httpserver"
	"tasklist-api/internal/metrics"
	"tasklist-api/internal/ratelimit"
	"tasklist-api/internal/storage"
	"tasklist-api/internal/storage/postgres"
	"tasklist-api/internal/storage/sqlite"
	"tasklist-api/internal/tasks"
	"tasklist-api/pkg/logging/logging"
)

const redisPrefix = "tasklist"

func main() {
	if err := run(); err != nil {
		log.Fatalf("tasklist exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("loaded config", zap.Stringer("config", cfg))

	// ----- Metrics -----
	metrics.Register()

	ctx := context.Background()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.RedisAddr))
	}

	// ----- Store -----
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// ----- Result caches -----
	rawList := cache.NewResultCache(cache.Config{
		Backend:       cfg.CacheBackend,
		Name:          cache.OpList,
		TTL:           cfg.ListCacheTTL,
		SweepInterval: cfg.CacheSweepInterval,
		Prefix:        redisPrefix,
	}, redisClient)
	rawStats := cache.NewResultCache(cache.Config{
		Backend:       cfg.CacheBackend,
		Name:          cache.OpStats,
		TTL:           cfg.StatsCacheTTL,
		SweepInterval: cfg.CacheSweepInterval,
		Prefix:        redisPrefix,
	}, redisClient)
	defer closeIfCloser(rawList)
	defer closeIfCloser(rawStats)

	// ----- Rate limiter -----
	limiter := ratelimit.New(ratelimit.Config{
		Backend:       cfg.RateLimitBackend,
		Window:        cfg.RateLimitWindow,
		Max:           cfg.RateLimitMax,
		SweepInterval: cfg.RateLimitSweepInterval,
		Prefix:        redisPrefix,
	}, redisClient)
	defer closeIfCloser(limiter)

	// ----- Service + handlers -----
	svc := tasks.NewService(store,
		cache.NewLoggingResultCache(rawList),
		cache.NewLoggingResultCache(rawStats),
		tasks.Options{SingleFlight: cfg.CacheSingleFlight, Logger: logger},
	)
	taskHandler := handlers.NewTaskHandler(svc, filter.Options{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.Deps{
		Logger:    logger,
		Tasks:     taskHandler,
		Limiter:   limiter,
		Ready:     svc.Ready,
		JWTSecret: cfg.JWTSecret,
		Timeout:   cfg.RequestTimeout,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, trusting X-User-ID header")
	}

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting tasklist api",
		zap.String("addr", srv.Addr),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	case <-stop:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// openStore opens the configured backend and wraps it with read retries.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		store, err = postgres.Open(ctx, cfg.DatabaseURL, logger)
	default:
		store, err = sqlite.Open(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	return storage.NewRetrying(store, storage.RetryConfig{MaxRetries: cfg.StoreRetries}, logger), nil
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
