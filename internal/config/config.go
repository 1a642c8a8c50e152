// Package config loads service settings from the environment (and a local
// .env file when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tasklist-api/internal/cache"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/ratelimit"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	StoreRetries  int    `mapstructure:"STORE_MAX_RETRIES"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	CacheBackend       string        `mapstructure:"CACHE_BACKEND"`
	ListCacheTTL       time.Duration `mapstructure:"LIST_CACHE_TTL"`
	StatsCacheTTL      time.Duration `mapstructure:"STATS_CACHE_TTL"`
	CacheSweepInterval time.Duration `mapstructure:"CACHE_SWEEP_INTERVAL"`
	CacheSingleFlight  bool          `mapstructure:"CACHE_SINGLE_FLIGHT"`

	RateLimitBackend       string        `mapstructure:"RATE_LIMIT_BACKEND"`
	RateLimitWindow        time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitMax           int           `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitSweepInterval time.Duration `mapstructure:"RATE_LIMIT_SWEEP_INTERVAL"`

	DefaultPageSize int `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int `mapstructure:"MAX_PAGE_SIZE"`

	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("STORE_BACKEND", StoreSQLite)
	v.SetDefault("SQLITE_PATH", "tasks.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORE_MAX_RETRIES", 2)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")

	v.SetDefault("CACHE_BACKEND", cache.BackendMemory)
	v.SetDefault("LIST_CACHE_TTL", cache.DefaultTTL)
	v.SetDefault("STATS_CACHE_TTL", cache.DefaultTTL)
	v.SetDefault("CACHE_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("CACHE_SINGLE_FLIGHT", false)

	v.SetDefault("RATE_LIMIT_BACKEND", ratelimit.BackendMemory)
	v.SetDefault("RATE_LIMIT_WINDOW", ratelimit.DefaultWindow)
	v.SetDefault("RATE_LIMIT_MAX", ratelimit.DefaultMax)
	v.SetDefault("RATE_LIMIT_SWEEP_INTERVAL", time.Minute)

	v.SetDefault("DEFAULT_PAGE_SIZE", filter.DefaultPageSize)
	v.SetDefault("MAX_PAGE_SIZE", filter.MaxPageSize)

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	for name, backend := range map[string]string{"CACHE_BACKEND": c.CacheBackend, "RATE_LIMIT_BACKEND": c.RateLimitBackend} {
		switch backend {
		case cache.BackendMemory:
		case cache.BackendRedis:
			if c.RedisAddr == "" {
				errs = append(errs, fmt.Errorf("%s=redis needs REDIS_ADDR", name))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s %q", name, backend))
		}
	}

	for name, d := range map[string]time.Duration{
		"LIST_CACHE_TTL":    c.ListCacheTTL,
		"STATS_CACHE_TTL":   c.StatsCacheTTL,
		"RATE_LIMIT_WINDOW": c.RateLimitWindow,
		"REQUEST_TIMEOUT":   c.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.CacheSweepInterval < 0 {
		errs = append(errs, errors.New("CACHE_SWEEP_INTERVAL must not be negative"))
	}
	if c.RateLimitSweepInterval < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SWEEP_INTERVAL must not be negative"))
	}
	if c.StoreRetries < 0 {
		errs = append(errs, errors.New("STORE_MAX_RETRIES must not be negative"))
	}

	for name, n := range map[string]int{
		"RATE_LIMIT_MAX":    c.RateLimitMax,
		"DEFAULT_PAGE_SIZE": c.DefaultPageSize,
		"MAX_PAGE_SIZE":     c.MaxPageSize,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if c.DefaultPageSize > c.MaxPageSize {
		errs = append(errs, fmt.Errorf("DEFAULT_PAGE_SIZE %d exceeds MAX_PAGE_SIZE %d", c.DefaultPageSize, c.MaxPageSize))
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs the Redis client.
func (c *Config) UsesRedis() bool {
	return c.CacheBackend == cache.BackendRedis || c.RateLimitBackend == ratelimit.BackendRedis
}

// String masks secrets.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "port=%s env=%s log_level=%s ", c.Port, c.Env, c.LogLevel)
	fmt.Fprintf(&sb, "store=%s cache=%s rate_limit=%s(%d/%s) ", c.StoreBackend, c.CacheBackend, c.RateLimitBackend, c.RateLimitMax, c.RateLimitWindow)
	fmt.Fprintf(&sb, "list_ttl=%s stats_ttl=%s single_flight=%v ", c.ListCacheTTL, c.StatsCacheTTL, c.CacheSingleFlight)
	if c.JWTSecret != "" {
		sb.WriteString("jwt_secret=********")
	} else {
		sb.WriteString("jwt_secret=(empty)")
	}
	return sb.String()
}
