// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// The gateway starts with zero provider API keys: in that case every
// upstream is backed by a mock so the routing path stays exercisable in
// development. Once any real key is configured, providers without a key are
// switched off rather than mocked. Redis is optional — set CACHE_MODE=memory to use the
// built-in in-process cache with no external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn,
	// error. Default: info.
	LogLevel string

	// Provider API keys. A provider with no key is disabled; with no keys
	// at all the gateway runs fully mocked.
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Gemini    ProviderConfig
	Groq      ProviderConfig
	Cohere    ProviderConfig

	// DBPath is the SQLite database file. Default: "data/gateway.db".
	DBPath string

	// Redis holds the connection URL for the Redis-backed cache and the
	// global rate limiter. Required only when CacheMode is "redis".
	Redis RedisConfig

	// Cache controls response caching.
	Cache CacheConfig

	// CircuitBreaker controls per-provider breaker thresholds.
	CircuitBreaker CircuitBreakerConfig

	// Limits controls rate and concurrency limiting.
	Limits LimitsConfig

	// ProviderTimeout is the per-attempt upstream timeout. Default: 90s.
	ProviderTimeout time.Duration

	// CORSOrigins is the list of allowed CORS origins. Default: ["*"].
	CORSOrigins []string
}

// ProviderConfig holds configuration for a single upstream provider.
type ProviderConfig struct {
	// APIKey is the provider API key. Empty disables the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint. Useful for
	// local mocks and development.
	BaseURL string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the exact-tier backend:
	//   "redis"  — Redis-backed (requires REDIS_URL). Shared across replicas.
	//   "memory" — In-process TTL cache. No external deps.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the per-entry lifetime. Default: 1h.
	TTL time.Duration

	// MaxSize is the exact-tier entry cap before LRU eviction. Default: 10000.
	MaxSize int

	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit. Default: 0.92.
	SimilarityThreshold float64
}

// CircuitBreakerConfig controls per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	// Window is the rolling window over which events are evaluated.
	// Default: 60s.
	Window time.Duration

	// MinSamples is the number of events required before evaluation.
	// Default: 5.
	MinSamples int

	// ErrorRateThreshold opens the breaker at this fraction of failures.
	// Default: 0.5.
	ErrorRateThreshold float64

	// TimeoutRateThreshold opens the breaker at this fraction of timeouts.
	// Default: 0.3.
	TimeoutRateThreshold float64

	// P95LatencyMs opens the breaker when the window's p95 reaches it.
	// Default: 30000.
	P95LatencyMs float64

	// BaseCooldown is the initial open duration; each failed probe doubles
	// it up to MaxCooldown. Defaults: 10s and 120s.
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
}

// LimitsConfig controls rate and concurrency limiting.
type LimitsConfig struct {
	// GlobalRPM caps anonymous traffic across the instance when Redis is
	// configured. 0 disables the global limiter. Default: 0.
	GlobalRPM int

	// MaxConcurrent caps simultaneous in-flight inference requests.
	// Default: 100.
	MaxConcurrent int
}

// Load reads configuration from environment variables and (optionally)
// from config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "data/gateway.db")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CACHE_MAX_SIZE", 10000)
	v.SetDefault("CACHE_SIMILARITY_THRESHOLD", 0.92)

	v.SetDefault("CB_WINDOW", "60s")
	v.SetDefault("CB_MIN_SAMPLES", 5)
	v.SetDefault("CB_ERROR_RATE", 0.5)
	v.SetDefault("CB_TIMEOUT_RATE", 0.3)
	v.SetDefault("CB_P95_LATENCY_MS", 30000)
	v.SetDefault("CB_BASE_COOLDOWN", "10s")
	v.SetDefault("CB_MAX_COOLDOWN", "120s")

	v.SetDefault("GLOBAL_RPM", 0)
	v.SetDefault("MAX_CONCURRENT", 100)
	v.SetDefault("PROVIDER_TIMEOUT", "90s")

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		DBPath:   v.GetString("DB_PATH"),

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},
		Gemini:    ProviderConfig{APIKey: v.GetString("GEMINI_API_KEY"), BaseURL: v.GetString("GEMINI_BASE_URL")},
		Groq:      ProviderConfig{APIKey: v.GetString("GROQ_API_KEY")},
		Cohere:    ProviderConfig{APIKey: v.GetString("COHERE_API_KEY")},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:                strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:                 v.GetDuration("CACHE_TTL"),
			MaxSize:             v.GetInt("CACHE_MAX_SIZE"),
			SimilarityThreshold: v.GetFloat64("CACHE_SIMILARITY_THRESHOLD"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			Window:               v.GetDuration("CB_WINDOW"),
			MinSamples:           v.GetInt("CB_MIN_SAMPLES"),
			ErrorRateThreshold:   v.GetFloat64("CB_ERROR_RATE"),
			TimeoutRateThreshold: v.GetFloat64("CB_TIMEOUT_RATE"),
			P95LatencyMs:         v.GetFloat64("CB_P95_LATENCY_MS"),
			BaseCooldown:         v.GetDuration("CB_BASE_COOLDOWN"),
			MaxCooldown:          v.GetDuration("CB_MAX_COOLDOWN"),
		},

		Limits: LimitsConfig{
			GlobalRPM:     v.GetInt("GLOBAL_RPM"),
			MaxConcurrent: v.GetInt("MAX_CONCURRENT"),
		},

		ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),
		CORSOrigins:     v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as
// defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	if c.CircuitBreaker.Window <= 0 {
		return fmt.Errorf("config: CB_WINDOW must be a positive duration")
	}
	if c.CircuitBreaker.MinSamples < 1 {
		return fmt.Errorf("config: CB_MIN_SAMPLES must be ≥ 1, got %d", c.CircuitBreaker.MinSamples)
	}
	if c.CircuitBreaker.ErrorRateThreshold <= 0 || c.CircuitBreaker.ErrorRateThreshold > 1 {
		return fmt.Errorf("config: CB_ERROR_RATE must be in (0, 1], got %g", c.CircuitBreaker.ErrorRateThreshold)
	}

	if c.Limits.MaxConcurrent < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT must be ≥ 1, got %d", c.Limits.MaxConcurrent)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("config: PROVIDER_TIMEOUT must be a positive duration")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: DB_PATH must not be empty")
	}

	return nil
}

// HasAnyProviderKey reports whether at least one real upstream key is
// configured; with none the gateway runs fully mocked.
func (c *Config) HasAnyProviderKey() bool {
	return c.OpenAI.APIKey != "" ||
		c.Anthropic.APIKey != "" ||
		c.Gemini.APIKey != "" ||
		c.Groq.APIKey != "" ||
		c.Cohere.APIKey != ""
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
