package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	"github.com/sharma23Mukul/ai-router/internal/bench"
	"github.com/sharma23Mukul/ai-router/internal/cache"
	"github.com/sharma23Mukul/ai-router/internal/catalog"
	"github.com/sharma23Mukul/ai-router/internal/classify"
	"github.com/sharma23Mukul/ai-router/internal/config"
	"github.com/sharma23Mukul/ai-router/internal/metrics"
	"github.com/sharma23Mukul/ai-router/internal/providers"
	anthropicprov "github.com/sharma23Mukul/ai-router/internal/providers/anthropic"
	geminiprov "github.com/sharma23Mukul/ai-router/internal/providers/gemini"
	mockprov "github.com/sharma23Mukul/ai-router/internal/providers/mock"
	openaiprov "github.com/sharma23Mukul/ai-router/internal/providers/openai"
	openaicompatprov "github.com/sharma23Mukul/ai-router/internal/providers/openaicompat"
	"github.com/sharma23Mukul/ai-router/internal/proxy"
	"github.com/sharma23Mukul/ai-router/internal/ratelimit"
	"github.com/sharma23Mukul/ai-router/internal/router"
	"github.com/sharma23Mukul/ai-router/internal/store"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
)

// initInfra opens the SQLite store and, when needed, connects to Redis.
// Redis is required when CACHE_MODE=redis; the global rate limiter also
// uses it opportunistically when a URL is configured.
func (a *App) initInfra(ctx context.Context) error {
	if dir := filepath.Dir(a.cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	a.db = db
	a.queue = store.NewWriteQueue(db, a.log)

	if a.cfg.Cache.Mode == "redis" || (a.cfg.Limits.GlobalRPM > 0 && a.cfg.Redis.URL != "") {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProviders builds the upstream adapter map: a real adapter per
// configured key, keyless providers switched off. With no keys at all the
// whole catalog is mocked so the routing path stays exercisable in
// development.
func (a *App) initProviders(ctx context.Context) error {
	a.provs = buildProviders(ctx, a.cfg)

	real, mocked := []string{}, []string{}
	for name, p := range a.provs {
		if _, ok := p.(*mockprov.Provider); ok {
			mocked = append(mocked, name)
		} else {
			real = append(real, name)
		}
	}
	a.log.Info("providers loaded",
		slog.Any("real", real),
		slog.Any("mocked", mocked))

	if !a.cfg.HasAnyProviderKey() {
		a.log.Warn("no provider API keys configured; all upstreams are mocked")
	}
	return nil
}

// initServices creates the routing brain: classifier, scorer, bandit,
// benchmarker, response cache and metrics registry.
func (a *App) initServices(ctx context.Context) error {
	a.cat = catalog.Default()
	a.classifier = classify.New(a.log)
	a.rt = router.New(a.cat, a.log)

	models := a.cat.All()
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	a.engine = bandit.New(ids, a.db, a.log)
	a.benchmarks = bench.New(a.db, a.log)
	a.tenants = tenant.NewManager(a.db)

	switch a.cfg.Cache.Mode {
	case "redis":
		a.respCache = cache.NewSemantic(cache.NewRedisBackendFromClient(a.rdb), a.cacheConfig(), a.log)
		a.log.Info("cache backend: redis")
	case "memory":
		a.respCache = cache.NewSemantic(cache.NewMemoryBackend(ctx), a.cacheConfig(), a.log)
		a.log.Info("cache backend: memory (in-process)")
	case "none":
		a.log.Info("cache backend: disabled")
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initGateway assembles the proxy over everything initialised above.
func (a *App) initGateway(_ context.Context) error {
	var globalRPM *ratelimit.GlobalRPMLimiter
	if a.rdb != nil && a.cfg.Limits.GlobalRPM > 0 {
		globalRPM = ratelimit.NewGlobalRPMLimiter(a.rdb, a.cfg.Limits.GlobalRPM)
		a.log.Info("global rate limit enabled", slog.Int("rpm", a.cfg.Limits.GlobalRPM))
	}

	a.gw = proxy.New(proxy.Deps{
		Catalog:    a.cat,
		Providers:  a.provs,
		Classifier: a.classifier,
		Router:     a.rt,
		Bandit:     a.engine,
		Bench:      a.benchmarks,
		Cache:      a.respCache,
		Tenants:    a.tenants,
		Store:      a.db,
		Queue:      a.queue,
		GlobalRPM:  globalRPM,
	}, proxy.Options{
		Logger:  a.log,
		Metrics: a.prom,
		CBConfig: proxy.CBConfig{
			Window:               a.cfg.CircuitBreaker.Window,
			MinSamples:           a.cfg.CircuitBreaker.MinSamples,
			ErrorRateThreshold:   a.cfg.CircuitBreaker.ErrorRateThreshold,
			TimeoutRateThreshold: a.cfg.CircuitBreaker.TimeoutRateThreshold,
			P95LatencyMs:         a.cfg.CircuitBreaker.P95LatencyMs,
			BaseCooldown:         a.cfg.CircuitBreaker.BaseCooldown,
			MaxCooldown:          a.cfg.CircuitBreaker.MaxCooldown,
		},
		ProviderTimeout: a.cfg.ProviderTimeout,
		MaxConcurrent:   a.cfg.Limits.MaxConcurrent,
		CORSOrigins:     a.cfg.CORSOrigins,
	})

	return nil
}

// cacheConfig maps the loaded cache settings onto the semantic cache
// bounds, keeping shipped defaults for the untuned knobs.
func (a *App) cacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if a.cfg.Cache.MaxSize > 0 {
		cfg.MaxSize = a.cfg.Cache.MaxSize
	}
	if a.cfg.Cache.TTL > 0 {
		cfg.TTL = a.cfg.Cache.TTL
	}
	if a.cfg.Cache.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = a.cfg.Cache.SimilarityThreshold
	}
	return cfg
}

// buildProviders creates one adapter per configured API key; with zero
// keys the whole catalog is served by mocks.
func buildProviders(ctx context.Context, cfg *config.Config) map[string]providers.Provider {
	provs := make(map[string]providers.Provider)

	if cfg.OpenAI.APIKey != "" {
		var opts []openaiprov.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		provs["openai"] = openaiprov.New(cfg.OpenAI.APIKey, opts...)
	}
	if cfg.Anthropic.APIKey != "" {
		var opts []anthropicprov.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicprov.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		provs["anthropic"] = anthropicprov.New(cfg.Anthropic.APIKey, opts...)
	}
	if cfg.Gemini.APIKey != "" {
		var opts []geminiprov.Option
		if cfg.Gemini.BaseURL != "" {
			opts = append(opts, geminiprov.WithBaseURL(cfg.Gemini.BaseURL))
		}
		provs["gemini"] = geminiprov.New(ctx, cfg.Gemini.APIKey, opts...)
	}
	if cfg.Groq.APIKey != "" {
		provs["groq"] = openaicompatprov.NewGroq(cfg.Groq.APIKey)
	}
	if cfg.Cohere.APIKey != "" {
		provs["cohere"] = openaicompatprov.NewCohere(cfg.Cohere.APIKey)
	}

	// Mock mode applies only when no real key exists at all. With partial
	// keys, keyless providers are left out of the map entirely and the
	// dispatcher degrades to the configured set instead of fabricating
	// completions.
	if !cfg.HasAnyProviderKey() {
		for _, name := range catalog.Default().Providers() {
			provs[name] = mockprov.New(name)
		}
	}

	return provs
}

// redactURL replaces the userinfo portion of a URL with "***" for safe
// logging, e.g. "redis://:secret@host:6379" → "redis://***@host:6379".
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
