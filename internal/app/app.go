// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    — SQLite store, write queue, optional Redis
//  2. initProviders — upstream adapters (mocks where no key is set)
//  3. initServices — classifier, router, bandit, benchmarker, cache, metrics
//  4. initGateway  — proxy routes over everything above
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	"github.com/sharma23Mukul/ai-router/internal/bench"
	"github.com/sharma23Mukul/ai-router/internal/cache"
	"github.com/sharma23Mukul/ai-router/internal/catalog"
	"github.com/sharma23Mukul/ai-router/internal/classify"
	"github.com/sharma23Mukul/ai-router/internal/config"
	"github.com/sharma23Mukul/ai-router/internal/metrics"
	"github.com/sharma23Mukul/ai-router/internal/providers"
	"github.com/sharma23Mukul/ai-router/internal/proxy"
	"github.com/sharma23Mukul/ai-router/internal/router"
	"github.com/sharma23Mukul/ai-router/internal/store"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	db    *store.Store
	queue *store.WriteQueue

	cat        *catalog.Catalog
	classifier *classify.Classifier
	rt         *router.Router
	engine     *bandit.Engine
	benchmarks *bench.Benchmarker
	respCache  *cache.Semantic
	tenants    *tenant.Manager
	prom       *metrics.Registry

	provs map[string]providers.Provider
	gw    *proxy.Gateway

	closed bool
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and the background loops (write queue flusher,
// bandit recompute, benchmark persister) and blocks until ctx is cancelled
// or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.Int("providers", len(a.provs)),
		slog.Int("models", len(a.cat.All())),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.gw.Start(addr) })
	g.Go(func() error { return a.queue.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.benchmarks.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		a.gw.SetReady(false)
		a.Close()
		return nil
	})

	a.gw.SetReady(true)
	return g.Wait()
}

// Close flushes pending writes and releases all resources in reverse-init
// order. Safe to call multiple times.
func (a *App) Close() {
	if a.closed {
		return
	}
	a.closed = true

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.benchmarks != nil {
		a.benchmarks.Flush(flushCtx)
	}
	if a.queue != nil {
		a.queue.Flush(flushCtx)
	}
	if a.gw != nil {
		a.gw.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("store close error", slog.String("error", err.Error()))
		}
		a.db = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return rdb, nil
}
