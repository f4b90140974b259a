package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	routing "github.com/sharma23Mukul/ai-router/internal/router"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
	"github.com/sharma23Mukul/ai-router/pkg/apierr"
)

// Handler builds the full route table wrapped in the middleware chain.
// The inference path additionally goes through auth, the concurrency gate
// and the rate limiter; management routes skip those three.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()

	chat := applyMiddleware(g.handleChat,
		g.authenticate,
		g.concurrencyGate,
		g.rateLimit,
	)
	r.POST("/v1/chat/completions", chat)
	r.GET("/v1/models", g.handleModels)
	r.GET("/health", g.handleHealth)

	r.GET("/api/stats", g.handleStats)
	r.GET("/api/config", g.handleConfig)
	r.GET("/api/benchmarks", g.handleBenchmarks)
	r.POST("/api/tenants", g.handleCreateTenant)
	r.GET("/api/tenants", g.handleListTenants)
	r.POST("/api/feedback", g.handleFeedback)

	if g.metrics != nil {
		r.GET("/metrics", g.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// Start serves the gateway on addr (e.g. ":8080") until the listener fails.
func (g *Gateway) Start(addr string) error {
	srv := &fasthttp.Server{
		Handler:      g.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	queueDepth := 0
	if g.queue != nil {
		queueDepth = g.queue.Depth()
	}
	body := map[string]any{
		"status":      "ok",
		"queue_depth": queueDepth,
		"in_flight":   g.inflight.Active(),
		"breakers":    g.cb.Snapshots(),
	}
	if !g.ready.Load() {
		body["status"] = "unavailable"
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
	writeJSON(ctx, body)
}

// handleModels renders the catalog in the OpenAI list shape.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	models := g.catalog.All()
	data := make([]modelEntry, len(models))
	for i, m := range models {
		data[i] = modelEntry{ID: m.ID, Object: "model", Created: 0, OwnedBy: m.Provider}
	}
	writeJSON(ctx, map[string]any{"object": "list", "data": data})
}

func (g *Gateway) handleStats(ctx *fasthttp.RequestCtx) {
	stats, err := g.store.QueryStats(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"stats query failed", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	body := map[string]any{"requests": stats}
	if g.cache != nil {
		body["cache"] = g.cache.Stats()
	}
	writeJSON(ctx, body)
}

func (g *Gateway) handleConfig(ctx *fasthttp.RequestCtx) {
	weights := make(map[string]routing.Weights, len(routing.Strategies))
	for _, s := range routing.Strategies {
		weights[s] = routing.WeightsFor(s)
	}
	writeJSON(ctx, map[string]any{
		"strategies": routing.Strategies,
		"weights":    weights,
		"models":     g.catalog.All(),
	})
}

func (g *Gateway) handleBenchmarks(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"benchmarks": g.bench.Snapshots()})
}

func (g *Gateway) handleCreateTenant(ctx *fasthttp.RequestCtx) {
	var body struct {
		Name               string   `json:"name"`
		Strategy           string   `json:"strategy"`
		AllowedModels      []string `json:"allowed_models"`
		BudgetLimitMonthly *float64 `json:"budget_limit_monthly"`
		RateLimitRPM       int      `json:"rate_limit_rpm"`
		RateLimitTPM       int      `json:"rate_limit_tpm"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"invalid JSON: "+err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	t, key, err := g.tenants.Create(ctx, tenant.CreateParams{
		Name:               body.Name,
		Strategy:           body.Strategy,
		AllowedModels:      body.AllowedModels,
		BudgetLimitMonthly: body.BudgetLimitMonthly,
		RateLimitRPM:       body.RateLimitRPM,
		RateLimitTPM:       body.RateLimitTPM,
	})
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusCreated)
	// The api_key appears here and nowhere else.
	writeJSON(ctx, map[string]any{"tenant": t, "api_key": key})
}

func (g *Gateway) handleListTenants(ctx *fasthttp.RequestCtx) {
	tenants, err := g.tenants.List(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"tenant query failed", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	writeJSON(ctx, map[string]any{"tenants": tenants})
}

// handleFeedback records an explicit reward signal against a past request.
func (g *Gateway) handleFeedback(ctx *fasthttp.RequestCtx) {
	var body struct {
		RequestID string   `json:"request_id"`
		Quality   *float64 `json:"quality"`
		Success   *bool    `json:"success"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"invalid JSON: "+err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if body.RequestID == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'request_id' is required", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if body.Quality != nil && (*body.Quality < 0 || *body.Quality > 10) {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"quality must be between 0 and 10", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	row, ok, err := g.store.RequestByID(ctx, body.RequestID)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"request lookup failed", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	if !ok {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"unknown request id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	fb := bandit.Feedback{
		RequestID: row.RequestID,
		ModelID:   row.Model,
		TenantID:  row.TenantID,
		Quality:   body.Quality,
		Success:   body.Success,
		Timestamp: time.Now().UTC(),
	}
	g.bandit.Update(row.TenantID, row.Model, bandit.Reward(fb))
	if g.metrics != nil {
		g.metrics.RecordBanditUpdate(row.Model)
	}
	if err := g.store.InsertFeedback(ctx, fb); err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"feedback write failed", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	writeJSON(ctx, map[string]string{"status": "recorded"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
