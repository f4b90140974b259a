// Package proxy is the core inference request dispatcher.
//
// The Gateway receives an incoming OpenAI-compatible chat request, resolves
// the tenant, checks the cache, classifies the prompt, asks the router for a
// ranked candidate list, and dispatches to the selected provider — falling
// back down the list when an upstream fails or its breaker is open.
//
// Key design constraints:
//   - No blocking storage I/O on the hot path; log rows go through the
//     async write queue and flush off-request.
//   - Classifier, bandit and cache never fail a request: they degrade to
//     heuristics, neutral scores, or a miss.
//   - Streaming responses are piped through SSE and never cached.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	"github.com/sharma23Mukul/ai-router/internal/bench"
	"github.com/sharma23Mukul/ai-router/internal/cache"
	"github.com/sharma23Mukul/ai-router/internal/catalog"
	"github.com/sharma23Mukul/ai-router/internal/classify"
	"github.com/sharma23Mukul/ai-router/internal/metrics"
	"github.com/sharma23Mukul/ai-router/internal/providers"
	"github.com/sharma23Mukul/ai-router/internal/ratelimit"
	"github.com/sharma23Mukul/ai-router/internal/router"
	"github.com/sharma23Mukul/ai-router/internal/store"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
	"github.com/sharma23Mukul/ai-router/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"

	// cacheProvider is the provider name logged for cache-served responses.
	cacheProvider = "cache"

	// DefaultMaxConcurrent is the global in-flight request cap.
	DefaultMaxConcurrent = 100

	promptPreviewLen = 100
)

// Deps are the collaborators a Gateway dispatches through. All are required
// except GlobalRPM.
type Deps struct {
	Catalog    *catalog.Catalog
	Providers  map[string]providers.Provider
	Classifier *classify.Classifier
	Router     *router.Router
	Bandit     *bandit.Engine
	Bench      *bench.Benchmarker
	Cache      *cache.Semantic
	Tenants    *tenant.Manager
	Store      *store.Store
	Queue      *store.WriteQueue

	// GlobalRPM is the optional Redis sliding-window limiter for anonymous
	// traffic across replicas. Nil disables it.
	GlobalRPM *ratelimit.GlobalRPMLimiter
}

// Options holds optional tuning parameters for a Gateway. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger for request events and routing
	// diagnostics. Defaults to slog.Default.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. Nil disables.
	Metrics *metrics.Registry

	// CBConfig configures the per-provider circuit breaker thresholds.
	// Zero values use the package-level defaults.
	CBConfig CBConfig

	// ProviderTimeout is the per-provider request timeout.
	// Default: providers.ProviderTimeout.
	ProviderTimeout time.Duration

	// MaxConcurrent caps simultaneously active inference requests.
	// Default: DefaultMaxConcurrent.
	MaxConcurrent int

	// CORSOrigins is the CORS allowlist. Empty or ["*"] allows all.
	CORSOrigins []string
}

// Gateway is the main dispatcher — all collaborators are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	catalog    *catalog.Catalog
	providers  map[string]providers.Provider
	classifier *classify.Classifier
	router     *router.Router
	bandit     *bandit.Engine
	bench      *bench.Benchmarker
	cache      *cache.Semantic
	cb         *CircuitBreaker
	tenants    *tenant.Manager
	store      *store.Store
	queue      *store.WriteQueue
	buckets    *ratelimit.TokenBuckets
	inflight   *ratelimit.InFlight
	globalRPM  *ratelimit.GlobalRPMLimiter
	metrics    *metrics.Registry
	log        *slog.Logger

	providerTimeout time.Duration
	corsOrigins     []string
	ready           atomic.Bool
}

// New creates a fully wired Gateway.
func New(deps Deps, opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	providerTimeout := opts.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = providers.ProviderTimeout
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	g := &Gateway{
		catalog:         deps.Catalog,
		providers:       deps.Providers,
		classifier:      deps.Classifier,
		router:          deps.Router,
		bandit:          deps.Bandit,
		bench:           deps.Bench,
		cache:           deps.Cache,
		cb:              NewCircuitBreakerWithConfig(opts.CBConfig),
		tenants:         deps.Tenants,
		store:           deps.Store,
		queue:           deps.Queue,
		buckets:         ratelimit.NewTokenBuckets(),
		inflight:        ratelimit.NewInFlight(maxConcurrent),
		globalRPM:       deps.GlobalRPM,
		metrics:         opts.Metrics,
		log:             log,
		providerTimeout: providerTimeout,
		corsOrigins:     opts.CORSOrigins,
	}
	g.ready.Store(true)
	return g
}

// SetReady flips the /health readiness flag; used during startup and
// shutdown draining.
func (g *Gateway) SetReady(ready bool) { g.ready.Store(ready) }

// Close stops the gateway's own background state (token bucket cleanup).
// Injected collaborators are closed by their owner.
func (g *Gateway) Close() { g.buckets.Close() }

// Breaker exposes the circuit breaker for health snapshots and wiring.
func (g *Gateway) Breaker() *CircuitBreaker { return g.cb }

// ── Wire types ────────────────────────────────────────────────────────────────

type (
	inboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	inboundRequest struct {
		Messages    []inboundMessage `json:"messages"`
		Model       string           `json:"model"`
		Strategy    string           `json:"strategy"`
		Stream      bool             `json:"stream"`
		Temperature float64          `json:"temperature"`
		TopP        float64          `json:"top_p"`
		MaxTokens   int              `json:"max_tokens"`
	}

	outboundUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	outboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	outboundChoice struct {
		Index        int             `json:"index"`
		Message      outboundMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	// routingMeta is the _routing block decorating every gateway response.
	routingMeta struct {
		RequestID        string           `json:"requestId"`
		ModelSelected    string           `json:"modelSelected"`
		Provider         string           `json:"provider"`
		Strategy         string           `json:"strategy"`
		Complexity       string           `json:"complexity"`
		ComplexityScore  float64          `json:"complexityScore"`
		Confidence       float64          `json:"confidence"`
		Intent           string           `json:"intent"`
		RoutingScore     float64          `json:"routingScore"`
		ScoreBreakdown   router.Breakdown `json:"scoreBreakdown"`
		LatencyMs        float64          `json:"latencyMs"`
		Cost             float64          `json:"cost"`
		EnergyIntensity  float64          `json:"energyIntensity"`
		ClassifierMethod string           `json:"classifierMethod"`
	}

	outboundResponse struct {
		ID      string           `json:"id"`
		Object  string           `json:"object"`
		Created int64            `json:"created"`
		Model   string           `json:"model"`
		Choices []outboundChoice `json:"choices"`
		Usage   outboundUsage    `json:"usage"`
		Routing *routingMeta     `json:"_routing,omitempty"`
	}
)

// userContent concatenates the user-role message contents, newest last.
func userContent(msgs []inboundMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func preview(s string) string {
	if len(s) > promptPreviewLen {
		return s[:promptPreviewLen]
	}
	return s
}

// pickStrategy resolves the routing strategy: tenant default wins over the
// request field, which wins over cost-first.
func pickStrategy(t *tenant.Tenant, requested string) string {
	if t != nil && t.Strategy != "" {
		return t.Strategy
	}
	if requested != "" {
		return requested
	}
	return router.StrategyCostFirst
}

// handleChat is the hot path: POST /v1/chat/completions.
func (g *Gateway) handleChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqID, _ := ctx.UserValue(ctxKeyRequestID).(string)
	t, _ := ctx.UserValue(ctxKeyTenant).(*tenant.Tenant)
	tenantID := ""
	if t != nil {
		tenantID = t.ID
	}

	servedProvider := "unknown"
	streaming := false
	defer func() {
		if streaming {
			return // finalised by the stream writer
		}
		if g.metrics != nil {
			g.metrics.ObserveHTTP("chat_completions", ctx.Response.StatusCode(), time.Since(start))
		}
		_ = servedProvider
	}()

	var req inboundRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	prompt := userContent(req.Messages)
	if strings.TrimSpace(prompt) == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"at least one user message is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	strategy := pickStrategy(t, req.Strategy)
	hash := cache.Key(prompt)

	// 1. Cache lookup — exact tier only on this path (no embedding is
	// computed inline); never for streams.
	if !req.Stream && g.cache != nil {
		if res := g.cache.Lookup(ctx, hash, nil); res.Hit {
			servedProvider = cacheProvider
			if g.metrics != nil {
				g.metrics.CacheHit(string(res.Source))
			}
			g.log.InfoContext(ctx, "cache hit",
				slog.String("request_id", reqID),
				slog.String("source", string(res.Source)),
				slog.String("model", res.Model))

			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(res.Response)

			g.enqueueLog(store.RequestLog{
				RequestID:     reqID,
				TenantID:      tenantID,
				PromptPreview: preview(prompt),
				Model:         res.Model,
				Provider:      cacheProvider,
				Strategy:      strategy,
				LatencyMs:     float64(time.Since(start).Milliseconds()),
				Status:        fasthttp.StatusOK,
				CacheHit:      true,
				CreatedAt:     time.Now().UTC(),
			}, false)
			return
		}
		if g.metrics != nil {
			g.metrics.CacheMiss()
		}
	}

	// 2. Classify.
	cls := g.classifier.Classify(prompt)
	if g.metrics != nil {
		g.metrics.RecordClassification(cls.Tier, cls.Method)
	}

	// 3. Route with live signals.
	opts := router.Options{
		RLScores:      g.bandit.Sample(tenantID),
		Benchmarks:    g.benchmarks(),
		OpenProviders: g.cb.OpenProviders(),
		AllowedModels: g.allowedModels(t, req.Model),
	}
	decision := g.router.Route(cls, strategy, opts)
	sel := decision.Candidates[0]
	servedProvider = sel.Provider
	if g.metrics != nil {
		g.metrics.RecordRouting(strategy, sel.ModelID)
	}

	g.log.InfoContext(ctx, "routed",
		slog.String("request_id", reqID),
		slog.String("tier", cls.Tier),
		slog.String("intent", cls.Intent),
		slog.String("strategy", strategy),
		slog.String("model", sel.ModelID),
		slog.Bool("stream", req.Stream))

	// 4. Streaming branch.
	if req.Stream {
		g.dispatchStream(ctx, &req, decision, cls, strategy, prompt, t, start)
		streaming = ctx.Response.StatusCode() == fasthttp.StatusOK
		return
	}

	// 5. Non-streaming: walk the fallback list.
	resp, served, upLatency, err := g.dispatchWithFallback(ctx, &req, decision, reqID)
	if err != nil {
		g.log.ErrorContext(ctx, "all providers failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		g.writeDispatchError(ctx, err)
		g.enqueueLog(store.RequestLog{
			RequestID:     reqID,
			TenantID:      tenantID,
			PromptPreview: preview(prompt),
			Tier:          cls.Tier,
			Score:         cls.Score,
			Confidence:    cls.Confidence,
			Intent:        cls.Intent,
			Model:         sel.ModelID,
			Provider:      sel.Provider,
			Strategy:      strategy,
			LatencyMs:     float64(time.Since(start).Milliseconds()),
			Status:        ctx.Response.StatusCode(),
			Reasoning:     decision.Reasoning,
			CreatedAt:     time.Now().UTC(),
		}, true)
		return
	}
	servedProvider = served.Provider

	model := g.catalog.Get(served.ModelID)
	cost := model.Cost(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	energy := model.Energy(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	latencyMs := float64(time.Since(start).Milliseconds())

	out := outboundResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   served.ModelID,
		Choices: []outboundChoice{{
			Index:        0,
			Message:      outboundMessage{Role: "assistant", Content: resp.Content},
			FinishReason: finishReason(resp.FinishReason),
		}},
		Usage: outboundUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Routing: &routingMeta{
			RequestID:        reqID,
			ModelSelected:    served.ModelID,
			Provider:         served.Provider,
			Strategy:         strategy,
			Complexity:       cls.Tier,
			ComplexityScore:  cls.Score,
			Confidence:       cls.Confidence,
			Intent:           cls.Intent,
			RoutingScore:     served.Score,
			ScoreBreakdown:   served.Breakdown,
			LatencyMs:        latencyMs,
			Cost:             cost,
			EnergyIntensity:  model.EnergyIntensity,
			ClassifierMethod: cls.Method,
		},
	}

	body, merr := json.Marshal(out)
	if merr != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	// Cache, then log — cache writes come first so an identical follow-up
	// hits even if the flush lags.
	if g.cache != nil {
		g.cache.Store(ctx, hash, body, served.ModelID, nil)
	}

	g.recordOutcome(outcome{
		requestID: reqID,
		tenant:    t,
		prompt:    prompt,
		cls:       cls,
		strategy:  strategy,
		candidate: served,
		reasoning: decision.Reasoning,
		usage:     resp.Usage,
		cost:      cost,
		energy:    energy,
		latencyMs: latencyMs,
		upstream:  upLatency,
		status:    fasthttp.StatusOK,
	})

	if g.metrics != nil {
		g.metrics.RecordRequest(served.Provider, served.ModelID, fasthttp.StatusOK, cost)
		g.metrics.AddTokens(served.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// dispatchWithFallback walks the ranked candidate list: skip providers
// already tried, skip providers whose breaker refuses, stop at the first
// success. Breaker and benchmarker observations are recorded per attempt.
func (g *Gateway) dispatchWithFallback(
	ctx *fasthttp.RequestCtx,
	req *inboundRequest,
	decision router.Decision,
	reqID string,
) (*providers.ProxyResponse, router.Candidate, time.Duration, error) {
	tried := map[string]bool{}
	var lastErr error
	prevProvider := ""

	for _, cand := range decision.Candidates {
		if tried[cand.Provider] {
			continue
		}
		prov, ok := g.providers[cand.Provider]
		if !ok {
			continue
		}
		if allowed, reason := g.cb.CanExecute(cand.Provider); !allowed {
			g.log.DebugContext(ctx, "breaker refused candidate",
				slog.String("provider", cand.Provider),
				slog.String("reason", reason))
			continue
		}
		tried[cand.Provider] = true

		if prevProvider != "" && g.metrics != nil {
			g.metrics.RecordFallback(prevProvider, cand.Provider)
		}
		prevProvider = cand.Provider

		provCtx, cancel := context.WithTimeout(ctx, g.providerTimeout)
		upStart := time.Now()
		resp, err := prov.Request(provCtx, g.proxyRequest(req, cand.ModelID, reqID))
		upLatency := time.Since(upStart)
		cancel()

		latencyMs := float64(upLatency.Milliseconds())
		if err != nil {
			timedOut := isTimeout(err)
			g.cb.RecordFailure(cand.Provider, latencyMs, timedOut)
			g.bench.Record(cand.ModelID, latencyMs, false, timedOut)
			if g.metrics != nil {
				g.metrics.RecordError(cand.Provider, errorLabel(err))
				g.syncBreakerGauge(cand.Provider)
			}
			g.log.WarnContext(ctx, "provider attempt failed",
				slog.String("request_id", reqID),
				slog.String("provider", cand.Provider),
				slog.String("model", cand.ModelID),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}

		g.cb.RecordSuccess(cand.Provider, latencyMs)
		g.bench.Record(cand.ModelID, latencyMs, true, false)
		if g.metrics != nil {
			g.syncBreakerGauge(cand.Provider)
		}
		return resp, cand, upLatency, nil
	}

	if lastErr == nil {
		lastErr = errNoProviderAvailable
	}
	return nil, router.Candidate{}, 0, lastErr
}

var errNoProviderAvailable = errors.New("no provider available for any candidate")

func (g *Gateway) proxyRequest(req *inboundRequest, modelID, reqID string) *providers.ProxyRequest {
	msgs := make([]providers.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	// The strategy field never travels upstream: the ProxyRequest carries
	// only the fields the provider wire format knows.
	return &providers.ProxyRequest{
		Model:       modelID,
		Messages:    msgs,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		RequestID:   reqID,
	}
}

// outcome bundles everything one completed request needs recorded.
type outcome struct {
	requestID string
	tenant    *tenant.Tenant
	prompt    string
	cls       classify.Result
	strategy  string
	candidate router.Candidate
	reasoning string
	usage     providers.Usage
	cost      float64
	energy    float64
	latencyMs float64
	upstream  time.Duration
	status    int
}

// recordOutcome emits the log row, the bandit feedback, the feedback row
// and the tenant usage update for one completed request. Storage failures
// are logged and never surface.
func (g *Gateway) recordOutcome(o outcome) {
	tenantID := ""
	if o.tenant != nil {
		tenantID = o.tenant.ID
	}

	g.enqueueLog(store.RequestLog{
		RequestID:     o.requestID,
		TenantID:      tenantID,
		PromptPreview: preview(o.prompt),
		Tier:          o.cls.Tier,
		Score:         o.cls.Score,
		Confidence:    o.cls.Confidence,
		Intent:        o.cls.Intent,
		Model:         o.candidate.ModelID,
		Provider:      o.candidate.Provider,
		Strategy:      o.strategy,
		InputTokens:   o.usage.InputTokens,
		OutputTokens:  o.usage.OutputTokens,
		Cost:          o.cost,
		Energy:        o.energy,
		LatencyMs:     o.latencyMs,
		Status:        o.status,
		Reasoning:     o.reasoning,
		CreatedAt:     time.Now().UTC(),
	}, true)

	success := o.status == fasthttp.StatusOK
	upMs := float64(o.upstream.Milliseconds())
	fb := bandit.Feedback{
		RequestID: o.requestID,
		ModelID:   o.candidate.ModelID,
		TenantID:  tenantID,
		Success:   &success,
		LatencyMs: &upMs,
		Cost:      &o.cost,
		Timestamp: time.Now().UTC(),
	}
	g.bandit.Update(tenantID, o.candidate.ModelID, bandit.Reward(fb))
	if g.metrics != nil {
		g.metrics.RecordBanditUpdate(o.candidate.ModelID)
	}
	if err := g.store.InsertFeedback(context.Background(), fb); err != nil {
		g.log.Error("recording feedback failed",
			slog.String("request_id", o.requestID),
			slog.String("error", err.Error()))
	}

	if o.tenant != nil && o.cost > 0 {
		if err := g.tenants.AddUsage(context.Background(), o.tenant.ID, o.cost); err != nil {
			g.log.Error("recording tenant usage failed",
				slog.String("tenant_id", o.tenant.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (g *Gateway) enqueueLog(row store.RequestLog, critical bool) {
	if g.queue == nil {
		return
	}
	g.queue.Enqueue(row, critical)
	if g.metrics != nil {
		g.metrics.SetQueueDepth(g.queue.Depth())
	}
}

// benchmarks converts the live snapshots into the router's blending input.
func (g *Gateway) benchmarks() map[string]router.Benchmark {
	snaps := g.bench.Snapshots()
	if len(snaps) == 0 {
		return nil
	}
	out := make(map[string]router.Benchmark, len(snaps))
	for _, s := range snaps {
		out[s.ModelID] = router.Benchmark{
			AvgLatencyMs: s.AvgLatencyMs,
			ErrorRate:    s.ErrorRate,
			SampleCount:  s.SampleCount,
		}
	}
	return out
}

// allowedModels intersects the tenant allowlist with an explicitly
// requested model. A requested model the tenant may not use is dropped so
// the router still has candidates.
func (g *Gateway) allowedModels(t *tenant.Tenant, requested string) []string {
	var allowed []string
	if t != nil {
		allowed = t.AllowedModels
	}
	if requested == "" || g.catalog.Get(requested) == nil {
		return allowed
	}
	if t != nil && !t.AllowsModel(requested) {
		return allowed
	}
	return []string{requested}
}

func (g *Gateway) syncBreakerGauge(provider string) {
	var state int64
	switch g.cb.StateLabel(provider) {
	case "open":
		state = 1
	case "half_open":
		state = 2
	}
	g.metrics.SetCircuitBreaker(provider, state)
	g.metrics.SetProviderHealth(provider, state == 0)
}

// writeDispatchError maps the terminal dispatch error onto the wire.
func (g *Gateway) writeDispatchError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, errNoProviderAvailable) {
		apierr.WriteBreakerOpen(ctx, "no healthy provider")
		return
	}
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		apierr.WriteProviderError(ctx, sc.HTTPStatus(), err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		apierr.WriteTimeout(ctx)
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway,
		err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var to providers.Timeouter
	return errors.As(err, &to) && to.TimedOut()
}

func errorLabel(err error) string {
	switch {
	case isTimeout(err):
		return "timeout"
	default:
		var sc providers.StatusCoder
		if errors.As(err, &sc) {
			if sc.HTTPStatus() == fasthttp.StatusTooManyRequests {
				return "rate_limited"
			}
			if sc.HTTPStatus() >= 500 {
				return "upstream_5xx"
			}
			return "upstream_4xx"
		}
		return "network"
	}
}

func finishReason(r string) string {
	if r == "" {
		return "stop"
	}
	return r
}
