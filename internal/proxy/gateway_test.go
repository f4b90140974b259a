package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	"github.com/sharma23Mukul/ai-router/internal/bench"
	"github.com/sharma23Mukul/ai-router/internal/cache"
	"github.com/sharma23Mukul/ai-router/internal/catalog"
	"github.com/sharma23Mukul/ai-router/internal/classify"
	"github.com/sharma23Mukul/ai-router/internal/providers"
	"github.com/sharma23Mukul/ai-router/internal/router"
	"github.com/sharma23Mukul/ai-router/internal/store"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
)

// stubProvider is a scriptable providers.Provider double.
type stubProvider struct {
	name    string
	err     error
	content string
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Request(_ context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	content := s.content
	if content == "" {
		content = "stub answer from " + s.name
	}
	return &providers.ProxyResponse{
		ID:           "resp-" + s.name,
		Model:        req.Model,
		Content:      content,
		FinishReason: "stop",
		Status:       200,
		Usage:        providers.Usage{InputTokens: 10, OutputTokens: 20},
	}, nil
}

// stubError satisfies providers.StatusCoder for upstream failure scripts.
type stubError struct {
	status  int
	timeout bool
}

func (e *stubError) Error() string   { return fmt.Sprintf("stub upstream error (status=%d)", e.status) }
func (e *stubError) HTTPStatus() int { return e.status }
func (e *stubError) TimedOut() bool  { return e.timeout }

type testGateway struct {
	gw    *Gateway
	db    *store.Store
	stubs map[string]*stubProvider
}

// newTestGateway builds a gateway over stub upstreams, a throwaway SQLite
// store and an in-memory cache.
func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cat := catalog.Default()
	stubs := make(map[string]*stubProvider)
	provs := make(map[string]providers.Provider)
	for _, name := range cat.Providers() {
		s := &stubProvider{name: name}
		stubs[name] = s
		provs[name] = s
	}

	models := cat.All()
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}

	gw := New(Deps{
		Catalog:    cat,
		Providers:  provs,
		Classifier: classify.New(nil),
		Router:     router.New(cat, nil),
		Bandit:     bandit.New(ids, db, nil),
		Bench:      bench.New(db, nil),
		Cache:      cache.NewSemantic(cache.NewMemoryBackend(context.Background()), cache.DefaultConfig(), nil),
		Tenants:    tenant.NewManager(db),
		Store:      db,
	}, Options{})
	t.Cleanup(gw.Close)

	return &testGateway{gw: gw, db: db, stubs: stubs}
}

// do runs one request through the full route table and middleware chain.
func (tg *testGateway) do(t *testing.T, method, uri string, body []byte, headers map[string]string) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	// Init attaches fasthttp's internal fake server so the ctx works as a
	// context.Context parent (Done() panics on a bare RequestCtx).
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	tg.gw.Handler()(ctx)
	return ctx
}

func chatBody(t *testing.T, prompt string, extra map[string]any) []byte {
	t.Helper()
	req := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	for k, v := range extra {
		req[k] = v
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decodeChatResponse(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &out); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, ctx.Response.Body())
	}
	return out
}

func errorCode(t *testing.T, ctx *fasthttp.RequestCtx) string {
	t.Helper()
	var env struct {
		Error struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body: %s)", err, ctx.Response.Body())
	}
	return env.Error.Code
}

// --- chat completions --------------------------------------------------------

func TestChat_RoutesAndDecoratesResponse(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "POST", "/v1/chat/completions",
		chatBody(t, "What is the capital of France?", nil), nil)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if got := string(ctx.Response.Header.Peek("X-Cache")); got != "MISS" {
		t.Errorf("expected X-Cache MISS, got %q", got)
	}

	out := decodeChatResponse(t, ctx)
	if out["object"] != "chat.completion" {
		t.Errorf("expected object chat.completion, got %v", out["object"])
	}

	routing, ok := out["_routing"].(map[string]any)
	if !ok {
		t.Fatalf("expected _routing block, got %v", out["_routing"])
	}
	for _, field := range []string{"requestId", "modelSelected", "provider", "strategy", "complexity", "routingScore"} {
		if _, ok := routing[field]; !ok {
			t.Errorf("_routing missing field %q", field)
		}
	}
	if routing["strategy"] != router.StrategyCostFirst {
		t.Errorf("default strategy should be cost-first, got %v", routing["strategy"])
	}

	// A trivial question routes to a cheap model, never a flagship.
	model := routing["modelSelected"].(string)
	if model == "gpt-4o" || model == "claude-sonnet-4-5" || model == "o3-mini" {
		t.Errorf("trivial prompt routed to flagship model %q", model)
	}

	usage, ok := out["usage"].(map[string]any)
	if !ok || usage["total_tokens"].(float64) != 30 {
		t.Errorf("expected total_tokens=30, got %v", out["usage"])
	}
}

func TestChat_CacheHitOnRepeat(t *testing.T) {
	tg := newTestGateway(t)
	body := chatBody(t, "cache me once", nil)

	first := tg.do(t, "POST", "/v1/chat/completions", body, nil)
	if first.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("first request failed: %d", first.Response.StatusCode())
	}

	second := tg.do(t, "POST", "/v1/chat/completions", body, nil)
	if second.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("second request failed: %d", second.Response.StatusCode())
	}
	if got := string(second.Response.Header.Peek("X-Cache")); got != "HIT" {
		t.Errorf("expected X-Cache HIT on repeat, got %q", got)
	}
	if string(first.Response.Body()) != string(second.Response.Body()) {
		t.Error("cache hit should replay the identical body")
	}

	total := 0
	for _, s := range tg.stubs {
		total += s.calls
	}
	if total != 1 {
		t.Errorf("expected exactly one upstream call across both requests, got %d", total)
	}
}

func TestChat_RequiresUserMessage(t *testing.T) {
	tg := newTestGateway(t)

	body := []byte(`{"messages":[{"role":"system","content":"be nice"}]}`)
	ctx := tg.do(t, "POST", "/v1/chat/completions", body, nil)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", ctx.Response.StatusCode())
	}
	if code := errorCode(t, ctx); code != "invalid_request" {
		t.Errorf("expected code invalid_request, got %q", code)
	}
}

func TestChat_RejectsMalformedJSON(t *testing.T) {
	tg := newTestGateway(t)
	ctx := tg.do(t, "POST", "/v1/chat/completions", []byte("{nope"), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestChat_FallbackOnProviderFailure(t *testing.T) {
	tg := newTestGateway(t)

	// First routed provider fails; the gateway walks the candidate list.
	probe := tg.do(t, "POST", "/v1/chat/completions", chatBody(t, "hello", nil), nil)
	if probe.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("probe failed: %d", probe.Response.StatusCode())
	}
	var primary string
	for name, s := range tg.stubs {
		if s.calls > 0 {
			primary = name
			s.calls = 0
		}
	}
	tg.stubs[primary].err = &stubError{status: 500}

	ctx := tg.do(t, "POST", "/v1/chat/completions", chatBody(t, "hello again", nil), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected fallback to succeed, got %d: %s",
			ctx.Response.StatusCode(), ctx.Response.Body())
	}

	out := decodeChatResponse(t, ctx)
	routing := out["_routing"].(map[string]any)
	if routing["provider"] == primary {
		t.Errorf("response should not come from the failing provider %q", primary)
	}
}

func TestChat_AllProvidersFailing(t *testing.T) {
	tg := newTestGateway(t)
	for _, s := range tg.stubs {
		s.err = &stubError{status: 503}
	}

	ctx := tg.do(t, "POST", "/v1/chat/completions", chatBody(t, "doomed", nil), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusBadGateway {
		t.Fatalf("expected 502 when every upstream 5xxes, got %d", ctx.Response.StatusCode())
	}
}

func TestChat_ExplicitModelPinsRouting(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "POST", "/v1/chat/completions",
		chatBody(t, "hi", map[string]any{"model": "claude-haiku-4-5"}), nil)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	out := decodeChatResponse(t, ctx)
	routing := out["_routing"].(map[string]any)
	if routing["modelSelected"] != "claude-haiku-4-5" {
		t.Errorf("expected pinned model, got %v", routing["modelSelected"])
	}
	if tg.stubs["anthropic"].calls != 1 {
		t.Errorf("expected the anthropic stub to serve the pinned model")
	}
}

func TestChat_StrategyFromRequest(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "POST", "/v1/chat/completions",
		chatBody(t, "hi", map[string]any{"strategy": router.StrategyGreenFirst}), nil)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	out := decodeChatResponse(t, ctx)
	routing := out["_routing"].(map[string]any)
	if routing["strategy"] != router.StrategyGreenFirst {
		t.Errorf("expected green-first strategy, got %v", routing["strategy"])
	}
}

// --- auth and budgets --------------------------------------------------------

func TestAuth_UnknownGatewayKeyRejected(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "POST", "/v1/chat/completions", chatBody(t, "hi", nil),
		map[string]string{"Authorization": "Bearer fra_does_not_exist"})

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
	if code := errorCode(t, ctx); code != "invalid_api_key" {
		t.Errorf("expected code invalid_api_key, got %q", code)
	}
}

func TestAuth_VendorKeyPassesThrough(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "POST", "/v1/chat/completions", chatBody(t, "hi", nil),
		map[string]string{"Authorization": "Bearer sk-client-supplied"})

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("vendor-prefixed keys should pass through anonymously, got %d",
			ctx.Response.StatusCode())
	}
}

func TestAuth_TenantStrategyAndBudget(t *testing.T) {
	tg := newTestGateway(t)

	budget := 0.50
	tn, key, err := tg.gw.tenants.Create(context.Background(), tenant.CreateParams{
		Name:               "acme",
		Strategy:           router.StrategyPerformanceFirst,
		BudgetLimitMonthly: &budget,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + key}

	// Tenant default strategy wins over the request field.
	ctx := tg.do(t, "POST", "/v1/chat/completions",
		chatBody(t, "hi", map[string]any{"strategy": router.StrategyCostFirst}), auth)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	out := decodeChatResponse(t, ctx)
	routing := out["_routing"].(map[string]any)
	if routing["strategy"] != router.StrategyPerformanceFirst {
		t.Errorf("tenant strategy should override the request, got %v", routing["strategy"])
	}

	// Push the tenant over budget; the next request dies before routing.
	if err := tg.gw.tenants.AddUsage(context.Background(), tn.ID, budget+1); err != nil {
		t.Fatalf("add usage: %v", err)
	}
	ctx = tg.do(t, "POST", "/v1/chat/completions", chatBody(t, "hi", nil), auth)
	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("expected 429 for over-budget tenant, got %d", ctx.Response.StatusCode())
	}
	if code := errorCode(t, ctx); code != "budget_exceeded" {
		t.Errorf("expected code budget_exceeded, got %q", code)
	}
}

// --- management routes -------------------------------------------------------

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "GET", "/health", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	var body map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}

	tg.gw.SetReady(false)
	ctx = tg.do(t, "GET", "/health", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Errorf("expected 503 when draining, got %d", ctx.Response.StatusCode())
	}
}

func TestModels_OpenAIListShape(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "GET", "/v1/models", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Object != "list" || len(body.Data) == 0 {
		t.Fatalf("unexpected list shape: %s", ctx.Response.Body())
	}
	if body.Data[0].Object != "model" {
		t.Errorf("entries should have object=model, got %q", body.Data[0].Object)
	}
}

func TestTenants_CreateAndList(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "POST", "/api/tenants",
		[]byte(`{"name":"acme","rate_limit_rpm":120}`), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var created struct {
		Tenant struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"tenant"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.APIKey == "" || created.Tenant.Name != "acme" {
		t.Fatalf("unexpected create payload: %s", ctx.Response.Body())
	}

	ctx = tg.do(t, "POST", "/api/tenants", []byte(`{}`), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("nameless tenant should 400, got %d", ctx.Response.StatusCode())
	}

	ctx = tg.do(t, "GET", "/api/tenants", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	var listed struct {
		Tenants []json.RawMessage `json:"tenants"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Tenants) != 1 {
		t.Errorf("expected 1 tenant, got %d", len(listed.Tenants))
	}
}

func TestFeedback(t *testing.T) {
	tg := newTestGateway(t)

	// Seed a request row the feedback can attach to.
	err := tg.db.InsertRequests(context.Background(), []store.RequestLog{{
		RequestID: "req-fb-1",
		Model:     "gpt-4o-mini",
		Provider:  "openai",
		Status:    200,
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}

	ctx := tg.do(t, "POST", "/api/feedback",
		[]byte(`{"request_id":"req-fb-1","quality":8.5}`), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	ctx = tg.do(t, "POST", "/api/feedback",
		[]byte(`{"request_id":"req-unknown"}`), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("unknown request id should 400, got %d", ctx.Response.StatusCode())
	}

	ctx = tg.do(t, "POST", "/api/feedback",
		[]byte(`{"request_id":"req-fb-1","quality":11}`), nil)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("out-of-range quality should 400, got %d", ctx.Response.StatusCode())
	}
}

func TestStatsAndConfigEndpoints(t *testing.T) {
	tg := newTestGateway(t)

	ctx := tg.do(t, "GET", "/api/config", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("config: expected 200, got %d", ctx.Response.StatusCode())
	}
	var cfg struct {
		Strategies []string        `json:"strategies"`
		Weights    map[string]any  `json:"weights"`
		Models     json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if len(cfg.Strategies) == 0 || len(cfg.Weights) != len(cfg.Strategies) {
		t.Errorf("config should expose every strategy with weights: %s", ctx.Response.Body())
	}

	ctx = tg.do(t, "GET", "/api/stats", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("stats: expected 200, got %d", ctx.Response.StatusCode())
	}

	ctx = tg.do(t, "GET", "/api/benchmarks", nil, nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("benchmarks: expected 200, got %d", ctx.Response.StatusCode())
	}
}
