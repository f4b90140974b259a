package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	"github.com/sharma23Mukul/ai-router/internal/bench"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func sampleLog(requestID string) RequestLog {
	return RequestLog{
		RequestID:     requestID,
		TenantID:      "t1",
		PromptPreview: "what is the capital of france",
		Tier:          "trivial",
		Score:         4.2,
		Confidence:    0.65,
		Intent:        "qa",
		Model:         "gpt-4o-mini",
		Provider:      "openai",
		Strategy:      "cost-first",
		InputTokens:   12,
		OutputTokens:  8,
		Cost:          0.00001,
		Energy:        0.002,
		LatencyMs:     640,
		Status:        200,
		Reasoning:     "selected gpt-4o-mini",
		CreatedAt:     time.Now(),
	}
}

func TestInsertRequests_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertRequests(ctx, []RequestLog{sampleLog("req-1"), sampleLog("req-2")}); err != nil {
		t.Fatalf("InsertRequests: %v", err)
	}

	got, ok, err := s.RequestByID(ctx, "req-1")
	if err != nil {
		t.Fatalf("RequestByID: %v", err)
	}
	if !ok {
		t.Fatal("expected row for req-1")
	}
	if got.Model != "gpt-4o-mini" || got.Tier != "trivial" || got.Strategy != "cost-first" {
		t.Errorf("row mismatch: %+v", got)
	}
	if got.CacheHit {
		t.Error("cache_hit should round-trip as false")
	}

	if _, ok, _ := s.RequestByID(ctx, "req-404"); ok {
		t.Error("unknown request id should report absent")
	}
}

func TestTenants_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tn := &tenant.Tenant{
		ID:                 "t-1",
		Name:               "acme",
		APIKeyHash:         "hash-1",
		Strategy:           "balanced",
		AllowedModels:      []string{"gpt-4o-mini", "claude-haiku-4-5"},
		BudgetLimitMonthly: ptr(5.0),
		RateLimitRPM:       120,
		CreatedAt:          time.Now(),
	}
	if err := s.InsertTenant(ctx, tn); err != nil {
		t.Fatalf("InsertTenant: %v", err)
	}

	got, err := s.TenantByKeyHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("TenantByKeyHash: %v", err)
	}
	if got.Name != "acme" || got.Strategy != "balanced" || got.RateLimitRPM != 120 {
		t.Errorf("tenant mismatch: %+v", got)
	}
	if len(got.AllowedModels) != 2 {
		t.Errorf("allowlist should round-trip, got %v", got.AllowedModels)
	}
	if got.BudgetLimitMonthly == nil || *got.BudgetLimitMonthly != 5.0 {
		t.Errorf("budget should round-trip, got %v", got.BudgetLimitMonthly)
	}

	if _, err := s.TenantByKeyHash(ctx, "missing"); err != tenant.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.AddTenantUsage(ctx, "t-1", 0.25); err != nil {
		t.Fatalf("AddTenantUsage: %v", err)
	}
	got, _ = s.TenantByKeyHash(ctx, "hash-1")
	if got.UsageThisMonth != 0.25 {
		t.Errorf("usage should accumulate, got %f", got.UsageThisMonth)
	}

	if err := s.AddTenantUsage(ctx, "nope", 1); err != tenant.ErrNotFound {
		t.Errorf("usage on unknown tenant should ErrNotFound, got %v", err)
	}

	all, err := s.Tenants(ctx)
	if err != nil {
		t.Fatalf("Tenants: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 tenant, got %d", len(all))
	}
}

func TestFeedback_RecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		fb := bandit.Feedback{
			RequestID: fmt.Sprintf("req-%d", i),
			ModelID:   "m",
			Quality:   ptr(float64(i)),
			Success:   ptr(true),
		}
		if err := s.InsertFeedback(ctx, fb); err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}

	rows, err := s.RecentFeedback(ctx, "m", 3)
	if err != nil {
		t.Fatalf("RecentFeedback: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].RequestID != "req-4" {
		t.Errorf("newest row should come first, got %s", rows[0].RequestID)
	}
	if rows[0].Quality == nil || *rows[0].Quality != 4 {
		t.Errorf("quality should round-trip, got %v", rows[0].Quality)
	}
	if rows[0].Success == nil || !*rows[0].Success {
		t.Errorf("success should round-trip, got %v", rows[0].Success)
	}
	if rows[0].LatencyMs != nil {
		t.Error("absent latency should stay nil")
	}
}

func TestRecordModelHealth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snaps := []bench.Snapshot{
		{ModelID: "a", AvgLatencyMs: 100, P95LatencyMs: 200, ErrorRate: 0.1, SampleCount: 50, IsHealthy: true},
		{ModelID: "b", AvgLatencyMs: 900, P95LatencyMs: 2000, ErrorRate: 0.7, SampleCount: 20, IsHealthy: false},
	}
	if err := s.RecordModelHealth(ctx, snaps); err != nil {
		t.Fatalf("RecordModelHealth: %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM model_health`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 health rows, got %d", n)
	}
}

func TestQueryStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleLog("req-1")
	b := sampleLog("req-2")
	b.Model = "claude-haiku-4-5"
	b.Cost = 0.0002
	hit := sampleLog("req-3")
	hit.CacheHit = true
	hit.Cost = 0

	if err := s.InsertRequests(ctx, []RequestLog{a, b, hit}); err != nil {
		t.Fatalf("InsertRequests: %v", err)
	}

	st, err := s.QueryStats(ctx)
	if err != nil {
		t.Fatalf("QueryStats: %v", err)
	}
	if st.TotalRequests != 3 {
		t.Errorf("expected 3 requests, got %d", st.TotalRequests)
	}
	if st.CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", st.CacheHits)
	}
	if len(st.ByModel) != 2 {
		t.Errorf("expected 2 model rows, got %d", len(st.ByModel))
	}
}

func TestWriteQueue_FlushWrites(t *testing.T) {
	s := newTestStore(t)
	q := NewWriteQueue(s, nil)

	q.Enqueue(sampleLog("req-1"), true)
	q.Enqueue(sampleLog("req-2"), true)
	if q.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", q.Depth())
	}

	q.Flush(context.Background())
	if q.Depth() != 0 {
		t.Errorf("flush should drain the queue, depth %d", q.Depth())
	}

	if _, ok, _ := s.RequestByID(context.Background(), "req-2"); !ok {
		t.Error("flushed row should be queryable")
	}
}

func TestWriteQueue_DegradedModeShedsNonCritical(t *testing.T) {
	s := newTestStore(t)
	q := NewWriteQueue(s, nil)

	for i := 0; i <= degradedHighWater; i++ {
		q.Enqueue(sampleLog(fmt.Sprintf("req-%d", i)), true)
	}
	if !q.Degraded() {
		t.Fatal("queue past the high water mark should be degraded")
	}

	if q.Enqueue(sampleLog("cache-hit"), false) {
		t.Error("non-critical row should be shed in degraded mode")
	}
	if !q.Enqueue(sampleLog("completion"), true) {
		t.Error("critical row must be accepted in degraded mode")
	}

	q.Flush(context.Background())
	if q.Degraded() {
		t.Error("drained queue should recover from degraded mode")
	}
	if !q.Enqueue(sampleLog("cache-hit-2"), false) {
		t.Error("recovered queue should accept non-critical rows again")
	}
}
