// Package store persists gateway state in a single SQLite file: request
// logs, tenants, routing feedback and model-health rows. WAL mode keeps
// readers concurrent with the batched writer; the async write queue in
// queue.go keeps log writes off the request path.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sharma23Mukul/ai-router/internal/bandit"
	"github.com/sharma23Mukul/ai-router/internal/bench"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id      TEXT NOT NULL,
	tenant_id       TEXT,
	prompt_preview  TEXT,
	tier            TEXT,
	score           REAL,
	confidence      REAL,
	intent          TEXT,
	model           TEXT,
	provider        TEXT,
	strategy        TEXT,
	input_tokens    INTEGER,
	output_tokens   INTEGER,
	cost            REAL,
	energy          REAL,
	latency_ms      REAL,
	status          INTEGER,
	cache_hit       INTEGER NOT NULL DEFAULT 0,
	reasoning       TEXT,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_request_id ON requests(request_id);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);

CREATE TABLE IF NOT EXISTS tenants (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	api_key_hash         TEXT NOT NULL UNIQUE,
	strategy             TEXT,
	allowed_models       TEXT,
	budget_limit_monthly REAL,
	rate_limit_rpm       INTEGER NOT NULL,
	rate_limit_tpm       INTEGER NOT NULL DEFAULT 0,
	usage_this_month     REAL NOT NULL DEFAULT 0,
	created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	model_id   TEXT NOT NULL,
	tenant_id  TEXT,
	quality    REAL,
	latency_ms REAL,
	cost       REAL,
	success    INTEGER,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_model ON routing_feedback(model_id, id);

CREATE TABLE IF NOT EXISTS model_health (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	model_id     TEXT NOT NULL,
	avg_latency  REAL,
	p50_latency  REAL,
	p95_latency  REAL,
	p99_latency  REAL,
	error_rate   REAL,
	timeout_rate REAL,
	sample_count INTEGER,
	is_healthy   INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
`

// RequestLog is one append-only row per completed request.
type RequestLog struct {
	RequestID     string
	TenantID      string
	PromptPreview string
	Tier          string
	Score         float64
	Confidence    float64
	Intent        string
	Model         string
	Provider      string
	Strategy      string
	InputTokens   int
	OutputTokens  int
	Cost          float64
	Energy        float64
	LatencyMs     float64
	Status        int
	CacheHit      bool
	Reasoning     string
	CreatedAt     time.Time
}

// Store owns the SQLite handle. Safe for concurrent use; SQLite serializes
// writes, WAL keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file, applies pragmas and the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// modernc sqlite serializes at the driver level; one writer connection
	// avoids SQLITE_BUSY churn under load.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRequests writes a batch of log rows in one transaction.
func (s *Store) InsertRequests(ctx context.Context, rows []RequestLog) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO requests
		(request_id, tenant_id, prompt_preview, tier, score, confidence, intent,
		 model, provider, strategy, input_tokens, output_tokens, cost, energy,
		 latency_ms, status, cache_hit, reasoning, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.RequestID, nullStr(r.TenantID), r.PromptPreview, r.Tier, r.Score,
			r.Confidence, r.Intent, r.Model, r.Provider, r.Strategy,
			r.InputTokens, r.OutputTokens, r.Cost, r.Energy, r.LatencyMs,
			r.Status, boolInt(r.CacheHit), r.Reasoning, r.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("store: insert request %s: %w", r.RequestID, err)
		}
	}
	return tx.Commit()
}

// RequestByID returns the log row for a request id, or false when absent.
func (s *Store) RequestByID(ctx context.Context, requestID string) (RequestLog, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT request_id, COALESCE(tenant_id,''),
		prompt_preview, tier, score, confidence, intent, model, provider,
		strategy, input_tokens, output_tokens, cost, energy, latency_ms,
		status, cache_hit, reasoning, created_at
		FROM requests WHERE request_id = ? ORDER BY id DESC LIMIT 1`, requestID)

	var r RequestLog
	var cacheHit int
	err := row.Scan(&r.RequestID, &r.TenantID, &r.PromptPreview, &r.Tier,
		&r.Score, &r.Confidence, &r.Intent, &r.Model, &r.Provider, &r.Strategy,
		&r.InputTokens, &r.OutputTokens, &r.Cost, &r.Energy, &r.LatencyMs,
		&r.Status, &cacheHit, &r.Reasoning, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RequestLog{}, false, nil
	}
	if err != nil {
		return RequestLog{}, false, fmt.Errorf("store: request by id: %w", err)
	}
	r.CacheHit = cacheHit != 0
	return r, true, nil
}

// InsertTenant persists a new tenant.
func (s *Store) InsertTenant(ctx context.Context, t *tenant.Tenant) error {
	allowed, err := marshalAllowed(t.AllowedModels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tenants
		(id, name, api_key_hash, strategy, allowed_models, budget_limit_monthly,
		 rate_limit_rpm, rate_limit_tpm, usage_this_month, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.APIKeyHash, t.Strategy, allowed, t.BudgetLimitMonthly,
		t.RateLimitRPM, t.RateLimitTPM, t.UsageThisMonth, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: insert tenant: %w", err)
	}
	return nil
}

// TenantByKeyHash resolves an API-key hash to its tenant.
func (s *Store) TenantByKeyHash(ctx context.Context, hash string) (*tenant.Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx,
		tenantSelect+` WHERE api_key_hash = ?`, hash))
}

const tenantSelect = `SELECT id, name, api_key_hash, COALESCE(strategy,''),
	allowed_models, budget_limit_monthly, rate_limit_rpm, rate_limit_tpm,
	usage_this_month, created_at FROM tenants`

func (s *Store) scanTenant(row *sql.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var allowed sql.NullString
	var budget sql.NullFloat64
	err := row.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.Strategy, &allowed,
		&budget, &t.RateLimitRPM, &t.RateLimitTPM, &t.UsageThisMonth, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan tenant: %w", err)
	}
	if allowed.Valid && allowed.String != "" {
		if err := json.Unmarshal([]byte(allowed.String), &t.AllowedModels); err != nil {
			return nil, fmt.Errorf("store: tenant %s allowed_models: %w", t.ID, err)
		}
	}
	if budget.Valid {
		t.BudgetLimitMonthly = &budget.Float64
	}
	return &t, nil
}

// Tenants lists all tenants, newest first.
func (s *Store) Tenants(ctx context.Context) ([]*tenant.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, tenantSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list tenants: %w", err)
	}
	defer rows.Close()

	var out []*tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		var allowed sql.NullString
		var budget sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.Strategy, &allowed,
			&budget, &t.RateLimitRPM, &t.RateLimitTPM, &t.UsageThisMonth, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan tenant: %w", err)
		}
		if allowed.Valid && allowed.String != "" {
			if err := json.Unmarshal([]byte(allowed.String), &t.AllowedModels); err != nil {
				return nil, fmt.Errorf("store: tenant %s allowed_models: %w", t.ID, err)
			}
		}
		if budget.Valid {
			t.BudgetLimitMonthly = &budget.Float64
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AddTenantUsage adds to the monthly accumulator.
func (s *Store) AddTenantUsage(ctx context.Context, tenantID string, delta float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET usage_this_month = usage_this_month + ? WHERE id = ?`,
		delta, tenantID)
	if err != nil {
		return fmt.Errorf("store: add usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// InsertFeedback records one reward observation.
func (s *Store) InsertFeedback(ctx context.Context, fb bandit.Feedback) error {
	var success any
	if fb.Success != nil {
		success = boolInt(*fb.Success)
	}
	created := fb.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO routing_feedback
		(request_id, model_id, tenant_id, quality, latency_ms, cost, success, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		fb.RequestID, fb.ModelID, nullStr(fb.TenantID),
		fb.Quality, fb.LatencyMs, fb.Cost, success, created.UTC())
	if err != nil {
		return fmt.Errorf("store: insert feedback: %w", err)
	}
	return nil
}

// RecentFeedback returns the newest feedback rows for a model, newest
// first, feeding the bandit recompute.
func (s *Store) RecentFeedback(ctx context.Context, modelID string, limit int) ([]bandit.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, model_id,
		COALESCE(tenant_id,''), quality, latency_ms, cost, success, created_at
		FROM routing_feedback WHERE model_id = ? ORDER BY id DESC LIMIT ?`,
		modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent feedback: %w", err)
	}
	defer rows.Close()

	var out []bandit.Feedback
	for rows.Next() {
		var fb bandit.Feedback
		var quality, latency, cost sql.NullFloat64
		var success sql.NullInt64
		if err := rows.Scan(&fb.RequestID, &fb.ModelID, &fb.TenantID,
			&quality, &latency, &cost, &success, &fb.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan feedback: %w", err)
		}
		if quality.Valid {
			fb.Quality = &quality.Float64
		}
		if latency.Valid {
			fb.LatencyMs = &latency.Float64
		}
		if cost.Valid {
			fb.Cost = &cost.Float64
		}
		if success.Valid {
			b := success.Int64 != 0
			fb.Success = &b
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// RecordModelHealth persists one benchmark flush.
func (s *Store) RecordModelHealth(ctx context.Context, snapshots []bench.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO model_health
		(model_id, avg_latency, p50_latency, p95_latency, p99_latency,
		 error_rate, timeout_rate, sample_count, is_healthy, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, sn := range snapshots {
		if _, err := stmt.ExecContext(ctx, sn.ModelID, sn.AvgLatencyMs,
			sn.P50LatencyMs, sn.P95LatencyMs, sn.P99LatencyMs, sn.ErrorRate,
			sn.TimeoutRate, sn.SampleCount, boolInt(sn.IsHealthy), now,
		); err != nil {
			return fmt.Errorf("store: insert health %s: %w", sn.ModelID, err)
		}
	}
	return tx.Commit()
}

// ModelUsage is one row of the per-model aggregate.
type ModelUsage struct {
	Model    string  `json:"model"`
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
}

// Stats are the dashboard aggregates.
type Stats struct {
	TotalRequests int64        `json:"total_requests"`
	TotalCost     float64      `json:"total_cost"`
	TotalEnergy   float64      `json:"total_energy"`
	CacheHits     int64        `json:"cache_hits"`
	AvgLatencyMs  float64      `json:"avg_latency_ms"`
	ByModel       []ModelUsage `json:"by_model"`
}

// QueryStats aggregates the requests table.
func (s *Store) QueryStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(cost),0), COALESCE(SUM(energy),0),
		COALESCE(SUM(cache_hit),0), COALESCE(AVG(latency_ms),0) FROM requests`)
	if err := row.Scan(&st.TotalRequests, &st.TotalCost, &st.TotalEnergy,
		&st.CacheHits, &st.AvgLatencyMs); err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT model, COUNT(*), COALESCE(SUM(cost),0)
		FROM requests WHERE model != '' GROUP BY model ORDER BY COUNT(*) DESC`)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats by model: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mu ModelUsage
		if err := rows.Scan(&mu.Model, &mu.Requests, &mu.Cost); err != nil {
			return Stats{}, fmt.Errorf("store: scan model usage: %w", err)
		}
		st.ByModel = append(st.ByModel, mu)
	}
	return st, rows.Err()
}

func marshalAllowed(models []string) (sql.NullString, error) {
	if len(models) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(models)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: marshal allowed_models: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
