// Package tenant issues and authenticates gateway API keys and enforces
// per-tenant policy: routing strategy default, model allowlist, monthly
// budget, rate limits. Key plaintext is returned exactly once at creation;
// only its SHA-256 hash is ever stored.
package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix tags every gateway-issued API key.
const KeyPrefix = "fra_"

// ErrNotFound is returned when no tenant matches a key hash or id.
var ErrNotFound = errors.New("tenant: not found")

// Tenant is one API consumer.
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	APIKeyHash         string    `json:"-"`
	Strategy           string    `json:"strategy,omitempty"`
	AllowedModels      []string  `json:"allowed_models,omitempty"` // nil allows all
	BudgetLimitMonthly *float64  `json:"budget_limit_monthly,omitempty"`
	RateLimitRPM       int       `json:"rate_limit_rpm"`
	RateLimitTPM       int       `json:"rate_limit_tpm"`
	UsageThisMonth     float64   `json:"usage_this_month"`
	CreatedAt          time.Time `json:"created_at"`
}

// OverBudget reports whether the monthly accumulator has reached the
// budget limit. A nil limit never trips.
func (t *Tenant) OverBudget() bool {
	return t.BudgetLimitMonthly != nil && t.UsageThisMonth >= *t.BudgetLimitMonthly
}

// AllowsModel reports whether the tenant may use the given model. An empty
// allowlist allows everything.
func (t *Tenant) AllowsModel(modelID string) bool {
	if len(t.AllowedModels) == 0 {
		return true
	}
	for _, id := range t.AllowedModels {
		if id == modelID {
			return true
		}
	}
	return false
}

// Store is the persistence contract the manager needs.
type Store interface {
	InsertTenant(ctx context.Context, t *Tenant) error
	TenantByKeyHash(ctx context.Context, hash string) (*Tenant, error)
	Tenants(ctx context.Context) ([]*Tenant, error)
	AddTenantUsage(ctx context.Context, tenantID string, delta float64) error
}

// CreateParams are the caller-settable fields of a new tenant.
type CreateParams struct {
	Name               string
	Strategy           string
	AllowedModels      []string
	BudgetLimitMonthly *float64
	RateLimitRPM       int
	RateLimitTPM       int
}

// Manager issues keys and authenticates requests, with an in-process cache
// of authenticated tenants keyed by hash. Safe for concurrent use.
type Manager struct {
	store Store

	mu     sync.Mutex
	byHash map[string]*Tenant
	hashOf map[string]string // tenant id → key hash, for invalidation
}

// NewManager creates a Manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:  store,
		byHash: map[string]*Tenant{},
		hashOf: map[string]string{},
	}
}

// HashKey returns the hex SHA-256 of a key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create issues a new tenant and returns it together with the plaintext
// API key. The key is not recoverable afterwards.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Tenant, string, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, "", fmt.Errorf("tenant: name is required")
	}
	if p.RateLimitRPM <= 0 {
		p.RateLimitRPM = 60
	}

	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, "", fmt.Errorf("tenant: generating key: %w", err)
	}
	key := KeyPrefix + hex.EncodeToString(raw[:])

	t := &Tenant{
		ID:                 uuid.NewString(),
		Name:               strings.TrimSpace(p.Name),
		APIKeyHash:         HashKey(key),
		Strategy:           p.Strategy,
		AllowedModels:      p.AllowedModels,
		BudgetLimitMonthly: p.BudgetLimitMonthly,
		RateLimitRPM:       p.RateLimitRPM,
		RateLimitTPM:       p.RateLimitTPM,
		CreatedAt:          time.Now().UTC(),
	}
	if err := m.store.InsertTenant(ctx, t); err != nil {
		return nil, "", fmt.Errorf("tenant: persisting: %w", err)
	}
	return t, key, nil
}

// Authenticate resolves an API key to its tenant, consulting the hash
// cache first. Returns ErrNotFound for unknown keys.
func (m *Manager) Authenticate(ctx context.Context, key string) (*Tenant, error) {
	hash := HashKey(key)

	m.mu.Lock()
	if t, ok := m.byHash[hash]; ok {
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	t, err := m.store.TenantByKeyHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.byHash[hash] = t
	m.hashOf[t.ID] = hash
	m.mu.Unlock()
	return t, nil
}

// List returns all tenants. Key hashes are carried internally but never
// serialized (json:"-").
func (m *Manager) List(ctx context.Context) ([]*Tenant, error) {
	return m.store.Tenants(ctx)
}

// AddUsage adds a request's cost to the tenant's monthly accumulator and
// invalidates the auth cache entry so the next authentication sees the
// fresh value.
func (m *Manager) AddUsage(ctx context.Context, tenantID string, cost float64) error {
	if err := m.store.AddTenantUsage(ctx, tenantID, cost); err != nil {
		return fmt.Errorf("tenant: recording usage: %w", err)
	}

	m.mu.Lock()
	if hash, ok := m.hashOf[tenantID]; ok {
		delete(m.byHash, hash)
		delete(m.hashOf, tenantID)
	}
	m.mu.Unlock()
	return nil
}
