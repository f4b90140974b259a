package proxy

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// cbState represents the operational state of a per-provider circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — provider is failing; requests are rejected until cooldown.
//	cbHalfOpen — recovery; exactly one probe request is in flight.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// probeWaitReason is returned while a half-open probe is outstanding.
const probeWaitReason = "waiting for probe result"

// CBConfig holds circuit breaker tuning parameters. Zero values fall back
// to the defaults below.
type CBConfig struct {
	// Window is the rolling window over which events are evaluated.
	Window time.Duration

	// MinSamples is the number of events required before evaluation.
	MinSamples int

	// ErrorRateThreshold opens the breaker at this fraction of failures.
	ErrorRateThreshold float64

	// TimeoutRateThreshold opens the breaker at this fraction of timeouts.
	TimeoutRateThreshold float64

	// P95LatencyMs opens the breaker when the window's p95 reaches it.
	P95LatencyMs float64

	// BaseCooldown is the initial open duration; each failed probe doubles
	// it up to MaxCooldown. A successful probe resets it.
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
}

func (c CBConfig) withDefaults() CBConfig {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = 0.5
	}
	if c.TimeoutRateThreshold <= 0 {
		c.TimeoutRateThreshold = 0.3
	}
	if c.P95LatencyMs <= 0 {
		c.P95LatencyMs = 30000
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = 10 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 120 * time.Second
	}
	return c
}

// cbEvent is one observed request outcome.
type cbEvent struct {
	at        time.Time
	success   bool
	latencyMs float64
	timedOut  bool
}

// providerCB holds per-provider breaker state.
type providerCB struct {
	mu sync.Mutex

	state               cbState
	events              []cbEvent
	openedAt            time.Time
	cooldown            time.Duration
	consecutiveFailures int
	lastOpenReason      string
	probeInflight       bool
}

// CBSnapshot is the exported view of one provider's breaker, for /health
// and metrics.
type CBSnapshot struct {
	Provider            string  `json:"provider"`
	State               string  `json:"state"`
	Samples             int     `json:"samples"`
	ErrorRate           float64 `json:"error_rate"`
	TimeoutRate         float64 `json:"timeout_rate"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	CooldownMs          int64   `json:"cooldown_ms"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastOpenReason      string  `json:"last_open_reason,omitempty"`
}

// CircuitBreaker manages independent breakers per provider. Safe for
// concurrent use.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*providerCB
	cfg      CBConfig

	now func() time.Time // test hook
}

// NewCircuitBreaker creates a CircuitBreaker with default thresholds.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CBConfig{})
}

// NewCircuitBreakerWithConfig creates a CircuitBreaker with custom
// thresholds. Use this to apply values loaded from configuration.
func NewCircuitBreakerWithConfig(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breakers: make(map[string]*providerCB),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

func (cb *CircuitBreaker) get(provider string) *providerCB {
	cb.mu.RLock()
	pcb, ok := cb.breakers[provider]
	cb.mu.RUnlock()
	if ok {
		return pcb
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if pcb, ok = cb.breakers[provider]; ok {
		return pcb
	}
	pcb = &providerCB{state: cbClosed, cooldown: cb.cfg.BaseCooldown}
	cb.breakers[provider] = pcb
	return pcb
}

// CanExecute reports whether the provider may receive the next request and
// a reason when it may not.
//
//   - Closed   → allowed.
//   - Open     → refused until the cooldown elapses, then the breaker moves
//     to HalfOpen and admits exactly one probe.
//   - HalfOpen → refused with "waiting for probe result" while the probe is
//     outstanding.
func (cb *CircuitBreaker) CanExecute(provider string) (bool, string) {
	pcb := cb.get(provider)
	now := cb.now()

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	switch pcb.state {
	case cbClosed:
		return true, ""

	case cbOpen:
		if now.Sub(pcb.openedAt) >= pcb.cooldown {
			pcb.state = cbHalfOpen
			pcb.probeInflight = true
			return true, ""
		}
		return false, fmt.Sprintf("circuit open: %s", pcb.lastOpenReason)

	case cbHalfOpen:
		if pcb.probeInflight {
			return false, probeWaitReason
		}
		pcb.probeInflight = true
		return true, ""
	}

	return true, ""
}

// RecordSuccess observes a successful request. In HalfOpen state the probe
// succeeded: the breaker closes and the cooldown resets. In Closed state
// the event still counts toward the window (a p95 breach can open on
// successes alone).
func (cb *CircuitBreaker) RecordSuccess(provider string, latencyMs float64) {
	pcb := cb.get(provider)
	now := cb.now()

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	if pcb.state == cbHalfOpen {
		pcb.state = cbClosed
		pcb.cooldown = cb.cfg.BaseCooldown
		pcb.consecutiveFailures = 0
		pcb.probeInflight = false
		pcb.events = nil
		return
	}

	pcb.consecutiveFailures = 0
	pcb.events = append(pcb.events, cbEvent{at: now, success: true, latencyMs: latencyMs})
	cb.evaluateLocked(pcb, now)
}

// RecordFailure observes a failed request. In HalfOpen state the probe
// failed: the breaker reopens with a doubled cooldown.
func (cb *CircuitBreaker) RecordFailure(provider string, latencyMs float64, timedOut bool) {
	pcb := cb.get(provider)
	now := cb.now()

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	pcb.consecutiveFailures++

	if pcb.state == cbHalfOpen {
		pcb.state = cbOpen
		pcb.openedAt = now
		pcb.cooldown = min(2*pcb.cooldown, cb.cfg.MaxCooldown)
		pcb.probeInflight = false
		pcb.lastOpenReason = "probe failed"
		return
	}

	pcb.events = append(pcb.events, cbEvent{at: now, latencyMs: latencyMs, timedOut: timedOut})
	cb.evaluateLocked(pcb, now)
}

// evaluateLocked prunes the window and opens the breaker when any
// threshold is breached. Caller holds pcb.mu.
func (cb *CircuitBreaker) evaluateLocked(pcb *providerCB, now time.Time) {
	cb.pruneLocked(pcb, now)
	if pcb.state != cbClosed || len(pcb.events) < cb.cfg.MinSamples {
		return
	}

	errorRate, timeoutRate, p95 := windowStats(pcb.events)

	var reason string
	switch {
	case errorRate >= cb.cfg.ErrorRateThreshold:
		reason = fmt.Sprintf("error rate %.2f >= %.2f", errorRate, cb.cfg.ErrorRateThreshold)
	case timeoutRate >= cb.cfg.TimeoutRateThreshold:
		reason = fmt.Sprintf("timeout rate %.2f >= %.2f", timeoutRate, cb.cfg.TimeoutRateThreshold)
	case p95 >= cb.cfg.P95LatencyMs:
		reason = fmt.Sprintf("p95 latency %.0fms >= %.0fms", p95, cb.cfg.P95LatencyMs)
	default:
		return
	}

	pcb.state = cbOpen
	pcb.openedAt = now
	pcb.lastOpenReason = reason
}

func (cb *CircuitBreaker) pruneLocked(pcb *providerCB, now time.Time) {
	cutoff := now.Add(-cb.cfg.Window)
	live := pcb.events[:0]
	for _, e := range pcb.events {
		if e.at.After(cutoff) {
			live = append(live, e)
		}
	}
	pcb.events = live
}

func windowStats(events []cbEvent) (errorRate, timeoutRate, p95 float64) {
	failures, timeouts := 0, 0
	latencies := make([]float64, 0, len(events))
	for _, e := range events {
		if !e.success {
			failures++
		}
		if e.timedOut {
			timeouts++
		}
		latencies = append(latencies, e.latencyMs)
	}
	n := float64(len(events))
	errorRate = float64(failures) / n
	timeoutRate = float64(timeouts) / n

	sort.Float64s(latencies)
	idx := int(math.Ceil(float64(len(latencies)) * 0.95))
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	return errorRate, timeoutRate, latencies[idx]
}

// OpenProviders returns the set of providers whose breaker is currently
// open, for router filtering.
func (cb *CircuitBreaker) OpenProviders() map[string]bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := map[string]bool{}
	for name, pcb := range cb.breakers {
		pcb.mu.Lock()
		if pcb.state == cbOpen {
			out[name] = true
		}
		pcb.mu.Unlock()
	}
	return out
}

// StateLabel returns "closed", "open", or "half_open" for a provider.
func (cb *CircuitBreaker) StateLabel(provider string) string {
	pcb := cb.get(provider)
	pcb.mu.Lock()
	defer pcb.mu.Unlock()
	switch pcb.state {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Snapshots exports every tracked breaker, sorted by provider name.
func (cb *CircuitBreaker) Snapshots() []CBSnapshot {
	cb.mu.RLock()
	names := make([]string, 0, len(cb.breakers))
	for name := range cb.breakers {
		names = append(names, name)
	}
	cb.mu.RUnlock()
	sort.Strings(names)

	now := cb.now()
	out := make([]CBSnapshot, 0, len(names))
	for _, name := range names {
		pcb := cb.get(name)
		pcb.mu.Lock()
		cb.pruneLocked(pcb, now)
		s := CBSnapshot{
			Provider:            name,
			State:               stateLabel(pcb.state),
			Samples:             len(pcb.events),
			CooldownMs:          pcb.cooldown.Milliseconds(),
			ConsecutiveFailures: pcb.consecutiveFailures,
			LastOpenReason:      pcb.lastOpenReason,
		}
		if len(pcb.events) > 0 {
			s.ErrorRate, s.TimeoutRate, s.P95LatencyMs = windowStats(pcb.events)
		}
		pcb.mu.Unlock()
		out = append(out, s)
	}
	return out
}

func stateLabel(s cbState) string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
