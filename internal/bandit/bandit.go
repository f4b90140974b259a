// Package bandit maintains Beta posteriors over model performance and draws
// Thompson samples for the router's learned-preference axis. Posteriors are
// in-memory only: global ones are rebuilt every recompute interval from the
// most recent stored feedback, per-tenant ones live and die with the
// process.
package bandit

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// Window caps α+β; when an update pushes past it both parameters are
	// scaled down proportionally so recent feedback keeps its leverage.
	Window = 200.0

	// updateStep scales each feedback's contribution to the posterior.
	updateStep = 0.1

	// explorationFloor is applied after sampling so no model is ever
	// starved of traffic entirely.
	explorationFloor = 0.05

	// globalScope keys the shared posterior set used for anonymous traffic
	// and rebuilt by the periodic recompute.
	globalScope = "global"

	// RecomputeInterval is how often global posteriors are rebuilt from
	// stored feedback.
	RecomputeInterval = 5 * time.Minute

	// recomputeRows is the number of most recent feedback rows per model
	// that a recompute replays.
	recomputeRows = 200
)

// Reward shaping weights. Absent factors contribute a neutral 0.5.
const (
	rewardSuccessWeight = 0.4
	rewardQualityWeight = 0.3
	rewardLatencyWeight = 0.2
	rewardCostWeight    = 0.1

	rewardLatencyCeilingMs = 30000
	rewardCostCeiling      = 0.01
)

// Posterior is one Beta(α,β) arm.
type Posterior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the posterior mean α/(α+β).
func (p Posterior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

func (p Posterior) std() float64 {
	n := p.Alpha + p.Beta
	return math.Sqrt(p.Alpha * p.Beta / (n * n * (n + 1)))
}

// Feedback is one reward observation. Pointer fields are optional; a nil
// factor contributes the neutral value to the shaped reward.
type Feedback struct {
	RequestID string
	ModelID   string
	TenantID  string
	Success   *bool
	Quality   *float64 // 0–10
	LatencyMs *float64
	Cost      *float64
	Timestamp time.Time
}

// FeedbackSource supplies the recent feedback rows a recompute replays.
type FeedbackSource interface {
	RecentFeedback(ctx context.Context, modelID string, limit int) ([]Feedback, error)
}

// Engine holds the posterior sets. Safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	posteriors map[string]map[string]*Posterior // scope → model id → posterior
	rng        *rand.Rand

	models []string
	source FeedbackSource
	log    *slog.Logger
}

// New creates an Engine over the given model ids. source may be nil, which
// disables the periodic recompute. log may be nil.
func New(models []string, source FeedbackSource, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		posteriors: map[string]map[string]*Posterior{globalScope: {}},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		models:     models,
		source:     source,
		log:        log,
	}
}

func scopeKey(tenantID string) string {
	if tenantID == "" {
		return globalScope
	}
	return tenantID
}

// posterior returns the arm for (scope, model), lazily initialized to the
// Beta(1,1) prior. Caller holds mu.
func (e *Engine) posterior(scope, modelID string) *Posterior {
	arms, ok := e.posteriors[scope]
	if !ok {
		arms = map[string]*Posterior{}
		e.posteriors[scope] = arms
	}
	p, ok := arms[modelID]
	if !ok {
		p = &Posterior{Alpha: 1, Beta: 1}
		arms[modelID] = p
	}
	return p
}

// Sample draws one Thompson sample per model for the tenant's posterior set
// (global when tenantID is empty). Samples are clamped to [floor, 1].
func (e *Engine) Sample(tenantID string) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := scopeKey(tenantID)
	out := make(map[string]float64, len(e.models))
	for _, id := range e.models {
		p := e.posterior(scope, id)
		// Cheap Beta draw: normal approximation around the posterior mean.
		z := e.boxMuller()
		s := p.Mean() + z*p.std()
		s = math.Max(explorationFloor, math.Min(1, s))
		out[id] = s
	}
	return out
}

func (e *Engine) boxMuller() float64 {
	u1 := e.rng.Float64()
	if u1 < 1e-12 {
		u1 = 1e-12
	}
	u2 := e.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Update applies one reward to the tenant's arm and to the global arm.
func (e *Engine) Update(tenantID, modelID string, reward float64) {
	reward = math.Max(0, math.Min(1, reward))

	e.mu.Lock()
	defer e.mu.Unlock()

	applyReward(e.posterior(globalScope, modelID), reward)
	if scope := scopeKey(tenantID); scope != globalScope {
		applyReward(e.posterior(scope, modelID), reward)
	}
}

func applyReward(p *Posterior, reward float64) {
	p.Alpha += updateStep * reward
	p.Beta += updateStep * (1 - reward)
	if n := p.Alpha + p.Beta; n > Window {
		scale := Window / n
		p.Alpha *= scale
		p.Beta *= scale
	}
}

// Reward shapes a scalar reward in [0,1] from a feedback record. Each factor
// contributes its weight times either the observed value or a neutral 0.5.
func Reward(fb Feedback) float64 {
	r := 0.0

	if fb.Success != nil {
		if *fb.Success {
			r += rewardSuccessWeight
		}
	} else {
		r += rewardSuccessWeight * 0.5
	}

	if fb.Quality != nil {
		q := math.Max(0, math.Min(10, *fb.Quality))
		r += rewardQualityWeight * (q / 10)
	} else {
		r += rewardQualityWeight * 0.5
	}

	if fb.LatencyMs != nil {
		l := 1 - math.Min(1, *fb.LatencyMs/rewardLatencyCeilingMs)
		r += rewardLatencyWeight * l
	} else {
		r += rewardLatencyWeight * 0.5
	}

	if fb.Cost != nil {
		c := 1 - math.Min(1, *fb.Cost/rewardCostCeiling)
		r += rewardCostWeight * c
	} else {
		r += rewardCostWeight * 0.5
	}

	return r
}

// Posteriors returns a copy of the arm set for a tenant scope, for the
// stats endpoint.
func (e *Engine) Posteriors(tenantID string) map[string]Posterior {
	e.mu.Lock()
	defer e.mu.Unlock()

	arms := e.posteriors[scopeKey(tenantID)]
	out := make(map[string]Posterior, len(arms))
	for id, p := range arms {
		out[id] = *p
	}
	return out
}

// Run recomputes global posteriors on a fixed interval until ctx is
// cancelled. It is a no-op when no feedback source is configured.
func (e *Engine) Run(ctx context.Context) error {
	if e.source == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(RecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Recompute(ctx)
		}
	}
}

// Recompute rebuilds the global posterior set from the prior by replaying
// the most recent stored feedback per model. Tenant posteriors are left
// untouched.
func (e *Engine) Recompute(ctx context.Context) {
	rebuilt := make(map[string]*Posterior, len(e.models))
	for _, id := range e.models {
		rows, err := e.source.RecentFeedback(ctx, id, recomputeRows)
		if err != nil {
			e.log.Error("bandit recompute: reading feedback",
				slog.String("model", id), slog.String("error", err.Error()))
			return
		}
		p := &Posterior{Alpha: 1, Beta: 1}
		for _, fb := range rows {
			applyReward(p, Reward(fb))
		}
		rebuilt[id] = p
	}

	e.mu.Lock()
	e.posteriors[globalScope] = rebuilt
	e.mu.Unlock()

	e.log.Debug("bandit recompute complete", slog.Int("models", len(rebuilt)))
}
