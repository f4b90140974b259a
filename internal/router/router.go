// Package router scores every viable catalog model along six axes (cost,
// quality, latency, energy, reliability, learned preference) and selects
// one. The caller supplies live signals: benchmark observations, breaker
// states, bandit scores and the tenant allowlist. Scoring is deterministic
// for fixed inputs; the full ranked candidate list is returned so the
// orchestrator can fall back without re-scoring.
package router

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/sharma23Mukul/ai-router/internal/catalog"
	"github.com/sharma23Mukul/ai-router/internal/classify"
)

// Routing strategies.
const (
	StrategyCostFirst        = "cost-first"
	StrategyGreenFirst       = "green-first"
	StrategyPerformanceFirst = "performance-first"
	StrategyBalanced         = "balanced"
)

// Strategies lists the known strategy names.
var Strategies = []string{
	StrategyCostFirst, StrategyGreenFirst, StrategyPerformanceFirst, StrategyBalanced,
}

// Weights is one strategy profile. The six weights sum to 1.
type Weights struct {
	Cost        float64 `json:"cost"`
	Quality     float64 `json:"quality"`
	Latency     float64 `json:"latency"`
	Energy      float64 `json:"energy"`
	Reliability float64 `json:"reliability"`
	RL          float64 `json:"rl"`
}

var strategyWeights = map[string]Weights{
	StrategyCostFirst:        {Cost: 0.35, Quality: 0.20, Latency: 0.10, Energy: 0.10, Reliability: 0.10, RL: 0.15},
	StrategyGreenFirst:       {Cost: 0.10, Quality: 0.15, Latency: 0.10, Energy: 0.35, Reliability: 0.10, RL: 0.20},
	StrategyPerformanceFirst: {Cost: 0.05, Quality: 0.35, Latency: 0.20, Energy: 0.05, Reliability: 0.20, RL: 0.15},
	StrategyBalanced:         {Cost: 0.20, Quality: 0.20, Latency: 0.15, Energy: 0.15, Reliability: 0.15, RL: 0.15},
}

// WeightsFor returns the profile for a strategy name, defaulting to
// balanced for unknown names.
func WeightsFor(strategy string) Weights {
	if w, ok := strategyWeights[strategy]; ok {
		return w
	}
	return strategyWeights[StrategyBalanced]
}

// requiredStrengths maps a detected intent to the strength tags that earn
// the strength bonus.
var requiredStrengths = map[string][]string{
	classify.IntentCode:        {catalog.StrengthCode, catalog.StrengthReasoning},
	classify.IntentMath:        {catalog.StrengthMath, catalog.StrengthReasoning},
	classify.IntentAnalysis:    {catalog.StrengthAnalysis, catalog.StrengthReasoning},
	classify.IntentCreative:    {catalog.StrengthCreative},
	classify.IntentTranslation: {catalog.StrengthTranslation},
	classify.IntentQA:          {catalog.StrengthQA, catalog.StrengthSummarization},
}

// Benchmark carries the live observations for one model, blended with the
// catalog baseline by min(SampleCount/20, 1).
type Benchmark struct {
	AvgLatencyMs float64
	ErrorRate    float64
	SampleCount  int
}

// Options are the live signals for one routing decision. Any field may be
// nil/empty; scoring degrades to catalog baselines and neutral RL.
type Options struct {
	RLScores      map[string]float64   // model id → bandit sample
	Benchmarks    map[string]Benchmark // model id → live observations
	OpenProviders map[string]bool      // providers with an OPEN circuit
	AllowedModels []string             // tenant allowlist; nil allows all
}

// Breakdown is the per-axis score of one candidate before weighting.
type Breakdown struct {
	Cost        float64 `json:"cost"`
	Quality     float64 `json:"quality"`
	Latency     float64 `json:"latency"`
	Energy      float64 `json:"energy"`
	Reliability float64 `json:"reliability"`
	RL          float64 `json:"rl"`
}

// Candidate is one scored model in rank order.
type Candidate struct {
	Model     *catalog.Model `json:"-"`
	ModelID   string         `json:"model"`
	Provider  string         `json:"provider"`
	Score     float64        `json:"score"`
	Breakdown Breakdown      `json:"breakdown"`
}

// Decision is the full routing output.
type Decision struct {
	Selected   *catalog.Model
	Candidates []Candidate // descending score, Selected first
	Strategy   string
	Weights    Weights
	Reasoning  string
}

// Router scores candidates from a fixed catalog.
type Router struct {
	catalog *catalog.Catalog
	log     *slog.Logger
}

// New creates a Router over the given catalog. log may be nil.
func New(c *catalog.Catalog, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{catalog: c, log: log}
}

// Route filters and scores the catalog for one classified request.
func (r *Router) Route(cls classify.Result, strategy string, opts Options) Decision {
	weights := WeightsFor(strategy)
	candidates := r.filter(cls, opts)

	scored := r.score(candidates, cls, weights, opts)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	sel := scored[0]
	return Decision{
		Selected:   sel.Model,
		Candidates: scored,
		Strategy:   strategy,
		Weights:    weights,
		Reasoning:  reasoning(sel, cls, strategy),
	}
}

// filter applies, in order: tenant allowlist, open-circuit exclusion, and
// the tier minimum-quality bar (raised by 15 when classifier confidence is
// low). Each quality step is skipped rather than applied if it would empty
// the set; an ultimately empty set reinstates the full catalog.
func (r *Router) filter(cls classify.Result, opts Options) []*catalog.Model {
	all := r.catalog.All()

	candidates := all
	if len(opts.AllowedModels) > 0 {
		allowed := make(map[string]bool, len(opts.AllowedModels))
		for _, id := range opts.AllowedModels {
			allowed[id] = true
		}
		candidates = keep(candidates, func(m *catalog.Model) bool { return allowed[m.ID] })
	}

	if len(opts.OpenProviders) > 0 {
		candidates = keep(candidates, func(m *catalog.Model) bool { return !opts.OpenProviders[m.Provider] })
	}

	minQuality := classify.MinQualityForTier(cls.Tier)
	if qualified := keep(candidates, func(m *catalog.Model) bool { return m.QualityScore >= minQuality }); len(qualified) > 0 {
		candidates = qualified
	}

	if cls.Confidence < 0.5 {
		raised := math.Min(minQuality+15, 95)
		if safe := keep(candidates, func(m *catalog.Model) bool { return m.QualityScore >= raised }); len(safe) > 0 {
			candidates = safe
		}
	}

	if len(candidates) == 0 {
		r.log.Warn("all candidates filtered out, reinstating full catalog",
			slog.String("tier", cls.Tier))
		candidates = all
	}
	return candidates
}

func (r *Router) score(candidates []*catalog.Model, cls classify.Result, weights Weights, opts Options) []Candidate {
	costs := make([]float64, len(candidates))
	latencies := make([]float64, len(candidates))
	energies := make([]float64, len(candidates))
	reliabilities := make([]float64, len(candidates))

	for i, m := range candidates {
		costs[i] = m.AvgCostPer1M()
		latencies[i], reliabilities[i] = blend(m, opts.Benchmarks)
		energies[i] = m.EnergyIntensity
	}

	minCost, maxCost := bounds(costs)
	minLat, maxLat := bounds(latencies)
	minEn, maxEn := bounds(energies)

	out := make([]Candidate, len(candidates))
	for i, m := range candidates {
		b := Breakdown{
			Cost:        1 - normalize(costs[i], minCost, maxCost),
			Quality:     qualityMatch(m, cls.Intent),
			Latency:     1 - normalize(latencies[i], minLat, maxLat),
			Energy:      1 - normalize(energies[i], minEn, maxEn),
			Reliability: reliabilities[i],
			RL:          rlScore(opts.RLScores, m.ID),
		}
		score := weights.Cost*b.Cost + weights.Quality*b.Quality +
			weights.Latency*b.Latency + weights.Energy*b.Energy +
			weights.Reliability*b.Reliability + weights.RL*b.RL
		out[i] = Candidate{
			Model:     m,
			ModelID:   m.ID,
			Provider:  m.Provider,
			Score:     math.Round(score*1000) / 1000,
			Breakdown: b,
		}
	}
	return out
}

// blend mixes live benchmark observations into the catalog baselines. With
// fewer than 20 samples the baseline dominates proportionally.
func blend(m *catalog.Model, benchmarks map[string]Benchmark) (latencyMs, reliability float64) {
	latencyMs = m.AvgLatencyMs
	reliability = m.Reliability

	bm, ok := benchmarks[m.ID]
	if !ok || bm.SampleCount == 0 {
		return latencyMs, reliability
	}
	w := math.Min(float64(bm.SampleCount)/20, 1)
	latencyMs = w*bm.AvgLatencyMs + (1-w)*m.AvgLatencyMs
	reliability = w*(1-bm.ErrorRate) + (1-w)*m.Reliability
	return latencyMs, reliability
}

// qualityMatch combines intrinsic quality with a bonus for covering the
// strengths the detected intent asks for.
func qualityMatch(m *catalog.Model, intent string) float64 {
	required := requiredStrengths[intent]
	base := m.QualityScore / 100
	if len(required) == 0 {
		return math.Min(1, base)
	}
	matches := 0
	for _, tag := range required {
		if m.HasStrength(tag) {
			matches++
		}
	}
	bonus := 0.2 * float64(matches) / float64(len(required))
	return math.Min(1, base+bonus)
}

func rlScore(scores map[string]float64, modelID string) float64 {
	if s, ok := scores[modelID]; ok {
		return s
	}
	return 0.5
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 0.5
	}
	return (v - min) / (max - min)
}

func bounds(vs []float64) (min, max float64) {
	min, max = vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func keep(models []*catalog.Model, pred func(*catalog.Model) bool) []*catalog.Model {
	var out []*catalog.Model
	for _, m := range models {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

func reasoning(c Candidate, cls classify.Result, strategy string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "selected %s (%s) for %s/%s prompt via %s strategy: score %.3f",
		c.ModelID, c.Provider, cls.Tier, cls.Intent, strategy, c.Score)
	fmt.Fprintf(&sb, " (cost %.2f, quality %.2f, latency %.2f, energy %.2f, reliability %.2f, rl %.2f)",
		c.Breakdown.Cost, c.Breakdown.Quality, c.Breakdown.Latency,
		c.Breakdown.Energy, c.Breakdown.Reliability, c.Breakdown.RL)
	return sb.String()
}
