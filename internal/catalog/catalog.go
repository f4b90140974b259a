// Package catalog holds the static model catalog: per-model pricing,
// baseline latency and reliability, energy intensity, quality score, and
// strength tags. Entries are immutable at runtime; the router reads them on
// every scoring pass.
package catalog

// Strength tags a model can advertise.
const (
	StrengthCode          = "code"
	StrengthMath          = "math"
	StrengthReasoning     = "reasoning"
	StrengthAnalysis      = "analysis"
	StrengthCreative      = "creative"
	StrengthTranslation   = "translation"
	StrengthQA            = "qa"
	StrengthSummarization = "summarization"
)

// Model is one catalog entry.
type Model struct {
	ID              string   `json:"id"`
	Provider        string   `json:"provider"`
	InputCostPer1M  float64  `json:"input_cost_per_1m"`
	OutputCostPer1M float64  `json:"output_cost_per_1m"`
	AvgLatencyMs    float64  `json:"avg_latency_ms"`
	Reliability     float64  `json:"reliability"`      // baseline in [0,1]
	EnergyIntensity float64  `json:"energy_intensity"` // relative Wh per 1K tokens
	QualityScore    float64  `json:"quality_score"`    // 0–100
	Strengths       []string `json:"strengths"`
}

// HasStrength reports whether the model carries the given strength tag.
func (m *Model) HasStrength(tag string) bool {
	for _, s := range m.Strengths {
		if s == tag {
			return true
		}
	}
	return false
}

// AvgCostPer1M is the averaged input/output cost used by the router's
// cost axis.
func (m *Model) AvgCostPer1M() float64 {
	return (m.InputCostPer1M + m.OutputCostPer1M) / 2
}

// defaultModels is the shipped catalog. Order matters: the router breaks
// score ties by catalog position.
var defaultModels = []Model{
	{
		ID: "gpt-4o", Provider: "openai",
		InputCostPer1M: 2.50, OutputCostPer1M: 10.00,
		AvgLatencyMs: 1200, Reliability: 0.99, EnergyIntensity: 0.9, QualityScore: 92,
		Strengths: []string{StrengthCode, StrengthReasoning, StrengthAnalysis, StrengthQA},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai",
		InputCostPer1M: 0.15, OutputCostPer1M: 0.60,
		AvgLatencyMs: 700, Reliability: 0.99, EnergyIntensity: 0.3, QualityScore: 78,
		Strengths: []string{StrengthQA, StrengthSummarization, StrengthTranslation},
	},
	{
		ID: "o3-mini", Provider: "openai",
		InputCostPer1M: 1.10, OutputCostPer1M: 4.40,
		AvgLatencyMs: 4500, Reliability: 0.98, EnergyIntensity: 1.1, QualityScore: 94,
		Strengths: []string{StrengthMath, StrengthReasoning, StrengthCode},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic",
		InputCostPer1M: 3.00, OutputCostPer1M: 15.00,
		AvgLatencyMs: 1500, Reliability: 0.99, EnergyIntensity: 1.0, QualityScore: 95,
		Strengths: []string{StrengthCode, StrengthReasoning, StrengthAnalysis, StrengthCreative},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic",
		InputCostPer1M: 0.80, OutputCostPer1M: 4.00,
		AvgLatencyMs: 650, Reliability: 0.99, EnergyIntensity: 0.35, QualityScore: 82,
		Strengths: []string{StrengthQA, StrengthSummarization, StrengthCode},
	},
	{
		ID: "gemini-2.5-flash", Provider: "gemini",
		InputCostPer1M: 0.30, OutputCostPer1M: 2.50,
		AvgLatencyMs: 600, Reliability: 0.98, EnergyIntensity: 0.25, QualityScore: 84,
		Strengths: []string{StrengthQA, StrengthTranslation, StrengthSummarization, StrengthAnalysis},
	},
	{
		ID: "gemini-2.5-pro", Provider: "gemini",
		InputCostPer1M: 1.25, OutputCostPer1M: 10.00,
		AvgLatencyMs: 1800, Reliability: 0.98, EnergyIntensity: 0.95, QualityScore: 93,
		Strengths: []string{StrengthMath, StrengthReasoning, StrengthAnalysis, StrengthCode},
	},
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq",
		InputCostPer1M: 0.59, OutputCostPer1M: 0.79,
		AvgLatencyMs: 350, Reliability: 0.97, EnergyIntensity: 0.45, QualityScore: 76,
		Strengths: []string{StrengthQA, StrengthCreative, StrengthSummarization},
	},
	{
		ID: "llama-3.1-8b-instant", Provider: "groq",
		InputCostPer1M: 0.05, OutputCostPer1M: 0.08,
		AvgLatencyMs: 250, Reliability: 0.97, EnergyIntensity: 0.1, QualityScore: 58,
		Strengths: []string{StrengthQA, StrengthSummarization},
	},
	{
		ID: "command-r-plus", Provider: "cohere",
		InputCostPer1M: 2.50, OutputCostPer1M: 10.00,
		AvgLatencyMs: 1100, Reliability: 0.96, EnergyIntensity: 0.8, QualityScore: 80,
		Strengths: []string{StrengthQA, StrengthSummarization, StrengthTranslation, StrengthAnalysis},
	},
	{
		ID: "command-r", Provider: "cohere",
		InputCostPer1M: 0.50, OutputCostPer1M: 1.50,
		AvgLatencyMs: 800, Reliability: 0.96, EnergyIntensity: 0.4, QualityScore: 68,
		Strengths: []string{StrengthQA, StrengthTranslation},
	},
}

// Catalog is an immutable model catalog.
type Catalog struct {
	models []Model
	byID   map[string]*Model
}

// Default returns the shipped catalog.
func Default() *Catalog {
	return New(defaultModels)
}

// New builds a catalog from the given entries. The slice is copied; callers
// cannot mutate the catalog afterwards.
func New(models []Model) *Catalog {
	c := &Catalog{
		models: make([]Model, len(models)),
		byID:   make(map[string]*Model, len(models)),
	}
	copy(c.models, models)
	for i := range c.models {
		c.byID[c.models[i].ID] = &c.models[i]
	}
	return c
}

// All returns the catalog entries in insertion order.
func (c *Catalog) All() []*Model {
	out := make([]*Model, len(c.models))
	for i := range c.models {
		out[i] = &c.models[i]
	}
	return out
}

// Get returns the entry for id, or nil if unknown.
func (c *Catalog) Get(id string) *Model {
	return c.byID[id]
}

// ByProvider returns all entries served by the named provider.
func (c *Catalog) ByProvider(provider string) []*Model {
	var out []*Model
	for i := range c.models {
		if c.models[i].Provider == provider {
			out = append(out, &c.models[i])
		}
	}
	return out
}

// Providers returns the distinct provider names in catalog order.
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range c.models {
		p := c.models[i].Provider
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Cost computes the dollar cost of a request against the model's pricing
// from actual token counts.
func (m *Model) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*m.InputCostPer1M +
		float64(outputTokens)/1_000_000*m.OutputCostPer1M
}

// Energy estimates the energy used by a request in relative units,
// proportional to total tokens and the model's intensity.
func (m *Model) Energy(inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) / 1000 * m.EnergyIntensity
}
