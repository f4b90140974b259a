package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Lookup sources.
const (
	SourceExact    = "exact"
	SourceSemantic = "semantic"
)

// Config bounds the semantic cache.
type Config struct {
	MaxSize               int           // max exact entries before LRU eviction
	TTL                   time.Duration // per-entry lifetime
	SimilarityThreshold   float64       // minimum cosine similarity for a semantic hit
	MinEntriesForSemantic int           // embedding entries required before the semantic tier answers
	GateMinLookups        int           // lookups before the hit-rate gate may trip
	GateMinHitRate        float64       // below this overall hit rate the semantic tier is disabled
}

// DefaultConfig returns the shipped cache bounds.
func DefaultConfig() Config {
	return Config{
		MaxSize:               10000,
		TTL:                   time.Hour,
		SimilarityThreshold:   0.92,
		MinEntriesForSemantic: 100,
		GateMinLookups:        50,
		GateMinHitRate:        0.15,
	}
}

// entry is the serialized exact-tier value.
type entry struct {
	Response  json.RawMessage `json:"response"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
}

// embEntry pairs an embedding with the exact entry it belongs to.
type embEntry struct {
	hash      string
	vector    []float64
	response  json.RawMessage
	model     string
	createdAt time.Time
}

// Result is one lookup outcome.
type Result struct {
	Hit      bool
	Response json.RawMessage
	Model    string
	Source   string
}

// Stats is the cache's observable state for the stats endpoint.
type Stats struct {
	Size             int     `json:"size"`
	EmbeddingEntries int     `json:"embedding_entries"`
	Lookups          int64   `json:"lookups"`
	ExactHits        int64   `json:"exact_hits"`
	SemanticHits     int64   `json:"semantic_hits"`
	HitRate          float64 `json:"hit_rate"`
	SemanticDisabled bool    `json:"semantic_disabled"`
}

// Semantic is the two-tier response cache. Exact entries live in the
// backend; LRU order, hit counts, embeddings and gating state live here.
// Safe for concurrent use.
type Semantic struct {
	backend Backend
	cfg     Config
	log     *slog.Logger

	mu         sync.Mutex
	order      []string       // LRU order, oldest first
	present    map[string]int // hash → hit count
	embeddings []embEntry

	lookups      int64
	exactHits    int64
	semanticHits int64
	disabled     bool
}

// NewSemantic creates the cache over the given exact-tier backend.
// log may be nil.
func NewSemantic(backend Backend, cfg Config, log *slog.Logger) *Semantic {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Semantic{
		backend: backend,
		cfg:     cfg,
		log:     log,
		present: map[string]int{},
	}
}

// Lookup resolves a prompt hash, consulting the exact tier first and the
// embedding tier second (when an embedding is supplied and the tier is
// enabled). A backend failure is a miss.
func (s *Semantic) Lookup(ctx context.Context, hash string, embedding []float64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	defer s.maybeDisableSemanticLocked()

	if raw, ok := s.backend.Get(ctx, hash); ok {
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil {
			s.exactHits++
			s.present[hash]++
			s.touchLocked(hash)
			return Result{Hit: true, Response: e.Response, Model: e.Model, Source: SourceExact}
		}
	} else {
		// Backend miss may be lazy expiry; drop our bookkeeping for it.
		s.forgetLocked(hash)
	}

	if embedding != nil && s.semanticEnabledLocked() {
		if best, ok := s.bestMatchLocked(embedding); ok {
			s.semanticHits++
			s.present[best.hash]++
			return Result{Hit: true, Response: best.response, Model: best.model, Source: SourceSemantic}
		}
	}

	return Result{}
}

// Store inserts a response under hash, evicting LRU entries first when the
// cache is full. A non-nil embedding also feeds the semantic tier.
func (s *Semantic) Store(ctx context.Context, hash string, response json.RawMessage, model string, embedding []float64) {
	now := time.Now()
	raw, err := json.Marshal(entry{Response: response, Model: model, CreatedAt: now})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.present[hash]; !exists {
		for len(s.order) >= s.cfg.MaxSize {
			s.evictOldestLocked(ctx)
		}
		s.present[hash] = 0
	}

	_ = s.backend.Set(ctx, hash, raw, s.cfg.TTL)
	s.touchLocked(hash)

	if embedding != nil {
		s.embeddings = append(s.embeddings, embEntry{
			hash:      hash,
			vector:    embedding,
			response:  response,
			model:     model,
			createdAt: now,
		})
	}
}

// Stats snapshots the cache counters.
func (s *Semantic) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:             len(s.order),
		EmbeddingEntries: len(s.embeddings),
		Lookups:          s.lookups,
		ExactHits:        s.exactHits,
		SemanticHits:     s.semanticHits,
		SemanticDisabled: s.disabled,
	}
	if st.Lookups > 0 {
		st.HitRate = float64(st.ExactHits+st.SemanticHits) / float64(st.Lookups)
	}
	return st
}

func (s *Semantic) semanticEnabledLocked() bool {
	return !s.disabled && len(s.embeddings) >= s.cfg.MinEntriesForSemantic
}

// bestMatchLocked scans the embedding tier, pruning expired entries in
// place, and returns the best candidate at or above the threshold.
func (s *Semantic) bestMatchLocked(embedding []float64) (embEntry, bool) {
	cutoff := time.Now().Add(-s.cfg.TTL)

	live := s.embeddings[:0]
	var best embEntry
	bestSim := s.cfg.SimilarityThreshold
	found := false
	for _, e := range s.embeddings {
		if e.createdAt.Before(cutoff) {
			continue
		}
		live = append(live, e)
		if sim := cosine(embedding, e.vector); sim >= bestSim {
			best, bestSim, found = e, sim, true
		}
	}
	s.embeddings = live
	return best, found
}

func (s *Semantic) maybeDisableSemanticLocked() {
	if s.disabled || s.lookups < int64(s.cfg.GateMinLookups) {
		return
	}
	rate := float64(s.exactHits+s.semanticHits) / float64(s.lookups)
	if rate < s.cfg.GateMinHitRate {
		s.disabled = true
		s.log.Info("semantic tier disabled by hit-rate gate",
			slog.Float64("hit_rate", rate),
			slog.Int64("lookups", s.lookups))
	}
}

// touchLocked moves hash to the most-recently-used end of the LRU order.
func (s *Semantic) touchLocked(hash string) {
	for i, h := range s.order {
		if h == hash {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, hash)
}

func (s *Semantic) evictOldestLocked(ctx context.Context) {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.present, oldest)
	_ = s.backend.Delete(ctx, oldest)
	s.dropEmbeddingsLocked(oldest)
}

func (s *Semantic) forgetLocked(hash string) {
	if _, ok := s.present[hash]; !ok {
		return
	}
	delete(s.present, hash)
	for i, h := range s.order {
		if h == hash {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dropEmbeddingsLocked(hash)
}

func (s *Semantic) dropEmbeddingsLocked(hash string) {
	live := s.embeddings[:0]
	for _, e := range s.embeddings {
		if e.hash != hash {
			live = append(live, e)
		}
	}
	s.embeddings = live
}

// cosine returns the cosine similarity of two equal-length vectors, or 0
// when lengths differ or either vector is zero.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
