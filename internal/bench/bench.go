// Package bench passively benchmarks models from live traffic. Each model
// keeps a ring of its last 100 latencies plus success/failure/timeout
// counters; snapshots expose rolling percentiles and error rates, and a
// background worker flushes health rows to the store every interval.
package bench

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// ringSize is the number of latency observations retained per model.
	ringSize = 100

	// FlushInterval is how often health rows are persisted.
	FlushInterval = 30 * time.Second

	// healthyErrorRate marks a model unhealthy at or above this error rate.
	healthyErrorRate = 0.5
)

// Snapshot is the rolling view of one model's observed behavior.
type Snapshot struct {
	ModelID      string  `json:"model"`
	SampleCount  int     `json:"sample_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
	TimeoutRate  float64 `json:"timeout_rate"`
	IsHealthy    bool    `json:"is_healthy"`
}

// HealthSink persists a batch of health snapshots.
type HealthSink interface {
	RecordModelHealth(ctx context.Context, snapshots []Snapshot) error
}

type buffer struct {
	latencies []float64 // ring, newest overwrites oldest
	next      int

	successes int
	failures  int
	timeouts  int
}

func (b *buffer) record(latencyMs float64, success, timedOut bool) {
	if len(b.latencies) < ringSize {
		b.latencies = append(b.latencies, latencyMs)
	} else {
		b.latencies[b.next] = latencyMs
	}
	b.next = (b.next + 1) % ringSize

	switch {
	case timedOut:
		b.timeouts++
		b.failures++
	case success:
		b.successes++
	default:
		b.failures++
	}
}

// Benchmarker aggregates per-model observations. Safe for concurrent use.
type Benchmarker struct {
	mu      sync.Mutex
	buffers map[string]*buffer

	sink HealthSink
	log  *slog.Logger
}

// New creates a Benchmarker. sink may be nil (snapshots only, no flush);
// log may be nil.
func New(sink HealthSink, log *slog.Logger) *Benchmarker {
	if log == nil {
		log = slog.Default()
	}
	return &Benchmarker{
		buffers: map[string]*buffer{},
		sink:    sink,
		log:     log,
	}
}

// Record adds one observation for a model.
func (b *Benchmarker) Record(modelID string, latencyMs float64, success, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[modelID]
	if !ok {
		buf = &buffer{}
		b.buffers[modelID] = buf
	}
	buf.record(latencyMs, success, timedOut)
}

// Snapshot computes the rolling stats for one model. Returns a zero-sample
// snapshot for unknown models.
func (b *Benchmarker) Snapshot(modelID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[modelID]
	if !ok {
		return Snapshot{ModelID: modelID, IsHealthy: true}
	}
	return snapshot(modelID, buf)
}

// Snapshots returns the stats for every observed model.
func (b *Benchmarker) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(b.buffers))
	for id, buf := range b.buffers {
		out = append(out, snapshot(id, buf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

func snapshot(modelID string, buf *buffer) Snapshot {
	total := buf.successes + buf.failures

	s := Snapshot{
		ModelID:     modelID,
		SampleCount: len(buf.latencies),
		IsHealthy:   true,
	}
	if total > 0 {
		s.ErrorRate = float64(buf.failures) / float64(total)
		s.TimeoutRate = float64(buf.timeouts) / float64(total)
		s.IsHealthy = s.ErrorRate < healthyErrorRate
	}
	if len(buf.latencies) == 0 {
		return s
	}

	sorted := make([]float64, len(buf.latencies))
	copy(sorted, buf.latencies)
	sort.Float64s(sorted)

	sum := 0.0
	for _, l := range sorted {
		sum += l
	}
	s.AvgLatencyMs = sum / float64(len(sorted))
	s.P50LatencyMs = percentile(sorted, 0.50)
	s.P95LatencyMs = percentile(sorted, 0.95)
	s.P99LatencyMs = percentile(sorted, 0.99)
	return s
}

// percentile uses the ceil-index convention; an index past the end falls
// back to the upper bound.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Run flushes health rows on a fixed interval until ctx is cancelled, then
// performs one final flush.
func (b *Benchmarker) Run(ctx context.Context) error {
	if b.sink == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return nil
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Flush persists the current snapshots. Failures are logged, never fatal.
func (b *Benchmarker) Flush(ctx context.Context) {
	snaps := b.Snapshots()
	if len(snaps) == 0 {
		return
	}
	if err := b.sink.RecordModelHealth(ctx, snaps); err != nil {
		b.log.Error("benchmark flush failed", slog.String("error", err.Error()))
	}
}
