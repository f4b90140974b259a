package bench

import (
	"context"
	"errors"
	"testing"
)

func TestSnapshot_Percentiles(t *testing.T) {
	b := New(nil, nil)
	for i := 1; i <= 100; i++ {
		b.Record("m", float64(i*10), true, false)
	}

	s := b.Snapshot("m")
	if s.SampleCount != 100 {
		t.Fatalf("expected 100 samples, got %d", s.SampleCount)
	}
	if s.P50LatencyMs != 510 {
		t.Errorf("p50: expected 510, got %.0f", s.P50LatencyMs)
	}
	if s.P95LatencyMs != 960 {
		t.Errorf("p95: expected 960, got %.0f", s.P95LatencyMs)
	}
	if s.P99LatencyMs != 1000 {
		t.Errorf("p99: expected 1000, got %.0f", s.P99LatencyMs)
	}
	if s.AvgLatencyMs != 505 {
		t.Errorf("mean: expected 505, got %.1f", s.AvgLatencyMs)
	}
	if !s.IsHealthy || s.ErrorRate != 0 {
		t.Errorf("all-success model should be healthy with zero error rate")
	}
}

func TestRecord_RingEvictsOldest(t *testing.T) {
	b := New(nil, nil)
	// First 100 observations at 1ms, then 100 at 1000ms. Only the second
	// hundred should remain in the latency ring.
	for i := 0; i < 100; i++ {
		b.Record("m", 1, true, false)
	}
	for i := 0; i < 100; i++ {
		b.Record("m", 1000, true, false)
	}

	s := b.Snapshot("m")
	if s.SampleCount != 100 {
		t.Fatalf("ring should cap at 100 samples, got %d", s.SampleCount)
	}
	if s.AvgLatencyMs != 1000 {
		t.Errorf("old observations should be evicted, mean %.1f", s.AvgLatencyMs)
	}
}

func TestSnapshot_ErrorAndTimeoutRates(t *testing.T) {
	b := New(nil, nil)
	for i := 0; i < 4; i++ {
		b.Record("m", 100, true, false)
	}
	for i := 0; i < 4; i++ {
		b.Record("m", 100, false, false)
	}
	for i := 0; i < 2; i++ {
		b.Record("m", 100, false, true)
	}

	s := b.Snapshot("m")
	if s.ErrorRate != 0.6 {
		t.Errorf("error rate: expected 0.6, got %.2f", s.ErrorRate)
	}
	if s.TimeoutRate != 0.2 {
		t.Errorf("timeout rate: expected 0.2, got %.2f", s.TimeoutRate)
	}
	if s.IsHealthy {
		t.Error("error rate 0.6 should mark the model unhealthy")
	}
}

func TestSnapshot_UnknownModel(t *testing.T) {
	b := New(nil, nil)
	s := b.Snapshot("never-seen")
	if s.SampleCount != 0 || !s.IsHealthy {
		t.Errorf("unknown model should be a healthy zero snapshot: %+v", s)
	}
}

type captureSink struct {
	snaps [][]Snapshot
	err   error
}

func (c *captureSink) RecordModelHealth(_ context.Context, snapshots []Snapshot) error {
	c.snaps = append(c.snaps, snapshots)
	return c.err
}

func TestFlush_WritesSnapshots(t *testing.T) {
	sink := &captureSink{}
	b := New(sink, nil)
	b.Record("a", 50, true, false)
	b.Record("b", 80, false, false)

	b.Flush(context.Background())

	if len(sink.snaps) != 1 {
		t.Fatalf("expected one flush, got %d", len(sink.snaps))
	}
	if len(sink.snaps[0]) != 2 {
		t.Errorf("expected 2 model rows, got %d", len(sink.snaps[0]))
	}
}

func TestFlush_EmptySkipsSink(t *testing.T) {
	sink := &captureSink{}
	b := New(sink, nil)
	b.Flush(context.Background())
	if len(sink.snaps) != 0 {
		t.Error("flush with no observations should not hit the sink")
	}
}

func TestFlush_SinkErrorNonFatal(t *testing.T) {
	sink := &captureSink{err: errors.New("disk full")}
	b := New(sink, nil)
	b.Record("m", 10, true, false)
	b.Flush(context.Background()) // must not panic
}
