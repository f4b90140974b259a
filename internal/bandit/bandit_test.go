package bandit

import (
	"context"
	"math"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestSample_RangeAndFloor(t *testing.T) {
	e := New([]string{"a", "b", "c"}, nil, nil)

	for i := 0; i < 100; i++ {
		for id, s := range e.Sample("") {
			if s < explorationFloor || s > 1 {
				t.Fatalf("sample for %s out of [%.2f,1]: %f", id, explorationFloor, s)
			}
		}
	}
}

func TestUpdate_PosteriorMeanTracksReward(t *testing.T) {
	e := New([]string{"good", "bad"}, nil, nil)

	for i := 0; i < 500; i++ {
		e.Update("", "good", 1)
		e.Update("", "bad", 0)
	}

	arms := e.Posteriors("")
	if arms["good"].Mean() <= arms["bad"].Mean() {
		t.Errorf("consistently rewarded arm should have the higher mean: %.3f vs %.3f",
			arms["good"].Mean(), arms["bad"].Mean())
	}
	if arms["good"].Mean() < 0.8 {
		t.Errorf("expected good arm mean near 1 after 500 unit rewards, got %.3f", arms["good"].Mean())
	}
}

func TestUpdate_WindowRescale(t *testing.T) {
	e := New([]string{"m"}, nil, nil)

	for i := 0; i < 5000; i++ {
		e.Update("", "m", 0.7)
	}

	p := e.Posteriors("")["m"]
	if p.Alpha <= 0 || p.Beta <= 0 {
		t.Fatalf("parameters must stay positive: α=%f β=%f", p.Alpha, p.Beta)
	}
	if n := p.Alpha + p.Beta; n > Window+1e-6 {
		t.Errorf("α+β=%f exceeds window %f", n, Window)
	}
}

func TestUpdate_TenantScopeIsolated(t *testing.T) {
	e := New([]string{"m"}, nil, nil)

	e.Update("tenant-1", "m", 1)

	t1 := e.Posteriors("tenant-1")["m"]
	t2 := e.Posteriors("tenant-2")["m"]
	if t1.Alpha == t2.Alpha {
		t.Error("tenant-2 should still hold the untouched prior")
	}
	if g := e.Posteriors("")["m"]; g.Alpha <= 1 {
		t.Error("global arm should also receive tenant feedback")
	}
}

func TestReward_Shaping(t *testing.T) {
	// All factors absent → fully neutral.
	if r := Reward(Feedback{}); math.Abs(r-0.5) > 1e-9 {
		t.Errorf("neutral reward should be 0.5, got %f", r)
	}

	// Perfect outcome on every axis.
	perfect := Feedback{
		Success:   ptr(true),
		Quality:   ptr(10.0),
		LatencyMs: ptr(0.0),
		Cost:      ptr(0.0),
	}
	if r := Reward(perfect); math.Abs(r-1) > 1e-9 {
		t.Errorf("perfect reward should be 1, got %f", r)
	}

	// Total failure on every axis.
	worst := Feedback{
		Success:   ptr(false),
		Quality:   ptr(0.0),
		LatencyMs: ptr(60000.0),
		Cost:      ptr(1.0),
	}
	if r := Reward(worst); r != 0 {
		t.Errorf("worst-case reward should be 0, got %f", r)
	}

	// Success only: 0.4 observed + 0.6×0.5 neutral.
	if r := Reward(Feedback{Success: ptr(true)}); math.Abs(r-0.7) > 1e-9 {
		t.Errorf("success-only reward should be 0.7, got %f", r)
	}
}

type stubSource struct {
	rows map[string][]Feedback
}

func (s *stubSource) RecentFeedback(_ context.Context, modelID string, limit int) ([]Feedback, error) {
	rows := s.rows[modelID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func TestRecompute_RebuildsGlobalKeepsTenant(t *testing.T) {
	src := &stubSource{rows: map[string][]Feedback{
		"m": {
			{Success: ptr(true), Quality: ptr(9.0), Timestamp: time.Now()},
			{Success: ptr(true), Quality: ptr(8.0), Timestamp: time.Now()},
		},
	}}
	e := New([]string{"m"}, src, nil)

	// Skew both scopes before recompute.
	for i := 0; i < 100; i++ {
		e.Update("tenant-1", "m", 0)
	}
	tenantBefore := e.Posteriors("tenant-1")["m"]

	e.Recompute(context.Background())

	g := e.Posteriors("")["m"]
	if g.Mean() < 0.5 {
		t.Errorf("global posterior should be rebuilt from positive feedback, mean %.3f", g.Mean())
	}
	if e.Posteriors("tenant-1")["m"] != tenantBefore {
		t.Error("tenant posterior must survive a recompute unchanged")
	}
}

func TestSample_FavorsBetterArm(t *testing.T) {
	e := New([]string{"good", "bad"}, nil, nil)
	for i := 0; i < 1000; i++ {
		e.Update("", "good", 0.95)
		e.Update("", "bad", 0.05)
	}

	wins := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		s := e.Sample("")
		if s["good"] > s["bad"] {
			wins++
		}
	}
	if wins < trials*3/4 {
		t.Errorf("better arm should win most samples, won %d/%d", wins, trials)
	}
}
