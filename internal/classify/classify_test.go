package classify

import (
	"errors"
	"strings"
	"testing"
)

func TestClassify_ScoreInRange(t *testing.T) {
	c := New(nil)

	prompts := []string{
		"",
		"Hi",
		"What is Python?",
		"Explain the difference between SQL and NoSQL databases with examples",
		strings.Repeat("Design a distributed caching system. ", 200),
		"```go\nfunc main() {}\n```\nFix the bug in this program",
	}

	for _, p := range prompts {
		res := c.Classify(p)
		if res.Score < 0 || res.Score > 100 {
			t.Errorf("prompt %q: score %f out of [0,100]", p, res.Score)
		}
		valid := false
		for _, tier := range Tiers {
			if res.Tier == tier {
				valid = true
			}
		}
		if !valid {
			t.Errorf("prompt %q: unknown tier %q", p, res.Tier)
		}
	}
}

func TestClassify_TrivialGreeting(t *testing.T) {
	c := New(nil)

	res := c.Classify("Hi")
	if res.Tier != TierTrivial {
		t.Errorf("expected trivial, got %s (score %.2f)", res.Tier, res.Score)
	}
	if res.Score > 10 {
		t.Errorf("trivial score should be ≤ 10, got %.2f", res.Score)
	}
	if res.Method != MethodHeuristic {
		t.Errorf("expected heuristic method, got %s", res.Method)
	}
	if res.Confidence != heuristicConfidence {
		t.Errorf("heuristic confidence should be %.2f, got %.2f", heuristicConfidence, res.Confidence)
	}
}

func TestClassify_ComplexPromptOutranksSimple(t *testing.T) {
	c := New(nil)

	simple := c.Classify("What is the capital of France?")
	complexPrompt := "Design a distributed caching architecture with encryption and " +
		"authentication. Analyze the scalability trade-offs step-by-step. " +
		"Must handle 100000 concurrent connections.\n" +
		"- replication strategy\n- consistency model\n- failure recovery\n" +
		"```\ncache.get(key)\n```\nOutput as markdown."
	hard := c.Classify(complexPrompt)

	if hard.Score <= simple.Score {
		t.Errorf("complex prompt (%.2f) should outscore simple prompt (%.2f)",
			hard.Score, simple.Score)
	}
	if hard.Tier == TierTrivial || hard.Tier == TierSimple {
		t.Errorf("expected at least moderate tier, got %s (score %.2f)", hard.Tier, hard.Score)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(nil)
	prompt := "Write a Python function that sorts a list using bubble sort"

	a := c.Classify(prompt)
	b := c.Classify(prompt)
	if a != b {
		t.Errorf("classification is not deterministic: %+v vs %+v", a, b)
	}
}

func TestDetectIntent(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"Write a function in Python that reverses a string", IntentCode},
		{"Derive the asymptotic variance of the maximum-likelihood estimator for a Pareto distribution", IntentMath},
		{"Compare React and Vue for frontend development and list the trade-offs", IntentAnalysis},
		{"Write a story about a lighthouse keeper", IntentCreative},
		{"Translate 'good morning' to Spanish", IntentTranslation},
		{"What is the speed of light?", IntentQA},
		{"asdf qwerty zxcv", IntentGeneral},
	}

	for _, tc := range cases {
		got := DetectIntent(tc.prompt)
		if got.Intent != tc.want {
			t.Errorf("prompt %q: expected intent %s, got %s", tc.prompt, tc.want, got.Intent)
		}
		if got.Confidence <= 0 || got.Confidence > 1 {
			t.Errorf("prompt %q: confidence %f out of (0,1]", tc.prompt, got.Confidence)
		}
	}
}

func TestExtractFeatures_Normalized(t *testing.T) {
	huge := strings.Repeat("The architecture must handle 500000 requests? ", 500)
	f := ExtractFeatures(huge)
	for i, v := range f {
		if v < 0 || v > 1 {
			t.Errorf("feature %d = %f, expected [0,1]", i, v)
		}
	}
	if f[fLargeNumbers] != 1 {
		t.Error("expected large-number indicator to fire for 500000")
	}
}

func TestExtractFeatures_CodeIndicator(t *testing.T) {
	if f := ExtractFeatures("```python\nprint(1)\n```"); f[fCodeIndicator] != 1 {
		t.Errorf("fenced block should score 1, got %f", f[fCodeIndicator])
	}
	if f := ExtractFeatures("use `printf` here"); f[fCodeIndicator] != 0.5 {
		t.Errorf("inline backticks should score 0.5, got %f", f[fCodeIndicator])
	}
	if f := ExtractFeatures("no code at all"); f[fCodeIndicator] != 0 {
		t.Errorf("plain text should score 0, got %f", f[fCodeIndicator])
	}
}

// stubModel returns a fixed distribution, or an error when failing is set.
type stubModel struct {
	probs   []float64
	failing bool
}

func (s *stubModel) Predict(Features) ([]float64, error) {
	if s.failing {
		return nil, errors.New("inference unavailable")
	}
	return s.probs, nil
}

func TestClassify_LearnedModelWins(t *testing.T) {
	c := New(nil)
	c.SetModel(&stubModel{probs: []float64{0.01, 0.02, 0.07, 0.8, 0.1}})

	res := c.Classify("Hi")
	if res.Tier != TierComplex {
		t.Errorf("expected model argmax tier complex, got %s", res.Tier)
	}
	if res.Score != 80 {
		t.Errorf("expected score 80 (round of 0.8×100), got %.2f", res.Score)
	}
	if res.Method != MethodML {
		t.Errorf("expected ml method, got %s", res.Method)
	}
	if res.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %f", res.Confidence)
	}
}

func TestClassify_ModelFailureFallsBack(t *testing.T) {
	c := New(nil)
	c.SetModel(&stubModel{failing: true})

	res := c.Classify("Hi")
	if res.Method != MethodHeuristic {
		t.Errorf("expected heuristic fallback, got %s", res.Method)
	}
	if res.Tier != TierTrivial {
		t.Errorf("expected trivial, got %s", res.Tier)
	}
}

func TestMinQualityForTier(t *testing.T) {
	cases := map[string]float64{
		TierTrivial:  0,
		TierSimple:   0,
		TierModerate: 60,
		TierComplex:  80,
		TierExpert:   90,
	}
	for tier, want := range cases {
		if got := MinQualityForTier(tier); got != want {
			t.Errorf("tier %s: expected %.0f, got %.0f", tier, want, got)
		}
	}
}
