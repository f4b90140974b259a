// Package classify turns a raw prompt into a complexity tier, score,
// confidence, and intent. Classification is a pure function of the prompt
// text: same input, same output.
//
// Two paths produce the tier. The heuristic path is always available and
// combines the 15 features with fixed weights. When a learned model is
// installed (Classifier.SetModel) its 5-way probability distribution wins;
// model failures fall back silently to the heuristic so classification can
// never fail a request.
package classify

import (
	"log/slog"
	"math"
)

// Complexity tiers, cheapest to hardest.
const (
	TierTrivial  = "trivial"
	TierSimple   = "simple"
	TierModerate = "moderate"
	TierComplex  = "complex"
	TierExpert   = "expert"
)

// Tiers lists the five tiers in ascending order. Index positions match the
// learned model's output classes.
var Tiers = []string{TierTrivial, TierSimple, TierModerate, TierComplex, TierExpert}

// Classification methods recorded in Result.Method.
const (
	MethodHeuristic = "heuristic"
	MethodML        = "ml"
)

// heuristicWeights are the fixed per-feature weights of the heuristic
// scorer. They sum to 1 so the weighted feature sum lands in [0,1] before
// scaling to [0,100]. These values are load-bearing for reproducibility;
// do not tune without retraining the learned model against the same scale.
var heuristicWeights = Features{
	fCharCount:            0.10,
	fWordCount:            0.08,
	fSentenceCount:        0.05,
	fAvgWordLength:        0.05,
	fAvgSentenceLength:    0.05,
	fTypeTokenRatio:       0.03,
	fCodeIndicator:        0.15,
	fQuestionDepth:        0.08,
	fStructuralComplexity: 0.06,
	fTechDensity:          0.12,
	fReasoningDensity:     0.10,
	fSpecificity:          0.05,
	fPriorReference:       0.02,
	fNumericalDensity:     0.03,
	fLargeNumbers:         0.03,
}

const heuristicConfidence = 0.65

// Model is a learned 5-way tier classifier. Predict returns one probability
// per tier, in Tiers order.
type Model interface {
	Predict(features Features) ([]float64, error)
}

// Result is the full classification output for one prompt.
type Result struct {
	Tier             string   `json:"tier"`
	Score            float64  `json:"score"` // 0–100
	Confidence       float64  `json:"confidence"`
	Intent           string   `json:"intent"`
	IntentConfidence float64  `json:"intent_confidence"`
	Features         Features `json:"features"`
	Method           string   `json:"method"`
}

// Classifier classifies prompts. Zero value is usable (heuristic only);
// SetModel installs the learned path.
type Classifier struct {
	model Model
	log   *slog.Logger
}

// New creates a Classifier. log may be nil.
func New(log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{log: log}
}

// SetModel installs a learned model. Pass nil to force the heuristic path.
func (c *Classifier) SetModel(m Model) {
	c.model = m
}

// Classify extracts features and produces the tier, score, confidence and
// intent for the prompt.
func (c *Classifier) Classify(prompt string) Result {
	features := ExtractFeatures(prompt)
	intent := DetectIntent(prompt)

	res := Result{
		Intent:           intent.Intent,
		IntentConfidence: intent.Confidence,
		Features:         features,
	}

	if c.model != nil {
		if probs, err := c.model.Predict(features); err == nil && len(probs) == len(Tiers) {
			argmax, maxProb := 0, probs[0]
			for i, p := range probs[1:] {
				if p > maxProb {
					argmax, maxProb = i+1, p
				}
			}
			res.Tier = Tiers[argmax]
			res.Score = math.Round(maxProb * 100)
			res.Confidence = maxProb
			res.Method = MethodML
			return res
		} else if err != nil {
			c.log.Debug("model predict failed, falling back to heuristic",
				slog.String("error", err.Error()))
		}
	}

	score := 0.0
	for i, w := range heuristicWeights {
		score += w * features[i]
	}
	score *= 100

	res.Tier = tierForScore(score)
	res.Score = score
	res.Confidence = heuristicConfidence
	res.Method = MethodHeuristic
	return res
}

func tierForScore(score float64) string {
	switch {
	case score <= 10:
		return TierTrivial
	case score <= 25:
		return TierSimple
	case score <= 50:
		return TierModerate
	case score <= 75:
		return TierComplex
	default:
		return TierExpert
	}
}

// MinQualityForTier returns the router's minimum model quality required for
// a tier.
func MinQualityForTier(tier string) float64 {
	switch tier {
	case TierModerate:
		return 60
	case TierComplex:
		return 80
	case TierExpert:
		return 90
	default:
		return 0
	}
}
