package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// FeatureCount is the length of the feature vector consumed by both the
// heuristic scorer and any learned model.
const FeatureCount = 15

// Feature vector indices. Order is part of the model contract and must not
// change: trained models are exported against these positions.
const (
	fCharCount = iota
	fWordCount
	fSentenceCount
	fAvgWordLength
	fAvgSentenceLength
	fTypeTokenRatio
	fCodeIndicator
	fQuestionDepth
	fStructuralComplexity
	fTechDensity
	fReasoningDensity
	fSpecificity
	fPriorReference
	fNumericalDensity
	fLargeNumbers
)

// Features is a 15-dimensional vector, each component normalized to [0,1].
type Features [FeatureCount]float64

// technicalTerms is the jargon lexicon. A prompt mentioning several of these
// is much more likely to need a high-quality model.
var technicalTerms = []string{
	"algorithm", "architecture", "implementation", "optimization",
	"performance", "scalability", "concurrency", "asynchronous", "middleware",
	"microservice", "database", "schema", "encryption", "authentication",
	"authorization", "infrastructure", "deployment", "configuration",
	"abstraction", "inheritance", "polymorphism", "encapsulation",
	"normalization", "denormalization", "serialization", "deserialization",
}

// reasoningPhrases mark prompts that ask for multi-step reasoning.
var reasoningPhrases = []string{
	"step-by-step", "explain why", "reason through", "think about",
	"consider", "analyze", "evaluate", "compare and contrast",
	"what are the implications", "how would you approach", "design a system",
}

var constraintWords = []string{
	"must", "should", "exactly", "precisely", "no more than", "at least", "between",
}

var formatWords = []string{
	"json", "xml", "csv", "markdown", "table", "list", "bullet", "format as", "output as",
}

var priorRefWords = []string{
	"above", "previous", "earlier", "you said", "you mentioned", "as i said",
}

var digitRunRe = regexp.MustCompile(`\d+`)

// ExtractFeatures computes the 15-feature vector for a prompt.
func ExtractFeatures(prompt string) Features {
	var f Features

	words := strings.Fields(prompt)
	sentences := splitSentences(prompt)
	lower := strings.ToLower(prompt)

	f[fCharCount] = capRatio(float64(len(prompt)), 5000)
	f[fWordCount] = capRatio(float64(len(words)), 1000)
	f[fSentenceCount] = capRatio(float64(len(sentences)), 50)

	totalWordLen := 0
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		totalWordLen += len(w)
		unique[strings.ToLower(w)] = struct{}{}
	}
	f[fAvgWordLength] = capRatio(float64(totalWordLen)/float64(max(len(words), 1)), 12)
	f[fAvgSentenceLength] = capRatio(float64(len(words))/float64(max(len(sentences), 1)), 40)
	f[fTypeTokenRatio] = float64(len(unique)) / float64(max(len(words), 1))

	switch {
	case strings.Count(prompt, "```")/2 > 0:
		f[fCodeIndicator] = 1
	case strings.Count(prompt, "`") >= 2:
		f[fCodeIndicator] = 0.5
	}

	f[fQuestionDepth] = capRatio(float64(strings.Count(prompt, "?")), 3)

	structural := 0
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•") {
			structural++
		} else if line[0] >= '0' && line[0] <= '9' {
			structural++
		}
	}
	f[fStructuralComplexity] = capRatio(float64(structural), 5)

	f[fTechDensity] = capRatio(float64(countHits(lower, technicalTerms)), 5)
	f[fReasoningDensity] = capRatio(float64(countHits(lower, reasoningPhrases)), 3)

	if anyHit(lower, constraintWords) {
		f[fSpecificity] += 0.5
	}
	if anyHit(lower, formatWords) {
		f[fSpecificity] += 0.5
	}

	if anyHit(lower, priorRefWords) {
		f[fPriorReference] = 1
	}

	runs := digitRunRe.FindAllString(prompt, -1)
	f[fNumericalDensity] = capRatio(float64(len(runs)), 10)
	for _, r := range runs {
		if n, err := strconv.Atoi(r); err == nil && n > 1000 {
			f[fLargeNumbers] = 1
			break
		}
	}

	return f
}

// splitSentences treats '.', '!' and '?' as sentence terminators and
// discards empty fragments.
func splitSentences(s string) []string {
	normalized := strings.NewReplacer("!", ".", "?", ".").Replace(s)
	var out []string
	for _, part := range strings.Split(normalized, ".") {
		if strings.TrimSpace(part) != "" {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return out
}

func capRatio(v, cap float64) float64 {
	r := v / cap
	if r > 1 {
		return 1
	}
	return r
}

func countHits(haystack string, needles []string) int {
	n := 0
	for _, t := range needles {
		if strings.Contains(haystack, t) {
			n++
		}
	}
	return n
}

func anyHit(haystack string, needles []string) bool {
	for _, t := range needles {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
