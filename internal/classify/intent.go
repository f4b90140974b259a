package classify

import (
	"regexp"
	"strings"
)

// Intent categories. IntentGeneral is the fallback when no category scores.
const (
	IntentCode        = "code"
	IntentMath        = "math"
	IntentAnalysis    = "analysis"
	IntentCreative    = "creative"
	IntentTranslation = "translation"
	IntentQA          = "qa"
	IntentGeneral     = "general"
)

// intentRule scores one category: each keyword hit counts 1, each regex hit
// counts 2.
type intentRule struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
}

var intentRules = []intentRule{
	{
		name: IntentCode,
		keywords: []string{
			"function", "code", "debug", "compile", "implement", "refactor",
			"class", "method", "api", "bug", "script", "library", "syntax",
			"variable", "regex", "unit test",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile("```"),
			regexp.MustCompile(`\b(def|func|class|import|return|const|var)\b`),
			regexp.MustCompile(`(?i)\bwrite (a|an|the|some)? ?(function|program|script|class)\b`),
			regexp.MustCompile(`(?i)\bin (python|go|golang|javascript|typescript|rust|java|c\+\+)\b`),
		},
	},
	{
		name: IntentMath,
		keywords: []string{
			"calculate", "solve", "equation", "integral", "derivative", "derive",
			"probability", "theorem", "proof", "matrix", "variance", "estimator",
			"distribution", "asymptotic", "sum", "algebra",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\d+\s*[-+*/^=]\s*\d+`),
			regexp.MustCompile(`(?i)\b(prove|derive|compute|evaluate) the\b`),
			regexp.MustCompile(`[∑∫√π±≤≥≈]`),
		},
	},
	{
		name: IntentAnalysis,
		keywords: []string{
			"analyze", "compare", "evaluate", "assess", "pros and cons",
			"trade-off", "tradeoff", "implications", "impact", "review",
			"strengths and weaknesses",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bcompare .+ (and|vs\.?|versus) .+\b`),
			regexp.MustCompile(`(?i)\bwhat are the (implications|consequences|differences)\b`),
		},
	},
	{
		name: IntentCreative,
		keywords: []string{
			"write a story", "poem", "haiku", "fiction", "creative", "imagine",
			"character", "plot", "lyrics", "slogan", "brainstorm",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwrite (a|an|the)? ?(story|poem|song|tale|essay about)\b`),
			regexp.MustCompile(`(?i)\bonce upon a time\b`),
		},
	},
	{
		name: IntentTranslation,
		keywords: []string{
			"translate", "translation", "in spanish", "in french", "in german",
			"in japanese", "in chinese", "in korean", "into english",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\btranslate .+ (to|into|from)\b`),
			regexp.MustCompile(`(?i)\bhow do you say\b`),
		},
	},
	{
		name: IntentQA,
		keywords: []string{
			"what is", "what are", "who is", "when did", "where is", "why does",
			"how does", "how do i", "explain", "define", "summarize", "tell me about",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^(what|who|when|where|why|how)\b`),
			regexp.MustCompile(`(?i)\b(explain|define|summarize) (this|the|what)\b`),
		},
	},
}

// IntentResult is the detected intent with its relative confidence
// (winner score over the total score of all categories).
type IntentResult struct {
	Intent     string
	Confidence float64
}

// DetectIntent scores every category against the prompt and returns the
// argmax, or IntentGeneral when nothing scores.
func DetectIntent(prompt string) IntentResult {
	lower := strings.ToLower(prompt)

	total := 0
	best := ""
	bestScore := 0
	for _, rule := range intentRules {
		score := countHits(lower, rule.keywords)
		for _, re := range rule.patterns {
			if re.MatchString(prompt) {
				score += 2
			}
		}
		total += score
		if score > bestScore {
			bestScore = score
			best = rule.name
		}
	}

	if bestScore == 0 {
		return IntentResult{Intent: IntentGeneral, Confidence: 1}
	}
	return IntentResult{
		Intent:     best,
		Confidence: float64(bestScore) / float64(total),
	}
}
