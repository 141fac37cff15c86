// Package relevance scores candidate content against a query with cheap
// heuristics: keyword coverage and content length.
package relevance

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Reason tags. Callers aggregate these across items, so they are stable
// identifiers rather than prose.
const (
	ReasonInvalidContent       = "invalid_content"
	ReasonTooShort             = "too_short"
	ReasonNoKeywordHit         = "no_keyword_hit"
	ReasonPartialKeywordHit    = "partial_keyword_hit"
	ReasonURLFalsePositive     = "url_false_positive_filtered"
	ReasonEvaluationError      = "evaluation_error"
	reasonMeetsHeuristicChecks = "Content meets heuristic checks"
)

var reasonText = map[string]string{
	ReasonInvalidContent:    "Invalid content",
	ReasonTooShort:          "Content too short",
	ReasonNoKeywordHit:      "Keywords missing",
	ReasonPartialKeywordHit: "Some keywords missing",
	ReasonURLFalsePositive:  "Ignored keyword matches inside URLs",
	ReasonEvaluationError:   "Evaluation error",
}

// Result is the verdict for one (content, query) pair.
type Result struct {
	Score           float64  `json:"score"`
	IsPassing       bool     `json:"is_passing"`
	Reason          string   `json:"reason"`
	Reasons         []string `json:"reasons"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// HasReason reports whether tag is among r.Reasons.
func (r Result) HasReason(tag string) bool {
	return slices.Contains(r.Reasons, tag)
}

type Options struct {
	KeywordWeight    float64
	LengthWeight     float64
	PassingThreshold float64
	// MinLength and MaxLength are measured in runes.
	MinLength       int
	MaxLength       int
	LengthFloor     float64
	ErrorSignatures []string
}

func DefaultOptions() Options {
	return Options{
		KeywordWeight:    0.6,
		LengthWeight:     0.4,
		PassingThreshold: 60,
		MinLength:        200,
		MaxLength:        500,
		LengthFloor:      5,
		ErrorSignatures:  []string{"404 not found", "access denied", "forbidden"},
	}
}

var ErrInvalidWeights = errors.New("invalid evaluator weights")

type Evaluator struct {
	keywordWeight float64
	lengthWeight  float64
	threshold     float64
	minLength     int
	maxLength     int
	lengthFloor   float64
	signatures    *PhraseMatcher
	logger        *zap.Logger
}

// NewEvaluator normalizes the weights to sum to one. Negative weights or a
// zero sum are rejected.
func NewEvaluator(opts Options, logger *zap.Logger) (*Evaluator, error) {
	if opts.KeywordWeight < 0 || opts.LengthWeight < 0 {
		return nil, fmt.Errorf("%w: weights must not be negative", ErrInvalidWeights)
	}
	total := opts.KeywordWeight + opts.LengthWeight
	if total == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultOptions().MaxLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		keywordWeight: opts.KeywordWeight / total,
		lengthWeight:  opts.LengthWeight / total,
		threshold:     opts.PassingThreshold,
		minLength:     opts.MinLength,
		maxLength:     opts.MaxLength,
		lengthFloor:   opts.LengthFloor,
		signatures:    NewPhraseMatcher(opts.ErrorSignatures),
		logger:        logger,
	}, nil
}

// Keywords exposes the keyword extraction used by Evaluate.
func (e *Evaluator) Keywords(query string) []Keyword {
	return ExtractKeywords(query)
}

// Evaluate scores content against query. It never fails: a panic while
// scoring degrades to a zero score tagged evaluation_error.
func (e *Evaluator) Evaluate(content, query string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panicked", zap.Any("panic", r))
			result = newResult(0, false, []string{ReasonEvaluationError}, nil)
		}
	}()

	text := strings.TrimSpace(content)
	if text == "" || e.signatures.Contains(text) {
		return newResult(0, false, []string{ReasonInvalidContent}, nil)
	}

	var reasons []string
	length := utf8.RuneCountInString(text)
	lengthScore := e.lengthScore(length)
	if length < e.minLength {
		reasons = append(reasons, ReasonTooShort)
	}

	keywords := ExtractKeywords(query)
	lowered := strings.ToLower(text)
	var matched []string
	filtered := false
	for _, kw := range keywords {
		outcome := matchKeyword(lowered, kw)
		if outcome.matched {
			matched = append(matched, kw.Text)
		}
		if outcome.filtered {
			filtered = true
		}
	}

	keywordScore := 0.0
	if len(keywords) > 0 {
		keywordScore = float64(len(matched)) / float64(len(keywords)) * 100
		switch {
		case len(matched) == 0:
			reasons = append(reasons, ReasonNoKeywordHit)
		case len(matched) < len(keywords):
			reasons = append(reasons, ReasonPartialKeywordHit)
		}
	}
	if filtered {
		reasons = append(reasons, ReasonURLFalsePositive)
	}

	score := clamp(keywordScore*e.keywordWeight+lengthScore*e.lengthWeight, 0, 100)
	passing := score >= e.threshold

	e.logger.Debug("content evaluated",
		zap.Float64("keyword_score", keywordScore),
		zap.Float64("length_score", lengthScore),
		zap.Float64("score", score),
		zap.Bool("passing", passing),
		zap.Strings("reasons", reasons))

	return newResult(score, passing, reasons, matched)
}

// lengthScore grows linearly to 100 at maxLength, never below the floor.
func (e *Evaluator) lengthScore(length int) float64 {
	raw := float64(length) / float64(e.maxLength) * 100
	return clamp(raw, e.lengthFloor, 100)
}

func newResult(score float64, passing bool, reasons, matched []string) Result {
	if reasons == nil {
		reasons = []string{}
	}
	keywords := slices.Clone(matched)
	if keywords == nil {
		keywords = []string{}
	}
	slices.Sort(keywords)
	keywords = slices.Compact(keywords)

	return Result{
		Score:           score,
		IsPassing:       passing,
		Reason:          describe(reasons),
		Reasons:         reasons,
		MatchedKeywords: keywords,
	}
}

func describe(reasons []string) string {
	if len(reasons) == 0 {
		return reasonMeetsHeuristicChecks
	}
	parts := make([]string, 0, len(reasons))
	for _, tag := range reasons {
		if text, ok := reasonText[tag]; ok {
			parts = append(parts, text)
		} else {
			parts = append(parts, tag)
		}
	}
	return strings.Join(parts, "; ")
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
