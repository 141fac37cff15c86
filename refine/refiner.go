// Package refine rewrites a failed search query from the diagnosis of why
// its results were rejected.
package refine

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
	"go.uber.org/zap"
)

type Strategy string

const (
	StrategySynonymExpansion  Strategy = "synonym_expansion"
	StrategyBooleanRelaxation Strategy = "boolean_relaxation"
	StrategyKeywordShuffle    Strategy = "keyword_shuffle"
	StrategyBroaden           Strategy = "broaden"
	StrategyReinforce         Strategy = "reinforce"
	StrategyTruncate          Strategy = "truncate"
	StrategyNone              Strategy = "none"
)

const (
	shuffleMinTokens = 4
	truncateAfter    = 2
	truncateTokens   = 3
	shortTokenRunes  = 3
)

var (
	booleanAnd = regexp.MustCompile(`(?i)\band\b`)
	modifiers  = map[string]struct{}{"latest": {}, "recent": {}, "best": {}}
	suffixes   = []string{"news", "summary", "report"}
)

// Request describes one refinement. A nil History is inferred from Attempt:
// each attempt past the first is assumed to have used the next strategy in
// order.
type Request struct {
	Query   string
	Reason  string
	Attempt int
	History []Strategy
}

type Refinement struct {
	Query    string
	Strategy Strategy
	// Truncated is set when the query was cut to its leading tokens after
	// Strategy ran.
	Truncated bool
}

type Refiner struct {
	synonyms *Synonyms
	logger   *zap.Logger
}

// New returns a refiner. synonyms may be nil.
func New(synonyms *Synonyms, logger *zap.Logger) *Refiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{synonyms: synonyms, logger: logger}
}

// Refine never fails. A blank query is returned unchanged.
func (r *Refiner) Refine(req Request) Refinement {
	original := strings.TrimSpace(req.Query)
	if original == "" {
		return Refinement{Query: req.Query, Strategy: StrategyNone}
	}
	attempt := max(req.Attempt, 1)
	used := usedStrategies(req.History, attempt)

	query, strategy := r.rewrite(original, req.Reason, attempt, used)

	out := Refinement{Query: query, Strategy: strategy}
	if attempt > truncateAfter {
		if cut := truncate(query); cut != query {
			out.Query = cut
			out.Truncated = true
			if out.Strategy == StrategyNone {
				out.Strategy = StrategyTruncate
			}
		}
	}
	if strings.TrimSpace(out.Query) == "" {
		out.Query = original
	}

	r.logger.Debug("query refined",
		zap.String("from", original),
		zap.String("to", out.Query),
		zap.String("strategy", string(out.Strategy)),
		zap.Bool("truncated", out.Truncated),
		zap.Int("attempt", attempt))
	return out
}

func (r *Refiner) rewrite(query, reason string, attempt int, used map[Strategy]bool) (string, Strategy) {
	ordered := []struct {
		strategy Strategy
		apply    func(string) string
	}{
		{StrategySynonymExpansion, r.synonyms.Expand},
		{StrategyBooleanRelaxation, relaxBoolean},
		{StrategyKeywordShuffle, shuffleKeywords},
	}
	for _, step := range ordered {
		if used[step.strategy] {
			continue
		}
		if next := step.apply(query); next != query {
			return next, step.strategy
		}
	}

	switch diagnose(reason) {
	case diagnosisMissingKeywords:
		if !used[StrategyBroaden] {
			if next := broaden(query); next != query {
				return next, StrategyBroaden
			}
		}
	case diagnosisWeakContent:
		if !used[StrategyReinforce] {
			if next := reinforce(query, attempt); next != query {
				return next, StrategyReinforce
			}
		}
	}
	return query, StrategyNone
}

func usedStrategies(history []Strategy, attempt int) map[Strategy]bool {
	used := make(map[Strategy]bool, 3)
	if history == nil {
		if attempt > 1 {
			used[StrategySynonymExpansion] = true
		}
		if attempt > 2 {
			used[StrategyBooleanRelaxation] = true
		}
		if attempt > 3 {
			used[StrategyKeywordShuffle] = true
		}
		return used
	}
	for _, s := range history {
		if s != "" {
			used[Strategy(strings.ToLower(string(s)))] = true
		}
	}
	return used
}

func relaxBoolean(query string) string {
	return strings.TrimSpace(booleanAnd.ReplaceAllString(query, "OR"))
}

// shuffleKeywords drops repeated tokens, including inflections sharing an
// English stem, and orders the rest longest first.
func shuffleKeywords(query string) string {
	tokens := tokenize(query)
	if len(tokens) < shuffleMinTokens {
		return query
	}

	unique := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		key := stem(token)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, token)
	}

	slices.SortStableFunc(unique, func(a, b string) int {
		return utf8.RuneCountInString(b) - utf8.RuneCountInString(a)
	})
	return strings.Join(unique, " ")
}

func stem(token string) string {
	s, err := snowball.Stem(token, "english", true)
	if err != nil || s == "" {
		return token
	}
	return s
}

// broaden strips quotes, modifier words and short ASCII tokens. Short
// tokens in other scripts are kept since CJK words are often one to three
// characters long.
func broaden(query string) string {
	cleaned := strings.NewReplacer(`"`, "", "'", "").Replace(query)
	var kept []string
	for _, token := range tokenize(cleaned) {
		if _, ok := modifiers[token]; ok {
			continue
		}
		if isASCII(token) && utf8.RuneCountInString(token) <= shortTokenRunes {
			continue
		}
		kept = append(kept, token)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(cleaned)
	}
	return strings.Join(kept, " ")
}

func reinforce(query string, attempt int) string {
	lowered := strings.ToLower(query)
	for _, s := range suffixes {
		if strings.HasSuffix(lowered, s) {
			return query
		}
	}
	return strings.TrimSpace(query + " " + suffixes[(attempt-1)%len(suffixes)])
}

// truncate keeps the first truncateTokens words. Queries that are already
// short are returned untouched, quotes and case included.
func truncate(query string) string {
	tokens := tokenize(query)
	if len(tokens) <= truncateTokens {
		return query
	}
	return strings.Join(tokens[:min(len(tokens), truncateTokens)], " ")
}

// tokenize lower-cases query and splits it into runs of letters, digits and
// underscores.
func tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
