package refine

import (
	"encoding/json"
	"strings"
)

// FalseHit is a result whose keyword match was discarded because it sat
// inside a URL.
type FalseHit struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type AttemptStats struct {
	BestScore       float64  `json:"best_score"`
	BestItemScore   float64  `json:"best_item_score"`
	BestItemReasons []string `json:"best_item_reasons"`
}

// FailureSummary is the structured diagnosis of a round that produced no
// passing item. It travels to the refiner as the JSON failure reason.
type FailureSummary struct {
	Query             string         `json:"query"`
	Attempt           int            `json:"attempt"`
	ValidCount        int            `json:"valid_count"`
	TopReasons        map[string]int `json:"top_reasons"`
	TopMissedKeywords []string       `json:"top_missed_keywords"`
	FalseHitExamples  []FalseHit     `json:"false_hit_examples"`
	BestAttemptStats  AttemptStats   `json:"best_attempt_stats"`
}

// String encodes the summary as JSON.
func (s FailureSummary) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return s.Query
	}
	return string(data)
}

// ParseFailureSummary decodes reason when it is a JSON failure summary.
func ParseFailureSummary(reason string) (FailureSummary, bool) {
	reason = strings.TrimSpace(reason)
	if !strings.HasPrefix(reason, "{") {
		return FailureSummary{}, false
	}
	var s FailureSummary
	if err := json.Unmarshal([]byte(reason), &s); err != nil {
		return FailureSummary{}, false
	}
	return s, true
}

type diagnosis int

const (
	diagnosisNone diagnosis = iota
	diagnosisMissingKeywords
	diagnosisWeakContent
)

// Evaluator reason tags as they appear in a summary.
const (
	tagInvalidContent    = "invalid_content"
	tagTooShort          = "too_short"
	tagNoKeywordHit      = "no_keyword_hit"
	tagPartialKeywordHit = "partial_keyword_hit"
)

// diagnose classifies a failure reason. Summaries are weighed by tag
// counts, with ties going to missing keywords; a summary of a round that saw
// no items at all also reads as missing keywords. Free text is matched on
// the words "keywords", "short" and "invalid".
func diagnose(reason string) diagnosis {
	if s, ok := ParseFailureSummary(reason); ok {
		if len(s.TopReasons) == 0 {
			return diagnosisMissingKeywords
		}
		keywords := s.TopReasons[tagNoKeywordHit] + s.TopReasons[tagPartialKeywordHit]
		weak := s.TopReasons[tagTooShort] + s.TopReasons[tagInvalidContent]
		switch {
		case keywords > 0 && keywords >= weak:
			return diagnosisMissingKeywords
		case weak > 0:
			return diagnosisWeakContent
		case len(s.TopMissedKeywords) > 0:
			return diagnosisMissingKeywords
		}
		return diagnosisNone
	}

	lowered := strings.ToLower(reason)
	switch {
	case strings.Contains(lowered, "keywords"):
		return diagnosisMissingKeywords
	case strings.Contains(lowered, "short"), strings.Contains(lowered, "invalid"):
		return diagnosisWeakContent
	}
	return diagnosisNone
}
