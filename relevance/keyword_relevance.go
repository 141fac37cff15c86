package relevance

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// PhraseMatcher finds any of a fixed set of phrases in content,
// case-insensitively, in one pass.
type PhraseMatcher struct {
	matcher *ahocorasick.Matcher
	phrases []string
}

// NewPhraseMatcher lower-cases and trims phrases, dropping empty ones.
func NewPhraseMatcher(phrases []string) *PhraseMatcher {
	cleaned := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &PhraseMatcher{
		matcher: ahocorasick.NewStringMatcher(cleaned),
		phrases: cleaned,
	}
}

// Find returns the distinct phrases present in content.
func (m *PhraseMatcher) Find(content string) []string {
	if content == "" || len(m.phrases) == 0 {
		return nil
	}
	hits := m.matcher.MatchThreadSafe([]byte(strings.ToLower(content)))
	if len(hits) == 0 {
		return nil
	}

	found := make([]string, 0, len(hits))
	seen := make(map[int]struct{}, len(hits))
	for _, idx := range hits {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		found = append(found, m.phrases[idx])
	}
	return found
}

// Contains reports whether at least one phrase occurs in content.
func (m *PhraseMatcher) Contains(content string) bool {
	return len(m.Find(content)) > 0
}
