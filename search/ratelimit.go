package search

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

var rateLimitHints = []string{"rate limit", "too many requests", "429", "forbidden", "blocked"}

// hintMatcher finds rate-limit signal words in free-text backend messages.
type hintMatcher struct {
	m *ahocorasick.Matcher
}

func newHintMatcher(hints []string) *hintMatcher {
	return &hintMatcher{m: ahocorasick.NewStringMatcher(hints)}
}

var defaultHints = newHintMatcher(rateLimitHints)

// Contains reports whether message mentions any hint, case-insensitively.
// Safe for concurrent use.
func (h *hintMatcher) Contains(message string) bool {
	if message == "" {
		return false
	}
	return len(h.m.MatchThreadSafe([]byte(strings.ToLower(message)))) > 0
}

// ContainsAny checks every message.
func (h *hintMatcher) ContainsAny(messages []string) bool {
	for _, msg := range messages {
		if h.Contains(msg) {
			return true
		}
	}
	return false
}
