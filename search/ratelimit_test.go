package search

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHintMatcher_Contains(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"429 Too Many Requests", true},
		{"Rate Limit exceeded", true},
		{"engine BLOCKED by upstream", true},
		{"timeout", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultHints.Contains(tt.message), tt.message)
	}
	assert.True(t, defaultHints.ContainsAny([]string{"ok", "forbidden"}))
}

func TestHintMatcher_ConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.True(t, defaultHints.Contains("429 Too Many Requests"))
				assert.False(t, defaultHints.Contains("all engines answered"))
			}
		}()
	}
	wg.Wait()
}
