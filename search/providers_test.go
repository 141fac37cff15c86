package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"forager/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// penaltyRecorder stands in for the dispatcher.
type penaltyRecorder struct {
	mu        sync.Mutex
	penalties []time.Duration
	waits     []time.Duration
	waitErr   error
}

func (r *penaltyRecorder) ApplyPenalty(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.penalties = append(r.penalties, d)
	return nil
}

func (r *penaltyRecorder) WaitForCooldown(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return r.waitErr
}

func (r *penaltyRecorder) Penalties() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.penalties...)
}

func testBase(kind Kind, rec *penaltyRecorder) providerBase {
	deps := Deps{HTTP: DefaultHTTPClient(), Logger: zap.NewNop()}
	if rec != nil {
		deps.Penalty = rec
	}
	return newProviderBase(kind, deps)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func urls(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.URL())
	}
	return out
}

func TestTavilyProvider_Search(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tv-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]string{
				{"url": "https://a.example.com/1?utm_source=tv", "title": "A", "content": "alpha"},
				{"url": "ftp://bad.example.com", "title": "bad"},
				{"url": "", "title": "empty"},
				{"url": "b.example.com/2", "title": "B", "snippet": "beta"},
			},
		})
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &TavilyProvider{providerBase: testBase(KindTavily, rec), apiKey: "tv-key", endpoint: srv.URL}

	items, err := p.Search(context.Background(), "chip exports", 50)
	require.NoError(t, err)

	assert.Equal(t, 20, got.MaxResults, "capped to the backend range")
	assert.Equal(t, "chip exports", got.Query)
	assert.Equal(t, "basic", got.SearchDepth)
	assert.Equal(t, []string{"https://a.example.com/1", "https://b.example.com/2"}, urls(items))
	assert.Equal(t, "beta", items[1].Snippet())
	assert.Empty(t, rec.Penalties())
}

func TestTavilyProvider_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &TavilyProvider{providerBase: testBase(KindTavily, rec), apiKey: "k", endpoint: srv.URL}

	_, err := p.Search(context.Background(), "q", 5)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.RateLimited)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, []time.Duration{45 * time.Second}, rec.Penalties())
}

func TestTavilyProvider_UsageLimitBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 432, map[string]string{"detail": "This request exceeds your plan's set usage limit (429)"})
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &TavilyProvider{providerBase: testBase(KindTavily, rec), apiKey: "k", endpoint: srv.URL}

	_, err := p.Search(context.Background(), "q", 5)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.RateLimited)
	assert.Equal(t, []time.Duration{RateLimitPenalty}, rec.Penalties())
}

func TestGoogleProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "g-key", q.Get("key"))
		assert.Equal(t, "cse", q.Get("cx"))
		assert.Equal(t, "chip exports news", q.Get("q"))
		assert.Equal(t, "10", q.Get("num"))
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]string{
				{"link": "https://g.example.com/1", "title": "G1", "snippet": "s1"},
				{"link": "https://g.example.com/2", "title": "G2", "snippet": "s2"},
			},
		})
	}))
	defer srv.Close()

	p := &GoogleProvider{providerBase: testBase(KindGoogle, nil), apiKey: "g-key", cseID: "cse", endpoint: srv.URL}
	items, err := p.Search(context.Background(), "chip exports", 25)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://g.example.com/1", "https://g.example.com/2"}, urls(items))
}

func TestGoogleProvider_ErrorsAndEmpty(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        any
		wantErr     bool
		rateLimited bool
	}{
		{"forbidden", http.StatusForbidden, map[string]string{"error": "quota"}, true, true},
		{"server error", http.StatusInternalServerError, map[string]string{"error": "boom"}, true, false},
		{"empty page", http.StatusOK, map[string]any{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			rec := &penaltyRecorder{}
			p := &GoogleProvider{providerBase: testBase(KindGoogle, rec), apiKey: "k", cseID: "c", endpoint: srv.URL}
			items, err := p.Search(context.Background(), "q", 3)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Empty(t, items)
				return
			}
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.rateLimited, perr.RateLimited)
			if tt.rateLimited {
				assert.Len(t, rec.Penalties(), 1)
			} else {
				assert.Empty(t, rec.Penalties())
			}
		})
	}
}

func TestSearxngProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "ai chips news", r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]string{
				{"url": "https://s.example.com/1#frag", "title": "S1", "content": "c1"},
				{"url": "https://s.example.com/2", "title": "S2", "content": "c2"},
				{"url": "https://s.example.com/3", "title": "S3", "content": "c3"},
			},
			"unresponsive_engines": []any{},
		})
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &SearxngProvider{providerBase: testBase(KindSearxng, rec), baseURL: srv.URL}
	items, err := p.Search(context.Background(), "ai chips", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://s.example.com/1", "https://s.example.com/2"}, urls(items))
	assert.Empty(t, rec.Penalties())
}

func TestSearxngProvider_RateLimitSignals(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"unresponsive engine", map[string]any{"unresponsive_engines": []any{[]any{"google", "Too Many Requests"}}}},
		{"errors list", map[string]any{"errors": []any{"duckduckgo: access blocked"}}},
		{"error string", map[string]any{"error": "Rate limit exceeded"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.payload["results"] = []any{}
				writeJSON(w, http.StatusOK, tt.payload)
			}))
			defer srv.Close()

			rec := &penaltyRecorder{}
			p := &SearxngProvider{providerBase: testBase(KindSearxng, rec), baseURL: srv.URL}
			items, err := p.Search(context.Background(), "q", 5)
			require.NoError(t, err)
			assert.Empty(t, items)
			assert.Equal(t, []time.Duration{RateLimitPenalty}, rec.Penalties())
		})
	}
}

func TestSearxngProvider_NoSignalForOrdinaryEngineErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"results":              []any{},
			"unresponsive_engines": []any{[]any{"wikipedia", "timeout"}},
		})
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &SearxngProvider{providerBase: testBase(KindSearxng, rec), baseURL: srv.URL}
	_, err := p.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, rec.Penalties())
}

func TestSearxngProvider_RetryAfterOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"results": []any{}})
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &SearxngProvider{providerBase: testBase(KindSearxng, rec), baseURL: srv.URL}
	_, err := p.Search(context.Background(), "q", 5)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.RateLimited)
	assert.Equal(t, []time.Duration{120 * time.Second}, rec.Penalties())
}

func TestSearxngProvider_NonJSON(t *testing.T) {
	for _, tt := range []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusBadGateway, true},
	} {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("<html>maintenance</html>"))
			}))
			defer srv.Close()

			p := &SearxngProvider{providerBase: testBase(KindSearxng, nil), baseURL: srv.URL}
			items, err := p.Search(context.Background(), "q", 5)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

func TestSearxngProvider_ConnectionRefusedIsEmptyPage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := &SearxngProvider{providerBase: testBase(KindSearxng, nil), baseURL: "http://" + addr}
	items, err := p.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSerpAPIProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, "serp-key", q.Get("api_key"))
		assert.Equal(t, "3", q.Get("num"))
		writeJSON(w, http.StatusOK, map[string]any{
			"organic_results": []map[string]any{
				{"position": 1, "title": "One", "link": "https://serp.example.com/1", "snippet": "first"},
			},
		})
	}))
	defer srv.Close()

	p := &SerpAPIProvider{providerBase: testBase(KindSerpAPI, nil), apiKey: "serp-key", endpoint: srv.URL}
	items, err := p.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "first", items[0].Snippet())
}

func TestSerpAPIProvider_QuotaMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"error": "Your account has run out of searches. Too many requests."})
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &SerpAPIProvider{providerBase: testBase(KindSerpAPI, rec), apiKey: "k", endpoint: srv.URL}
	_, err := p.Search(context.Background(), "q", 3)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.RateLimited)
	assert.Len(t, rec.Penalties(), 1)
}

const duckDuckGoPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fnews.example.com%2Fstory%3Futm_source%3Dddg&amp;rut=x">Story one</a>
  <a class="result__snippet">First <b>snippet</b></a>
</div>
<div class="result">
  <a class="result__a" href="https://direct.example.com/b">Story two</a>
  <div class="result__snippet">Second snippet</div>
</div>
<div class="result"><span>no link</span></div>
</body></html>`

func TestDuckDuckGoProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "solar tariffs", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(duckDuckGoPage))
	}))
	defer srv.Close()

	p := &DuckDuckGoProvider{providerBase: testBase(KindDuckDuckGo, nil), endpoint: srv.URL}
	items, err := p.Search(context.Background(), "solar tariffs", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://news.example.com/story", "https://direct.example.com/b"}, urls(items))
	assert.Equal(t, "Story one", items[0].Title())
	assert.Equal(t, "First snippet", items[0].Snippet())
}

func TestDuckDuckGoProvider_Challenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`<html><body><div class="anomaly-modal">Unfortunately, bots use DuckDuckGo too.</div></body></html>`))
	}))
	defer srv.Close()

	rec := &penaltyRecorder{}
	p := &DuckDuckGoProvider{providerBase: testBase(KindDuckDuckGo, rec), endpoint: srv.URL}
	_, err := p.Search(context.Background(), "q", 5)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.RateLimited)
	assert.Len(t, rec.Penalties(), 1)
}

func TestUnwrapDuckDuckGoURL(t *testing.T) {
	assert.Equal(t, "https://a.example.com/x", unwrapDuckDuckGoURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example.com%2Fx"))
	assert.Equal(t, "https://b.example.com", unwrapDuckDuckGoURL("https://b.example.com"))
}

const googleNewsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>"chips" - Google News</title>
<item>
  <title>Chip exports rise - Example Times</title>
  <link>https://news.google.com/rss/articles/CBMiAAA?oc=5</link>
  <description>&lt;a href="https://news.google.com/rss/articles/CBMiAAA"&gt;Chip exports rise&lt;/a&gt;&amp;nbsp;&amp;nbsp;&lt;font color="#6f6f6f"&gt;Example Times&lt;/font&gt;</description>
  <pubDate>Mon, 03 Mar 2025 08:00:00 GMT</pubDate>
</item>
<item>
  <title>Second</title>
  <link>https://news.google.com/rss/articles/CBMiBBB?oc=5</link>
  <description>plain text</description>
</item>
</channel></rss>`

func TestGoogleNewsProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "chips", q.Get("q"))
		assert.Equal(t, "US:en", q.Get("ceid"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(googleNewsFeed))
	}))
	defer srv.Close()

	p := &GoogleNewsProvider{providerBase: testBase(KindGoogleNews, nil), endpoint: srv.URL, lang: "en-US", region: "US"}
	items, err := p.Search(context.Background(), "chips", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://news.google.com/rss/articles/CBMiAAA?oc=5", items[0].URL())
	assert.Equal(t, "Chip exports rise Example Times", items[0].Snippet())
}

func TestNewProvider_CredentialGating(t *testing.T) {
	settings := &config.Settings{TavilyAPIKey: "t", GoogleAPIKey: "g"}
	deps := Deps{Logger: zap.NewNop()}

	tests := []struct {
		kind    Kind
		missing bool
	}{
		{KindTavily, false},
		{KindGoogle, true},
		{KindSearxng, false},
		{KindSerpAPI, true},
		{KindDuckDuckGo, false},
		{KindGoogleNews, false},
		{KindBrowser, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p, err := NewProvider(tt.kind, settings, deps)
			if tt.missing {
				assert.True(t, errors.Is(err, ErrMissingCredentials))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(tt.kind), p.Name())
		})
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" SearXNG ")
	assert.True(t, ok)
	assert.Equal(t, KindSearxng, k)

	_, ok = ParseKind("bing")
	assert.False(t, ok)
}
