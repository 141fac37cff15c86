package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"forager/config"

	"go.uber.org/zap"
)

// Kind names one search backend. The set is closed: NewProvider knows every
// kind and nothing registers new ones at runtime.
type Kind string

const (
	KindTavily     Kind = "tavily"
	KindGoogle     Kind = "google"
	KindSearxng    Kind = "searxng"
	KindSerpAPI    Kind = "serpapi"
	KindDuckDuckGo Kind = "duckduckgo"
	KindGoogleNews Kind = "googlenews"
	KindBrowser    Kind = "browser"
)

// RateLimitPenalty is the minimum dispatcher penalty applied when a backend
// signals rate limiting.
const RateLimitPenalty = 30 * time.Second

// Provider performs one search call against one backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, numResults int) ([]Item, error)
}

// PenaltyReporter receives rate-limit penalties from providers.
type PenaltyReporter interface {
	ApplyPenalty(ctx context.Context, penalty time.Duration) error
}

// Deps are the collaborators shared by every provider of one aggregator.
type Deps struct {
	HTTP    *HTTPClient
	Penalty PenaltyReporter
	Logger  *zap.Logger
}

// ParseKind maps a priority list entry to a Kind.
func ParseKind(name string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case KindTavily, KindGoogle, KindSearxng, KindSerpAPI, KindDuckDuckGo, KindGoogleNews, KindBrowser:
		return k, true
	}
	return "", false
}

// HasCredentials reports whether settings carry what kind needs to run.
func HasCredentials(kind Kind, s *config.Settings) bool {
	switch kind {
	case KindTavily:
		return s.TavilyAPIKey != ""
	case KindGoogle:
		return s.GoogleAPIKey != "" && s.GoogleCSEID != ""
	case KindSerpAPI:
		return s.SerpAPIKey != ""
	case KindBrowser:
		return s.BrowserEnabled
	case KindSearxng, KindDuckDuckGo, KindGoogleNews:
		return true
	}
	return false
}

// NewProvider builds the provider for kind. It fails with
// ErrMissingCredentials when the settings cannot support it.
func NewProvider(kind Kind, s *config.Settings, deps Deps) (Provider, error) {
	if !HasCredentials(kind, s) {
		return nil, fmt.Errorf("%s: %w", kind, ErrMissingCredentials)
	}
	base := newProviderBase(kind, deps)

	switch kind {
	case KindTavily:
		return &TavilyProvider{providerBase: base, apiKey: s.TavilyAPIKey, endpoint: tavilyEndpoint}, nil
	case KindGoogle:
		return &GoogleProvider{providerBase: base, apiKey: s.GoogleAPIKey, cseID: s.GoogleCSEID, endpoint: googleEndpoint}, nil
	case KindSearxng:
		return &SearxngProvider{providerBase: base, baseURL: strings.TrimRight(s.SearxngBaseURL, "/")}, nil
	case KindSerpAPI:
		return &SerpAPIProvider{providerBase: base, apiKey: s.SerpAPIKey, endpoint: serpAPIEndpoint}, nil
	case KindDuckDuckGo:
		return &DuckDuckGoProvider{providerBase: base, endpoint: duckDuckGoEndpoint}, nil
	case KindGoogleNews:
		return &GoogleNewsProvider{providerBase: base, endpoint: googleNewsEndpoint, lang: "en-US", region: "US"}, nil
	case KindBrowser:
		return NewBrowserProvider(base), nil
	}
	return nil, fmt.Errorf("unknown search provider %q", kind)
}

// providerBase carries what every backend shares: its name, the HTTP client,
// the penalty sink and the logger.
type providerBase struct {
	kind    Kind
	http    *HTTPClient
	penalty PenaltyReporter
	logger  *zap.Logger
}

func newProviderBase(kind Kind, deps Deps) providerBase {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := deps.HTTP
	if client == nil {
		client = DefaultHTTPClient()
	}
	return providerBase{
		kind:    kind,
		http:    client,
		penalty: deps.Penalty,
		logger:  logger.With(zap.String("provider", string(kind))),
	}
}

func (p providerBase) Name() string { return string(p.kind) }

// applyPenalty reports max(RateLimitPenalty, retryAfter) to the dispatcher.
// A failing dispatcher is logged and otherwise ignored.
func (p providerBase) applyPenalty(ctx context.Context, retryAfter time.Duration) {
	penalty := max(RateLimitPenalty, retryAfter)
	p.logger.Warn("rate limited, applying penalty", zap.Duration("penalty", penalty))
	if p.penalty == nil {
		return
	}
	if err := p.penalty.ApplyPenalty(ctx, penalty); err != nil {
		p.logger.Warn("penalty not recorded", zap.Error(err))
	}
}

// rateLimited applies the penalty and builds the error the provider returns.
func (p providerBase) rateLimited(ctx context.Context, resp *Response) error {
	p.applyPenalty(ctx, resp.RetryAfter)
	return &ProviderError{
		Provider:    p.Name(),
		StatusCode:  resp.StatusCode,
		RateLimited: true,
		Err:         fmt.Errorf("backend rejected request: %s", resp.Snippet()),
	}
}

// statusError handles a non-2xx response: 403 and 429 are rate limits.
func (p providerBase) statusError(ctx context.Context, resp *Response) error {
	if resp.IsRateLimit() {
		return p.rateLimited(ctx, resp)
	}
	return &ProviderError{
		Provider:   p.Name(),
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected status: %s", resp.Snippet()),
	}
}

func (p providerBase) transportError(err error) error {
	return &ProviderError{Provider: p.Name(), Err: err}
}

// rawResult is a backend result before normalization.
type rawResult struct {
	URL     string
	Title   string
	Snippet string
}

// collect normalizes up to limit raw results, skipping the ones with invalid
// URLs, and warns on an empty page.
func (p providerBase) collect(raw []rawResult, limit int) []Item {
	if len(raw) == 0 {
		p.logger.Warn("search returned no results")
		return []Item{}
	}
	items := make([]Item, 0, min(len(raw), limit))
	for _, r := range raw {
		if len(items) >= limit {
			break
		}
		if r.URL == "" {
			continue
		}
		item, err := NewItem(r.URL, r.Title, r.Snippet)
		if err != nil {
			p.logger.Debug("skipping invalid url", zap.String("url", r.URL), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func withSuffix(query, suffix string) string {
	if suffix == "" {
		return query
	}
	return strings.TrimSpace(query) + " " + suffix
}
