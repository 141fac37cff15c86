package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"go.uber.org/zap"
)

// SearxngProvider queries a self-hosted SearXNG instance through its JSON
// output format.
type SearxngProvider struct {
	providerBase
	baseURL string
}

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Snippet string `json:"snippet"`
	} `json:"results"`
	Errors              any `json:"errors"`
	UnresponsiveEngines any `json:"unresponsive_engines"`
	Error               any `json:"error"`
}

func (p *SearxngProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := max(numResults, 1)
	params := url.Values{}
	params.Set("q", withSuffix(query, "news"))
	params.Set("format", "json")

	resp, err := p.http.Get(ctx, p.baseURL+"/search", params, nil)
	if err != nil {
		if isConnectionError(err) {
			p.logger.Warn("searxng unreachable, is the instance running?", zap.Error(err))
			return []Item{}, nil
		}
		return nil, p.transportError(err)
	}

	var data searxngResponse
	if err := resp.DecodeJSON(&data); err != nil {
		p.logger.Warn("searxng returned a non-JSON body", zap.Int("status", resp.StatusCode), zap.Error(err))
		if resp.StatusCode >= 400 {
			return nil, p.statusError(ctx, resp)
		}
		return []Item{}, nil
	}

	if p.hasRateLimitSignal(data) {
		p.logger.Warn("searxng reported rate limiting or blocking")
		p.applyPenalty(ctx, resp.RetryAfter)
	}

	if len(data.Results) > 0 {
		if resp.IsRateLimit() {
			p.applyPenalty(ctx, resp.RetryAfter)
		}
		raw := make([]rawResult, 0, len(data.Results))
		for _, r := range data.Results {
			snippet := r.Content
			if snippet == "" {
				snippet = r.Snippet
			}
			raw = append(raw, rawResult{URL: r.URL, Title: r.Title, Snippet: snippet})
		}
		return p.collect(raw, n), nil
	}

	if resp.StatusCode >= 400 {
		return nil, p.statusError(ctx, resp)
	}
	return p.collect(nil, n), nil
}

// hasRateLimitSignal scans errors, unresponsive_engines and error for hint
// words.
func (p *SearxngProvider) hasRateLimitSignal(data searxngResponse) bool {
	hints := defaultHints
	if list, ok := data.Errors.([]any); ok && hints.ContainsAny(stringify(list)) {
		return true
	}
	if list, ok := data.UnresponsiveEngines.([]any); ok && hints.ContainsAny(stringify(list)) {
		return true
	}
	if msg, ok := data.Error.(string); ok && hints.Contains(msg) {
		return true
	}
	return false
}

func stringify(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
