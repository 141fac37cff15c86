package search

import (
	"context"
	"net/http"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyProvider queries the Tavily search REST API.
type TavilyProvider struct {
	providerBase
	apiKey   string
	endpoint string
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	IncludeImages     bool   `json:"include_images"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (p *TavilyProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := clamp(numResults, 1, 20)
	body := tavilyRequest{
		Query:       query,
		MaxResults:  n,
		SearchDepth: "basic",
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.PostJSON(ctx, p.endpoint, body, header)
	if err != nil {
		return nil, p.transportError(err)
	}
	if !resp.OK() {
		// Usage-limit errors do not always come back as 429.
		if defaultHints.Contains(resp.Snippet()) {
			return nil, p.rateLimited(ctx, resp)
		}
		return nil, p.statusError(ctx, resp)
	}

	var data tavilyResponse
	if err := resp.DecodeJSON(&data); err != nil {
		return nil, p.transportError(err)
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
