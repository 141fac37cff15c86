package search

import (
	"context"
	"net/url"
	"strconv"
)

const serpAPIEndpoint = "https://serpapi.com/search"

// SerpAPIProvider queries the Google engine of SerpAPI. One page is fetched
// per call; the aggregator decides whether to fall through.
type SerpAPIProvider struct {
	providerBase
	apiKey   string
	endpoint string
}

type serpAPIResponse struct {
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	Error string `json:"error"`
}

func (p *SerpAPIProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := clamp(numResults, 1, 10)

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", p.apiKey)
	params.Set("start", "0")
	params.Set("num", strconv.Itoa(n))

	resp, err := p.http.Get(ctx, p.endpoint, params, nil)
	if err != nil {
		return nil, p.transportError(err)
	}
	if !resp.OK() {
		return nil, p.statusError(ctx, resp)
	}

	var data serpAPIResponse
	if err := resp.DecodeJSON(&data); err != nil {
		return nil, p.transportError(err)
	}
	// SerpAPI reports exhausted plans with a 200 and an error message.
	if data.Error != "" && defaultHints.Contains(data.Error) {
		return nil, p.rateLimited(ctx, resp)
	}

	raw := make([]rawResult, 0, len(data.OrganicResults))
	for _, item := range data.OrganicResults {
		raw = append(raw, rawResult{URL: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	return p.collect(raw, n), nil
}
