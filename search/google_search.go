package search

import (
	"context"
	"net/url"
	"strconv"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleProvider queries the Google Custom Search JSON API.
type GoogleProvider struct {
	providerBase
	apiKey   string
	cseID    string
	endpoint string
}

type googleResponse struct {
	Items []struct {
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (p *GoogleProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := clamp(numResults, 1, 10)
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("cx", p.cseID)
	params.Set("q", withSuffix(query, "news"))
	params.Set("num", strconv.Itoa(n))

	resp, err := p.http.Get(ctx, p.endpoint, params, nil)
	if err != nil {
		return nil, p.transportError(err)
	}
	if !resp.OK() {
		return nil, p.statusError(ctx, resp)
	}

	var data googleResponse
	if err := resp.DecodeJSON(&data); err != nil {
		return nil, p.transportError(err)
	}

	raw := make([]rawResult, 0, len(data.Items))
	for _, item := range data.Items {
		raw = append(raw, rawResult{URL: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	return p.collect(raw, n), nil
}
