package search

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the JavaScript-free DuckDuckGo results page.
type DuckDuckGoProvider struct {
	providerBase
	endpoint string
}

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := clamp(numResults, 1, 30)
	params := url.Values{}
	params.Set("q", query)

	resp, err := p.http.Get(ctx, p.endpoint, params, nil)
	if err != nil {
		return nil, p.transportError(err)
	}
	if !resp.OK() {
		return nil, p.statusError(ctx, resp)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, p.transportError(err)
	}
	// The bot check page is served with a 200 or 202.
	if doc.Find(".anomaly-modal, #challenge-form").Length() > 0 {
		return nil, p.rateLimited(ctx, resp)
	}

	var raw []rawResult
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		raw = append(raw, rawResult{
			URL:     unwrapDuckDuckGoURL(href),
			Title:   strings.TrimSpace(link.Text()),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
	})
	return p.collect(raw, n), nil
}

// unwrapDuckDuckGoURL resolves the //duckduckgo.com/l/?uddg=<target> redirect
// links to their target.
func unwrapDuckDuckGoURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}
