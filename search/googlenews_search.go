package search

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const googleNewsEndpoint = "https://news.google.com/rss/search"

// GoogleNewsProvider reads the Google News RSS search feed. Links point at
// news.google.com article wrappers that redirect to the publisher.
type GoogleNewsProvider struct {
	providerBase
	endpoint string
	lang     string
	region   string
}

func (p *GoogleNewsProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := max(numResults, 1)
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", p.lang)
	params.Set("gl", p.region)
	params.Set("ceid", p.region+":"+strings.SplitN(p.lang, "-", 2)[0])

	header := http.Header{}
	header.Set("Accept", "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.1")

	resp, err := p.http.Get(ctx, p.endpoint, params, header)
	if err != nil {
		return nil, p.transportError(err)
	}
	if !resp.OK() {
		return nil, p.statusError(ctx, resp)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, p.transportError(err)
	}

	raw := make([]rawResult, 0, len(feed.Items))
	for _, it := range feed.Items {
		raw = append(raw, rawResult{
			URL:     strings.TrimSpace(it.Link),
			Title:   strings.TrimSpace(it.Title),
			Snippet: htmlText(it.Description),
		})
	}
	return p.collect(raw, n), nil
}

// htmlText flattens an HTML fragment to whitespace-normalized text.
func htmlText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
