// Package scraper turns a news feed into a block of article text: it reads
// the feed, follows the first few item links and extracts each page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/storage"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"forager/logging"
	"forager/search"
)

const (
	defaultArticleTimeout = 20 * time.Second
	maxArticleBytes       = 4 << 20
)

var ErrNoArticles = errors.New("no articles could be extracted")

type Scraper struct {
	client         *search.HTTPClient
	extractor      *Extractor
	storage        storage.Storage
	articleTimeout time.Duration
	logger         *zap.Logger
}

type Option func(*Scraper)

// WithStorage persists collector state (visits, cookies) across runs.
func WithStorage(s storage.Storage) Option {
	return func(sc *Scraper) { sc.storage = s }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithArticleTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		if d > 0 {
			s.articleTimeout = d
		}
	}
}

func New(client *search.HTTPClient, opts ...Option) *Scraper {
	if client == nil {
		client = search.DefaultHTTPClient()
	}
	s := &Scraper{
		client:         client,
		articleTimeout: defaultArticleTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.extractor = NewExtractor(s.logger)
	return s
}

// Scrape reads the feed at req.URL and concatenates the text of its first
// req.ArticleCount articles. Articles that fail to load or extract are
// skipped; the call fails only if the feed is unreadable or nothing was
// extracted.
func (s *Scraper) Scrape(ctx context.Context, req Request) (Result, error) {
	logger := logging.FromContext(ctx, s.logger)

	links, err := s.feedLinks(ctx, req.URL, req.ArticleCount)
	if err != nil {
		return Result{}, err
	}
	logger.Info("feed parsed", zap.String("feed", req.URL), zap.Int("links", len(links)))

	collector, pages, err := s.newCollector(ctx)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rc := colly.NewContext()
		rc.Put("requested", link)
		if err := collector.Request("GET", link, nil, rc, nil); err != nil {
			logger.Warn("article fetch failed", zap.String("url", link), zap.Error(err))
			continue
		}
		page, ok := pages[link]
		if !ok {
			logger.Warn("article fetch returned nothing", zap.String("url", link))
			continue
		}

		text, err := s.extractor.Extract(page.body, page.finalURL, req.Format)
		if err != nil {
			logger.Warn("article extraction failed", zap.String("url", link), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "--- News Source: %s ---\n\n%s\n\n", link, text)
	}

	articles := strings.TrimSpace(b.String())
	if articles == "" {
		return Result{}, fmt.Errorf("%w from %s", ErrNoArticles, req.URL)
	}
	return Result{SourceURL: req.URL, ArticleText: articles}, nil
}

// Run is Scrape wrapped in the output envelope.
func (s *Scraper) Run(ctx context.Context, req Request) Output {
	result, err := s.Scrape(ctx, req)
	if err != nil {
		return Failed(fmt.Sprintf("scrape failed: %v", err))
	}
	return Succeeded(result)
}

func (s *Scraper) feedLinks(ctx context.Context, feedURL string, limit int) ([]string, error) {
	base, err := url.Parse(feedURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: malformed feed url %q", ErrInvalidInput, feedURL)
	}

	parser := gofeed.NewParser()
	parser.Client = s.client.Client()
	parser.UserAgent = s.client.UserAgent()
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", feedURL, err)
	}

	links := make([]string, 0, limit)
	seen := make(map[string]struct{})
	for _, item := range feed.Items {
		if len(links) == limit {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if link == "" {
			continue
		}
		ref, err := url.Parse(link)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	return links, nil
}

type page struct {
	finalURL string
	body     []byte
}

// newCollector builds a synchronous collector whose responses land in the
// returned map keyed by the requested URL.
func (s *Scraper) newCollector(ctx context.Context) (*colly.Collector, map[string]page, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.client.UserAgent()),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(maxArticleBytes),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(s.client.Client().Transport)
	c.SetRequestTimeout(s.articleTimeout)
	if s.storage != nil {
		if err := c.SetStorage(s.storage); err != nil {
			return nil, nil, fmt.Errorf("collector storage: %w", err)
		}
	}

	pages := make(map[string]page)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		requested := r.Ctx.Get("requested")
		if requested == "" {
			requested = r.Request.URL.String()
		}
		pages[requested] = page{finalURL: r.Request.URL.String(), body: r.Body}
	})
	return c, pages, nil
}
