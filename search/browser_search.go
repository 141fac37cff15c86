package search

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	browserSearchURL      = "https://duckduckgo.com/?q=%s"
	browserResultSelector = `section[data-testid="mainline"] article`
	browserTimeout        = 60 * time.Second
)

// BrowserProvider drives headless Chrome through the DuckDuckGo results page.
// It is opt-in through browser_enabled because it needs a local Chrome.
type BrowserProvider struct {
	providerBase
	options []chromedp.ExecAllocatorOption
	timeout time.Duration
}

type browserLink struct {
	Href    string `json:"href"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func NewBrowserProvider(base providerBase) *BrowserProvider {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
		chromedp.UserAgent(base.http.UserAgent()),
		chromedp.Flag("accept-language", "en-US,en;q=0.9"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-extensions", ""),
	)
	if proxy := base.http.ProxyURL(); proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return &BrowserProvider{providerBase: base, options: opts, timeout: browserTimeout}
}

const browserExtractScript = `
	Array.from(document.querySelectorAll('%s')).map(article => {
		const link = article.querySelector('a[data-testid="result-title-a"]') || article.querySelector('h2 a');
		const snippet = article.querySelector('[data-result="snippet"]');
		return {
			href: link ? link.href : '',
			title: link ? link.textContent.trim() : '',
			snippet: snippet ? snippet.textContent.trim() : ''
		};
	}).filter(r => r.href && r.href.startsWith('http'))
`

func (p *BrowserProvider) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	n := max(numResults, 1)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, p.options...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, p.timeout)
	defer timeoutCancel()

	searchURL := fmt.Sprintf(browserSearchURL, url.QueryEscape(query))
	p.logger.Info("navigating to search", zap.String("url", searchURL))

	var links []browserLink
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitVisible("body"),
		chromedp.Evaluate(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`, nil),
		chromedp.WaitReady(browserResultSelector, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(browserExtractScript, browserResultSelector), &links),
	)
	if err != nil {
		var title string
		_ = chromedp.Run(taskCtx, chromedp.Title(&title))
		p.logger.Warn("browser search failed", zap.String("page_title", title), zap.Error(err))
		return nil, p.transportError(fmt.Errorf("browser search: %w", err))
	}

	raw := make([]rawResult, 0, len(links))
	for _, l := range links {
		raw = append(raw, rawResult{URL: l.Href, Title: l.Title, Snippet: l.Snippet})
	}
	return p.collect(raw, n), nil
}
