package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"forager/config"

	"golang.org/x/net/proxy"
)

const (
	maxBodyBytes       = 1 << 20
	defaultHTTPTimeout = 15 * time.Second
	snippetBytes       = 200
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// HTTPClient is the outbound client shared by the HTTP based providers. It
// rotates desktop user agents and caps response bodies.
type HTTPClient struct {
	client   *http.Client
	proxyURL string
	next     atomic.Uint64
	now      func() time.Time
}

// NewHTTPClient builds a client routed through proxyURL when it is set.
// http, https and socks5 proxies are supported.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*HTTPClient, error) {
	transport, err := newTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{
		client:   &http.Client{Transport: transport, Timeout: timeout},
		proxyURL: proxyURL,
		now:      time.Now,
	}, nil
}

// DefaultHTTPClient is a direct client with the default timeout.
func DefaultHTTPClient() *HTTPClient {
	c, _ := NewHTTPClient("", defaultHTTPTimeout)
	return c
}

func newTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

// Client exposes the underlying client for collaborators that bring their
// own request loop, such as feed parsers and collectors.
func (c *HTTPClient) Client() *http.Client { return c.client }

// ProxyURL is the proxy the client was built with, empty for direct.
func (c *HTTPClient) ProxyURL() string { return c.proxyURL }

// UserAgent returns the next user agent in rotation.
func (c *HTTPClient) UserAgent() string {
	n := c.next.Add(1) - 1
	return userAgents[n%uint64(len(userAgents))]
}

// Response is a fully read, size-capped HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsRateLimit reports a 403 or 429.
func (r *Response) IsRateLimit() bool {
	return r.StatusCode == http.StatusForbidden || r.StatusCode == http.StatusTooManyRequests
}

// Snippet is a short, single line excerpt of the body for error messages.
func (r *Response) Snippet() string {
	body := r.Body
	if len(body) > snippetBytes {
		body = body[:snippetBytes]
	}
	text := strings.Join(strings.Fields(string(body)), " ")
	if text == "" {
		return http.StatusText(r.StatusCode)
	}
	return text
}

func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Get issues a GET with params appended to rawURL.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, params url.Values, header http.Header) (*Response, error) {
	target := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, header)
}

// PostJSON issues a POST with body encoded as JSON.
func (c *HTTPClient) PostJSON(ctx context.Context, rawURL string, body any, header http.Header) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, header)
}

func (c *HTTPClient) do(req *http.Request, header http.Header) (*Response, error) {
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
	}, nil
}

// ParseRetryAfter accepts delta seconds or an HTTP-date. Anything else, and
// dates in the past, yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return config.SecondsToDuration(secs)
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := when.Sub(now); d > 0 {
		return d
	}
	return 0
}
