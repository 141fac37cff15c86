package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned when a raw result URL cannot be resolved to an
// http(s) scheme and a host.
var ErrInvalidURL = errors.New("invalid url")

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)

// Item is a single discovered source. It is only built through NewItem, so the
// URL is always normalized.
type Item struct {
	url     string
	title   string
	snippet string
}

type itemJSON struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// NewItem normalizes rawURL and builds an Item.
func NewItem(rawURL, title, snippet string) (Item, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Item{}, err
	}
	return Item{
		url:     normalized,
		title:   strings.TrimSpace(title),
		snippet: strings.TrimSpace(snippet),
	}, nil
}

func (i Item) URL() string     { return i.url }
func (i Item) Title() string   { return i.title }
func (i Item) Snippet() string { return i.snippet }

// Text is the title and snippet joined for evaluation.
func (i Item) Text() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{i.title, i.snippet} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemJSON{URL: i.url, Title: i.title, Snippet: i.snippet})
}

// UnmarshalJSON re-validates the URL so items loaded from a cache keep the
// normalization invariant.
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	item, err := NewItem(raw.URL, raw.Title, raw.Snippet)
	if err != nil {
		return err
	}
	*i = item
	return nil
}

// NormalizeURL canonicalizes a discovered URL: protocol-relative and schemeless
// inputs get https, tracking parameters are removed in place and the fragment
// is dropped. NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	if !schemePrefix.MatchString(value) {
		if strings.HasPrefix(value, "//") {
			value = "https:" + value
		} else {
			value = "https://" + strings.TrimLeft(value, "/")
		}
	}

	u, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}

	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// stripTracking filters the raw query string pair by pair so that the order,
// encoding and separators ('&' or ';') of the remaining parameters are
// preserved.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var b strings.Builder
	sep := ""
	for rest := rawQuery; ; {
		i := strings.IndexAny(rest, "&;")
		pair, next := rest, ""
		if i >= 0 {
			pair, next = rest[:i], rest[i+1:]
		}
		if pair != "" && !isTrackingParam(paramKey(pair)) {
			if b.Len() > 0 {
				b.WriteString(sep)
			}
			b.WriteString(pair)
		}
		if i < 0 {
			break
		}
		if pair != "" {
			sep = rest[i : i+1]
		}
		rest = next
	}
	return b.String()
}

func paramKey(pair string) string {
	key := pair
	if idx := strings.IndexByte(pair, '='); idx >= 0 {
		key = pair[:idx]
	}
	if decoded, err := url.QueryUnescape(key); err == nil {
		key = decoded
	}
	return key
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || k == "gclid" || k == "fbclid"
}
