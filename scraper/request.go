package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const DefaultArticleCount = 3

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

var ErrInvalidInput = errors.New("Invalid input")

// Request is the single JSON argument of a scrape invocation.
type Request struct {
	URL          string `json:"url"`
	ArticleCount int    `json:"article_count"`
	Format       Format `json:"format"`
}

type rawRequest struct {
	URL          *string         `json:"url"`
	ArticleCount json.RawMessage `json:"article_count"`
	Format       string          `json:"format"`
}

// ParseRequest validates raw. A missing, non-numeric or non-positive
// article_count falls back to DefaultArticleCount.
func ParseRequest(raw []byte) (Request, error) {
	var in rawRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.URL == nil || strings.TrimSpace(*in.URL) == "" {
		return Request{}, fmt.Errorf("%w: URL cannot be empty", ErrInvalidInput)
	}

	req := Request{
		URL:          strings.TrimSpace(*in.URL),
		ArticleCount: articleCount(in.ArticleCount),
		Format:       FormatText,
	}
	switch Format(strings.ToLower(strings.TrimSpace(in.Format))) {
	case "", FormatText:
	case FormatMarkdown:
		req.Format = FormatMarkdown
	default:
		return Request{}, fmt.Errorf("%w: unknown format %q", ErrInvalidInput, in.Format)
	}
	return req, nil
}

func articleCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return DefaultArticleCount
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return DefaultArticleCount
	}

	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return DefaultArticleCount
		}
		n = parsed
	default:
		return DefaultArticleCount
	}
	if n <= 0 {
		return DefaultArticleCount
	}
	return n
}

type Result struct {
	SourceURL   string `json:"source_url"`
	ArticleText string `json:"article_text"`
}

// Output mirrors the discovery output envelope.
type Output struct {
	Success    bool    `json:"success"`
	Result     *Result `json:"result"`
	Error      *string `json:"error"`
	ResultType string  `json:"resultType"`
}

func Succeeded(r Result) Output {
	return Output{Success: true, Result: &r, ResultType: "object"}
}

func Failed(message string) Output {
	return Output{Success: false, Error: &message, ResultType: "object"}
}
