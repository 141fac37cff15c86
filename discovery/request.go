package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"forager/search"
)

const maxFieldRunes = 200

type DetailLevel string

const (
	DetailQuick    DetailLevel = "quick"
	DetailConcise  DetailLevel = "concise"
	DetailNormal   DetailLevel = "normal"
	DetailDeepDive DetailLevel = "deep_dive"
)

var (
	ErrInvalidInput  = errors.New("Invalid input")
	ErrNoArguments   = errors.New("Insufficient arguments.")
	errTopicRequired = errors.New("topic is required")
)

// Keywords accepts either a single string or a list of strings. Blank and
// non-string entries are dropped.
type Keywords []string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out []string
	switch v := raw.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	*k = out
	return nil
}

// Request is the single JSON argument of a discovery invocation.
type Request struct {
	Topic       string      `json:"topic"`
	Query       string      `json:"query,omitempty"`
	Keywords    Keywords    `json:"keywords,omitempty"`
	DetailLevel DetailLevel `json:"detail_level,omitempty"`
}

// ParseRequest decodes and validates raw. Errors wrap ErrInvalidInput.
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	req.Topic = strings.TrimSpace(req.Topic)
	req.Query = strings.TrimSpace(req.Query)
	switch {
	case req.Topic == "":
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidInput, errTopicRequired)
	case utf8.RuneCountInString(req.Topic) > maxFieldRunes:
		return Request{}, fmt.Errorf("%w: topic exceeds %d characters", ErrInvalidInput, maxFieldRunes)
	case utf8.RuneCountInString(req.Query) > maxFieldRunes:
		return Request{}, fmt.Errorf("%w: query exceeds %d characters", ErrInvalidInput, maxFieldRunes)
	}

	req.DetailLevel = DetailLevel(strings.ToLower(strings.TrimSpace(string(req.DetailLevel))))
	switch req.DetailLevel {
	case DetailQuick, DetailConcise, DetailNormal, DetailDeepDive:
	default:
		req.DetailLevel = DetailNormal
	}
	return req, nil
}

// Budget maps the detail level to (numResults, maxIterations).
func (r Request) Budget() (numResults, maxIterations int) {
	switch r.DetailLevel {
	case DetailQuick, DetailConcise:
		return 3, 1
	case DetailDeepDive:
		return 10, 3
	default:
		return 5, 2
	}
}

// InitialQuery prefers the joined keywords, then the query, then the topic.
func (r Request) InitialQuery() string {
	if q := strings.Join(r.Keywords, " "); q != "" {
		return q
	}
	if r.Query != "" {
		return r.Query
	}
	return r.Topic
}

const resultTypeObject = "object"

type Result struct {
	Items []search.Item `json:"items"`
}

// Output is the JSON document written to stdout. Absent result and error
// are encoded as null.
type Output struct {
	Success    bool    `json:"success"`
	Result     *Result `json:"result"`
	Error      *string `json:"error"`
	ResultType string  `json:"resultType"`
}

func Succeeded(items []search.Item) Output {
	if items == nil {
		items = []search.Item{}
	}
	return Output{Success: true, Result: &Result{Items: items}, ResultType: resultTypeObject}
}

func Failed(message string) Output {
	return Output{Success: false, Error: &message, ResultType: resultTypeObject}
}
