package search

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials marks a provider that cannot run with the loaded
	// settings. The aggregator skips it.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrNoProviders means the priority list left nothing to attempt.
	ErrNoProviders = errors.New("no search provider could be attempted")
)

// ProviderError is a transport or API failure of a single backend.
type ProviderError struct {
	Provider    string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.RateLimited {
		b.WriteString(" rate limited")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderFailure pairs a provider name with the error it produced.
type ProviderFailure struct {
	Provider string
	Err      error
}

// AllProvidersFailedError is returned by the aggregator when every attempted
// provider errored or returned an empty page.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Failures) == 0 {
		return "all search providers failed: " + ErrNoProviders.Error()
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	return "all search providers failed: " + strings.Join(parts, "; ")
}

func (e *AllProvidersFailedError) Unwrap() []error {
	if len(e.Failures) == 0 {
		return []error{ErrNoProviders}
	}
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

var errEmptyPage = errors.New("no results")
