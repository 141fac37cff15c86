package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"forager/config"
	"forager/dispatcher"

	"go.uber.org/zap"
)

const (
	JitterMin        = 1 * time.Second
	JitterMax        = 3 * time.Second
	FailureCooldown  = 2 * time.Second
	BaseCooldown     = 2 * time.Second
	SelfHostCooldown = 5 * time.Second

	// TracePrefix starts every line written to the trace writer.
	TracePrefix = "BIONIC_REQUEST_TS"
)

// Dispatcher is the cross-process pacing primitive the aggregator waits on.
type Dispatcher interface {
	PenaltyReporter
	WaitForCooldown(ctx context.Context, cooldown time.Duration) error
}

// ProviderFactory builds the provider for a kind.
type ProviderFactory func(kind Kind, s *config.Settings, deps Deps) (Provider, error)

// Aggregator tries providers in priority order and returns the first non-empty
// page. Every attempt is paced by the dispatcher and a random jitter.
type Aggregator struct {
	settings   *config.Settings
	dispatcher Dispatcher
	deps       Deps
	factory    ProviderFactory
	providers  map[Kind]Provider
	logger     *zap.Logger

	searxngCooldown *time.Duration
	trace           io.Writer

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
	now    func() time.Time
}

type AggregatorOption func(*Aggregator)

func WithHTTPClient(c *HTTPClient) AggregatorOption {
	return func(a *Aggregator) { a.deps.HTTP = c }
}

func WithLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTrace enables the request timestamp trace.
func WithTrace(w io.Writer) AggregatorOption {
	return func(a *Aggregator) { a.trace = w }
}

// WithSearxngCooldown overrides the searxng cooldown ahead of the settings.
func WithSearxngCooldown(d *time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.searxngCooldown = d }
}

func WithProviderFactory(f ProviderFactory) AggregatorOption {
	return func(a *Aggregator) {
		if f != nil {
			a.factory = f
		}
	}
}

// WithPacing replaces the sleep primitive and the jitter source.
func WithPacing(sleep func(ctx context.Context, d time.Duration) error, jitter func() time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if sleep != nil {
			a.sleep = sleep
		}
		if jitter != nil {
			a.jitter = jitter
		}
	}
}

func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator builds an aggregator over settings. A nil dispatcher disables
// cross-process pacing; cooldowns are then slept in-process.
func NewAggregator(settings *config.Settings, pacer Dispatcher, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		settings:   settings,
		dispatcher: pacer,
		factory:    NewProvider,
		providers:  make(map[Kind]Provider),
		logger:     zap.NewNop(),
		sleep:      dispatcher.Sleep,
		jitter:     defaultJitter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.deps.Logger = a.logger
	if pacer != nil {
		a.deps.Penalty = pacer
	}
	return a
}

// attempt is the outcome of asking one provider.
type attempt struct {
	provider string
	items    []Item
	err      error
}

func (r attempt) succeeded() bool { return r.err == nil && len(r.items) > 0 }

func (r attempt) failure() ProviderFailure {
	if r.err != nil {
		return ProviderFailure{Provider: r.provider, Err: r.err}
	}
	return ProviderFailure{Provider: r.provider, Err: errEmptyPage}
}

// Search walks the priority list. It fails with *AllProvidersFailedError when
// every attempted provider errored or came back empty; when nothing could be
// attempted the error also matches ErrNoProviders.
func (a *Aggregator) Search(ctx context.Context, query string, numResults int) ([]Item, error) {
	var failures []ProviderFailure

	for _, name := range a.settings.Priority() {
		kind, provider, ok := a.provider(name)
		if !ok {
			continue
		}

		a.logger.Info("searching", zap.String("provider", name), zap.String("query", query))
		result := a.attempt(ctx, kind, provider, query, numResults)
		if result.succeeded() {
			a.logger.Info("search succeeded",
				zap.String("provider", name),
				zap.Int("results", len(result.items)))
			return result.items, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		failure := result.failure()
		failures = append(failures, failure)
		if result.err != nil {
			a.logger.Warn("search failed, trying next provider",
				zap.String("provider", name), zap.Error(result.err))
		} else {
			a.logger.Warn("search returned nothing, trying next provider", zap.String("provider", name))
		}
		if err := a.sleep(ctx, FailureCooldown); err != nil {
			return nil, err
		}
	}

	return nil, &AllProvidersFailedError{Failures: failures}
}

// provider resolves a priority entry, logging why it is skipped.
func (a *Aggregator) provider(name string) (Kind, Provider, bool) {
	kind, ok := ParseKind(name)
	if !ok {
		a.logger.Warn("unknown search provider", zap.String("provider", name))
		return "", nil, false
	}
	if p, ok := a.providers[kind]; ok {
		return kind, p, true
	}
	p, err := a.factory(kind, a.settings, a.deps)
	if err != nil {
		if errors.Is(err, ErrMissingCredentials) {
			a.logger.Info("skipping provider without credentials", zap.String("provider", name))
		} else {
			a.logger.Warn("provider unavailable", zap.String("provider", name), zap.Error(err))
		}
		return "", nil, false
	}
	a.providers[kind] = p
	return kind, p, true
}

func (a *Aggregator) attempt(ctx context.Context, kind Kind, p Provider, query string, numResults int) (result attempt) {
	result.provider = string(kind)

	if err := a.waitForCooldown(ctx, a.Cooldown(kind)); err != nil {
		result.err = err
		return result
	}
	if err := a.sleep(ctx, a.jitter()); err != nil {
		result.err = err
		return result
	}
	a.emitTrace()

	defer func() {
		if r := recover(); r != nil {
			result.items = nil
			result.err = &ProviderError{Provider: string(kind), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	result.items, result.err = p.Search(ctx, query, numResults)
	return result
}

// waitForCooldown goes through the dispatcher and falls back to an
// in-process sleep when the shared lock cannot be taken.
func (a *Aggregator) waitForCooldown(ctx context.Context, cooldown time.Duration) error {
	if a.dispatcher == nil {
		return a.sleep(ctx, cooldown)
	}
	err := a.dispatcher.WaitForCooldown(ctx, cooldown)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	a.logger.Warn("dispatcher unavailable, pacing in-process",
		zap.Duration("cooldown", cooldown), zap.Error(err))
	return a.sleep(ctx, cooldown)
}

// Cooldown resolves the dispatcher cooldown for kind: the searxng override,
// then <kind>_cooldown_seconds, then the built-in default.
func (a *Aggregator) Cooldown(kind Kind) time.Duration {
	if kind == KindSearxng && a.searxngCooldown != nil {
		return max(*a.searxngCooldown, 0)
	}
	if d, ok := a.settings.Cooldown(string(kind)); ok {
		return d
	}
	return DefaultCooldown(kind)
}

// DefaultCooldown is stricter for free and self-hosted backends.
func DefaultCooldown(kind Kind) time.Duration {
	switch kind {
	case KindSearxng, KindDuckDuckGo, KindGoogleNews, KindBrowser:
		return SelfHostCooldown
	}
	return BaseCooldown
}

func (a *Aggregator) emitTrace() {
	if a.trace == nil {
		return
	}
	ts := float64(a.now().UnixMicro()) / 1e6
	fmt.Fprintf(a.trace, "%s %.6f\n", TracePrefix, ts)
}

func defaultJitter() time.Duration {
	return JitterMin + rand.N(JitterMax-JitterMin)
}
