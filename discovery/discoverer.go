// Package discovery drives search, evaluation and refinement in rounds until
// a round yields at least one item that passes evaluation, or a stop
// condition fires.
package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"forager/cache"
	"forager/dispatcher"
	"forager/logging"
	"forager/refine"
	"forager/relevance"
	"forager/search"
)

type State string

const (
	StateCachedHit    State = "CACHED_HIT"
	StateSearching    State = "SEARCHING"
	StateEvaluating   State = "EVALUATING"
	StateRefining     State = "REFINING"
	StateSucceeded    State = "SUCCEEDED"
	StateFallbackBest State = "FALLBACK_BEST"
	StateExhausted    State = "EXHAUSTED"
	StateFailed       State = "FAILED"
)

type StopReason string

const (
	StopDuplicateQuery StopReason = "duplicate_query"
	StopNoImprovement  StopReason = "no_improvement"
	StopMaxIterations  StopReason = "max_iterations"
)

const (
	PauseMin            = 2 * time.Second
	PauseMax            = 4 * time.Second
	noImprovementRounds = 2

	topReasons        = 3
	topMissedKeywords = 5
	maxFalseHits      = 3
)

// Searcher is the aggregator as seen by the loop.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]search.Item, error)
}

// Outcome is the loop's final output plus how it got there.
type Outcome struct {
	Output     Output
	State      State
	StopReason StopReason
	Iterations int
	// Query is the query of the returned round, or the last one tried.
	Query string
}

type Discoverer struct {
	searcher  Searcher
	evaluator *relevance.Evaluator
	refiner   *refine.Refiner
	cache     *cache.Cache
	logger    *zap.Logger

	sleep   func(ctx context.Context, d time.Duration) error
	pause   func() time.Duration
	observe func(State)
}

type Option func(*Discoverer)

// WithCache enables result caching. Without it every call searches.
func WithCache(c *cache.Cache) Option {
	return func(d *Discoverer) { d.cache = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Discoverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPacing replaces the sleep primitive and the refinement pause source.
func WithPacing(sleep func(ctx context.Context, d time.Duration) error, pause func() time.Duration) Option {
	return func(d *Discoverer) {
		if sleep != nil {
			d.sleep = sleep
		}
		if pause != nil {
			d.pause = pause
		}
	}
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(d *Discoverer) { d.observe = fn }
}

func New(searcher Searcher, evaluator *relevance.Evaluator, refiner *refine.Refiner, opts ...Option) *Discoverer {
	d := &Discoverer{
		searcher:  searcher,
		evaluator: evaluator,
		refiner:   refiner,
		logger:    zap.NewNop(),
		sleep:     dispatcher.Sleep,
		pause:     defaultPause,
		observe:   func(State) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes a parsed request with the budget of its detail level.
func (d *Discoverer) Run(ctx context.Context, req Request) Outcome {
	numResults, maxIterations := req.Budget()
	return d.Discover(ctx, req.Topic, req.InitialQuery(), numResults, maxIterations)
}

// Discover never returns an error: failures, including panics, surface as
// an Outcome in StateFailed with success=false.
func (d *Discoverer) Discover(ctx context.Context, topic, initialQuery string, numResults, maxIterations int) (outcome Outcome) {
	logger := logging.FromContext(ctx, d.logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("discovery panicked", zap.Any("panic", r), zap.Stack("stack"))
			outcome = d.fail(fmt.Sprintf("discovery failed: %v", r), outcome)
		}
	}()

	key := cache.Key(topic, initialQuery, numResults, maxIterations)
	if d.cache != nil {
		var cached Output
		if d.cache.Get(key, &cached) {
			logger.Info("discovery cache hit", zap.String("key", key))
			d.observe(StateCachedHit)
			return Outcome{Output: cached, State: StateCachedHit, Query: initialQuery}
		}
	}

	current := initialQuery
	if strings.TrimSpace(current) == "" {
		current = topic
	}
	tried := map[string]struct{}{normalizeQuery(current): {}}
	topicKeywords := d.evaluator.Keywords(topic)
	history := []refine.Strategy{}

	var best *round
	var lastBest *float64
	noImprovement := 0
	stop := StopMaxIterations
	outcome.Query = current

	for attempt := 1; attempt <= maxIterations; attempt++ {
		outcome.Iterations = attempt
		if attempt > 1 {
			if err := d.sleep(ctx, d.pause()); err != nil {
				return d.fail(fmt.Sprintf("discovery cancelled: %v", err), outcome)
			}
		}

		d.observe(StateSearching)
		items, err := d.searcher.Search(ctx, current, numResults)
		if err != nil {
			var failed *search.AllProvidersFailedError
			switch {
			case ctx.Err() != nil:
				return d.fail(fmt.Sprintf("discovery cancelled: %v", ctx.Err()), outcome)
			case errors.Is(err, search.ErrNoProviders):
				logger.Error("no search provider available", zap.Error(err))
				return d.fail(err.Error(), outcome)
			case errors.As(err, &failed):
				logger.Warn("search round failed", zap.Int("attempt", attempt), zap.Error(err))
				items = nil
			default:
				logger.Error("search round aborted", zap.Int("attempt", attempt), zap.Error(err))
				return d.fail(err.Error(), outcome)
			}
		}

		d.observe(StateEvaluating)
		r := d.evaluate(topic, current, items, topicKeywords)
		logger.Info("discovery round",
			zap.Int("attempt", attempt),
			zap.String("query", current),
			zap.Int("results", len(items)),
			zap.Int("valid", len(r.passing)),
			zap.Float64("best_score", r.reportedScore()))
		r.logTop(logger)

		if best == nil || len(r.passing) > len(best.passing) || r.bestScore > best.bestScore {
			if len(r.records) > 0 {
				best = r
			}
		}

		if len(r.passing) > 0 {
			out := Succeeded(r.ordered())
			d.store(logger, key, out)
			d.observe(StateSucceeded)
			logger.Info("discovery succeeded",
				zap.Int("valid", len(r.passing)),
				zap.Float64("top_score", r.bestScore),
				zap.String("query", current))
			return Outcome{Output: out, State: StateSucceeded, Iterations: attempt, Query: current}
		}

		d.observe(StateRefining)
		summary := r.summary(attempt)
		refined := d.refiner.Refine(refine.Request{
			Query:   current,
			Reason:  summary.String(),
			Attempt: attempt,
			History: history,
		})
		if refined.Strategy != refine.StrategyNone && refined.Strategy != refine.StrategyTruncate {
			history = append(history, refined.Strategy)
		}

		if lastBest != nil && r.bestScore <= *lastBest {
			noImprovement++
		} else {
			noImprovement = 0
		}
		score := r.bestScore
		lastBest = &score

		normalized := normalizeQuery(refined.Query)
		if _, seen := tried[normalized]; seen {
			stop = StopDuplicateQuery
			break
		}
		if noImprovement >= noImprovementRounds {
			stop = StopNoImprovement
			break
		}
		tried[normalized] = struct{}{}
		current = refined.Query
		outcome.Query = current
	}

	if best != nil {
		out := Succeeded(best.ordered())
		d.store(logger, key, out)
		d.observe(StateFallbackBest)
		logger.Info("discovery stopped, returning best attempt",
			zap.String("stop_reason", string(stop)),
			zap.String("query", best.query),
			zap.Float64("score", best.bestScore))
		return Outcome{
			Output:     out,
			State:      StateFallbackBest,
			StopReason: stop,
			Iterations: outcome.Iterations,
			Query:      best.query,
		}
	}

	logger.Warn("discovery stopped without results", zap.String("stop_reason", string(stop)))
	d.observe(StateExhausted)
	return Outcome{
		Output:     Failed("Search stopped: " + string(stop)),
		State:      StateExhausted,
		StopReason: stop,
		Iterations: outcome.Iterations,
		Query:      outcome.Query,
	}
}

func (d *Discoverer) fail(message string, partial Outcome) Outcome {
	d.observe(StateFailed)
	return Outcome{
		Output:     Failed(message),
		State:      StateFailed,
		Iterations: partial.Iterations,
		Query:      partial.Query,
	}
}

func (d *Discoverer) store(logger *zap.Logger, key string, out Output) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Put(key, out); err != nil {
		logger.Warn("discovery cache write failed", zap.Error(err))
	}
}

type record struct {
	item   search.Item
	result relevance.Result
}

// round is the evaluation of one search call.
type round struct {
	query     string
	records   []record
	passing   []search.Item
	failing   []search.Item
	bestScore float64

	reasons   *counter
	missed    *counter
	falseHits []refine.FalseHit
}

func (d *Discoverer) evaluate(topic, query string, items []search.Item, topicKeywords []relevance.Keyword) *round {
	r := &round{
		query:     query,
		bestScore: math.Inf(-1),
		reasons:   newCounter(),
		missed:    newCounter(),
	}
	for _, item := range items {
		res := d.evaluator.Evaluate(item.Text(), topic)
		r.records = append(r.records, record{item: item, result: res})
		r.bestScore = math.Max(r.bestScore, res.Score)
		if res.IsPassing {
			r.passing = append(r.passing, item)
		} else {
			r.failing = append(r.failing, item)
		}

		for _, reason := range res.Reasons {
			r.reasons.add(reason)
		}
		for _, kw := range topicKeywords {
			if !slices.Contains(res.MatchedKeywords, kw.Text) {
				r.missed.add(kw.Text)
			}
		}
		if res.HasReason(relevance.ReasonURLFalsePositive) && len(r.falseHits) < maxFalseHits {
			r.falseHits = append(r.falseHits, refine.FalseHit{URL: item.URL(), Title: item.Title()})
		}
	}
	return r
}

// ordered lists passing items first, each group in provider order.
func (r *round) ordered() []search.Item {
	return slices.Concat(r.passing, r.failing)
}

func (r *round) reportedScore() float64 {
	if math.IsInf(r.bestScore, -1) {
		return 0
	}
	return r.bestScore
}

func (r *round) summary(attempt int) refine.FailureSummary {
	top := make(map[string]int, topReasons)
	for _, e := range r.reasons.top(topReasons) {
		top[e.key] = e.count
	}
	missed := []string{}
	for _, e := range r.missed.top(topMissedKeywords) {
		missed = append(missed, e.key)
	}

	stats := refine.AttemptStats{BestScore: r.reportedScore(), BestItemReasons: []string{}}
	if len(r.records) > 0 {
		bestItem := r.records[0].result
		for _, rec := range r.records[1:] {
			if rec.result.Score > bestItem.Score {
				bestItem = rec.result
			}
		}
		stats.BestItemScore = bestItem.Score
		stats.BestItemReasons = bestItem.Reasons
	}

	falseHits := r.falseHits
	if falseHits == nil {
		falseHits = []refine.FalseHit{}
	}
	return refine.FailureSummary{
		Query:             r.query,
		Attempt:           attempt,
		ValidCount:        len(r.passing),
		TopReasons:        top,
		TopMissedKeywords: missed,
		FalseHitExamples:  falseHits,
		BestAttemptStats:  stats,
	}
}

func (r *round) logTop(logger *zap.Logger) {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	records := slices.Clone(r.records)
	slices.SortStableFunc(records, func(a, b record) int {
		return cmp.Compare(b.result.Score, a.result.Score)
	})
	for _, rec := range records[:min(len(records), 5)] {
		title := rec.item.Title()
		if runes := []rune(title); len(runes) > 80 {
			title = string(runes[:80])
		}
		logger.Debug("top item",
			zap.Float64("score", rec.result.Score),
			zap.Bool("passing", rec.result.IsPassing),
			zap.String("url", rec.item.URL()),
			zap.String("title", title))
	}
}

// counter counts keys and ranks them by count, ties in first-seen order.
type counter struct {
	counts map[string]int
	order  []string
}

type counted struct {
	key   string
	count int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) top(n int) []counted {
	out := make([]counted, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, counted{key: key, count: c.counts[key]})
	}
	slices.SortStableFunc(out, func(a, b counted) int {
		return cmp.Compare(b.count, a.count)
	})
	return out[:min(len(out), n)]
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func defaultPause() time.Duration {
	return PauseMin + rand.N(PauseMax-PauseMin)
}
