package serp

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/IshaanNene/RankWatch/internal/observability"
	"github.com/IshaanNene/RankWatch/internal/types"
	"github.com/IshaanNene/RankWatch/internal/urlnorm"
)

// Request describes one competitor lookup.
type Request struct {
	Keyword        string `json:"keyword"`
	OwnURL         string `json:"own_url"`
	MaxCompetitors int    `json:"max_competitors"`
	RetryCount     int    `json:"retry_count"`
	PreferFast     bool   `json:"prefer_fast"`
	Locale         string `json:"locale"`
}

// Resolver turns a keyword into a CompetitorResultSet.
type Resolver struct {
	fast      Searcher
	slow      Searcher
	cache     *Cache
	baseDelay time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

// WithCache injects a result cache.
func WithCache(c *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithBaseDelay sets the first retry backoff.
func WithBaseDelay(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.baseDelay = d }
}

// WithMetrics records search outcomes.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver. fast is the paid API provider and slow
// the browser-automation fallback; either may be nil.
func NewResolver(fast, slow Searcher, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fast:      fast,
		slow:      slow,
		baseDelay: 500 * time.Millisecond,
		logger:    logger.With("component", "competitor_resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategy returns the provider strategy for req.
func (r *Resolver) Strategy(req Request) *Strategy {
	order := []Searcher{r.slow, r.fast}
	if req.PreferFast {
		order = []Searcher{r.fast, r.slow}
	}
	s := NewStrategy(order, RetryPolicy{Retries: req.RetryCount, BaseDelay: r.baseDelay}, r.logger)
	s.onAttempt = func(a Attempt) {
		r.metrics.SearchObserved(a.Provider, attemptOutcome(a.Err))
	}
	return s
}

// Resolve never returns an error. When every provider fails the set has no
// competitors, a nil OwnPosition and Error describing the failures.
func (r *Resolver) Resolve(ctx context.Context, req Request) types.CompetitorResultSet {
	if req.MaxCompetitors <= 0 {
		req.MaxCompetitors = 10
	}
	q := Query{Keyword: req.Keyword, Locale: req.Locale, Count: req.MaxCompetitors}

	if results, provider, ok := r.cache.Get(q); ok {
		set := BuildResultSet(req.Keyword, req.OwnURL, results, req.MaxCompetitors)
		set.Provider = provider
		set.Cached = true
		return set
	}

	results, provider, err := r.Strategy(req).Search(ctx, q)
	if err != nil {
		r.logger.Warn("competitor resolution failed", "keyword", req.Keyword, "error", err)
		return types.CompetitorResultSet{
			Keyword:     req.Keyword,
			Competitors: []types.SearchResult{},
			Error:       err.Error(),
		}
	}
	r.cache.Add(q, results, provider)

	set := BuildResultSet(req.Keyword, req.OwnURL, results, req.MaxCompetitors)
	set.Provider = provider
	r.logger.Debug("competitors resolved",
		"keyword", req.Keyword,
		"provider", provider,
		"competitors", len(set.Competitors),
		"own_position", set.OwnPosition,
	)
	return set
}

// BuildResultSet orders results by rank, considers only the first
// maxCompetitors, records the own page's rank and removes it and any
// duplicates from the competitor list.
func BuildResultSet(keyword, ownURL string, results []types.SearchResult, maxCompetitors int) types.CompetitorResultSet {
	ranked := make([]types.SearchResult, len(results))
	copy(ranked, results)
	for i := range ranked {
		if ranked[i].Position <= 0 {
			ranked[i].Position = i + 1
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Position < ranked[j].Position })
	if maxCompetitors > 0 && len(ranked) > maxCompetitors {
		ranked = ranked[:maxCompetitors]
	}

	set := types.CompetitorResultSet{
		Keyword:     keyword,
		Competitors: make([]types.SearchResult, 0, len(ranked)),
	}
	seen := urlnorm.NewSet(len(ranked))
	for _, res := range ranked {
		if ownURL != "" && urlnorm.Same(res.URL, ownURL) {
			if set.OwnPosition == nil {
				pos := res.Position
				set.OwnPosition = &pos
			}
			continue
		}
		if !seen.Add(res.URL) {
			continue
		}
		set.Competitors = append(set.Competitors, res)
	}
	return set
}

// UniqueCompetitorURLs returns every competitor URL across sets with no two
// sharing a normalized form, in first-seen order.
func UniqueCompetitorURLs(sets []types.CompetitorResultSet) []string {
	seen := urlnorm.NewSet(len(sets) * 10)
	for _, set := range sets {
		for _, c := range set.Competitors {
			seen.Add(c.URL)
		}
	}
	return seen.URLs()
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isBlocked(err):
		return "blocked"
	case isRetryable(err):
		return "transient"
	default:
		return "error"
	}
}
