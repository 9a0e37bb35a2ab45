package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// RetryPolicy controls how often a single provider is retried.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first, per provider.
	Retries int

	// BaseDelay is the first backoff; it doubles on every retry.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff. Zero means 10s.
	MaxDelay time.Duration
}

func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	d := maxDelay
	if attempt >= 0 && attempt < 63 && p.BaseDelay <= maxDelay>>attempt {
		d = p.BaseDelay << attempt
	}
	var fe *types.FetchError
	if errors.As(err, &fe) && fe.RetryAfter > d {
		d = fe.RetryAfter
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Attempt records one provider call.
type Attempt struct {
	Provider string
	Err      error
}

// Strategy tries providers in order. A provider is retried on transient
// failure with exponential backoff; a block signal or a permanent error
// moves on to the next provider at once.
type Strategy struct {
	providers []Searcher
	policy    RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
	onAttempt func(Attempt)
	logger    *slog.Logger
}

// NewStrategy creates a Strategy over providers in priority order. Nil
// providers are skipped.
func NewStrategy(providers []Searcher, policy RetryPolicy, logger *slog.Logger) *Strategy {
	var ps []Searcher
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Strategy{
		providers: ps,
		policy:    policy,
		sleep:     sleepCtx,
		logger:    logger,
	}
}

// Providers returns the provider names in the order they are tried.
func (s *Strategy) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// Search returns the first successful result and the provider that
// produced it. When every provider fails the returned error joins all of
// their final errors.
func (s *Strategy) Search(ctx context.Context, q Query) ([]types.SearchResult, string, error) {
	if len(s.providers) == 0 {
		return nil, "", types.ErrNoProviders
	}

	var errs []error
	for _, p := range s.providers {
		results, err := s.tryProvider(ctx, p, q)
		if err == nil {
			return results, p.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", errors.Join(errs...)
}

func (s *Strategy) tryProvider(ctx context.Context, p Searcher, q Query) ([]types.SearchResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.policy.Retries; attempt++ {
		results, err := p.Search(ctx, q)
		if s.onAttempt != nil {
			s.onAttempt(Attempt{Provider: p.Name(), Err: err})
		}
		if err == nil {
			return results, nil
		}
		lastErr = err

		if isBlocked(err) {
			s.logger.Warn("search provider blocked, switching", "provider", p.Name(), "keyword", q.Keyword, "error", err)
			return nil, err
		}
		if !isRetryable(err) || attempt == s.policy.Retries {
			break
		}

		delay := s.policy.backoff(attempt, err)
		s.logger.Debug("retrying search provider",
			"provider", p.Name(),
			"keyword", q.Keyword,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	s.logger.Warn("search provider failed", "provider", p.Name(), "keyword", q.Keyword, "error", lastErr)
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
