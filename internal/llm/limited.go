package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/RankWatch/internal/observability"
)

const defaultRetryDelay = 2 * time.Second

// Limited wraps a Generator with a shared rate limiter, a per-call timeout
// and retry on HTTP 429.
type Limited struct {
	next       Generator
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// LimitedOption configures Limited.
type LimitedOption func(*Limited)

// WithLimiter sets the process-wide request limiter.
func WithLimiter(l *rate.Limiter) LimitedOption {
	return func(g *Limited) { g.limiter = l }
}

// WithTimeout bounds each generation.
func WithTimeout(d time.Duration) LimitedOption {
	return func(g *Limited) { g.timeout = d }
}

// WithRetries sets how many times a throttled call is retried and the
// first backoff, which doubles each time.
func WithRetries(n int, baseDelay time.Duration) LimitedOption {
	return func(g *Limited) {
		g.maxRetries = n
		g.baseDelay = baseDelay
	}
}

// WithMetrics records generation outcomes.
func WithMetrics(m *observability.Metrics) LimitedOption {
	return func(g *Limited) { g.metrics = m }
}

// NewLimited wraps next.
func NewLimited(next Generator, logger *slog.Logger, opts ...LimitedOption) *Limited {
	g := &Limited{
		next:      next,
		baseDelay: defaultRetryDelay,
		logger:    logger.With("component", "llm_limiter"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Generator.
func (g *Limited) Name() string { return g.next.Name() }

// Generate implements Generator.
func (g *Limited) Generate(ctx context.Context, p Prompt) (out string, err error) {
	defer func() { g.metrics.LLMObserved(g.next.Name(), err) }()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		out, err = g.next.Generate(ctx, p)
		if err == nil || !IsRateLimited(err) || attempt >= g.maxRetries {
			return out, err
		}

		delay := g.baseDelay << attempt
		g.logger.Debug("llm throttled, retrying", "provider", g.next.Name(), "attempt", attempt+1, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

// IsRateLimited reports whether err is an HTTP 429 from the provider.
// Errors from SDK backends are matched on their text.
func IsRateLimited(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
