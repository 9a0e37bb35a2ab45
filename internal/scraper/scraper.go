// Package scraper fetches single article pages and extracts their title,
// main text, headings and structural content signals.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/fetcher"
	"github.com/IshaanNene/RankWatch/internal/observability"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// Failure reasons carried by *types.ScrapeFailedError.
const (
	ReasonInvalidURL        = "invalid_url"
	ReasonNetwork           = "network"
	ReasonHTTPStatus        = "http_status"
	ReasonNotHTML           = "not_html"
	ReasonBlocked           = "blocked"
	ReasonEmptyContent      = "empty_content"
	ReasonRenderUnavailable = "render_unavailable"
	ReasonCanceled          = "canceled"
	ReasonRobots            = "robots_disallowed"
)

// Outcome is the settled result of one URL in ScrapeMany.
type Outcome struct {
	URL     string
	Article *types.ArticleContent
	Err     error
}

// Scraper extracts ArticleContent from pages.
type Scraper struct {
	http    fetcher.Fetcher
	browser fetcher.Fetcher

	concurrency  int
	minTextChars int

	robots  *Robots
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option configures the Scraper.
type Option func(*Scraper)

// WithMetrics records scrape outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scraper) { s.metrics = m }
}

// WithRobots skips pages their robots.txt disallows.
func WithRobots(r *Robots) Option {
	return func(s *Scraper) { s.robots = r }
}

// NewScraper creates a Scraper. browserFetcher may be nil, in which case
// rendered scrapes fail with ReasonRenderUnavailable.
func NewScraper(httpFetcher, browserFetcher fetcher.Fetcher, cfg *config.ScraperConfig, logger *slog.Logger, opts ...Option) *Scraper {
	s := &Scraper{
		http:         httpFetcher,
		browser:      browserFetcher,
		concurrency:  cfg.Concurrency,
		minTextChars: cfg.MinTextChars,
		logger:       logger.With("component", "scraper"),
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches rawURL and extracts its content. Every failure is a
// *types.ScrapeFailedError naming the URL.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, useBrowser bool) (article *types.ArticleContent, err error) {
	mode := types.ModeHTTP
	if useBrowser {
		mode = types.ModeBrowser
	}
	start := time.Now()
	defer func() {
		s.metrics.ScrapeObserved(mode, err)
		if err != nil {
			s.logger.Warn("scrape failed", "url", rawURL, "mode", mode, "error", err)
			return
		}
		s.logger.Debug("scraped article",
			"url", rawURL,
			"mode", mode,
			"words", article.WordCount,
			"duration", time.Since(start),
		)
	}()

	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonInvalidURL, Err: err}
	}
	req.Mode = mode

	if s.robots != nil && !s.robots.Allowed(ctx, rawURL) {
		return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonRobots, Err: fmt.Errorf("disallowed by robots.txt")}
	}

	f := s.http
	if useBrowser {
		if s.browser == nil {
			return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonRenderUnavailable, Err: types.ErrRenderUnavailable}
		}
		f = s.browser
	}

	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, &types.ScrapeFailedError{URL: rawURL, Reason: fetchReason(ctx, err), Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &types.ScrapeFailedError{
			URL:    rawURL,
			Reason: ReasonHTTPStatus,
			Err:    &types.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)},
		}
	}
	if !resp.IsHTML() {
		return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonNotHTML, Err: fmt.Errorf("content type %q", resp.ContentType)}
	}

	article, err = Extract(rawURL, resp.Body, s.minTextChars)
	if err != nil {
		return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonEmptyContent, Err: err}
	}

	// Bot walls are short; only then are their phrases trusted.
	if len(article.MainText) < s.minTextChars {
		if kind, blocked := fetcher.DetectBlocked(string(resp.Body)); blocked {
			return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonBlocked, Err: fmt.Errorf("%w: %s", types.ErrBlocked, kind)}
		}
	}
	if article.MainText == "" {
		return nil, &types.ScrapeFailedError{URL: rawURL, Reason: ReasonEmptyContent, Err: types.ErrEmptyContent}
	}

	if resp.FinalURL != rawURL {
		article.FinalURL = resp.FinalURL
	}
	article.Rendered = resp.Rendered
	article.FetchedAt = resp.FetchedAt
	return article, nil
}

// ScrapeMany scrapes urls concurrently and settles every one: a failure
// never cancels its siblings. Outcomes are returned in input order.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string, useBrowser bool) []Outcome {
	outcomes := make([]Outcome, len(urls))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{URL: u, Err: &types.ScrapeFailedError{URL: u, Reason: ReasonCanceled, Err: err}}
				return nil
			}
			article, err := s.Scrape(ctx, u, useBrowser)
			outcomes[i] = Outcome{URL: u, Article: article, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Close releases the underlying fetchers, including any browser process.
func (s *Scraper) Close() error {
	var errs []error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.http != nil {
		if err := s.http.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close http: %w", err))
		}
	}
	return errors.Join(errs...)
}

func fetchReason(ctx context.Context, err error) string {
	var fe *types.FetchError
	switch {
	case errors.As(err, &fe) && fe.StatusCode != 0:
		return ReasonHTTPStatus
	case errors.Is(err, fetcher.ErrBrowserClosed):
		return ReasonRenderUnavailable
	case ctx.Err() != nil:
		return ReasonCanceled
	default:
		return ReasonNetwork
	}
}
