package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/diff"
	"github.com/IshaanNene/RankWatch/internal/fetcher"
	"github.com/IshaanNene/RankWatch/internal/gsc"
	"github.com/IshaanNene/RankWatch/internal/llm"
	"github.com/IshaanNene/RankWatch/internal/observability"
	"github.com/IshaanNene/RankWatch/internal/pipeline"
	"github.com/IshaanNene/RankWatch/internal/scraper"
	"github.com/IshaanNene/RankWatch/internal/serp"
	"github.com/IshaanNene/RankWatch/internal/storage"
)

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	scraper  *scraper.Scraper
	cache    *serp.Cache
	store    storage.ResultStore
	state    *pipeline.StateFile
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// newApp wires every collaborator from cfg. withStore opens the result
// store; commands that only produce intermediate state skip it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withStore bool) (*app, error) {
	a := &app{
		cfg:    cfg,
		state:  pipeline.NewStateFile(cfg.Pipeline.StateDir),
		logger: logger,
	}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(logger)
	}

	series := gsc.NewClient(&cfg.GSC, logger)

	var httpOpts []fetcher.HTTPOption
	if len(cfg.Fetcher.Proxies) > 0 {
		pool, err := fetcher.NewProxyPool(cfg.Fetcher.Proxies, cfg.Fetcher.ProxyRotation, cfg.Fetcher.ProxyCooldown, logger)
		if err != nil {
			return nil, fmt.Errorf("proxy pool: %w", err)
		}
		httpOpts = append(httpOpts, fetcher.WithProxyPool(pool))
	}
	httpFetcher := fetcher.NewHTTPFetcher(&cfg.Fetcher, logger, httpOpts...)

	// Interfaces stay nil, not typed-nil, when a backend is off.
	var browserFetcher fetcher.Fetcher
	if cfg.Browser.Enabled {
		bf, err := fetcher.NewBrowserFetcher(&cfg.Browser, logger)
		if err != nil {
			logger.Warn("browser unavailable, rendering disabled", "error", err)
		} else {
			browserFetcher = bf
		}
	}
	scrOpts := []scraper.Option{scraper.WithMetrics(a.metrics)}
	if cfg.Scraper.RespectRobots {
		scrOpts = append(scrOpts, scraper.WithRobots(scraper.NewRobots(httpFetcher, "RankWatch", cfg.Scraper.RobotsTTL, logger)))
	}
	a.scraper = scraper.NewScraper(httpFetcher, browserFetcher, &cfg.Scraper, logger, scrOpts...)

	var fast, slow serp.Searcher
	if cfg.Search.APIEndpoint != "" && cfg.Search.APIKey != "" {
		var apiOpts []serp.APIOption
		if l := perMinute(cfg.Search.RequestsPerMin); l != nil {
			apiOpts = append(apiOpts, serp.WithAPILimiter(l))
		}
		fast = serp.NewAPISearcher(cfg.Search.APIEndpoint, cfg.Search.APIKey, logger, apiOpts...)
	}
	if cfg.Search.EnableBrowser && browserFetcher != nil {
		slow = serp.NewBrowserSearcher(browserFetcher, cfg.Search.BrowserURL, perMinute(cfg.Search.RequestsPerMin), logger)
	}
	if fast == nil && slow == nil {
		logger.Warn("no search provider configured, competitor discovery will fail")
	}
	a.cache = serp.NewCache(cfg.Search.CacheSize, cfg.Search.CacheTTL)
	resolver := serp.NewResolver(fast, slow, logger,
		serp.WithCache(a.cache),
		serp.WithBaseDelay(cfg.Search.RetryDelay),
		serp.WithMetrics(a.metrics),
	)

	gen, err := llm.New(ctx, &cfg.AI, logger, a.metrics)
	if err != nil {
		a.scraper.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}
	semantic := diff.NewSemanticAnalyzer(gen, cfg.AI.MaxInputChars, logger, diff.WithSemanticMetrics(a.metrics))

	a.pipeline = pipeline.New(series, resolver, a.scraper, cfg, logger,
		pipeline.WithSemantic(semantic),
		pipeline.WithMetrics(a.metrics),
	)

	if withStore {
		store, err := storage.New(ctx, &cfg.Storage, logger, a.metrics)
		if err != nil {
			a.scraper.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.store = store
	}
	return a, nil
}

// options builds per-run pipeline options.
func (a *app) options(useBrowser bool) pipeline.Options {
	return pipeline.Options{
		Budget:       pipeline.NewBudget(a.cfg.Pipeline.Deadline, a.cfg.Pipeline.Reserve),
		UseBrowser:   useBrowser,
		SkipSemantic: a.cfg.Pipeline.SkipSemantic,
	}
}

// persist saves a final result to the state dir and the result store.
func (a *app) persist(ctx context.Context, res *pipeline.Result) error {
	path, err := a.state.Save(res.RunID, pipeline.KindResult, res)
	if err != nil {
		return err
	}
	a.logger.Info("result saved", "path", path)
	if a.store == nil {
		return nil
	}
	return a.store.Save(ctx, res)
}

func (a *app) Close() error {
	a.cache.Purge()
	var errs []error
	if err := a.scraper.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
}
