package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// ErrBrowserClosed is returned by Fetch after Close.
var ErrBrowserClosed = errors.New("browser fetcher closed")

// BrowserFetcher implements Fetcher using a headless browser via Rod.
// Pages are pooled; every page taken for a fetch is returned to the pool or
// closed before Fetch returns.
type BrowserFetcher struct {
	browser  *rod.Browser
	cfg      *config.BrowserConfig
	logger   *slog.Logger
	mu       sync.Mutex
	closed   bool
	pagePool chan *rod.Page
	sem      chan struct{}
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithMaxPages sets the maximum number of concurrent browser pages.
func WithMaxPages(n int) BrowserOption {
	return func(bf *BrowserFetcher) {
		if n > 0 {
			bf.sem = make(chan struct{}, n)
			bf.pagePool = make(chan *rod.Page, n)
		}
	}
}

// NewBrowserFetcher launches (or connects to) a headless browser.
func NewBrowserFetcher(cfg *config.BrowserConfig, logger *slog.Logger, opts ...BrowserOption) (*BrowserFetcher, error) {
	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}
	bf := &BrowserFetcher{
		cfg:      cfg,
		logger:   logger.With("component", "browser_fetcher"),
		pagePool: make(chan *rod.Page, maxPages),
		sem:      make(chan struct{}, maxPages),
	}
	for _, opt := range opts {
		opt(bf)
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		u, err := bf.launchBrowser()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bf.browser = browser

	bf.logger.Info("browser fetcher ready",
		"max_pages", cap(bf.sem),
		"stealth", cfg.Stealth,
		"remote", cfg.ControlURL != "",
	)
	return bf, nil
}

// launchBrowser starts a Chromium instance with appropriate flags.
func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if bf.cfg.UserDataDir != "" {
		l = l.UserDataDir(bf.cfg.UserDataDir)
	}
	if bf.cfg.WindowSize != "" {
		l = l.Set("window-size", bf.cfg.WindowSize)
	}
	return l.Launch()
}

// Fetch navigates to a URL and returns the rendered page content.
func (bf *BrowserFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	start := time.Now()

	select {
	case bf.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &types.FetchError{URL: req.URLString(), Err: ctx.Err()}
	}
	defer func() { <-bf.sem }()

	page, err := bf.getPage()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: !errors.Is(err, ErrBrowserClosed)}
	}
	healthy := false
	defer func() { bf.putPage(page, healthy) }()

	if ua := req.Headers.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bf.logger.Warn("failed to set user agent", "error", err)
		}
	}

	timeout := bf.cfg.NavTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	p := page.Context(ctx).Timeout(timeout)

	if err := p.Navigate(req.URLString()); err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: ctx.Err() == nil}
	}
	if err := p.WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Warn("page stability timeout, continuing", "url", req.URLString(), "error", err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	finalURL := req.URLString()
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}
	healthy = true

	// Rod doesn't expose the document status code without network hooks.
	resp := types.NewBrowserResponse(req, 200, []byte(html), finalURL, time.Since(start))

	bf.logger.Debug("browser fetch complete",
		"url", req.URLString(),
		"final_url", finalURL,
		"size", len(html),
		"duration", resp.FetchDuration,
	)
	return resp, nil
}

// Close shuts down the browser and releases every pooled page.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	if bf.closed {
		bf.mu.Unlock()
		return nil
	}
	bf.closed = true
	close(bf.pagePool)
	bf.mu.Unlock()

	for page := range bf.pagePool {
		_ = page.Close()
	}
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return types.ModeBrowser
}

// getPage retrieves a page from the pool or creates a new one.
func (bf *BrowserFetcher) getPage() (*rod.Page, error) {
	bf.mu.Lock()
	closed := bf.closed
	bf.mu.Unlock()
	if closed {
		return nil, ErrBrowserClosed
	}

	select {
	case page, ok := <-bf.pagePool:
		if ok {
			return page, nil
		}
		return nil, ErrBrowserClosed
	default:
	}

	if bf.cfg.Stealth {
		page, err := stealth.Page(bf.browser)
		if err != nil {
			return nil, fmt.Errorf("stealth page: %w", err)
		}
		return page, nil
	}
	return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// putPage returns a healthy page to the pool; broken pages are closed.
func (bf *BrowserFetcher) putPage(page *rod.Page, healthy bool) {
	if !healthy {
		_ = page.Close()
		return
	}
	// Navigate to blank to free memory from the last page.
	_ = page.Navigate("about:blank")

	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.closed {
		_ = page.Close()
		return
	}
	select {
	case bf.pagePool <- page:
	default:
		_ = page.Close()
	}
}
