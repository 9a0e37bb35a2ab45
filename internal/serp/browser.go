package serp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/IshaanNene/RankWatch/internal/fetcher"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// BrowserSearcher renders a search engine results page in a headless
// browser and parses the organic results from the DOM.
type BrowserSearcher struct {
	fetcher fetcher.Fetcher
	baseURL string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBrowserSearcher creates a browser-automation searcher. f is normally a
// *fetcher.BrowserFetcher shared with the article scraper.
func NewBrowserSearcher(f fetcher.Fetcher, baseURL string, limiter *rate.Limiter, logger *slog.Logger) *BrowserSearcher {
	return &BrowserSearcher{
		fetcher: f,
		baseURL: baseURL,
		limiter: limiter,
		logger:  logger.With("component", "serp_browser"),
	}
}

// Name implements Searcher.
func (b *BrowserSearcher) Name() string { return "browser" }

// Search implements Searcher.
func (b *BrowserSearcher) Search(ctx context.Context, q Query) ([]types.SearchResult, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, &types.FetchError{URL: b.baseURL, Err: err}
		}
	}

	target, err := b.searchURL(q)
	if err != nil {
		return nil, &types.FetchError{URL: b.baseURL, Err: err}
	}
	req, err := types.NewRequest(target)
	if err != nil {
		return nil, &types.FetchError{URL: target, Err: err}
	}
	req.Mode = types.ModeBrowser

	resp, err := b.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	html := string(resp.Body)
	if kind, blocked := fetcher.DetectBlocked(html); blocked {
		return nil, &types.ProviderBlockedError{Provider: b.Name(), Keyword: q.Keyword, Signal: string(kind)}
	}
	if !resp.IsSuccess() {
		return nil, &types.FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	results, err := ParseResultsHTML(resp.Body, q.Count)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	b.logger.Debug("search complete", "keyword", q.Keyword, "results", len(results))
	return results, nil
}

func (b *BrowserSearcher) searchURL(q Query) (string, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return "", err
	}
	gl, hl := ParseLocale(q.Locale)
	params := u.Query()
	params.Set("q", q.Keyword)
	params.Set("hl", hl)
	params.Set("gl", gl)
	if q.Count > 0 {
		params.Set("num", strconv.Itoa(q.Count))
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// resultSelectors are tried in order; the first that yields results wins.
var resultSelectors = []string{
	"#search a:has(h3)",
	"#rso a:has(h3)",
	"a.result__a",
	"li.b_algo h2 a",
	"a:has(h3)",
}

// ParseResultsHTML extracts organic results from a results page. Positions
// are assigned in document order starting at 1.
func ParseResultsHTML(body []byte, limit int) ([]types.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for _, sel := range resultSelectors {
		var results []types.SearchResult
		seen := make(map[string]bool)
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			link := cleanResultLink(href)
			if link == "" || seen[link] {
				return true
			}
			title := strings.TrimSpace(s.Find("h3").First().Text())
			if title == "" {
				title = strings.TrimSpace(s.Text())
			}
			seen[link] = true
			results = append(results, types.SearchResult{
				URL:      link,
				Title:    title,
				Position: len(results) + 1,
			})
			return limit <= 0 || len(results) < limit
		})
		if len(results) > 0 {
			return results, nil
		}
	}
	return []types.SearchResult{}, nil
}

// cleanResultLink unwraps redirect links ("/url?q=...", "//duckduckgo.com/l/?uddg=...")
// and drops links that point back into the search engine.
func cleanResultLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	switch {
	case u.Path == "/url" && u.Query().Get("q") != "":
		return cleanResultLink(u.Query().Get("q"))
	case u.Query().Get("uddg") != "":
		return cleanResultLink(u.Query().Get("uddg"))
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasPrefix(host, "www.google.") || strings.HasPrefix(host, "google.") ||
		host == "webcache.googleusercontent.com" ||
		strings.HasSuffix(host, "duckduckgo.com") || strings.HasSuffix(host, "bing.com") {
		return ""
	}
	return u.String()
}
