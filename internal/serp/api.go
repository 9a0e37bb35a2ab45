package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/RankWatch/internal/fetcher"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// APISearcher queries a Serper-style JSON search API.
type APISearcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// APIOption configures the APISearcher.
type APIOption func(*APISearcher)

// WithAPIHTTPClient overrides the HTTP client.
func WithAPIHTTPClient(c *http.Client) APIOption {
	return func(a *APISearcher) { a.client = c }
}

// WithAPILimiter sets a process-wide limiter for API calls.
func WithAPILimiter(l *rate.Limiter) APIOption {
	return func(a *APISearcher) { a.limiter = l }
}

// NewAPISearcher creates an API-backed searcher.
func NewAPISearcher(endpoint, apiKey string, logger *slog.Logger, opts ...APIOption) *APISearcher {
	a := &APISearcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With("component", "serp_api"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Searcher.
func (a *APISearcher) Name() string { return "api" }

type apiRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
	Num int    `json:"num,omitempty"`
}

type apiResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// Search implements Searcher.
func (a *APISearcher) Search(ctx context.Context, q Query) ([]types.SearchResult, error) {
	if a.apiKey == "" {
		return nil, &types.FetchError{URL: a.endpoint, Err: errors.New("search API key not configured")}
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, &types.FetchError{URL: a.endpoint, Err: err}
		}
	}

	gl, hl := ParseLocale(q.Locale)
	payload, err := json.Marshal(apiRequest{Q: q.Keyword, GL: gl, HL: hl, Num: q.Count})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &types.FetchError{URL: a.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: a.endpoint, Err: err, Retryable: fetcher.IsRetryableError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, a.statusError(q.Keyword, resp, string(snippet))
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]types.SearchResult, 0, len(out.Organic))
	for i, o := range out.Organic {
		if o.Link == "" {
			continue
		}
		pos := o.Position
		if pos <= 0 {
			pos = i + 1
		}
		results = append(results, types.SearchResult{URL: o.Link, Title: strings.TrimSpace(o.Title), Position: pos})
	}

	a.logger.Debug("search complete", "keyword", q.Keyword, "results", len(results))
	return results, nil
}

// statusError maps a non-200 response. Quota exhaustion and CAPTCHA
// responses are blocks; plain throttling and 5xx are transient.
func (a *APISearcher) statusError(keyword string, resp *http.Response, body string) error {
	lower := strings.ToLower(body)
	quota := strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "credits") ||
		strings.Contains(lower, "not enough")

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return &types.ProviderBlockedError{Provider: a.Name(), Keyword: keyword, Signal: "HTTP 403"}
	case resp.StatusCode == http.StatusTooManyRequests && quota:
		return &types.ProviderBlockedError{Provider: a.Name(), Keyword: keyword, Signal: "quota exhausted"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &types.FetchError{
			URL:        a.endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.New("rate limited"),
			Retryable:  true,
			RetryAfter: fetcher.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &types.FetchError{
			URL:        a.endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(body)),
			Retryable:  true,
		}
	default:
		return &types.FetchError{
			URL:        a.endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(body)),
		}
	}
}
