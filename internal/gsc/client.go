// Package gsc fetches page and keyword performance series from a
// Search Console compatible searchAnalytics/query endpoint.
package gsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// Provider supplies rank series data for a site and page.
type Provider interface {
	// DailySeries returns one point per day with data, ordered by date.
	DailySeries(ctx context.Context, site, page string, r Range) ([]types.TimeSeriesPoint, error)

	// KeywordMetrics returns per-query aggregates for the page, ordered
	// by impressions descending.
	KeywordMetrics(ctx context.Context, site, page string, r Range, limit int) ([]types.KeywordMetric, error)

	// KeywordSeries returns one keyword's daily series for the page.
	KeywordSeries(ctx context.Context, site, page, keyword string, r Range) ([]types.TimeSeriesPoint, error)
}

// Client implements Provider over HTTP.
type Client struct {
	endpoint string
	token    string
	rowLimit int
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithLimiter sets the limiter shared by all queries from this client.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a search console client.
func NewClient(cfg *config.GSCConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.AccessToken,
		rowLimit: cfg.RowLimit,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger.With("component", "gsc_client"),
	}
	if cfg.RequestsPerMin > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), 5)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queryRequest struct {
	StartDate             string        `json:"startDate"`
	EndDate               string        `json:"endDate"`
	Dimensions            []string      `json:"dimensions"`
	DimensionFilterGroups []filterGroup `json:"dimensionFilterGroups,omitempty"`
	RowLimit              int           `json:"rowLimit,omitempty"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type queryResponse struct {
	Rows []row `json:"rows"`
}

type row struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// DailySeries implements Provider.
func (c *Client) DailySeries(ctx context.Context, site, page string, r Range) ([]types.TimeSeriesPoint, error) {
	rows, err := c.query(ctx, site, r, []string{"date"}, pageFilters(page), c.rowLimitFor(r))
	if err != nil {
		return nil, &types.DataUnavailableError{Stage: "gsc.daily", Site: site, Page: page, Err: err}
	}
	return toSeries(rows), nil
}

// KeywordMetrics implements Provider.
func (c *Client) KeywordMetrics(ctx context.Context, site, page string, r Range, limit int) ([]types.KeywordMetric, error) {
	if limit <= 0 {
		limit = c.rowLimit
	}
	rows, err := c.query(ctx, site, r, []string{"query"}, pageFilters(page), limit)
	if err != nil {
		return nil, &types.DataUnavailableError{Stage: "gsc.keywords", Site: site, Page: page, Err: err}
	}

	metrics := make([]types.KeywordMetric, 0, len(rows))
	for _, rw := range rows {
		if len(rw.Keys) == 0 || rw.Keys[0] == "" {
			continue
		}
		metrics = append(metrics, types.KeywordMetric{
			Keyword:     rw.Keys[0],
			Position:    rw.Position,
			Impressions: int64(rw.Impressions),
			Clicks:      int64(rw.Clicks),
		})
	}
	sort.SliceStable(metrics, func(i, j int) bool {
		return metrics[i].Impressions > metrics[j].Impressions
	})
	return metrics, nil
}

// KeywordSeries implements Provider.
func (c *Client) KeywordSeries(ctx context.Context, site, page, keyword string, r Range) ([]types.TimeSeriesPoint, error) {
	filters := append(pageFilters(page), filter{Dimension: "query", Operator: "equals", Expression: keyword})
	rows, err := c.query(ctx, site, r, []string{"date"}, filters, c.rowLimitFor(r))
	if err != nil {
		return nil, &types.DataUnavailableError{Stage: "gsc.keyword_series", Site: site, Page: page, Err: err}
	}
	return toSeries(rows), nil
}

func (c *Client) rowLimitFor(r Range) int {
	days := r.Days()
	if days > c.rowLimit {
		return days
	}
	return c.rowLimit
}

func (c *Client) query(ctx context.Context, site string, r Range, dims []string, filters []filter, limit int) ([]row, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body := queryRequest{
		StartDate:  r.StartDate(),
		EndDate:    r.EndDate(),
		Dimensions: dims,
		RowLimit:   limit,
	}
	if len(filters) > 0 {
		body.DimensionFilterGroups = []filterGroup{{Filters: filters}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.endpoint, url.QueryEscape(site))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: endpoint, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &types.FetchError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	c.logger.Debug("query complete",
		"site", site,
		"dimensions", dims,
		"rows", len(out.Rows),
		"duration", time.Since(start),
	)
	return out.Rows, nil
}

func pageFilters(page string) []filter {
	if page == "" {
		return nil
	}
	return []filter{{Dimension: "page", Operator: "equals", Expression: page}}
}

func toSeries(rows []row) []types.TimeSeriesPoint {
	points := make([]types.TimeSeriesPoint, 0, len(rows))
	for _, rw := range rows {
		if len(rw.Keys) == 0 {
			continue
		}
		if _, err := time.Parse(types.DateLayout, rw.Keys[0]); err != nil {
			continue
		}
		points = append(points, types.TimeSeriesPoint{
			Date:        rw.Keys[0],
			Position:    rw.Position,
			Impressions: int64(rw.Impressions),
			Clicks:      int64(rw.Clicks),
		})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}
