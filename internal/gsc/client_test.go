package gsc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig().GSC
	cfg.Endpoint = srv.URL
	cfg.AccessToken = "tok"
	cfg.RequestsPerMin = 0
	return NewClient(&cfg, testLogger)
}

func TestDailySeriesRequestShape(t *testing.T) {
	var got queryRequest
	var path, auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"rows":[
			{"keys":["2024-01-02"],"clicks":3,"impressions":40,"position":6.5},
			{"keys":["2024-01-01"],"clicks":1,"impressions":20,"position":5.5}
		]}`))
	})

	r, _ := NewRange("2024-01-01", "2024-01-07")
	points, err := c.DailySeries(context.Background(), "sc-domain:x.com", "https://x.com/a", r)
	if err != nil {
		t.Fatalf("DailySeries: %v", err)
	}

	if !strings.Contains(path, "/sites/sc-domain%3Ax.com/searchAnalytics/query") {
		t.Errorf("unexpected path %q", path)
	}
	if auth != "Bearer tok" {
		t.Errorf("auth header = %q", auth)
	}
	if got.StartDate != "2024-01-01" || got.EndDate != "2024-01-07" {
		t.Errorf("dates = %s..%s", got.StartDate, got.EndDate)
	}
	if len(got.Dimensions) != 1 || got.Dimensions[0] != "date" {
		t.Errorf("dimensions = %v", got.Dimensions)
	}
	if len(got.DimensionFilterGroups) != 1 || got.DimensionFilterGroups[0].Filters[0].Expression != "https://x.com/a" {
		t.Errorf("filters = %+v", got.DimensionFilterGroups)
	}

	if len(points) != 2 || points[0].Date != "2024-01-01" {
		t.Fatalf("points not sorted by date: %+v", points)
	}
	if points[1].Impressions != 40 || points[1].Position != 6.5 {
		t.Errorf("point = %+v", points[1])
	}
}

func TestKeywordMetricsSortedByImpressions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rows":[
			{"keys":["b"],"clicks":0,"impressions":10,"position":9},
			{"keys":["a"],"clicks":50,"impressions":1000,"position":3},
			{"keys":[""],"impressions":5,"position":1}
		]}`))
	})

	r, _ := NewRange("2024-01-01", "2024-01-07")
	metrics, err := c.KeywordMetrics(context.Background(), "x.com", "", r, 10)
	if err != nil {
		t.Fatalf("KeywordMetrics: %v", err)
	}
	if len(metrics) != 2 || metrics[0].Keyword != "a" || metrics[1].Keyword != "b" {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestUpstreamFailureIsDataUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusForbidden)
	})

	r, _ := NewRange("2024-01-01", "2024-01-07")
	_, err := c.DailySeries(context.Background(), "x.com", "/a", r)

	var du *types.DataUnavailableError
	if !errors.As(err, &du) {
		t.Fatalf("expected DataUnavailableError, got %v", err)
	}
	if du.Stage != "gsc.daily" || du.Site != "x.com" {
		t.Errorf("unexpected context: %+v", du)
	}
	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusForbidden {
		t.Errorf("expected wrapped 403 FetchError, got %v", err)
	}
}

func TestWindowNeverIncludesToday(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	w := Window(now, 2, 7)
	if w.EndDate() != "2024-03-08" || w.StartDate() != "2024-03-02" {
		t.Errorf("window = %s..%s", w.StartDate(), w.EndDate())
	}
	if w.Days() != 7 {
		t.Errorf("days = %d", w.Days())
	}

	w = Window(now, 0, 1)
	if w.EndDate() == "2024-03-10" {
		t.Error("window must never end today")
	}
}

func TestFillDays(t *testing.T) {
	r, _ := NewRange("2024-01-01", "2024-01-04")
	points := []types.TimeSeriesPoint{
		{Date: "2024-01-02", Position: 4, Impressions: 10},
		{Date: "2023-12-31", Position: 1, Impressions: 1},
	}
	filled := FillDays(points, r)
	if len(filled) != 4 {
		t.Fatalf("len = %d, want 4", len(filled))
	}
	if filled[1].Impressions != 10 || filled[0].Impressions != 0 || filled[3].Date != "2024-01-04" {
		t.Errorf("filled = %+v", filled)
	}
}
