package serp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/RankWatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeSearcher returns errs in order, then results.
type fakeSearcher struct {
	name    string
	errs    []error
	results []types.SearchResult

	mu    sync.Mutex
	calls int
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(_ context.Context, _ Query) ([]types.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return f.results, nil
}

func transient() error {
	return &types.FetchError{URL: "x", StatusCode: 503, Err: errors.New("unavailable"), Retryable: true}
}

func blocked(provider string) error {
	return &types.ProviderBlockedError{Provider: provider, Signal: "recaptcha"}
}

func noSleep(s *Strategy) *Strategy {
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestStrategyRetriesTransient(t *testing.T) {
	api := &fakeSearcher{
		name:    "api",
		errs:    []error{transient(), transient()},
		results: []types.SearchResult{{URL: "https://y.com", Position: 1}},
	}
	s := noSleep(NewStrategy([]Searcher{api}, RetryPolicy{Retries: 2}, testLogger))

	results, provider, err := s.Search(context.Background(), Query{Keyword: "k"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if provider != "api" || len(results) != 1 {
		t.Errorf("provider=%q results=%d", provider, len(results))
	}
	if api.calls != 3 {
		t.Errorf("calls = %d, want 3", api.calls)
	}
}

func TestStrategySwitchesOnBlock(t *testing.T) {
	api := &fakeSearcher{name: "api", errs: []error{blocked("api")}}
	browser := &fakeSearcher{name: "browser", results: []types.SearchResult{{URL: "https://z.com"}}}
	s := noSleep(NewStrategy([]Searcher{api, browser}, RetryPolicy{Retries: 3}, testLogger))

	_, provider, err := s.Search(context.Background(), Query{Keyword: "k"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if provider != "browser" {
		t.Errorf("provider = %q, want browser", provider)
	}
	if api.calls != 1 {
		t.Errorf("blocked provider retried: calls = %d", api.calls)
	}
}

func TestStrategyExhausted(t *testing.T) {
	api := &fakeSearcher{name: "api", errs: []error{transient(), transient()}}
	browser := &fakeSearcher{name: "browser", errs: []error{blocked("browser")}}
	s := noSleep(NewStrategy([]Searcher{api, browser}, RetryPolicy{Retries: 1}, testLogger))

	_, _, err := s.Search(context.Background(), Query{Keyword: "k"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrBlocked) {
		t.Errorf("joined error should contain block: %v", err)
	}
	if api.calls != 2 || browser.calls != 1 {
		t.Errorf("calls api=%d browser=%d", api.calls, browser.calls)
	}
}

func TestStrategyNoProviders(t *testing.T) {
	var nilSearcher Searcher
	s := NewStrategy([]Searcher{nilSearcher}, RetryPolicy{}, testLogger)
	if _, _, err := s.Search(context.Background(), Query{}); !errors.Is(err, types.ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
	if got := p.backoff(2, transient()); got != 400*time.Millisecond {
		t.Errorf("backoff(2) = %v", got)
	}
	err := &types.FetchError{Retryable: true, RetryAfter: 3 * time.Second}
	if got := p.backoff(0, err); got != 3*time.Second {
		t.Errorf("retry-after backoff = %v", got)
	}
	if got := p.backoff(10, transient()); got != 5*time.Second {
		t.Errorf("capped backoff = %v", got)
	}
	for _, attempt := range []int{30, 40, 63, 64, 100} {
		if got := p.backoff(attempt, transient()); got != 5*time.Second {
			t.Errorf("backoff(%d) = %v, want cap", attempt, got)
		}
	}
}

func TestResolveOwnURLExcluded(t *testing.T) {
	api := &fakeSearcher{name: "api", results: []types.SearchResult{
		{URL: "https://x.com/a/", Position: 4},
		{URL: "https://y.com", Position: 1},
	}}
	r := NewResolver(api, nil, testLogger, WithBaseDelay(0))

	set := r.Resolve(context.Background(), Request{
		Keyword:        "k",
		OwnURL:         "https://x.com/a",
		MaxCompetitors: 10,
		PreferFast:     true,
	})
	if set.OwnPosition == nil || *set.OwnPosition != 4 {
		t.Fatalf("OwnPosition = %v, want 4", set.OwnPosition)
	}
	if len(set.Competitors) != 1 || set.Competitors[0].URL != "https://y.com" {
		t.Errorf("Competitors = %+v", set.Competitors)
	}
	if set.Provider != "api" || set.Error != "" {
		t.Errorf("Provider=%q Error=%q", set.Provider, set.Error)
	}
}

func TestResolveBothProvidersFail(t *testing.T) {
	api := &fakeSearcher{name: "api", errs: []error{blocked("api")}}
	browser := &fakeSearcher{name: "browser", errs: []error{errors.New("navigation failed")}}
	r := NewResolver(api, browser, testLogger, WithBaseDelay(0))

	set := r.Resolve(context.Background(), Request{Keyword: "k", OwnURL: "https://x.com", PreferFast: true})
	if set.Competitors == nil || len(set.Competitors) != 0 {
		t.Errorf("Competitors = %#v, want empty non-nil", set.Competitors)
	}
	if set.OwnPosition != nil {
		t.Errorf("OwnPosition = %v, want nil", *set.OwnPosition)
	}
	if set.Error == "" {
		t.Error("Error should describe the failures")
	}
}

func TestResolveProviderOrder(t *testing.T) {
	api := &fakeSearcher{name: "api", results: []types.SearchResult{{URL: "https://a.com"}}}
	browser := &fakeSearcher{name: "browser", results: []types.SearchResult{{URL: "https://b.com"}}}
	r := NewResolver(api, browser, testLogger)

	if got := r.Strategy(Request{PreferFast: false}).Providers(); got[0] != "browser" {
		t.Errorf("slow-first order = %v", got)
	}
	set := r.Resolve(context.Background(), Request{Keyword: "k", PreferFast: false})
	if set.Provider != "browser" {
		t.Errorf("Provider = %q", set.Provider)
	}
	if api.calls != 0 {
		t.Errorf("api called %d times", api.calls)
	}
}

func TestResolveUsesCache(t *testing.T) {
	api := &fakeSearcher{name: "api", results: []types.SearchResult{{URL: "https://y.com", Position: 1}}}
	r := NewResolver(api, nil, testLogger, WithCache(NewCache(8, time.Minute)))
	req := Request{Keyword: "Go Tutorial", PreferFast: true, Locale: "us-en"}

	first := r.Resolve(context.Background(), req)
	req.Keyword = "go tutorial"
	second := r.Resolve(context.Background(), req)

	if first.Cached || !second.Cached {
		t.Errorf("Cached first=%v second=%v", first.Cached, second.Cached)
	}
	if api.calls != 1 {
		t.Errorf("api calls = %d, want 1", api.calls)
	}
	if len(second.Competitors) != 1 {
		t.Errorf("cached competitors = %d", len(second.Competitors))
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	c := NewCache(0, time.Minute)
	if c != nil {
		t.Fatal("size 0 should disable the cache")
	}
	c.Add(Query{Keyword: "k"}, nil, "api")
	if _, _, ok := c.Get(Query{Keyword: "k"}); ok {
		t.Error("nil cache returned a hit")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Error("nil cache Len != 0")
	}
}

func TestBuildResultSet(t *testing.T) {
	results := []types.SearchResult{
		{URL: "https://c.com/p", Position: 3},
		{URL: "https://a.com/p", Position: 1},
		{URL: "https://www.a.com/p/", Position: 2},
		{URL: "https://own.com/post", Position: 5},
		{URL: "https://d.com", Position: 12},
	}
	set := BuildResultSet("k", "https://own.com/post/", results, 5)

	want := []string{"https://a.com/p", "https://c.com/p", "https://d.com"}
	if len(set.Competitors) != len(want) {
		t.Fatalf("Competitors = %+v", set.Competitors)
	}
	for i, w := range want {
		if set.Competitors[i].URL != w {
			t.Errorf("Competitors[%d] = %q, want %q", i, set.Competitors[i].URL, w)
		}
	}
	if set.OwnPosition == nil || *set.OwnPosition != 5 {
		t.Errorf("OwnPosition = %v", set.OwnPosition)
	}
}

func TestBuildResultSetOwnOutsideTop(t *testing.T) {
	results := []types.SearchResult{
		{URL: "https://a.com", Position: 1},
		{URL: "https://own.com", Position: 11},
	}
	set := BuildResultSet("k", "https://own.com", results, 10)
	if set.OwnPosition != nil {
		t.Errorf("OwnPosition = %d, want nil", *set.OwnPosition)
	}
}

func TestUniqueCompetitorURLs(t *testing.T) {
	sets := []types.CompetitorResultSet{
		{Competitors: []types.SearchResult{{URL: "https://a.com/x"}, {URL: "https://b.com"}}},
		{Competitors: []types.SearchResult{{URL: "https://www.a.com/x/"}, {URL: "https://c.com"}}},
		{Competitors: []types.SearchResult{}},
	}
	got := UniqueCompetitorURLs(sets)
	want := []string{"https://a.com/x", "https://b.com", "https://c.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseResultsHTML(t *testing.T) {
	page := `<html><body><div id="search">
		<div><a href="/url?q=https://one.com/a&amp;sa=U"><h3>One</h3></a></div>
		<div><a href="https://two.com/b"><h3>Two</h3></a></div>
		<div><a href="https://www.google.com/preferences"><h3>Settings</h3></a></div>
		<div><a href="https://two.com/b"><h3>Two again</h3></a></div>
		<div><a href="https://three.com"><h3>Three</h3></a></div>
	</div></body></html>`

	results, err := ParseResultsHTML([]byte(page), 10)
	if err != nil {
		t.Fatalf("ParseResultsHTML: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].URL != "https://one.com/a" || results[0].Title != "One" || results[0].Position != 1 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[2].URL != "https://three.com" || results[2].Position != 3 {
		t.Errorf("results[2] = %+v", results[2])
	}

	limited, _ := ParseResultsHTML([]byte(page), 2)
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d", len(limited))
	}
}

func TestParseResultsHTMLFallbackSelector(t *testing.T) {
	page := `<html><body>
		<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fduck.example%2Fpost">Duck</a>
	</body></html>`
	results, err := ParseResultsHTML([]byte(page), 10)
	if err != nil {
		t.Fatalf("ParseResultsHTML: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://duck.example/post" {
		t.Errorf("results = %+v", results)
	}
}

func TestAPISearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body apiRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.Q {
		case "blocked":
			w.WriteHeader(http.StatusForbidden)
		case "quota":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"Not enough credits"}`))
		case "throttled":
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			if body.GL != "us" || body.HL != "en" {
				t.Errorf("locale gl=%q hl=%q", body.GL, body.HL)
			}
			_, _ = w.Write([]byte(`{"organic":[
				{"title":"First","link":"https://a.com","position":1},
				{"title":"No link","link":""},
				{"title":"Second","link":"https://b.com","position":2}
			]}`))
		}
	}))
	defer srv.Close()

	a := NewAPISearcher(srv.URL, "secret", testLogger)
	ctx := context.Background()

	results, err := a.Search(ctx, Query{Keyword: "go", Locale: "us-en", Count: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[1].URL != "https://b.com" {
		t.Errorf("results = %+v", results)
	}

	if _, err := a.Search(ctx, Query{Keyword: "blocked"}); !isBlocked(err) {
		t.Errorf("403 should be a block, got %v", err)
	}
	if _, err := a.Search(ctx, Query{Keyword: "quota"}); !isBlocked(err) {
		t.Errorf("quota 429 should be a block, got %v", err)
	}
	_, err = a.Search(ctx, Query{Keyword: "throttled"})
	var fe *types.FetchError
	if !errors.As(err, &fe) || !fe.Retryable || fe.RetryAfter != 2*time.Second {
		t.Errorf("plain 429 should be retryable with Retry-After, got %v", err)
	}

	if _, err := NewAPISearcher(srv.URL, "", testLogger).Search(ctx, Query{Keyword: "go"}); err == nil || isRetryable(err) {
		t.Errorf("missing key should be a permanent error, got %v", err)
	}
}

func TestParseLocale(t *testing.T) {
	tests := []struct {
		in          string
		country, lg string
	}{
		{"us-en", "us", "en"},
		{"en-US", "us", "en"},
		{"gb_en", "gb", "en"},
		{"de", "us", "de"},
		{"", "us", "en"},
		{"ja-jp", "jp", "ja"},
		{"en-gb", "gb", "en"},
		{"pt_BR", "br", "pt"},
		{"in-en", "in", "en"},
	}
	for _, tt := range tests {
		c, l := ParseLocale(tt.in)
		if c != tt.country || l != tt.lg {
			t.Errorf("ParseLocale(%q) = %q, %q; want %q, %q", tt.in, c, l, tt.country, tt.lg)
		}
	}
}
