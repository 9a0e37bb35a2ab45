package api

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
	"github.com/IshaanNene/RankWatch/internal/pipeline"
	"github.com/IshaanNene/RankWatch/internal/rankdrop"
	"github.com/IshaanNene/RankWatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeAnalyzer struct {
	err      error
	gotInput pipeline.Step1Input
	gotOpts  pipeline.Options
}

func (f *fakeAnalyzer) DefaultInput(site, pageURL string) pipeline.Step1Input {
	return pipeline.Step1Input{
		SchemaVersion: pipeline.SchemaVersion,
		Site:          site,
		PageURL:       pageURL,
		MaxKeywords:   3,
		DetectDrop:    true,
		Detection:     rankdrop.Options{ComparisonDays: 7, DropThreshold: 2, KeywordDropThreshold: 10, KeywordLimit: 100},
	}
}

func (f *fakeAnalyzer) DetectDrop(_ context.Context, _, _ string, opts rankdrop.Options) (*types.RankDropResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.RankDropResult{HasDrop: true, DropAmount: 2.5}, nil
}

func (f *fakeAnalyzer) Step1(_ context.Context, in pipeline.Step1Input, opts pipeline.Options) (*pipeline.Step1Output, error) {
	f.gotInput, f.gotOpts = in, opts
	if f.err != nil {
		return nil, f.err
	}
	return step1Output(), nil
}

func (f *fakeAnalyzer) Step2(_ context.Context, s1 *pipeline.Step1Output, _ pipeline.Options) (*pipeline.Step2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Step2Output{
		Kind:                 pipeline.KindStep2,
		SchemaVersion:        pipeline.SchemaVersion,
		RunID:                s1.RunID,
		PageURL:              s1.PageURL,
		Keywords:             s1.Keywords,
		CompetitorResults:    []types.CompetitorResultSet{{Keyword: "go testing"}},
		UniqueCompetitorURLs: []string{},
	}, nil
}

func (f *fakeAnalyzer) Step3(_ context.Context, s2 *pipeline.Step2Output, _ pipeline.Options) (*pipeline.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return result(s2.RunID), nil
}

func (f *fakeAnalyzer) Run(_ context.Context, in pipeline.Step1Input, opts pipeline.Options) (*pipeline.Result, error) {
	f.gotInput, f.gotOpts = in, opts
	if f.err != nil {
		return nil, f.err
	}
	return result("run-1"), nil
}

func (f *fakeAnalyzer) Trial(_ context.Context, ownURL, otherURL string) (*pipeline.TrialResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.TrialResult{OwnURL: ownURL, OtherURL: otherURL, OtherMissing: "timeout"}, nil
}

func step1Output() *pipeline.Step1Output {
	return &pipeline.Step1Output{
		Kind:          pipeline.KindStep1,
		SchemaVersion: pipeline.SchemaVersion,
		RunID:         "run-1",
		Site:          "sc-domain:example.com",
		PageURL:       "https://example.com/post",
		Keywords:      []types.PrioritizedKeyword{{Keyword: "go testing"}},
	}
}

func result(runID string) *pipeline.Result {
	return &pipeline.Result{
		Kind:          pipeline.KindResult,
		SchemaVersion: pipeline.SchemaVersion,
		RunID:         runID,
		PageURL:       "https://example.com/post",
		Completeness:  1,
	}
}

type memStore struct {
	saved []string
	err   error
}

func (m *memStore) Save(_ context.Context, res *pipeline.Result) error {
	m.saved = append(m.saved, res.RunID)
	return m.err
}
func (m *memStore) Close() error { return nil }
func (m *memStore) Name() string { return "mem" }

func newTestServer(t *testing.T, a Analyzer, opts ...ServerOption) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	srv := httptest.NewServer(NewServer(a, cfg, testLogger, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{})
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStep1AppliesDefaults(t *testing.T) {
	a := &fakeAnalyzer{}
	srv := newTestServer(t, a)

	resp, out := post(t, srv, "/api/steps/1?skip_semantic=true",
		`{"site":"sc-domain:example.com","page_url":"https://example.com/post","selected_keywords":["go"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, out)
	}
	if out["kind"] != pipeline.KindStep1 {
		t.Errorf("kind = %v", out["kind"])
	}
	if a.gotInput.MaxKeywords != 3 || a.gotInput.Detection.ComparisonDays != 7 {
		t.Errorf("defaults not applied: %+v", a.gotInput)
	}
	if len(a.gotInput.SelectedKeywords) != 1 {
		t.Errorf("selected = %v", a.gotInput.SelectedKeywords)
	}
	if !a.gotOpts.SkipSemantic {
		t.Error("skip_semantic query should be honored")
	}
}

func TestStepChain(t *testing.T) {
	store := &memStore{}
	srv := newTestServer(t, &fakeAnalyzer{}, WithStore(store))

	s1, _ := json.Marshal(step1Output())
	resp, out := post(t, srv, "/api/steps/2", string(s1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("step2 status = %d, body = %v", resp.StatusCode, out)
	}

	s2, _ := json.Marshal(out)
	resp, out = post(t, srv, "/api/steps/3", string(s2))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("step3 status = %d, body = %v", resp.StatusCode, out)
	}
	if out["kind"] != pipeline.KindResult {
		t.Errorf("kind = %v", out["kind"])
	}
	if len(store.saved) != 1 || store.saved[0] != "run-1" {
		t.Errorf("saved = %v", store.saved)
	}
}

func TestRunStoresDespiteStoreFailure(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	srv := newTestServer(t, &fakeAnalyzer{}, WithStore(store))

	resp, out := post(t, srv, "/api/run", `{"site":"s","page_url":"https://example.com/post"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, out)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved = %v", store.saved)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"timeout", &types.TimeoutError{Stage: "step3.scrape", RetryFrom: pipeline.StepThree}, http.StatusGatewayTimeout, "timeout"},
		{"no data", &types.DataUnavailableError{Stage: "step1.keywords", Err: types.ErrNoKeywords}, http.StatusUnprocessableEntity, "data_unavailable"},
		{"search", &types.SearchUnavailableError{Keywords: []string{"a"}, Errs: []error{types.ErrNoProviders}}, http.StatusBadGateway, "search_unavailable"},
		{"scrape", &types.ScrapeFailedError{URL: "https://example.com", Reason: "http_status"}, http.StatusBadGateway, "scrape_failed"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeAnalyzer{err: tt.err})
			resp, out := post(t, srv, "/api/steps/1", `{"site":"s","page_url":"https://example.com/post"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if out["type"] != tt.wantType {
				t.Errorf("type = %v, want %s", out["type"], tt.wantType)
			}
		})
	}
}

func TestTimeoutCarriesRetryFrom(t *testing.T) {
	err := &types.TimeoutError{Stage: "step3.semantic", RetryFrom: pipeline.StepThree, Remaining: -time.Second}
	srv := newTestServer(t, &fakeAnalyzer{err: err})

	_, out := post(t, srv, "/api/run", `{"site":"s","page_url":"https://example.com/post"}`)
	if out["retry_from"] != pipeline.StepThree || out["stage"] != "step3.semantic" {
		t.Errorf("body = %v", out)
	}
}

func TestSchemaErrors(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{})

	tests := []struct {
		name, path, body string
	}{
		{"missing site", "/api/steps/1", `{"page_url":"https://example.com/post"}`},
		{"relative url", "/api/run", `{"site":"s","page_url":"/post"}`},
		{"unknown field", "/api/steps/1", `{"site":"s","page_url":"https://example.com/post","bogus":1}`},
		{"step2 wrong kind", "/api/steps/2", `{"kind":"step2","schema_version":1}`},
		{"step3 bad version", "/api/steps/3", `{"kind":"step2","schema_version":9}`},
		{"step3 malformed", "/api/steps/3", `{"kind":`},
		{"trial missing url", "/api/trial", `{}`},
		{"detect missing page", "/api/detect", `{"site":"s"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := post(t, srv, tt.path, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %v)", resp.StatusCode, out)
			}
		})
	}
}

func TestTrialAndDetect(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{})

	resp, out := post(t, srv, "/api/trial", `{"url":"https://example.com/a","other_url":"https://other.com/b"}`)
	if resp.StatusCode != http.StatusOK || out["other_missing"] != "timeout" {
		t.Errorf("trial: status %d body %v", resp.StatusCode, out)
	}

	resp, out = post(t, srv, "/api/detect", `{"site":"s","page_url":"https://example.com/a"}`)
	if resp.StatusCode != http.StatusOK || out["has_drop"] != true {
		t.Errorf("detect: status %d body %v", resp.StatusCode, out)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := newTestServer(t, &fakeAnalyzer{}, WithMetricsHandler(h))

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
