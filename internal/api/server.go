// Package api exposes the analysis steps over HTTP for callers that
// orchestrate the steps themselves.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/pipeline"
	"github.com/IshaanNene/RankWatch/internal/rankdrop"
	"github.com/IshaanNene/RankWatch/internal/storage"
	"github.com/IshaanNene/RankWatch/internal/types"
)

const maxBodyBytes = 16 << 20

// Analyzer is what the server needs from the pipeline.
type Analyzer interface {
	DefaultInput(site, pageURL string) pipeline.Step1Input
	DetectDrop(ctx context.Context, site, pageURL string, opts rankdrop.Options) (*types.RankDropResult, error)
	Step1(ctx context.Context, in pipeline.Step1Input, opts pipeline.Options) (*pipeline.Step1Output, error)
	Step2(ctx context.Context, s1 *pipeline.Step1Output, opts pipeline.Options) (*pipeline.Step2Output, error)
	Step3(ctx context.Context, s2 *pipeline.Step2Output, opts pipeline.Options) (*pipeline.Result, error)
	Run(ctx context.Context, in pipeline.Step1Input, opts pipeline.Options) (*pipeline.Result, error)
	Trial(ctx context.Context, ownURL, otherURL string) (*pipeline.TrialResult, error)
}

// Server serves the step endpoints.
type Server struct {
	mux      *http.ServeMux
	analyzer Analyzer
	store    storage.ResultStore
	cfg      *config.Config
	metrics  http.Handler
	logger   *slog.Logger
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithStore persists every final result.
func WithStore(s storage.ResultStore) ServerOption {
	return func(srv *Server) { srv.store = s }
}

// WithMetricsHandler mounts h on the configured metrics path.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(srv *Server) { srv.metrics = h }
}

// NewServer creates a new API server.
func NewServer(analyzer Analyzer, cfg *config.Config, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger.With("component", "api_server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.API.Addr,
		Handler:      s.mux,
		ReadTimeout:  s.cfg.API.ReadTimeout,
		WriteTimeout: s.cfg.API.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/detect", s.handleDetect)
	s.mux.HandleFunc("POST /api/steps/1", s.handleStep1)
	s.mux.HandleFunc("POST /api/steps/2", s.handleStep2)
	s.mux.HandleFunc("POST /api/steps/3", s.handleStep3)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
	s.mux.HandleFunc("POST /api/trial", s.handleTrial)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

type detectRequest struct {
	Site    string            `json:"site"`
	PageURL string            `json:"page_url"`
	Options *rankdrop.Options `json:"options,omitempty"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Site == "" || req.PageURL == "" {
		s.errorResponse(w, &types.SchemaError{Kind: "detect_request", Field: "site,page_url", Reason: "required"})
		return
	}
	opts := s.analyzer.DefaultInput(req.Site, req.PageURL).Detection
	if req.Options != nil {
		opts = *req.Options
	}
	res, err := s.analyzer.DetectDrop(r.Context(), req.Site, req.PageURL, opts)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleStep1(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	out, err := s.analyzer.Step1(r.Context(), *in, s.options(r))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleStep2(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s1, err := pipeline.DecodeStep1(data)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	out, err := s.analyzer.Step2(r.Context(), s1, s.options(r))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleStep3(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s2, err := pipeline.DecodeStep2(data)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	res, err := s.analyzer.Step3(r.Context(), s2, s.options(r))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.persist(r.Context(), res)
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	res, err := s.analyzer.Run(r.Context(), *in, s.options(r))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.persist(r.Context(), res)
	s.jsonResponse(w, http.StatusOK, res)
}

type trialRequest struct {
	URL      string `json:"url"`
	OtherURL string `json:"other_url,omitempty"`
}

func (s *Server) handleTrial(w http.ResponseWriter, r *http.Request) {
	var req trialRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.errorResponse(w, &types.SchemaError{Kind: "trial_request", Field: "url", Reason: "required"})
		return
	}
	res, err := s.analyzer.Trial(r.Context(), req.URL, req.OtherURL)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// options reads per-request knobs from the query string over config.
func (s *Server) options(r *http.Request) pipeline.Options {
	q := r.URL.Query()
	return pipeline.Options{
		Budget:       pipeline.NewBudget(s.cfg.Pipeline.Deadline, s.cfg.Pipeline.Reserve),
		UseBrowser:   q.Get("browser") == "true",
		SkipSemantic: s.cfg.Pipeline.SkipSemantic || q.Get("skip_semantic") == "true",
	}
}

// persist stores a result; a storage failure is logged, the caller
// still gets the result.
func (s *Server) persist(ctx context.Context, res *pipeline.Result) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, res); err != nil {
		s.logger.Error("store result", "run_id", res.RunID, "backend", s.store.Name(), "error", err)
	}
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (*pipeline.Step1Input, bool) {
	data, ok := s.readBody(w, r)
	if !ok {
		return nil, false
	}
	in, err := pipeline.DecodeStep1Input(data, s.analyzer.DefaultInput("", ""))
	if err != nil {
		s.errorResponse(w, err)
		return nil, false
	}
	return in, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.jsonResponse(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return nil, false
	}
	return data, true
}

type errorBody struct {
	Error     string `json:"error"`
	Type      string `json:"type"`
	Stage     string `json:"stage,omitempty"`
	RetryFrom string `json:"retry_from,omitempty"`
	Field     string `json:"field,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	s.jsonResponse(w, status, body)
}

// classify maps pipeline errors onto HTTP statuses.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Type: "internal"}

	var te *types.TimeoutError
	var se *types.SchemaError
	var de *types.DataUnavailableError
	var sue *types.SearchUnavailableError
	var sfe *types.ScrapeFailedError
	var pbe *types.ProviderBlockedError

	switch {
	case errors.As(err, &te):
		body.Type, body.Stage, body.RetryFrom = "timeout", te.Stage, te.RetryFrom
		return http.StatusGatewayTimeout, body
	case errors.As(err, &se):
		body.Type, body.Field = "schema", se.Field
		return http.StatusBadRequest, body
	case errors.As(err, &de):
		body.Type, body.Stage = "data_unavailable", de.Stage
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &sue):
		body.Type = "search_unavailable"
		return http.StatusBadGateway, body
	case errors.As(err, &pbe):
		body.Type = "provider_blocked"
		return http.StatusBadGateway, body
	case errors.As(err, &sfe):
		body.Type = "scrape_failed"
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Type = "timeout"
		return http.StatusGatewayTimeout, body
	case errors.Is(err, context.Canceled):
		body.Type = "canceled"
		return 499, body
	}
	return http.StatusInternalServerError, body
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
