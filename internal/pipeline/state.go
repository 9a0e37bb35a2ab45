package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/IshaanNene/RankWatch/internal/aiseo"
	"github.com/IshaanNene/RankWatch/internal/diff"
	"github.com/IshaanNene/RankWatch/internal/rankdrop"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// SchemaVersion is bumped whenever a state type changes shape. Payloads
// written by another version are rejected at the boundary.
const SchemaVersion = 1

// State kinds.
const (
	KindStep1Input = "step1_input"
	KindStep1      = "step1"
	KindStep2      = "step2"
	KindResult     = "result"
)

// Step names, as used in TimeoutError.RetryFrom.
const (
	StepOne   = "step1"
	StepTwo   = "step2"
	StepThree = "step3"
)

// Step1Input starts an analysis.
type Step1Input struct {
	SchemaVersion    int              `json:"schema_version,omitempty"`
	RunID            string           `json:"run_id,omitempty"`
	Site             string           `json:"site"`
	PageURL          string           `json:"page_url"`
	ArticleTitle     string           `json:"article_title,omitempty"`
	SelectedKeywords []string         `json:"selected_keywords,omitempty"`
	MaxKeywords      int              `json:"max_keywords"`
	DetectDrop       bool             `json:"detect_drop"`
	Detection        rankdrop.Options `json:"detection"`
}

// Validate checks the input at the step boundary.
func (in *Step1Input) Validate() error {
	if in.SchemaVersion != 0 && in.SchemaVersion != SchemaVersion {
		return versionError(KindStep1Input, in.SchemaVersion)
	}
	if in.Site == "" {
		return &types.SchemaError{Kind: KindStep1Input, Field: "site", Reason: "required"}
	}
	if err := checkURL(KindStep1Input, "page_url", in.PageURL); err != nil {
		return err
	}
	if in.MaxKeywords < 1 {
		return &types.SchemaError{Kind: KindStep1Input, Field: "max_keywords", Reason: "must be >= 1"}
	}
	if err := in.Detection.Validate(); err != nil {
		return &types.SchemaError{Kind: KindStep1Input, Field: "detection", Reason: err.Error()}
	}
	return nil
}

// Step1Output is the keyword selection handed to Step 2.
type Step1Output struct {
	Kind          string                             `json:"kind"`
	SchemaVersion int                                `json:"schema_version"`
	RunID         string                             `json:"run_id"`
	Site          string                             `json:"site"`
	PageURL       string                             `json:"page_url"`
	ArticleTitle  string                             `json:"article_title,omitempty"`
	WindowStart   string                             `json:"window_start"`
	WindowEnd     string                             `json:"window_end"`
	RankDrop      *types.RankDropResult              `json:"rank_drop,omitempty"`
	Keywords      []types.PrioritizedKeyword         `json:"prioritized_keywords"`
	KeywordSeries map[string][]types.TimeSeriesPoint `json:"keyword_time_series"`
	CompletedAt   time.Time                          `json:"completed_at"`
}

// Validate checks the state at the step boundary.
func (s *Step1Output) Validate() error {
	if err := checkHeader(KindStep1, s.Kind, s.SchemaVersion, s.RunID); err != nil {
		return err
	}
	if err := checkURL(KindStep1, "page_url", s.PageURL); err != nil {
		return err
	}
	return checkKeywords(KindStep1, s.Keywords)
}

// Step2Output is the competitor discovery handed to Step 3.
type Step2Output struct {
	Kind                 string                      `json:"kind"`
	SchemaVersion        int                         `json:"schema_version"`
	RunID                string                      `json:"run_id"`
	Site                 string                      `json:"site"`
	PageURL              string                      `json:"page_url"`
	RankDrop             *types.RankDropResult       `json:"rank_drop,omitempty"`
	Keywords             []types.PrioritizedKeyword  `json:"prioritized_keywords"`
	CompetitorResults    []types.CompetitorResultSet `json:"competitor_results"`
	UniqueCompetitorURLs []string                    `json:"unique_competitor_urls"`
	CompletedAt          time.Time                   `json:"completed_at"`
}

// Validate checks the state at the step boundary.
func (s *Step2Output) Validate() error {
	if err := checkHeader(KindStep2, s.Kind, s.SchemaVersion, s.RunID); err != nil {
		return err
	}
	if err := checkURL(KindStep2, "page_url", s.PageURL); err != nil {
		return err
	}
	if err := checkKeywords(KindStep2, s.Keywords); err != nil {
		return err
	}
	if len(s.CompetitorResults) != len(s.Keywords) {
		return &types.SchemaError{
			Kind:   KindStep2,
			Field:  "competitor_results",
			Reason: fmt.Sprintf("%d result sets for %d keywords", len(s.CompetitorResults), len(s.Keywords)),
		}
	}
	for i, set := range s.CompetitorResults {
		if set.Keyword != s.Keywords[i].Keyword {
			return &types.SchemaError{
				Kind:   KindStep2,
				Field:  fmt.Sprintf("competitor_results[%d].keyword", i),
				Reason: fmt.Sprintf("%q does not match keyword %q", set.Keyword, s.Keywords[i].Keyword),
			}
		}
	}
	if s.UniqueCompetitorURLs == nil {
		return &types.SchemaError{Kind: KindStep2, Field: "unique_competitor_urls", Reason: "required"}
	}
	return nil
}

// KeywordAnalysis is the comparison for one prioritized keyword.
type KeywordAnalysis struct {
	Keyword        string                    `json:"keyword"`
	OwnPosition    *int                      `json:"own_position"`
	CompetitorURLs []string                  `json:"competitor_urls"`
	Diff           *diff.DiffResult          `json:"diff,omitempty"`
	Semantic       *types.SemanticDiffResult `json:"semantic"`
	SemanticReason string                    `json:"semantic_reason,omitempty"`
	Skipped        string                    `json:"skipped,omitempty"`
}

// Failure is one degraded unit of work.
type Failure struct {
	Stage   string `json:"stage"`
	Keyword string `json:"keyword,omitempty"`
	URL     string `json:"url,omitempty"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

// Result is the final combined analysis.
type Result struct {
	Kind                 string                      `json:"kind"`
	SchemaVersion        int                         `json:"schema_version"`
	RunID                string                      `json:"run_id"`
	Site                 string                      `json:"site"`
	PageURL              string                      `json:"page_url"`
	RankDrop             *types.RankDropResult       `json:"rank_drop,omitempty"`
	Keywords             []types.PrioritizedKeyword  `json:"prioritized_keywords"`
	CompetitorResults    []types.CompetitorResultSet `json:"competitor_results"`
	UniqueCompetitorURLs []string                    `json:"unique_competitor_urls"`
	OwnArticle           *types.ArticleContent       `json:"own_article,omitempty"`
	CompetitorArticles   []*types.ArticleContent     `json:"competitor_articles"`
	Analyses             []KeywordAnalysis           `json:"analyses"`
	AISEO                *aiseo.Checklist            `json:"ai_seo,omitempty"`
	AISEOScore           int                         `json:"ai_seo_score"`
	Suggestions          []string                    `json:"suggestions"`
	Failures             []Failure                   `json:"failures"`
	Completeness         float64                     `json:"completeness"`
	CompletedAt          time.Time                   `json:"completed_at"`
}

// Validate checks the result before it is handed to persistence.
func (r *Result) Validate() error {
	if err := checkHeader(KindResult, r.Kind, r.SchemaVersion, r.RunID); err != nil {
		return err
	}
	if r.Completeness < 0 || r.Completeness > 1 {
		return &types.SchemaError{Kind: KindResult, Field: "completeness", Reason: "must be within [0,1]"}
	}
	return checkURL(KindResult, "page_url", r.PageURL)
}

// Partial reports whether any unit of work degraded.
func (r *Result) Partial() bool {
	return r.Completeness < 1
}

// DecodeStep1Input decodes a Step 1 request body over defaults and
// validates the merged input.
func DecodeStep1Input(data []byte, defaults Step1Input) (*Step1Input, error) {
	in := defaults
	in.SelectedKeywords = nil
	if err := decodeStrict(KindStep1Input, data, &in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// DecodeStep1 decodes and validates Step 1 state.
func DecodeStep1(data []byte) (*Step1Output, error) {
	if err := peekHeader(KindStep1, data); err != nil {
		return nil, err
	}
	var s Step1Output
	if err := decodeStrict(KindStep1, data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeStep2 decodes and validates Step 2 state.
func DecodeStep2(data []byte) (*Step2Output, error) {
	if err := peekHeader(KindStep2, data); err != nil {
		return nil, err
	}
	var s Step2Output
	if err := decodeStrict(KindStep2, data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeResult decodes and validates a final result.
func DecodeResult(data []byte) (*Result, error) {
	if err := peekHeader(KindResult, data); err != nil {
		return nil, err
	}
	var r Result
	if err := decodeStrict(KindResult, data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// peekHeader checks kind and version before the strict decode so a payload
// of the wrong kind reports that rather than its first unknown field.
func peekHeader(kind string, data []byte) error {
	var h struct {
		Kind          string `json:"kind"`
		SchemaVersion int    `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return &types.SchemaError{Kind: kind, Reason: "malformed JSON: " + err.Error()}
	}
	if h.Kind != kind {
		return &types.SchemaError{Kind: kind, Field: "kind", Reason: fmt.Sprintf("expected %q, got %q", kind, h.Kind)}
	}
	if h.SchemaVersion != SchemaVersion {
		return versionError(kind, h.SchemaVersion)
	}
	return nil
}

func decodeStrict(kind string, data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &types.SchemaError{Kind: kind, Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}

func checkHeader(kind, gotKind string, version int, runID string) error {
	if gotKind != kind {
		return &types.SchemaError{Kind: kind, Field: "kind", Reason: fmt.Sprintf("expected %q, got %q", kind, gotKind)}
	}
	if version != SchemaVersion {
		return versionError(kind, version)
	}
	if runID == "" {
		return &types.SchemaError{Kind: kind, Field: "run_id", Reason: "required"}
	}
	return nil
}

func checkURL(kind, field, raw string) error {
	if raw == "" {
		return &types.SchemaError{Kind: kind, Field: field, Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &types.SchemaError{Kind: kind, Field: field, Reason: fmt.Sprintf("%q is not an absolute http(s) URL", raw)}
	}
	return nil
}

func checkKeywords(kind string, kws []types.PrioritizedKeyword) error {
	if len(kws) == 0 {
		return &types.SchemaError{Kind: kind, Field: "prioritized_keywords", Reason: "empty"}
	}
	for i, kw := range kws {
		if kw.Keyword == "" {
			return &types.SchemaError{Kind: kind, Field: fmt.Sprintf("prioritized_keywords[%d].keyword", i), Reason: "empty"}
		}
	}
	return nil
}

func versionError(kind string, got int) error {
	return &types.SchemaError{
		Kind:   kind,
		Field:  "schema_version",
		Reason: fmt.Sprintf("version %d is not supported (want %d)", got, SchemaVersion),
	}
}
