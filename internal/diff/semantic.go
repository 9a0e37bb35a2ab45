package diff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/IshaanNene/RankWatch/internal/llm"
	"github.com/IshaanNene/RankWatch/internal/observability"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// Reasons a semantic insight is unavailable.
const (
	ReasonDisabled      = "disabled"
	ReasonNoCompetitors = "no_competitors"
	ReasonNoOwnContent  = "no_own_content"
	ReasonProviderError = "provider_error"
	ReasonTimeout       = "timeout"
	ReasonMalformed     = "malformed_output"
	ReasonEmpty         = "empty_output"
)

const minArticleChars = 500

// Insight is the best-effort semantic diff for one keyword. Result is nil
// when no usable answer was produced, in which case Reason says why.
type Insight struct {
	Keyword string                    `json:"keyword"`
	Result  *types.SemanticDiffResult `json:"result"`
	Reason  string                    `json:"reason,omitempty"`
}

// SemanticAnalyzer asks a language model why competitors outrank a page.
type SemanticAnalyzer struct {
	gen           llm.Generator
	maxInputChars int
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// SemanticOption configures the SemanticAnalyzer.
type SemanticOption func(*SemanticAnalyzer)

// WithSemanticMetrics records insight availability.
func WithSemanticMetrics(m *observability.Metrics) SemanticOption {
	return func(s *SemanticAnalyzer) { s.metrics = m }
}

// NewSemanticAnalyzer creates a SemanticAnalyzer. gen may be nil, which
// makes every insight unavailable with ReasonDisabled.
func NewSemanticAnalyzer(gen llm.Generator, maxInputChars int, logger *slog.Logger, opts ...SemanticOption) *SemanticAnalyzer {
	if maxInputChars <= 0 {
		maxInputChars = 6000
	}
	s := &SemanticAnalyzer{
		gen:           gen,
		maxInputChars: maxInputChars,
		logger:        logger.With("component", "semantic_diff"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze never returns an error: every failure becomes an Insight with a
// nil Result.
func (s *SemanticAnalyzer) Analyze(ctx context.Context, keyword string, own *types.ArticleContent, competitors []*types.ArticleContent) Insight {
	in := Insight{Keyword: keyword}
	defer func() { s.metrics.SemanticObserved(in.Result != nil) }()

	comps := make([]*types.ArticleContent, 0, len(competitors))
	for _, c := range competitors {
		if c != nil && c.MainText != "" {
			comps = append(comps, c)
		}
	}
	switch {
	case s.gen == nil:
		in.Reason = ReasonDisabled
		return in
	case own == nil || own.MainText == "":
		in.Reason = ReasonNoOwnContent
		return in
	case len(comps) == 0:
		in.Reason = ReasonNoCompetitors
		return in
	}

	raw, err := s.gen.Generate(ctx, s.prompt(keyword, own, comps))
	if err != nil {
		in.Reason = ReasonProviderError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			in.Reason = ReasonTimeout
		}
		s.logger.Warn("semantic diff unavailable", "error", &types.SemanticUnavailableError{Keyword: keyword, Err: err})
		return in
	}

	result, reason := ParseSemanticResult(raw)
	if result == nil {
		in.Reason = reason
		s.logger.Warn("semantic diff unusable", "keyword", keyword, "reason", reason, "provider", s.gen.Name())
		return in
	}
	in.Result = result
	return in
}

const systemPrompt = `You are an SEO content strategist. You compare a page against the pages that outrank it for a search keyword and explain the content gap.
Respond with a single JSON object and nothing else, using exactly these keys:
{
  "why_competitors_rank_higher": "2-4 sentences",
  "missing_content": ["topic or element the page lacks", "..."],
  "recommended_additions": [{"section": "heading to add", "reason": "why it helps rank", "content": "what the section should say"}]
}`

func (s *SemanticAnalyzer) prompt(keyword string, own *types.ArticleContent, comps []*types.ArticleContent) llm.Prompt {
	per := s.maxInputChars / (len(comps) + 1)
	if per < minArticleChars {
		per = minArticleChars
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Keyword: %s\n\n", keyword)
	fmt.Fprintf(&b, "OUR PAGE (%s)\nTitle: %s\nHeadings: %s\nText: %s\n\n",
		own.URL, own.Title, headingList(own.Headings), truncate(own.MainText, per))
	for i, c := range comps {
		fmt.Fprintf(&b, "COMPETITOR %d (%s)\nTitle: %s\nHeadings: %s\nText: %s\n\n",
			i+1, c.URL, c.Title, headingList(c.Headings), truncate(c.MainText, per))
	}
	b.WriteString("Why do the competitors outrank our page for this keyword, and what content should we add?")
	return llm.Prompt{System: systemPrompt, User: b.String()}
}

type semanticPayload struct {
	Why          string                      `json:"why_competitors_rank_higher"`
	WhyAlt       string                      `json:"whyCompetitorsRankHigher"`
	Missing      []string                    `json:"missing_content"`
	MissingAlt   []string                    `json:"missingContent"`
	Additions    []types.RecommendedAddition `json:"recommended_additions"`
	AdditionsAlt []types.RecommendedAddition `json:"recommendedAdditions"`
}

// ParseSemanticResult decodes a model answer. It returns a nil result and a
// reason when the answer has no JSON object, does not decode, or carries no
// content.
func ParseSemanticResult(raw string) (*types.SemanticDiffResult, string) {
	obj := llm.ExtractJSON(raw)
	if obj == "" {
		if strings.TrimSpace(raw) == "" {
			return nil, ReasonEmpty
		}
		return nil, ReasonMalformed
	}
	var p semanticPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return nil, ReasonMalformed
	}

	res := &types.SemanticDiffResult{
		WhyCompetitorsRankHigher: strings.TrimSpace(firstNonEmpty(p.Why, p.WhyAlt)),
		MissingContent:           []string{},
		RecommendedAdditions:     []types.RecommendedAddition{},
	}
	missing := p.Missing
	if len(missing) == 0 {
		missing = p.MissingAlt
	}
	for _, m := range missing {
		if m = strings.TrimSpace(m); m != "" {
			res.MissingContent = append(res.MissingContent, m)
		}
	}
	additions := p.Additions
	if len(additions) == 0 {
		additions = p.AdditionsAlt
	}
	for _, a := range additions {
		a.Section, a.Reason, a.Content = strings.TrimSpace(a.Section), strings.TrimSpace(a.Reason), strings.TrimSpace(a.Content)
		if a.Section == "" && a.Content == "" {
			continue
		}
		res.RecommendedAdditions = append(res.RecommendedAdditions, a)
	}

	if res.WhyCompetitorsRankHigher == "" && len(res.MissingContent) == 0 && len(res.RecommendedAdditions) == 0 {
		return nil, ReasonEmpty
	}
	return res, ""
}

func headingList(hs []types.Heading) string {
	texts := make([]string, 0, len(hs))
	for _, h := range hs {
		if h.Level <= 3 {
			texts = append(texts, h.Text)
		}
	}
	if len(texts) > 20 {
		texts = texts[:20]
	}
	return strings.Join(texts, " | ")
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
