// Package keywords selects the keywords worth deep competitor analysis.
package keywords

import (
	"sort"
	"strings"
	"unicode"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// Options controls a prioritization pass.
type Options struct {
	// MaxKeywords caps the output length. Values <= 0 yield no keywords.
	MaxKeywords int `json:"max_keywords"`

	// ArticleTitle, when set, adds a small relevance bonus for keywords
	// whose tokens appear in the title.
	ArticleTitle string `json:"article_title,omitempty"`

	// Selected is a manual override. When non-empty it is used verbatim
	// (capped at MaxKeywords) and scoring is skipped.
	Selected []string `json:"selected,omitempty"`
}

// PositionWeight is the inverse-position factor applied to impressions.
// It is non-increasing in position.
func PositionWeight(position float64) float64 {
	switch {
	case position <= 0:
		return 0.15
	case position < 3.5:
		return 1.0
	case position < 5.5:
		return 0.85
	case position < 10.5:
		return 0.6
	case position < 20.5:
		return 0.35
	default:
		return 0.15
	}
}

// Score is the opportunity score for one keyword.
func Score(m types.KeywordMetric, titleTokens map[string]struct{}) float64 {
	return float64(m.Impressions)*PositionWeight(m.Position) + TitleOverlap(m.Keyword, titleTokens)
}

// Prioritize ranks metrics by opportunity and returns at most MaxKeywords,
// highest priority first. Keywords without impressions are dropped. Ties
// keep their input order.
func Prioritize(metrics []types.KeywordMetric, opts Options) []types.PrioritizedKeyword {
	if opts.MaxKeywords <= 0 {
		return []types.PrioritizedKeyword{}
	}
	if len(opts.Selected) > 0 {
		return manual(metrics, opts)
	}

	titleTokens := tokenSet(opts.ArticleTitle)
	out := make([]types.PrioritizedKeyword, 0, len(metrics))
	seen := make(map[string]struct{}, len(metrics))
	for _, m := range metrics {
		kw := strings.TrimSpace(m.Keyword)
		if kw == "" || m.Impressions <= 0 {
			continue
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, types.PrioritizedKeyword{
			Keyword:     kw,
			Priority:    Score(m, titleTokens),
			Impressions: m.Impressions,
			Clicks:      m.Clicks,
			Position:    m.Position,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})

	if len(out) > opts.MaxKeywords {
		out = out[:opts.MaxKeywords]
	}
	return out
}

// manual returns the override list verbatim. Metrics are attached where the
// keyword is known so downstream consumers still see impressions and position.
// Priority decreases with list position so the ordering contract holds.
func manual(metrics []types.KeywordMetric, opts Options) []types.PrioritizedKeyword {
	byKeyword := make(map[string]types.KeywordMetric, len(metrics))
	for _, m := range metrics {
		key := strings.ToLower(strings.TrimSpace(m.Keyword))
		if _, ok := byKeyword[key]; !ok {
			byKeyword[key] = m
		}
	}

	n := len(opts.Selected)
	if n > opts.MaxKeywords {
		n = opts.MaxKeywords
	}
	out := make([]types.PrioritizedKeyword, 0, n)
	for i, kw := range opts.Selected[:n] {
		pk := types.PrioritizedKeyword{
			Keyword:  kw,
			Priority: float64(n - i),
			Manual:   true,
		}
		if m, ok := byKeyword[strings.ToLower(strings.TrimSpace(kw))]; ok {
			pk.Impressions = m.Impressions
			pk.Clicks = m.Clicks
			pk.Position = m.Position
		}
		out = append(out, pk)
	}
	return out
}

// TitleOverlap is the share of the keyword's tokens found in the title, in
// [0, 1].
func TitleOverlap(keyword string, titleTokens map[string]struct{}) float64 {
	if len(titleTokens) == 0 {
		return 0
	}
	tokens := tokenize(keyword)
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range tokens {
		if _, ok := titleTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

func tokenSet(s string) map[string]struct{} {
	tokens := tokenize(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Top returns the highest-priority keyword, or "" when there is none.
func Top(keywords []types.PrioritizedKeyword) string {
	if len(keywords) == 0 {
		return ""
	}
	return keywords[0].Keyword
}
