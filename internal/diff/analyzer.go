// Package diff compares a monitored page against the competitor pages that
// outrank it, structurally and semantically.
package diff

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/IshaanNene/RankWatch/internal/aiseo"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// SignalGap is a signal the own page lacks and some competitors have.
type SignalGap struct {
	Signal      types.Signal `json:"signal"`
	Competitors int          `json:"competitors"`
}

// TopicGap is a heading topic common among competitors and absent from
// the own page.
type TopicGap struct {
	Topic       string   `json:"topic"`
	Competitors int      `json:"competitors"`
	Examples    []string `json:"examples"`
}

// DiffResult is the structural comparison of one page against competitors.
type DiffResult struct {
	CompetitorCount int `json:"competitor_count"`

	OwnLength           int     `json:"own_length"`
	AvgCompetitorLength float64 `json:"avg_competitor_length"`
	LengthDelta         float64 `json:"length_delta"`

	OwnWordCount           int     `json:"own_word_count"`
	AvgCompetitorWordCount float64 `json:"avg_competitor_word_count"`
	WordCountDelta         float64 `json:"word_count_delta"`

	OwnHeadingCount           int     `json:"own_heading_count"`
	AvgCompetitorHeadingCount float64 `json:"avg_competitor_heading_count"`
	HeadingCountDelta         float64 `json:"heading_count_delta"`

	MissingSignals  []SignalGap `json:"missing_signals"`
	MissingTopics   []TopicGap  `json:"missing_topics"`
	Recommendations []string    `json:"recommendations"`
}

// Options tunes the rule-based recommendations.
type Options struct {
	// MinTopicShare is the share of competitors that must cover a heading
	// topic before its absence is reported.
	MinTopicShare float64

	// MaxTopics caps MissingTopics.
	MaxTopics int

	// LengthGapRatio is how much longer competitors must be on average
	// before a "write more" recommendation is made.
	LengthGapRatio float64
}

// DefaultOptions returns the recommended tuning.
func DefaultOptions() Options {
	return Options{MinTopicShare: 0.5, MaxTopics: 8, LengthGapRatio: 1.3}
}

// Analyzer is the deterministic structural comparer.
type Analyzer struct {
	opts   Options
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts Options, logger *slog.Logger) *Analyzer {
	if opts.MinTopicShare <= 0 {
		opts.MinTopicShare = 0.5
	}
	if opts.MaxTopics <= 0 {
		opts.MaxTopics = 8
	}
	if opts.LengthGapRatio <= 1 {
		opts.LengthGapRatio = 1.3
	}
	return &Analyzer{opts: opts, logger: logger.With("component", "diff_analyzer")}
}

// Analyze compares own against competitors. It makes no external calls. An
// empty competitor list yields a result with own metrics and nothing else.
func (a *Analyzer) Analyze(own *types.ArticleContent, competitors []*types.ArticleContent) *DiffResult {
	res := &DiffResult{
		MissingSignals:  []SignalGap{},
		MissingTopics:   []TopicGap{},
		Recommendations: []string{},
	}
	if own == nil {
		return res
	}
	res.OwnLength = len(own.MainText)
	res.OwnWordCount = own.WordCount
	res.OwnHeadingCount = len(own.Headings)

	comps := make([]*types.ArticleContent, 0, len(competitors))
	for _, c := range competitors {
		if c != nil {
			comps = append(comps, c)
		}
	}
	res.CompetitorCount = len(comps)
	if len(comps) == 0 {
		return res
	}

	var length, words, headings float64
	for _, c := range comps {
		length += float64(len(c.MainText))
		words += float64(c.WordCount)
		headings += float64(len(c.Headings))
	}
	n := float64(len(comps))
	res.AvgCompetitorLength = round1(length / n)
	res.AvgCompetitorWordCount = round1(words / n)
	res.AvgCompetitorHeadingCount = round1(headings / n)
	res.LengthDelta = round1(res.AvgCompetitorLength - float64(res.OwnLength))
	res.WordCountDelta = round1(res.AvgCompetitorWordCount - float64(res.OwnWordCount))
	res.HeadingCountDelta = round1(res.AvgCompetitorHeadingCount - float64(res.OwnHeadingCount))

	res.MissingSignals = missingSignals(own, comps)
	res.MissingTopics = missingTopics(own, comps, a.opts)
	res.Recommendations = a.recommend(res)

	a.logger.Debug("structural diff",
		"url", own.URL,
		"competitors", res.CompetitorCount,
		"missing_signals", len(res.MissingSignals),
		"missing_topics", len(res.MissingTopics),
	)
	return res
}

func missingSignals(own *types.ArticleContent, comps []*types.ArticleContent) []SignalGap {
	gaps := []SignalGap{}
	for _, sig := range types.AllSignals {
		if own.Signals.Has(sig) {
			continue
		}
		count := 0
		for _, c := range comps {
			if c.Signals.Has(sig) {
				count++
			}
		}
		if count > 0 {
			gaps = append(gaps, SignalGap{Signal: sig, Competitors: count})
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Competitors > gaps[j].Competitors })
	return gaps
}

// missingTopics reports h2/h3 topics that at least MinTopicShare of the
// competitors cover and the own page does not. Topics are compared as
// sorted sets of content tokens so "Best Beans for Cold Brew" and "Cold brew
// beans: the best" match.
func missingTopics(own *types.ArticleContent, comps []*types.ArticleContent, opts Options) []TopicGap {
	ownTopics := make(map[string]bool)
	ownTokens := make(map[string]bool)
	for _, h := range own.Headings {
		key := topicKey(h.Text)
		ownTopics[key] = true
		for _, tok := range strings.Fields(key) {
			ownTokens[tok] = true
		}
	}

	type agg struct {
		count    int
		examples []string
		first    int
	}
	seen := make(map[string]*agg)
	order := 0
	for _, c := range comps {
		perPage := make(map[string]bool)
		for _, h := range c.Headings {
			if h.Level < 2 || h.Level > 3 {
				continue
			}
			key := topicKey(h.Text)
			if key == "" || perPage[key] || ownTopics[key] || covered(key, ownTokens) {
				continue
			}
			perPage[key] = true
			g, ok := seen[key]
			if !ok {
				g = &agg{first: order}
				order++
				seen[key] = g
			}
			g.count++
			if len(g.examples) < 3 {
				g.examples = append(g.examples, h.Text)
			}
		}
	}

	minCount := int(math.Ceil(opts.MinTopicShare * float64(len(comps))))
	if minCount < 1 {
		minCount = 1
	}
	type keyed struct {
		key string
		*agg
	}
	var ranked []keyed
	for k, g := range seen {
		if g.count >= minCount {
			ranked = append(ranked, keyed{k, g})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})
	if len(ranked) > opts.MaxTopics {
		ranked = ranked[:opts.MaxTopics]
	}

	gaps := make([]TopicGap, 0, len(ranked))
	for _, r := range ranked {
		gaps = append(gaps, TopicGap{Topic: r.examples[0], Competitors: r.count, Examples: r.examples})
	}
	return gaps
}

// covered reports whether every token of a topic already appears in the own
// page headings.
func covered(key string, ownTokens map[string]bool) bool {
	toks := strings.Fields(key)
	if len(toks) == 0 {
		return true
	}
	for _, t := range toks {
		if !ownTokens[t] {
			return false
		}
	}
	return true
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "to": true,
	"for": true, "in": true, "on": true, "with": true, "your": true, "you": true,
	"is": true, "are": true, "how": true, "what": true, "why": true, "do": true, "does": true,
	"it": true, "this": true, "that": true, "vs": true, "from": true, "by": true, "at": true,
}

func topicKey(heading string) string {
	var toks []string
	seen := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(heading), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if stopwords[f] || len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		toks = append(toks, f)
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func (a *Analyzer) recommend(res *DiffResult) []string {
	recs := []string{}

	if res.OwnWordCount > 0 && res.AvgCompetitorWordCount >= float64(res.OwnWordCount)*a.opts.LengthGapRatio {
		recs = append(recs, fmt.Sprintf(
			"Expand the article: competitors average %.0f words against your %d.",
			res.AvgCompetitorWordCount, res.OwnWordCount))
	} else if res.OwnWordCount == 0 && res.AvgCompetitorWordCount > 0 {
		recs = append(recs, fmt.Sprintf("Add substantive body text: competitors average %.0f words.", res.AvgCompetitorWordCount))
	}

	if res.HeadingCountDelta >= 3 {
		recs = append(recs, fmt.Sprintf(
			"Add more subheadings to structure the page: competitors average %.1f headings against your %d.",
			res.AvgCompetitorHeadingCount, res.OwnHeadingCount))
	}

	for _, gap := range res.MissingSignals {
		recs = append(recs, fmt.Sprintf("%s (%d of %d competitors have %s.)",
			aiseo.Suggestion(gap.Signal), gap.Competitors, res.CompetitorCount, aiseo.Label(gap.Signal)))
	}

	if len(res.MissingTopics) > 0 {
		topics := make([]string, 0, len(res.MissingTopics))
		for _, t := range res.MissingTopics {
			topics = append(topics, fmt.Sprintf("%q", t.Topic))
		}
		recs = append(recs, "Cover topics your competitors address: "+strings.Join(topics, ", ")+".")
	}
	return recs
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
