// Package pipeline runs the rank-drop and competitor analysis as three
// resumable steps. Every step is a function of its explicit input; all state
// a later step needs is in the value the earlier step returns.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/RankWatch/internal/aiseo"
	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/diff"
	"github.com/IshaanNene/RankWatch/internal/gsc"
	"github.com/IshaanNene/RankWatch/internal/keywords"
	"github.com/IshaanNene/RankWatch/internal/observability"
	"github.com/IshaanNene/RankWatch/internal/rankdrop"
	"github.com/IshaanNene/RankWatch/internal/scraper"
	"github.com/IshaanNene/RankWatch/internal/serp"
	"github.com/IshaanNene/RankWatch/internal/types"
	"github.com/IshaanNene/RankWatch/internal/urlnorm"
)

// Reasons a keyword's diff was skipped.
const (
	SkipNoCompetitors = "no_competitors"
	SkipOwnPage       = "own_page_unavailable"
)

// ReasonDeadline marks semantic insights skipped because the budget ran out.
const ReasonDeadline = "deadline"

// CompetitorResolver finds competitors for one keyword.
type CompetitorResolver interface {
	Resolve(ctx context.Context, req serp.Request) types.CompetitorResultSet
}

// ArticleScraper fetches and extracts pages.
type ArticleScraper interface {
	Scrape(ctx context.Context, rawURL string, useBrowser bool) (*types.ArticleContent, error)
	ScrapeMany(ctx context.Context, urls []string, useBrowser bool) []scraper.Outcome
}

// Options are per-invocation knobs shared by all steps.
type Options struct {
	Budget       Budget
	UseBrowser   bool
	SkipSemantic bool
}

// Pipeline wires the analysis components together.
type Pipeline struct {
	series   gsc.Provider
	detector *rankdrop.Detector
	resolver CompetitorResolver
	scraper  ArticleScraper
	analyzer *diff.Analyzer
	semantic *diff.SemanticAnalyzer

	cfg     *config.Config
	now     func() time.Time
	newID   func() string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithSemantic sets the LLM-backed analyzer. Without it every semantic
// insight is unavailable.
func WithSemantic(s *diff.SemanticAnalyzer) Option {
	return func(p *Pipeline) { p.semantic = s }
}

// WithAnalyzer replaces the structural analyzer.
func WithAnalyzer(a *diff.Analyzer) Option {
	return func(p *Pipeline) { p.analyzer = a }
}

// WithMetrics records step durations and outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(f func() string) Option {
	return func(p *Pipeline) { p.newID = f }
}

// New creates a Pipeline.
func New(series gsc.Provider, resolver CompetitorResolver, scr ArticleScraper, cfg *config.Config, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		series:   series,
		resolver: resolver,
		scraper:  scr,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.analyzer == nil {
		p.analyzer = diff.NewAnalyzer(diff.DefaultOptions(), logger)
	}
	if p.semantic == nil {
		p.semantic = diff.NewSemanticAnalyzer(nil, cfg.AI.MaxInputChars, logger)
	}
	p.detector = rankdrop.NewDetector(series, cfg.GSC.LagDays, logger, rankdrop.WithClock(p.now))
	return p
}

// DefaultInput returns a Step1Input for site and page filled from config.
func (p *Pipeline) DefaultInput(site, pageURL string) Step1Input {
	return Step1Input{
		SchemaVersion: SchemaVersion,
		Site:          site,
		PageURL:       pageURL,
		MaxKeywords:   p.cfg.Keywords.MaxKeywords,
		DetectDrop:    p.cfg.Pipeline.DetectDrop,
		Detection: rankdrop.Options{
			ComparisonDays:       p.cfg.Detector.ComparisonDays,
			DropThreshold:        p.cfg.Detector.DropThreshold,
			KeywordDropThreshold: p.cfg.Detector.KeywordDropThreshold,
			KeywordLimit:         p.cfg.Keywords.MetricsLimit,
		},
	}
}

// DetectDrop runs rank-drop detection on its own.
func (p *Pipeline) DetectDrop(ctx context.Context, site, pageURL string, opts rankdrop.Options) (*types.RankDropResult, error) {
	return p.detector.Detect(ctx, site, pageURL, opts)
}

// Step1 selects the keywords worth analyzing and fetches their series.
func (p *Pipeline) Step1(ctx context.Context, in Step1Input, opts Options) (out *Step1Output, err error) {
	start := p.now()
	defer func() { p.metrics.StepObserved(StepOne, p.now().Sub(start), err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Budget.Check(StepOne, StepOne); err != nil {
		return nil, err
	}
	runID := in.RunID
	if runID == "" {
		runID = p.newID()
	}
	log := p.logger.With("run_id", runID, "page", in.PageURL)

	ctx, cancel := opts.Budget.Context(ctx)
	defer cancel()

	out = &Step1Output{
		Kind:          KindStep1,
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		Site:          in.Site,
		PageURL:       in.PageURL,
		ArticleTitle:  in.ArticleTitle,
		KeywordSeries: make(map[string][]types.TimeSeriesPoint),
	}

	days := in.Detection.ComparisonDays
	window := gsc.Window(p.now(), p.cfg.GSC.LagDays, days)
	if in.DetectDrop {
		drop, err := p.detector.Detect(ctx, in.Site, in.PageURL, in.Detection)
		if err != nil {
			return nil, budgetErr(opts.Budget, "step1.detect", StepOne, err)
		}
		out.RankDrop = drop
		if r, err := gsc.NewRange(drop.CurrentStart, drop.CurrentEnd); err == nil {
			window = r
		}
		if err := opts.Budget.Check("step1.detect", StepOne); err != nil {
			return nil, err
		}
	}
	out.WindowStart, out.WindowEnd = window.StartDate(), window.EndDate()

	metrics, err := p.series.KeywordMetrics(ctx, in.Site, in.PageURL, window, in.Detection.KeywordLimit)
	if err != nil {
		return nil, budgetErr(opts.Budget, "step1.keywords", StepOne, err)
	}
	out.Keywords = keywords.Prioritize(metrics, keywords.Options{
		MaxKeywords:  in.MaxKeywords,
		ArticleTitle: in.ArticleTitle,
		Selected:     in.SelectedKeywords,
	})
	if len(out.Keywords) == 0 {
		return nil, &types.DataUnavailableError{Stage: "step1.keywords", Site: in.Site, Page: in.PageURL, Err: types.ErrNoKeywords}
	}

	// Series cover both comparison windows so callers can chart the drop.
	span := gsc.Range{Start: window.Start.AddDate(0, 0, -days), End: window.End}
	for _, kw := range out.Keywords {
		if err := opts.Budget.Check("step1.series", StepOne); err != nil {
			return nil, err
		}
		points, err := p.series.KeywordSeries(ctx, in.Site, in.PageURL, kw.Keyword, span)
		if err != nil {
			if ctx.Err() != nil {
				return nil, budgetErr(opts.Budget, "step1.series", StepOne, ctx.Err())
			}
			log.Warn("keyword series unavailable", "keyword", kw.Keyword, "error", err)
			continue
		}
		out.KeywordSeries[kw.Keyword] = gsc.FillDays(points, span)
	}

	out.CompletedAt = p.now()
	log.Info("step 1 complete",
		"keywords", len(out.Keywords),
		"top_keyword", keywords.Top(out.Keywords),
		"has_drop", out.RankDrop != nil && out.RankDrop.HasDrop,
	)
	return out, nil
}

// Step2 resolves competitors for every keyword in priority order. A keyword
// whose providers all fail keeps an empty set; only when every keyword fails
// is a *types.SearchUnavailableError returned.
func (p *Pipeline) Step2(ctx context.Context, s1 *Step1Output, opts Options) (out *Step2Output, err error) {
	start := p.now()
	defer func() { p.metrics.StepObserved(StepTwo, p.now().Sub(start), err) }()

	if s1 == nil {
		return nil, &types.SchemaError{Kind: KindStep1, Reason: "missing"}
	}
	if err := s1.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Budget.Check(StepTwo, StepTwo); err != nil {
		return nil, err
	}
	log := p.logger.With("run_id", s1.RunID, "page", s1.PageURL)

	ctx, cancel := opts.Budget.Context(ctx)
	defer cancel()

	sets := make([]types.CompetitorResultSet, 0, len(s1.Keywords))
	unavailable := &types.SearchUnavailableError{}
	for _, kw := range s1.Keywords {
		if err := opts.Budget.Check("step2.resolve", StepTwo); err != nil {
			return nil, err
		}
		set := p.resolver.Resolve(ctx, serp.Request{
			Keyword:        kw.Keyword,
			OwnURL:         s1.PageURL,
			MaxCompetitors: p.cfg.Search.MaxCompetitors,
			RetryCount:     p.cfg.Search.RetryCount,
			PreferFast:     p.cfg.Search.PreferFast,
			Locale:         p.cfg.Search.Locale,
		})
		if set.Competitors == nil {
			set.Competitors = []types.SearchResult{}
		}
		if set.Error != "" {
			unavailable.Keywords = append(unavailable.Keywords, kw.Keyword)
			unavailable.Errs = append(unavailable.Errs, errors.New(kw.Keyword+": "+set.Error))
		}
		sets = append(sets, set)
	}
	if err := opts.Budget.Check("step2.resolve", StepTwo); err != nil {
		return nil, err
	}
	if len(unavailable.Keywords) == len(sets) {
		return nil, unavailable
	}

	unique := serp.UniqueCompetitorURLs(sets)
	if unique == nil {
		unique = []string{}
	}
	out = &Step2Output{
		Kind:                 KindStep2,
		SchemaVersion:        SchemaVersion,
		RunID:                s1.RunID,
		Site:                 s1.Site,
		PageURL:              s1.PageURL,
		RankDrop:             s1.RankDrop,
		Keywords:             s1.Keywords,
		CompetitorResults:    sets,
		UniqueCompetitorURLs: unique,
		CompletedAt:          p.now(),
	}
	log.Info("step 2 complete",
		"keywords", len(sets),
		"failed_keywords", len(unavailable.Keywords),
		"unique_competitors", len(out.UniqueCompetitorURLs),
	)
	return out, nil
}

// Step3 scrapes the own page and every unique competitor, then compares
// them per keyword. Individual scrape and LLM failures degrade the result
// and are listed in Failures.
func (p *Pipeline) Step3(ctx context.Context, s2 *Step2Output, opts Options) (res *Result, err error) {
	start := p.now()
	defer func() { p.metrics.StepObserved(StepThree, p.now().Sub(start), err) }()

	if s2 == nil {
		return nil, &types.SchemaError{Kind: KindStep2, Reason: "missing"}
	}
	if err := s2.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Budget.Check(StepThree, StepThree); err != nil {
		return nil, err
	}
	log := p.logger.With("run_id", s2.RunID, "page", s2.PageURL)

	res = &Result{
		Kind:                 KindResult,
		SchemaVersion:        SchemaVersion,
		RunID:                s2.RunID,
		Site:                 s2.Site,
		PageURL:              s2.PageURL,
		RankDrop:             s2.RankDrop,
		Keywords:             s2.Keywords,
		CompetitorResults:    s2.CompetitorResults,
		UniqueCompetitorURLs: s2.UniqueCompetitorURLs,
		CompetitorArticles:   []*types.ArticleContent{},
		Analyses:             make([]KeywordAnalysis, 0, len(s2.Keywords)),
		Suggestions:          []string{},
		Failures:             []Failure{},
	}
	var done, total int

	for _, set := range s2.CompetitorResults {
		total++
		if set.Error != "" {
			res.Failures = append(res.Failures, Failure{Stage: "search", Keyword: set.Keyword, Reason: "providers_failed", Error: set.Error})
			continue
		}
		done++
	}

	scrapeCtx, cancel := opts.Budget.Context(ctx)
	urls := append([]string{s2.PageURL}, s2.UniqueCompetitorURLs...)
	outcomes := p.scraper.ScrapeMany(scrapeCtx, urls, opts.UseBrowser)
	cancel()
	if err := opts.Budget.Check("step3.scrape", StepThree); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	articles := make(map[string]*types.ArticleContent, len(outcomes))
	for i, o := range outcomes {
		total++
		if o.Err != nil {
			res.Failures = append(res.Failures, Failure{Stage: "scrape", URL: o.URL, Reason: scrapeReason(o.Err), Error: o.Err.Error()})
			continue
		}
		done++
		if i == 0 {
			res.OwnArticle = o.Article
			continue
		}
		articles[urlnorm.Normalize(o.URL)] = o.Article
		res.CompetitorArticles = append(res.CompetitorArticles, o.Article)
	}

	if res.OwnArticle != nil {
		checklist := aiseo.Check(res.OwnArticle)
		res.AISEO = &checklist
		res.AISEOScore = checklist.Score()
		res.Suggestions = checklist.Suggestions()
	}

	semanticLeft := p.cfg.Pipeline.SemanticKeywords
	if opts.SkipSemantic || p.cfg.Pipeline.SkipSemantic {
		semanticLeft = 0
	}
	for _, set := range s2.CompetitorResults {
		ka := KeywordAnalysis{
			Keyword:        set.Keyword,
			OwnPosition:    set.OwnPosition,
			CompetitorURLs: []string{},
		}
		var comps []*types.ArticleContent
		for _, c := range set.Competitors {
			if a, ok := articles[urlnorm.Normalize(c.URL)]; ok {
				comps = append(comps, a)
				ka.CompetitorURLs = append(ka.CompetitorURLs, c.URL)
			}
		}

		switch {
		case res.OwnArticle == nil:
			ka.Skipped = SkipOwnPage
		case len(comps) == 0:
			ka.Skipped = SkipNoCompetitors
		default:
			ka.Diff = p.analyzer.Analyze(res.OwnArticle, comps)
		}

		if ka.Diff != nil && semanticLeft > 0 {
			semanticLeft--
			total++
			if p.semanticInsight(ctx, &ka, res.OwnArticle, comps, opts.Budget) {
				done++
			} else if ka.SemanticReason != diff.ReasonDisabled {
				res.Failures = append(res.Failures, Failure{Stage: "semantic", Keyword: set.Keyword, Reason: ka.SemanticReason})
			} else {
				total--
			}
		}
		res.Analyses = append(res.Analyses, ka)
	}

	res.Completeness = completeness(done, total)
	res.CompletedAt = p.now()
	log.Info("step 3 complete",
		"own_scraped", res.OwnArticle != nil,
		"competitors_scraped", len(res.CompetitorArticles),
		"failures", len(res.Failures),
		"completeness", res.Completeness,
	)
	return res, nil
}

func (p *Pipeline) semanticInsight(ctx context.Context, ka *KeywordAnalysis, own *types.ArticleContent, comps []*types.ArticleContent, budget Budget) bool {
	if budget.Check("step3.semantic", StepThree) != nil {
		ka.SemanticReason = ReasonDeadline
		return false
	}
	ctx, cancel := budget.Context(ctx)
	defer cancel()
	in := p.semantic.Analyze(ctx, ka.Keyword, own, comps)
	ka.Semantic, ka.SemanticReason = in.Result, in.Reason
	return in.Result != nil
}

// Run executes the three steps back to back under one budget.
func (p *Pipeline) Run(ctx context.Context, in Step1Input, opts Options) (*Result, error) {
	s1, err := p.Step1(ctx, in, opts)
	if err != nil {
		return nil, err
	}
	s2, err := p.Step2(ctx, s1, opts)
	if err != nil {
		return nil, err
	}
	return p.Step3(ctx, s2, opts)
}

// budgetErr prefers the timeout when a call failed because the budget ran
// out underneath it.
func budgetErr(b Budget, stage, retryFrom string, err error) error {
	if terr := b.Check(stage, retryFrom); terr != nil {
		return terr
	}
	return err
}

func scrapeReason(err error) string {
	var sf *types.ScrapeFailedError
	if errors.As(err, &sf) && sf.Reason != "" {
		return sf.Reason
	}
	return "error"
}

func completeness(done, total int) float64 {
	if total == 0 {
		return 1
	}
	return math.Round(float64(done)/float64(total)*100) / 100
}
