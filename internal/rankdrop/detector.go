// Package rankdrop decides whether a page's search ranking has meaningfully
// declined by comparing a recent window against the window before it.
package rankdrop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/RankWatch/internal/gsc"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// freshnessSlack is how many extra days are requested beyond the two
// windows so the current window can anchor on the latest day with data.
const freshnessSlack = 3

// Options are the caller-supplied detection policy knobs.
type Options struct {
	// ComparisonDays is the length of both the current and base windows.
	ComparisonDays int `json:"comparison_days"`

	// DropThreshold is the minimum average position loss that counts as a drop.
	DropThreshold float64 `json:"drop_threshold"`

	// KeywordDropThreshold is the rank a keyword must cross (from better to
	// equal-or-worse) to count as having fallen off a results page.
	KeywordDropThreshold float64 `json:"keyword_drop_threshold"`

	// KeywordLimit caps the per-window keyword rows fetched. Zero uses the
	// provider default.
	KeywordLimit int `json:"keyword_limit,omitempty"`
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.ComparisonDays < 1 {
		return fmt.Errorf("comparison days must be >= 1, got %d", o.ComparisonDays)
	}
	if o.DropThreshold < 0 {
		return fmt.Errorf("drop threshold must be >= 0, got %g", o.DropThreshold)
	}
	if o.KeywordDropThreshold < 0 {
		return fmt.Errorf("keyword drop threshold must be >= 0, got %g", o.KeywordDropThreshold)
	}
	return nil
}

// Detector runs rank-drop detection against a rank series provider.
type Detector struct {
	provider gsc.Provider
	lagDays  int
	now      func() time.Time
	logger   *slog.Logger
}

// DetectorOption configures the Detector.
type DetectorOption func(*Detector)

// WithClock overrides the time source used to pick the query span.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector. lagDays is the provider's data freshness lag.
func NewDetector(provider gsc.Provider, lagDays int, logger *slog.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		provider: provider,
		lagDays:  lagDays,
		now:      time.Now,
		logger:   logger.With("component", "rankdrop"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Windows are the anchored date ranges used for one comparison.
type Windows struct {
	Base    gsc.Range
	Current gsc.Range
}

// Detect fetches the page's series and keyword metrics and evaluates them.
// A failing or empty upstream series is returned as *types.DataUnavailableError.
func (d *Detector) Detect(ctx context.Context, site, page string, opts Options) (*types.RankDropResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := opts.ComparisonDays
	span := gsc.Window(d.now(), d.lagDays, 2*n+freshnessSlack)

	series, err := d.provider.DailySeries(ctx, site, page, span)
	if err != nil {
		return nil, err
	}

	win, ok := AnchorWindows(series, n)
	if !ok {
		return nil, &types.DataUnavailableError{Stage: "rankdrop", Site: site, Page: page, Err: types.ErrNoData}
	}

	currentKW, err := d.provider.KeywordMetrics(ctx, site, page, win.Current, opts.KeywordLimit)
	if err != nil {
		return nil, err
	}
	baseKW, err := d.provider.KeywordMetrics(ctx, site, page, win.Base, opts.KeywordLimit)
	if err != nil {
		return nil, err
	}

	result := Evaluate(series, win, baseKW, currentKW, opts)
	result.Site = site
	result.Page = page
	// The latest day with data is older than the provider lag explains.
	if win.Current.End.Before(span.End.AddDate(0, 0, -freshnessSlack)) {
		result.InsufficientCurrent = true
	}

	d.logger.Info("rank drop evaluated",
		"site", site,
		"page", page,
		"base", result.BaseAveragePosition,
		"current", result.CurrentAveragePosition,
		"drop", result.DropAmount,
		"dropped_keywords", len(result.DroppedKeywords),
		"has_drop", result.HasDrop,
		"insufficient_baseline", result.InsufficientBaseline,
	)
	return result, nil
}

// AnchorWindows anchors the current window at the latest day with
// impressions and places the base window immediately before it.
// It reports false when no day in series has impressions.
func AnchorWindows(series []types.TimeSeriesPoint, days int) (Windows, bool) {
	var anchor time.Time
	for _, p := range series {
		if p.Impressions <= 0 {
			continue
		}
		t := p.Time()
		if t.IsZero() {
			continue
		}
		if t.After(anchor) {
			anchor = t
		}
	}
	if anchor.IsZero() {
		return Windows{}, false
	}

	current := gsc.Range{Start: anchor.AddDate(0, 0, -(days - 1)), End: anchor}
	base := gsc.Range{Start: current.Start.AddDate(0, 0, -days), End: current.Start.AddDate(0, 0, -1)}
	return Windows{Base: base, Current: current}, true
}

// Evaluate computes the comparison for already-fetched data. Days with zero
// impressions are excluded from both means.
func Evaluate(series []types.TimeSeriesPoint, win Windows, baseKW, currentKW []types.KeywordMetric, opts Options) *types.RankDropResult {
	result := &types.RankDropResult{
		BaseStart:       win.Base.StartDate(),
		BaseEnd:         win.Base.EndDate(),
		CurrentStart:    win.Current.StartDate(),
		CurrentEnd:      win.Current.EndDate(),
		DroppedKeywords: []types.DroppedKeyword{},
	}

	baseMean, baseN := meanPosition(series, win.Base)
	currentMean, currentN := meanPosition(series, win.Current)
	result.BaseAveragePosition = baseMean
	result.CurrentAveragePosition = currentMean

	if currentN == 0 {
		result.InsufficientCurrent = true
	}
	if baseN == 0 {
		result.InsufficientBaseline = true
		return result
	}
	if currentN == 0 {
		return result
	}

	result.DropAmount = currentMean - baseMean
	result.DroppedKeywords = DroppedKeywords(baseKW, currentKW, opts)

	fell := false
	for _, kw := range result.DroppedKeywords {
		if kw.FellPastThreshold {
			fell = true
			break
		}
	}
	result.HasDrop = result.DropAmount >= opts.DropThreshold || fell
	return result
}

// DroppedKeywords lists keywords present in both windows whose position
// worsened by at least DropThreshold or crossed KeywordDropThreshold.
// Output follows the order of current.
func DroppedKeywords(base, current []types.KeywordMetric, opts Options) []types.DroppedKeyword {
	basePos := make(map[string]float64, len(base))
	for _, m := range base {
		if m.Impressions > 0 {
			basePos[m.Keyword] = m.Position
		}
	}

	dropped := []types.DroppedKeyword{}
	for _, m := range current {
		prior, ok := basePos[m.Keyword]
		if !ok || m.Impressions <= 0 {
			continue
		}
		delta := m.Position - prior
		crossed := opts.KeywordDropThreshold > 0 &&
			prior < opts.KeywordDropThreshold &&
			m.Position >= opts.KeywordDropThreshold
		worsened := delta > 0 && delta >= opts.DropThreshold
		if !crossed && !worsened {
			continue
		}
		dropped = append(dropped, types.DroppedKeyword{
			KeywordMetric:     m,
			BasePosition:      prior,
			FellPastThreshold: crossed,
		})
	}
	return dropped
}

func meanPosition(series []types.TimeSeriesPoint, r gsc.Range) (float64, int) {
	var sum float64
	var n int
	for _, p := range series {
		if p.Impressions <= 0 || !r.Contains(p.Date) {
			continue
		}
		sum += p.Position
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
