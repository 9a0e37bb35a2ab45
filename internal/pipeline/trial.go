package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IshaanNene/RankWatch/internal/aiseo"
	"github.com/IshaanNene/RankWatch/internal/diff"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// TrialResult is the unauthenticated quick check of one page, optionally
// compared against one other page.
type TrialResult struct {
	OwnURL       string                `json:"own_url"`
	Own          *types.ArticleContent `json:"own"`
	Checklist    aiseo.Checklist       `json:"checklist"`
	Score        int                   `json:"score"`
	Suggestions  []string              `json:"suggestions"`
	OtherURL     string                `json:"other_url,omitempty"`
	Other        *types.ArticleContent `json:"other,omitempty"`
	Diff         *diff.DiffResult      `json:"diff,omitempty"`
	OtherMissing string                `json:"other_missing,omitempty"`
}

// Trial scrapes ownURL and, when otherURL is set, races a second scrape
// against the configured timeout. A failed own scrape is returned as the
// error; a late or failed second article only drops the comparison.
func (p *Pipeline) Trial(ctx context.Context, ownURL, otherURL string) (*TrialResult, error) {
	type settled struct {
		article *types.ArticleContent
		err     error
	}

	var second chan settled
	if otherURL != "" {
		timeout := p.cfg.Trial.SecondFetchTimeout
		if timeout <= 0 {
			timeout = 8 * time.Second
		}
		otherCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		second = make(chan settled, 1)
		go func() {
			a, err := p.scraper.Scrape(otherCtx, otherURL, false)
			if err != nil && errors.Is(otherCtx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			second <- settled{a, err}
		}()
	}

	own, err := p.scraper.Scrape(ctx, ownURL, false)
	if err != nil {
		return nil, err
	}
	checklist := aiseo.Check(own)
	res := &TrialResult{
		OwnURL:      ownURL,
		Own:         own,
		Checklist:   checklist,
		Score:       checklist.Score(),
		Suggestions: checklist.Suggestions(),
		OtherURL:    otherURL,
	}
	if second == nil {
		return res, nil
	}

	s := <-second
	switch {
	case s.err == nil:
		res.Other = s.article
		res.Diff = p.analyzer.Analyze(own, []*types.ArticleContent{s.article})
	case errors.Is(s.err, context.DeadlineExceeded):
		res.OtherMissing = "timeout"
	default:
		res.OtherMissing = scrapeReason(s.err)
		p.logger.Warn("trial comparison skipped", "url", otherURL, "error", s.err)
	}
	return res, nil
}
