package pipeline

import "fmt"

const maxSummaryRecommendations = 5

// Summary is the digest handed to the notification collaborator.
type Summary struct {
	RunID                    string   `json:"run_id"`
	Site                     string   `json:"site"`
	PageURL                  string   `json:"page_url"`
	HasDrop                  bool     `json:"has_drop"`
	DropAmount               float64  `json:"drop_amount"`
	BasePosition             float64  `json:"base_position"`
	CurrentPosition          float64  `json:"current_position"`
	DroppedKeywords          []string `json:"dropped_keywords"`
	TopKeyword               string   `json:"top_keyword"`
	Keywords                 []string `json:"keywords"`
	CompetitorCount          int      `json:"competitor_count"`
	WhyCompetitorsRankHigher string   `json:"why_competitors_rank_higher,omitempty"`
	Recommendations          []string `json:"recommendations"`
	AISEOScore               int      `json:"ai_seo_score"`
	Completeness             float64  `json:"completeness"`
	Partial                  bool     `json:"partial"`
}

// Summary condenses the result. Recommendations prefer the semantic
// additions of the top keyword, then the structural ones, deduplicated and
// capped.
func (r *Result) Summary() Summary {
	s := Summary{
		RunID:           r.RunID,
		Site:            r.Site,
		PageURL:         r.PageURL,
		DroppedKeywords: []string{},
		Keywords:        make([]string, 0, len(r.Keywords)),
		CompetitorCount: len(r.CompetitorArticles),
		Recommendations: []string{},
		AISEOScore:      r.AISEOScore,
		Completeness:    r.Completeness,
		Partial:         r.Partial(),
	}
	if d := r.RankDrop; d != nil {
		s.HasDrop = d.HasDrop
		s.DropAmount = d.DropAmount
		s.BasePosition = d.BaseAveragePosition
		s.CurrentPosition = d.CurrentAveragePosition
		for _, kw := range d.DroppedKeywords {
			s.DroppedKeywords = append(s.DroppedKeywords, kw.Keyword)
		}
	}
	for _, kw := range r.Keywords {
		s.Keywords = append(s.Keywords, kw.Keyword)
	}
	if len(s.Keywords) > 0 {
		s.TopKeyword = s.Keywords[0]
	}

	seen := make(map[string]bool)
	add := func(rec string) {
		if rec == "" || seen[rec] || len(s.Recommendations) >= maxSummaryRecommendations {
			return
		}
		seen[rec] = true
		s.Recommendations = append(s.Recommendations, rec)
	}
	for _, a := range r.Analyses {
		if a.Semantic == nil {
			continue
		}
		if s.WhyCompetitorsRankHigher == "" {
			s.WhyCompetitorsRankHigher = a.Semantic.WhyCompetitorsRankHigher
		}
		for _, ra := range a.Semantic.RecommendedAdditions {
			switch {
			case ra.Section != "" && ra.Reason != "":
				add(fmt.Sprintf("Add a section %q: %s", ra.Section, ra.Reason))
			case ra.Section != "":
				add(fmt.Sprintf("Add a section %q.", ra.Section))
			default:
				add(ra.Content)
			}
		}
	}
	for _, a := range r.Analyses {
		if a.Diff == nil {
			continue
		}
		for _, rec := range a.Diff.Recommendations {
			add(rec)
		}
	}
	for _, rec := range r.Suggestions {
		add(rec)
	}
	return s
}
