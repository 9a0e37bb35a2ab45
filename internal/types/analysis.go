package types

import "time"

// DateLayout is the date format used by the rank series provider.
const DateLayout = "2006-01-02"

// TimeSeriesPoint is one day of page-level search performance.
type TimeSeriesPoint struct {
	Date        string  `json:"date"`
	Position    float64 `json:"position"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
}

// Time parses the point's date. Invalid dates return the zero time.
func (p TimeSeriesPoint) Time() time.Time {
	t, err := time.Parse(DateLayout, p.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// KeywordMetric is one query's performance for one page over a window.
type KeywordMetric struct {
	Keyword     string  `json:"keyword"`
	Position    float64 `json:"position"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
}

// PrioritizedKeyword is a keyword selected for competitor analysis.
// Slices of PrioritizedKeyword are ordered highest priority first.
type PrioritizedKeyword struct {
	Keyword     string  `json:"keyword"`
	Priority    float64 `json:"priority"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Position    float64 `json:"position"`
	Manual      bool    `json:"manual,omitempty"`
}

// SearchResult is one organic result for a keyword at query time.
type SearchResult struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// CompetitorResultSet holds the competitors found for one keyword.
// OwnPosition is nil when the monitored page is not within the results
// considered.
type CompetitorResultSet struct {
	Keyword     string         `json:"keyword"`
	Competitors []SearchResult `json:"competitors"`
	OwnPosition *int           `json:"own_position"`
	Provider    string         `json:"provider,omitempty"`
	Cached      bool           `json:"cached,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Heading is one h1-h6 element in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ContentSignals are the structural signals detected on a page.
type ContentSignals struct {
	HasFAQ              bool `json:"has_faq"`
	HasTables           bool `json:"has_tables"`
	HasUpdateDate       bool `json:"has_update_date"`
	HasAuthorInfo       bool `json:"has_author_info"`
	HasStructuredData   bool `json:"has_structured_data"`
	HasDataOrStats      bool `json:"has_data_or_stats"`
	HasQuestionHeadings bool `json:"has_question_headings"`
	HasBulletPoints     bool `json:"has_bullet_points"`
	HasSummary          bool `json:"has_summary"`
}

// Signal identifies one ContentSignals field.
type Signal string

const (
	SignalFAQ              Signal = "faq"
	SignalSummary          Signal = "summary"
	SignalUpdateDate       Signal = "update_date"
	SignalAuthorInfo       Signal = "author_info"
	SignalDataOrStats      Signal = "data_or_stats"
	SignalStructuredData   Signal = "structured_data"
	SignalQuestionHeadings Signal = "question_headings"
	SignalBulletPoints     Signal = "bullet_points"
	SignalTables           Signal = "tables"
)

// AllSignals lists every signal in reporting order.
var AllSignals = []Signal{
	SignalFAQ,
	SignalSummary,
	SignalUpdateDate,
	SignalAuthorInfo,
	SignalDataOrStats,
	SignalStructuredData,
	SignalQuestionHeadings,
	SignalBulletPoints,
	SignalTables,
}

// Has reports whether the signal is present.
func (s ContentSignals) Has(sig Signal) bool {
	switch sig {
	case SignalFAQ:
		return s.HasFAQ
	case SignalSummary:
		return s.HasSummary
	case SignalUpdateDate:
		return s.HasUpdateDate
	case SignalAuthorInfo:
		return s.HasAuthorInfo
	case SignalDataOrStats:
		return s.HasDataOrStats
	case SignalStructuredData:
		return s.HasStructuredData
	case SignalQuestionHeadings:
		return s.HasQuestionHeadings
	case SignalBulletPoints:
		return s.HasBulletPoints
	case SignalTables:
		return s.HasTables
	}
	return false
}

// ArticleContent is the extracted content of a single page.
type ArticleContent struct {
	URL         string         `json:"url"`
	FinalURL    string         `json:"final_url,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	MainText    string         `json:"main_text"`
	Headings    []Heading      `json:"headings"`
	WordCount   int            `json:"word_count"`
	Signals     ContentSignals `json:"signals"`
	Rendered    bool           `json:"rendered,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// DroppedKeyword is a keyword whose position worsened between windows.
type DroppedKeyword struct {
	KeywordMetric
	BasePosition      float64 `json:"base_position"`
	FellPastThreshold bool    `json:"fell_past_threshold"`
}

// RankDropResult compares a page's current window against its baseline.
// DropAmount is CurrentAveragePosition - BaseAveragePosition, so a positive
// value is the number of positions lost.
type RankDropResult struct {
	Site                   string           `json:"site"`
	Page                   string           `json:"page"`
	BaseStart              string           `json:"base_start,omitempty"`
	BaseEnd                string           `json:"base_end,omitempty"`
	CurrentStart           string           `json:"current_start,omitempty"`
	CurrentEnd             string           `json:"current_end,omitempty"`
	BaseAveragePosition    float64          `json:"base_average_position"`
	CurrentAveragePosition float64          `json:"current_average_position"`
	DropAmount             float64          `json:"drop_amount"`
	DroppedKeywords        []DroppedKeyword `json:"dropped_keywords"`
	HasDrop                bool             `json:"has_drop"`
	InsufficientBaseline   bool             `json:"insufficient_baseline,omitempty"`
	InsufficientCurrent    bool             `json:"insufficient_current,omitempty"`
}

// RecommendedAddition is one section the LLM suggests adding.
type RecommendedAddition struct {
	Section string `json:"section"`
	Reason  string `json:"reason"`
	Content string `json:"content"`
}

// SemanticDiffResult is the LLM explanation of content gaps.
type SemanticDiffResult struct {
	WhyCompetitorsRankHigher string                `json:"why_competitors_rank_higher"`
	MissingContent           []string              `json:"missing_content"`
	RecommendedAdditions     []RecommendedAddition `json:"recommended_additions"`
}
