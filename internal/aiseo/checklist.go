// Package aiseo scores a page against the content signals AI search engines
// reward when choosing what to cite.
package aiseo

import (
	"fmt"
	"math"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// Issue is one on-page problem found alongside the signal checklist.
type Issue struct {
	Severity string `json:"severity"` // error, warning, info
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Checklist is the AI-search-optimization scan of one page.
type Checklist struct {
	URL string `json:"url"`
	types.ContentSignals
	Issues []Issue `json:"issues"`
}

var labels = map[types.Signal]string{
	types.SignalFAQ:              "FAQ section",
	types.SignalSummary:          "summary or key takeaways",
	types.SignalUpdateDate:       "visible update date",
	types.SignalAuthorInfo:       "author information",
	types.SignalDataOrStats:      "data and statistics",
	types.SignalStructuredData:   "structured data (JSON-LD)",
	types.SignalQuestionHeadings: "question-style headings",
	types.SignalBulletPoints:     "bullet point lists",
	types.SignalTables:           "comparison tables",
}

var suggestions = map[types.Signal]string{
	types.SignalFAQ:              "Add an FAQ section answering the questions searchers ask about this topic, and mark it up as FAQPage.",
	types.SignalSummary:          "Open with a short summary or key takeaways block that answers the query directly.",
	types.SignalUpdateDate:       "Show a \"last updated\" date and set dateModified in the page metadata.",
	types.SignalAuthorInfo:       "Add an author byline with credentials to signal expertise.",
	types.SignalDataOrStats:      "Back claims with concrete numbers, statistics or cited studies.",
	types.SignalStructuredData:   "Add JSON-LD structured data (Article, FAQPage or HowTo) describing the page.",
	types.SignalQuestionHeadings: "Phrase some subheadings as the questions readers search for.",
	types.SignalBulletPoints:     "Break long explanations into bullet point lists that are easy to quote.",
	types.SignalTables:           "Add a comparison table summarizing options, specs or prices.",
}

// Label returns a human-readable name for sig.
func Label(sig types.Signal) string {
	if l, ok := labels[sig]; ok {
		return l
	}
	return string(sig)
}

// Suggestion returns the improvement line for a missing sig.
func Suggestion(sig types.Signal) string {
	if s, ok := suggestions[sig]; ok {
		return s
	}
	return fmt.Sprintf("Add %s.", Label(sig))
}

// Check scans article. It makes no external calls.
func Check(article *types.ArticleContent) Checklist {
	if article == nil {
		return Checklist{Issues: []Issue{}}
	}
	return Checklist{
		URL:            article.URL,
		ContentSignals: article.Signals,
		Issues:         audit(article),
	}
}

// Missing lists the absent signals in reporting order.
func (c Checklist) Missing() []types.Signal {
	missing := []types.Signal{}
	for _, sig := range types.AllSignals {
		if !c.Has(sig) {
			missing = append(missing, sig)
		}
	}
	return missing
}

// Score is the share of signals present, 0-100.
func (c Checklist) Score() int {
	present := len(types.AllSignals) - len(c.Missing())
	return int(math.Round(float64(present) * 100 / float64(len(types.AllSignals))))
}

// Suggestions returns one improvement line per missing signal.
func (c Checklist) Suggestions() []string {
	missing := c.Missing()
	out := make([]string, 0, len(missing))
	for _, sig := range missing {
		out = append(out, Suggestion(sig))
	}
	return out
}

// audit flags basic on-page problems of the extracted article.
func audit(a *types.ArticleContent) []Issue {
	issues := []Issue{}

	switch n := len([]rune(a.Title)); {
	case n == 0:
		issues = append(issues, Issue{"error", "title", "Missing title tag"})
	case n > 60:
		issues = append(issues, Issue{"warning", "title", fmt.Sprintf("Title too long (%d chars, max 60)", n)})
	case n < 10:
		issues = append(issues, Issue{"warning", "title", "Title too short"})
	}

	switch n := len([]rune(a.Description)); {
	case n == 0:
		issues = append(issues, Issue{"warning", "description", "Missing meta description"})
	case n > 160:
		issues = append(issues, Issue{"warning", "description", fmt.Sprintf("Description too long (%d chars, max 160)", n)})
	}

	h1 := 0
	for _, h := range a.Headings {
		if h.Level == 1 {
			h1++
		}
	}
	switch {
	case h1 == 0:
		issues = append(issues, Issue{"error", "headings", "Missing H1 tag"})
	case h1 > 1:
		issues = append(issues, Issue{"warning", "headings", fmt.Sprintf("Multiple H1 tags (%d)", h1)})
	}

	if a.WordCount < 300 {
		issues = append(issues, Issue{"info", "content", fmt.Sprintf("Thin content (%d words)", a.WordCount)})
	}
	return issues
}
