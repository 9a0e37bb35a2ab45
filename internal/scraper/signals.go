package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/RankWatch/internal/types"
)

const (
	// Content outside page chrome.
	xpathContentLists = `//ul[not(ancestor::nav or ancestor::footer or ancestor::header or ancestor::aside)]/li` +
		` | //ol[not(ancestor::nav or ancestor::footer or ancestor::header or ancestor::aside)]/li`
	xpathSubheadings = `//h2 | //h3 | //h4`
	xpathDetails     = `//details[summary]`
	xpathDataTables  = `//table[.//th or count(.//tr) >= 2]`
)

var (
	faqPhrases     = []string{"faq", "frequently asked", "common questions", "questions and answers", "q&a"}
	summaryPhrases = []string{"summary", "tl;dr", "tldr", "key takeaways", "takeaways", "at a glance", "in brief", "bottom line", "in short"}
	questionWords  = []string{"what", "how", "why", "when", "where", "which", "who", "can", "does", "do", "is", "are", "should", "will"}

	updatedText = regexp.MustCompile(`(?i)\b(last\s+)?(updated|modified|reviewed)(\s+on)?\s*:?\s*(\d{1,4}[./-]\d{1,2}|\w+\s+\d{1,2},?\s+\d{4}|\d{1,2}\s+\w+\s+\d{4})`)
	statPattern = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s?(?:%|percent\b|per cent\b)|\$\s?\d[\d,.]*|\b\d{1,3}(?:,\d{3})+\b|\b\d+(?:\.\d+)?\s?(?:million|billion|thousand|x)\b`)
	authorClass = regexp.MustCompile(`(?i)\b(author|byline|writer)\b`)
)

// detectSignals computes the structural content signals of a page. Lists and
// headings are read through XPath on root; meta tags, classes and text
// through goquery.
func detectSignals(doc *goquery.Document, root *html.Node, sd structuredData, article *types.ArticleContent) types.ContentSignals {
	subheadings := nodeTexts(root, xpathSubheadings)

	return types.ContentSignals{
		HasFAQ:              hasFAQ(root, sd, article.Headings),
		HasTables:           len(htmlquery.Find(root, xpathDataTables)) > 0,
		HasUpdateDate:       hasUpdateDate(doc, sd, article.MainText),
		HasAuthorInfo:       hasAuthor(doc, article.Author),
		HasStructuredData:   sd.present,
		HasDataOrStats:      len(statPattern.FindAllStringIndex(article.MainText, 2)) >= 2,
		HasQuestionHeadings: countQuestions(subheadings) > 0,
		HasBulletPoints:     len(htmlquery.Find(root, xpathContentLists)) >= 3,
		HasSummary:          hasSummary(doc, article.Headings, article.MainText),
	}
}

func hasFAQ(root *html.Node, sd structuredData, headings []types.Heading) bool {
	if sd.hasType("FAQPage") || sd.hasType("QAPage") {
		return true
	}
	for _, h := range headings {
		if containsAny(strings.ToLower(h.Text), faqPhrases) {
			return true
		}
	}
	// Accordion of questions.
	questions := 0
	for _, n := range htmlquery.Find(root, xpathDetails) {
		if isQuestion(htmlquery.InnerText(htmlquery.FindOne(n, "./summary"))) {
			questions++
		}
	}
	return questions >= 2
}

func hasUpdateDate(doc *goquery.Document, sd structuredData, text string) bool {
	if sd.dateModified != "" {
		return true
	}
	if metaProperty(doc, "article:modified_time") != "" || metaProperty(doc, "og:updated_time") != "" {
		return true
	}
	if doc.Find(`[itemprop="dateModified"], time.updated, time[class*=modified], time[class*=updated]`).Length() > 0 {
		return true
	}
	return updatedText.MatchString(text) || updatedText.MatchString(doc.Find("body").Text())
}

func hasAuthor(doc *goquery.Document, author string) bool {
	if author != "" {
		return true
	}
	if doc.Find(`a[rel="author"], link[rel="author"], [itemprop="author"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		if authorClass.MatchString(class) && strings.TrimSpace(s.Text()) != "" {
			found = true
		}
		return !found
	})
	return found
}

func hasSummary(doc *goquery.Document, headings []types.Heading, text string) bool {
	for _, h := range headings {
		if containsAny(strings.ToLower(h.Text), summaryPhrases) {
			return true
		}
	}
	if doc.Find(`[class*=summary], [class*=tldr], [class*=takeaway], [id*=summary], [id*=tldr]`).Length() > 0 {
		return true
	}
	lead := strings.ToLower(text)
	if len(lead) > 200 {
		lead = lead[:200]
	}
	return strings.HasPrefix(lead, "tl;dr") || strings.HasPrefix(lead, "summary") || strings.HasPrefix(lead, "in short")
}

func nodeTexts(root *html.Node, expr string) []string {
	var texts []string
	for _, n := range htmlquery.Find(root, expr) {
		if t := collapse(htmlquery.InnerText(n)); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

func countQuestions(texts []string) int {
	n := 0
	for _, t := range texts {
		if isQuestion(t) {
			n++
		}
	}
	return n
}

// isQuestion reports whether text reads as a question: it ends with "?" or
// opens with an interrogative word.
func isQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.HasSuffix(text, "?") {
		return true
	}
	first := strings.ToLower(strings.Fields(text)[0])
	first = strings.TrimRight(first, ",:")
	for _, w := range questionWords {
		if first == w {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
