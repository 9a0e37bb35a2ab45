package scraper

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// boilerplateTags are removed before the largest-block fallback runs.
var boilerplateTags = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg", "form",
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[role=complementary]",
}, ", ")

// boilerplateClasses match by class or id substring. An element that wraps
// the article itself is kept even when it matches.
var boilerplateClasses = strings.Join([]string{
	"[class*=advert]", "[id*=advert]", "[class*=sponsor]",
	"[class*=share]", "[class*=social]", "[class*=comment]", "[id*=comment]",
	"[class*=cookie]", "[class*=newsletter]", "[class*=related]", "[class*=sidebar]",
	"[class*=breadcrumb]", "[class*=menu]",
}, ", ")

// blockCandidates are the containers scored by the largest-block heuristic.
const blockCandidates = "article, main, [role=main], section, div, td"

var stripPolicy = newStripPolicy()

func newStripPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

// Extract parses an HTML document into an ArticleContent. minChars is the
// readability result length below which the largest-block heuristic is
// tried as well; the longer of the two wins.
func Extract(pageURL string, body []byte, minChars int) (*types.ArticleContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	ld := extractJSONLD(doc)
	article := &types.ArticleContent{
		URL:         pageURL,
		Title:       extractTitle(doc),
		Description: firstNonEmpty(metaContent(doc, "description"), metaProperty(doc, "og:description")),
		Headings:    extractHeadings(doc),
	}

	var byline string
	article.MainText, byline = mainText(pageURL, body, minChars)
	article.WordCount = len(strings.Fields(article.MainText))
	article.Author = firstNonEmpty(metaContent(doc, "author"), ld.author, byline)
	article.Signals = detectSignals(doc, root, ld, article)
	return article, nil
}

func extractTitle(doc *goquery.Document) string {
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := collapse(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return collapse(metaProperty(doc, "og:title"))
}

func extractHeadings(doc *goquery.Document) []types.Heading {
	headings := []types.Heading{}
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		if text == "" {
			return
		}
		name := goquery.NodeName(s)
		headings = append(headings, types.Heading{Level: int(name[1] - '0'), Text: text})
	})
	return headings
}

// mainText returns the article body text and the readability byline.
func mainText(pageURL string, body []byte, minChars int) (string, string) {
	var text, byline string
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	if art, err := readability.FromReader(bytes.NewReader(body), parsed); err == nil {
		text = cleanText(art.TextContent)
		byline = collapse(art.Byline)
	}
	if len(text) >= minChars {
		return text, byline
	}

	if fallback := largestTextBlock(body); len(fallback) > len(text) {
		text = fallback
	}
	return text, byline
}

// largestTextBlock strips boilerplate from a fresh parse of raw and returns
// the text of the container whose direct paragraph-like children hold the
// most text.
func largestTextBlock(raw []byte) string {
	clone, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	body := clone.Find("body")
	body.Find(boilerplateTags).Remove()
	body.Find(boilerplateClasses).Each(func(_ int, s *goquery.Selection) {
		if s.Find("article, main, h1").Length() == 0 {
			s.Remove()
		}
	})

	var best *goquery.Selection
	bestScore := 0
	body.Find(blockCandidates).Each(func(_ int, s *goquery.Selection) {
		score := 0
		s.ChildrenFiltered("p, ul, ol, blockquote, pre, table, h2, h3, h4").Each(func(_ int, c *goquery.Selection) {
			score += len(collapse(c.Text()))
		})
		if score > bestScore {
			best, bestScore = s, score
		}
	})
	if best == nil {
		best = body
	}

	markup, err := best.Html()
	if err != nil {
		return collapse(best.Text())
	}
	return cleanText(markup)
}

// cleanText removes any residual markup and collapses whitespace.
func cleanText(s string) string {
	return collapse(html.UnescapeString(stripPolicy.Sanitize(s)))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[name="%s"]`, name)).Attr("content")
	return strings.TrimSpace(content)
}

func metaProperty(doc *goquery.Document, property string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[property="%s"]`, property)).Attr("content")
	return strings.TrimSpace(content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
