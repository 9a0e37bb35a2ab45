package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/fetcher"
	"github.com/IshaanNene/RankWatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const richArticle = `<!DOCTYPE html>
<html><head>
<title>How to Brew Cold Coffee at Home</title>
<meta name="description" content="A complete cold brew guide.">
<meta name="author" content="Dana Roast">
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"Article","headline":"Cold brew","dateModified":"2024-03-03","author":{"@type":"Person","name":"Dana Roast"}},
  {"@type":"FAQPage","mainEntity":[]}
]}
</script>
</head><body>
<nav><ul><li><a href="/">Home</a></li><li><a href="/about">About</a></li><li><a href="/shop">Shop</a></li></ul></nav>
<article>
<h1>How to Brew Cold Coffee at Home</h1>
<p class="byline">By Dana Roast. Last updated: March 3, 2024</p>
<h2>Key Takeaways</h2>
<ul><li>Use a coarse grind for an even extraction.</li><li>Steep for twelve to eighteen hours.</li><li>Dilute the concentrate before serving.</li></ul>
<p>Cold brew coffee is made by steeping coarsely ground beans in cold water for many hours. The slow extraction produces a smooth, low acidity concentrate that keeps in the fridge for up to two weeks and works well over ice or mixed with milk.</p>
<p>In our tasting panel 42% of participants preferred cold brew over iced drip coffee, and a home setup costs under $1,200 less per year than buying a daily cafe drink. Around 3,500 readers tried the recipe last summer.</p>
<h2>How does the ratio affect strength?</h2>
<p>A one to four ratio of coffee to water gives a strong concentrate. A one to eight ratio is ready to drink without dilution, which suits people who prefer a lighter cup in the morning.</p>
<table><tr><th>Ratio</th><th>Strength</th></tr><tr><td>1:4</td><td>Concentrate</td></tr><tr><td>1:8</td><td>Ready to drink</td></tr></table>
<h2>Frequently Asked Questions</h2>
<details><summary>Can I use regular ground coffee?</summary><p>Yes, but the result is often muddy.</p></details>
<details><summary>How long does it keep?</summary><p>About two weeks in the fridge.</p></details>
</article>
<footer><p>Copyright Coffee Corner. All rights reserved.</p></footer>
</body></html>`

const plainArticle = `<!DOCTYPE html>
<html><head><title>Notes on Gardening</title></head><body>
<div class="content">
<h2>Background</h2>
<p>Gardening rewards patience more than any particular tool or technique. The soil improves slowly as organic matter is added season after season, and plants respond to that care in ways that are hard to measure but easy to see.</p>
<h2>Details</h2>
<p>Watering in the early morning keeps leaves dry through the heat of the day and lowers the chance of mildew. Mulch helps the ground hold moisture and keeps roots cool while weeds struggle to find light.</p>
</div>
</body></html>`

const blockedPage = `<html><head><title>Just a moment</title></head><body>
<p>Please verify you are a human.</p>
<div class="g-recaptcha" data-sitekey="6Lc-abc"></div>
</body></html>`

func TestExtractRichArticle(t *testing.T) {
	article, err := Extract("https://coffee.example/cold-brew", []byte(richArticle), 200)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if article.Title != "How to Brew Cold Coffee at Home" {
		t.Errorf("Title = %q", article.Title)
	}
	if article.Description != "A complete cold brew guide." {
		t.Errorf("Description = %q", article.Description)
	}
	if article.Author != "Dana Roast" {
		t.Errorf("Author = %q", article.Author)
	}
	if !strings.Contains(article.MainText, "steeping coarsely ground beans") {
		t.Errorf("MainText missing body text: %q", article.MainText)
	}
	if article.WordCount != len(strings.Fields(article.MainText)) {
		t.Errorf("WordCount = %d", article.WordCount)
	}

	if len(article.Headings) != 4 {
		t.Fatalf("Headings = %+v", article.Headings)
	}
	if article.Headings[0].Level != 1 || article.Headings[2].Text != "How does the ratio affect strength?" {
		t.Errorf("Headings order = %+v", article.Headings)
	}

	want := types.ContentSignals{
		HasFAQ:              true,
		HasTables:           true,
		HasUpdateDate:       true,
		HasAuthorInfo:       true,
		HasStructuredData:   true,
		HasDataOrStats:      true,
		HasQuestionHeadings: true,
		HasBulletPoints:     true,
		HasSummary:          true,
	}
	if article.Signals != want {
		t.Errorf("Signals = %+v, want all true", article.Signals)
	}
}

func TestExtractPlainArticle(t *testing.T) {
	article, err := Extract("https://garden.example/notes", []byte(plainArticle), 200)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if article.Title != "Notes on Gardening" {
		t.Errorf("Title = %q", article.Title)
	}
	if !strings.Contains(article.MainText, "Mulch helps the ground hold moisture") {
		t.Errorf("MainText = %q", article.MainText)
	}
	if article.Signals != (types.ContentSignals{}) {
		t.Errorf("Signals = %+v, want none", article.Signals)
	}
}

func TestExtractTitleFallsBackToH1(t *testing.T) {
	page := `<html><body><h1>  Only   Heading </h1><p>text</p></body></html>`
	article, err := Extract("https://x.example/", []byte(page), 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if article.Title != "Only Heading" {
		t.Errorf("Title = %q", article.Title)
	}
}

func TestLargestTextBlockSkipsChrome(t *testing.T) {
	page := `<html><body class="single has-sidebar">
	<header><p>Site banner with a long marketing tagline that goes on and on and on for quite a while.</p></header>
	<div class="sidebar"><p>Popular posts and a very long list of other articles to read next on this site.</p></div>
	<div class="post"><p>The main story begins here.</p><p>It continues with a second paragraph of real content.</p><p>And ends with a third.</p></div>
	<div class="comments"><p>Great post!</p></div>
	<footer><p>Footer links</p></footer>
	</body></html>`

	text := largestTextBlock([]byte(page))
	if !strings.Contains(text, "The main story begins here.") || !strings.Contains(text, "And ends with a third.") {
		t.Errorf("text = %q", text)
	}
	for _, chrome := range []string{"Site banner", "Popular posts", "Great post", "Footer links"} {
		if strings.Contains(text, chrome) {
			t.Errorf("text contains %q: %q", chrome, text)
		}
	}
}

func TestCleanText(t *testing.T) {
	got := cleanText("<p>Fish &amp; chips</p><p>and <b>peas</b></p>")
	if got != "Fish & chips and peas" {
		t.Errorf("cleanText = %q", got)
	}
}

func TestIsQuestion(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"What is cold brew", true},
		{"Is it safe?", true},
		{"Brewing ratios?", true},
		{"Brewing ratios", false},
		{"", false},
		{"Whatever works", false},
	}
	for _, tt := range tests {
		if got := isQuestion(tt.text); got != tt.want {
			t.Errorf("isQuestion(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

// fakeFetcher serves canned pages keyed by URL.
type fakeFetcher struct {
	mode   string
	pages  map[string]fakePage
	delay  time.Duration
	closed atomic.Bool

	mu       sync.Mutex
	inflight int
	peak     int
}

type fakePage struct {
	status      int
	body        string
	contentType string
	err         error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	page, ok := f.pages[req.URLString()]
	if !ok {
		return nil, &types.FetchError{URL: req.URLString(), Err: errors.New("connection refused")}
	}
	if page.err != nil {
		return nil, page.err
	}
	if f.mode == types.ModeBrowser {
		return types.NewBrowserResponse(req, page.status, []byte(page.body), req.URLString(), 0), nil
	}
	ct := page.contentType
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	return &types.Response{
		StatusCode:  page.status,
		Body:        []byte(page.body),
		Request:     req,
		ContentType: ct,
		FinalURL:    req.URLString(),
		FetchedAt:   time.Now(),
	}, nil
}

func (f *fakeFetcher) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeFetcher) Type() string { return f.mode }

func newTestScraper(httpF, browserF *fakeFetcher, concurrency int) *Scraper {
	cfg := config.DefaultConfig().Scraper
	cfg.Concurrency = concurrency
	var b fetcher.Fetcher
	if browserF != nil {
		b = browserF
	}
	return NewScraper(httpF, b, &cfg, testLogger)
}

func TestScrapeFailures(t *testing.T) {
	httpF := &fakeFetcher{mode: types.ModeHTTP, pages: map[string]fakePage{
		"https://a.example/missing": {status: 404, body: "<html><body>not found</body></html>"},
		"https://a.example/blocked": {status: 200, body: blockedPage},
		"https://a.example/empty":   {status: 200, body: "<html><body></body></html>"},
		"https://a.example/pdf":     {status: 200, body: "%PDF-1.4", contentType: "application/pdf"},
		"https://a.example/limited": {err: &types.FetchError{URL: "https://a.example/limited", StatusCode: 429, Retryable: true, Err: errors.New("HTTP 429")}},
		"https://a.example/broken":  {err: &types.FetchError{URL: "https://a.example/broken", StatusCode: 503, Retryable: true, Err: errors.New("HTTP 503")}},
	}}
	s := newTestScraper(httpF, nil, 2)
	ctx := context.Background()

	tests := []struct {
		url        string
		useBrowser bool
		reason     string
		is         error
	}{
		{"not a url", false, ReasonInvalidURL, types.ErrInvalidURL},
		{"https://a.example/down", false, ReasonNetwork, nil},
		{"https://a.example/missing", false, ReasonHTTPStatus, nil},
		{"https://a.example/limited", false, ReasonHTTPStatus, nil},
		{"https://a.example/broken", false, ReasonHTTPStatus, nil},
		{"https://a.example/blocked", false, ReasonBlocked, types.ErrBlocked},
		{"https://a.example/empty", false, ReasonEmptyContent, types.ErrEmptyContent},
		{"https://a.example/pdf", false, ReasonNotHTML, nil},
		{"https://a.example/page", true, ReasonRenderUnavailable, types.ErrRenderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			article, err := s.Scrape(ctx, tt.url, tt.useBrowser)
			if article != nil {
				t.Errorf("article = %+v, want nil", article)
			}
			var sf *types.ScrapeFailedError
			if !errors.As(err, &sf) {
				t.Fatalf("err = %v, want ScrapeFailedError", err)
			}
			if sf.URL != tt.url || sf.Reason != tt.reason {
				t.Errorf("URL=%q Reason=%q, want %q %q", sf.URL, sf.Reason, tt.url, tt.reason)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want wrapping %v", err, tt.is)
			}
		})
	}
}

func TestScrapeBrowserMode(t *testing.T) {
	httpF := &fakeFetcher{mode: types.ModeHTTP, pages: map[string]fakePage{}}
	browserF := &fakeFetcher{mode: types.ModeBrowser, pages: map[string]fakePage{
		"https://spa.example/post": {status: 200, body: plainArticle},
	}}
	s := newTestScraper(httpF, browserF, 1)

	article, err := s.Scrape(context.Background(), "https://spa.example/post", true)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if !article.Rendered {
		t.Error("browser scrape should be marked rendered")
	}
	if article.URL != "https://spa.example/post" || article.FetchedAt.IsZero() {
		t.Errorf("URL=%q FetchedAt=%v", article.URL, article.FetchedAt)
	}

	if _, err := s.Scrape(context.Background(), "https://spa.example/post", false); err == nil {
		t.Error("http mode should not use the browser fetcher")
	}
}

func TestScrapeManySettlesInOrder(t *testing.T) {
	pages := map[string]fakePage{}
	var urls []string
	for i := 0; i < 6; i++ {
		u := fmt.Sprintf("https://c%d.example/post", i)
		urls = append(urls, u)
		if i%3 == 1 {
			pages[u] = fakePage{status: 500, body: "oops"}
			continue
		}
		pages[u] = fakePage{status: 200, body: plainArticle}
	}
	httpF := &fakeFetcher{mode: types.ModeHTTP, pages: pages, delay: 10 * time.Millisecond}
	s := newTestScraper(httpF, nil, 2)

	outcomes := s.ScrapeMany(context.Background(), urls, false)
	if len(outcomes) != len(urls) {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.URL != urls[i] {
			t.Errorf("outcomes[%d].URL = %q, want %q", i, o.URL, urls[i])
		}
		failed := i%3 == 1
		if failed && (o.Err == nil || o.Article != nil) {
			t.Errorf("outcomes[%d] should have failed: %+v", i, o)
		}
		if !failed && (o.Err != nil || o.Article == nil) {
			t.Errorf("outcomes[%d] should have succeeded: %v", i, o.Err)
		}
	}
	if httpF.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", httpF.peak)
	}
}

func TestScrapeManyCanceled(t *testing.T) {
	httpF := &fakeFetcher{mode: types.ModeHTTP, pages: map[string]fakePage{}}
	s := newTestScraper(httpF, nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, o := range s.ScrapeMany(ctx, []string{"https://a.example", "https://b.example"}, false) {
		var sf *types.ScrapeFailedError
		if !errors.As(o.Err, &sf) || sf.Reason != ReasonCanceled {
			t.Errorf("%s: err = %v, want canceled", o.URL, o.Err)
		}
	}
}

func TestScraperClose(t *testing.T) {
	httpF := &fakeFetcher{mode: types.ModeHTTP}
	browserF := &fakeFetcher{mode: types.ModeBrowser}
	s := newTestScraper(httpF, browserF, 1)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !httpF.closed.Load() || !browserF.closed.Load() {
		t.Error("Close should release both fetchers")
	}
}

func TestParseRobots(t *testing.T) {
	content := `
# comment
User-agent: Googlebot
Disallow: /

User-agent: rankwatch
User-agent: otherbot
Disallow: /private/
Allow: /private/open

User-agent: *
Disallow: /*.pdf$
`
	rules := parseRobots(content, "rankwatch")
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/blog/post", true},
		{"/private/secret", false},
		{"/private/open/page", true},
		{"/files/guide.pdf", false},
		{"/files/guide.pdf.html", true},
	}
	for _, tt := range tests {
		if got := rules.allows(tt.path); got != tt.want {
			t.Errorf("allows(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestMatchRobotsPattern(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"/admin", "/admin/users", true},
		{"/admin$", "/admin/users", false},
		{"/admin$", "/admin", true},
		{"/*/edit", "/posts/edit", true},
		{"/*/edit", "/posts/view", false},
		{"/a*b*c", "/a-x-b-y-c-z", true},
		{"", "/anything", false},
	}
	for _, tt := range tests {
		if got := matchRobotsPattern(tt.pattern, tt.path); got != tt.want {
			t.Errorf("match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestScrapeRespectsRobots(t *testing.T) {
	httpF := &fakeFetcher{mode: types.ModeHTTP, pages: map[string]fakePage{
		"https://shop.example/robots.txt": {status: 200, body: "User-agent: *\nDisallow: /checkout", contentType: "text/plain"},
		"https://shop.example/checkout":   {status: 200, body: richArticle},
		"https://shop.example/guide":      {status: 200, body: richArticle},
		"https://norobots.example/guide":  {status: 200, body: richArticle},
	}}
	cfg := config.DefaultConfig().Scraper
	s := NewScraper(httpF, nil, &cfg, testLogger,
		WithRobots(NewRobots(httpF, "RankWatch", time.Hour, testLogger)))

	ctx := context.Background()
	_, err := s.Scrape(ctx, "https://shop.example/checkout", false)
	var sfe *types.ScrapeFailedError
	if !errors.As(err, &sfe) || sfe.Reason != ReasonRobots {
		t.Fatalf("err = %v, want %s", err, ReasonRobots)
	}
	if _, err := s.Scrape(ctx, "https://shop.example/guide", false); err != nil {
		t.Errorf("allowed page: %v", err)
	}
	// A missing robots.txt allows everything.
	if _, err := s.Scrape(ctx, "https://norobots.example/guide", false); err != nil {
		t.Errorf("no robots.txt: %v", err)
	}
}
