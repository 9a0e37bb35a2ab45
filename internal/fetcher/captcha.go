package fetcher

import (
	"strings"
)

// BlockKind identifies why a page looks like an anti-bot interstitial.
type BlockKind string

const (
	BlockReCaptcha  BlockKind = "recaptcha"
	BlockHCaptcha   BlockKind = "hcaptcha"
	BlockTurnstile  BlockKind = "turnstile"
	BlockChallenge  BlockKind = "challenge"
	BlockRateNotice BlockKind = "unusual_traffic"
)

// blockPhrases are lowercase texts seen on interstitials from search
// engines and CDN bot walls.
var blockPhrases = []struct {
	kind   BlockKind
	phrase string
}{
	{BlockRateNotice, "unusual traffic from your computer network"},
	{BlockRateNotice, "our systems have detected unusual traffic"},
	{BlockRateNotice, "/sorry/index"},
	{BlockChallenge, "checking your browser before accessing"},
	{BlockChallenge, "cf-browser-verification"},
	{BlockChallenge, "cf-chl-"},
	{BlockChallenge, "please verify you are a human"},
	{BlockChallenge, "are you a robot"},
	{BlockChallenge, "access denied"},
	{BlockChallenge, "detected unusual activity"},
}

// DetectBlocked checks a page for CAPTCHA widgets and bot-wall text.
// It is a string-matching heuristic: a false negative is possible, and
// callers treat the signal as best-effort.
func DetectBlocked(html string) (BlockKind, bool) {
	if kind := detectCAPTCHA(html); kind != "" {
		return kind, true
	}

	lower := strings.ToLower(html)
	for _, bp := range blockPhrases {
		if strings.Contains(lower, bp.phrase) {
			return bp.kind, true
		}
	}
	return "", false
}

// detectCAPTCHA looks for an embedded CAPTCHA widget with a site key.
func detectCAPTCHA(html string) BlockKind {
	lower := strings.ToLower(html)
	siteKey := extractBetween(html, `data-sitekey="`, `"`)

	switch {
	case strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "recaptcha/api.js"):
		if siteKey != "" || strings.Contains(lower, "recaptcha/api.js") {
			return BlockReCaptcha
		}
	case strings.Contains(lower, "h-captcha") || strings.Contains(lower, "hcaptcha.com/1/api.js"):
		if siteKey != "" {
			return BlockHCaptcha
		}
	case strings.Contains(lower, "cf-turnstile"):
		if siteKey != "" {
			return BlockTurnstile
		}
	}
	return ""
}

// extractBetween extracts a substring between two delimiters.
func extractBetween(s, start, end string) string {
	idx := strings.Index(s, start)
	if idx < 0 {
		return ""
	}
	s = s[idx+len(start):]
	idx = strings.Index(s, end)
	if idx < 0 {
		return ""
	}
	return s[:idx]
}
