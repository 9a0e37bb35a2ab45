// Package serp discovers competitor pages for a keyword by querying search
// result providers, falling back between them when one is blocked or down.
package serp

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// Query is one search request.
type Query struct {
	Keyword string
	Locale  string
	Count   int
}

// Searcher is a search results provider.
type Searcher interface {
	// Name identifies the provider in logs, metrics and result sets.
	Name() string

	// Search returns organic results ordered by rank. A CAPTCHA or bot wall
	// is reported as *types.ProviderBlockedError.
	Search(ctx context.Context, q Query) ([]types.SearchResult, error)
}

// ParseLocale splits a locale into country and language codes. A valid
// BCP 47 language-region tag ("en-US", "ja-jp") is read as such; anything
// else is taken as country-language ("us-en").
func ParseLocale(locale string) (country, lang string) {
	parts := strings.FieldsFunc(locale, func(r rune) bool { return r == '-' || r == '_' })
	switch len(parts) {
	case 0:
		return "us", "en"
	case 1:
		return "us", strings.ToLower(parts[0])
	}
	if tag, err := language.Parse(parts[0] + "-" + parts[1]); err == nil {
		base, _ := tag.Base()
		if region, conf := tag.Region(); conf == language.Exact {
			return strings.ToLower(region.String()), base.String()
		}
	}
	return strings.ToLower(parts[0]), strings.ToLower(parts[1])
}

// isBlocked reports whether err is a provider block signal.
func isBlocked(err error) bool {
	var pb *types.ProviderBlockedError
	return errors.As(err, &pb)
}

// isRetryable reports whether err is a transient provider failure.
func isRetryable(err error) bool {
	var fe *types.FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}
