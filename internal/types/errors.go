package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout           = errors.New("execution budget exhausted")
	ErrMaxRetries        = errors.New("max retries exceeded")
	ErrBlocked           = errors.New("provider returned a captcha or block page")
	ErrEmptyContent      = errors.New("no main content extracted")
	ErrInvalidURL        = errors.New("invalid URL")
	ErrNoData            = errors.New("no time-series data in range")
	ErrNoKeywords        = errors.New("no keywords with impressions in window")
	ErrNoProviders       = errors.New("no search providers configured")
	ErrRenderUnavailable = errors.New("browser rendering not configured")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// DataUnavailableError reports that the rank-series provider could not supply
// the data a stage needs. It is not retried automatically.
type DataUnavailableError struct {
	Stage string
	Site  string
	Page  string
	Err   error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable at %s for %s%s: %v", e.Stage, e.Site, e.Page, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// ProviderBlockedError is returned by a search provider that answered with a
// CAPTCHA or anti-bot page. The same provider must not be retried.
type ProviderBlockedError struct {
	Provider string
	Keyword  string
	Signal   string
}

func (e *ProviderBlockedError) Error() string {
	return fmt.Sprintf("search provider %s blocked for %q (%s)", e.Provider, e.Keyword, e.Signal)
}

func (e *ProviderBlockedError) Unwrap() error { return ErrBlocked }

// ScrapeFailedError is a per-URL scrape failure.
type ScrapeFailedError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ScrapeFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scrape failed for %s (%s): %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("scrape failed for %s (%s)", e.URL, e.Reason)
}

func (e *ScrapeFailedError) Unwrap() error { return e.Err }

// SemanticUnavailableError describes why no semantic insight was produced.
// It is surfaced as a reason string, never returned from the pipeline.
type SemanticUnavailableError struct {
	Keyword string
	Err     error
}

func (e *SemanticUnavailableError) Error() string {
	return fmt.Sprintf("semantic analysis unavailable for %q: %v", e.Keyword, e.Err)
}

func (e *SemanticUnavailableError) Unwrap() error { return e.Err }

// TimeoutError reports that a step stopped before the platform deadline.
// RetryFrom names the step a caller should resume from.
type TimeoutError struct {
	Stage     string
	RetryFrom string
	Remaining time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout at %s: retry from %s", e.Stage, e.RetryFrom)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// SchemaError is returned when step state fails boundary validation.
type SchemaError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s state: %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s state: %s", e.Kind, e.Reason)
}

// SearchUnavailableError reports that every keyword failed competitor
// discovery because no provider could answer.
type SearchUnavailableError struct {
	Keywords []string
	Errs     []error
}

func (e *SearchUnavailableError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("search unavailable for %d keyword(s): %s", len(e.Keywords), strings.Join(msgs, "; "))
}

func (e *SearchUnavailableError) Unwrap() []error { return e.Errs }

// StorageError wraps errors that occur while persisting results.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
