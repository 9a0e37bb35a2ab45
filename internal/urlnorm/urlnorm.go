// Package urlnorm canonicalizes page URLs so that different spellings of the
// same resource compare equal. It is used for own-rank matching in search
// results and for deduplicating competitor URLs across keywords.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Normalize returns a scheme-less canonical key for rawURL:
//   - lowercases the host and strips leading "www." labels
//   - removes ports 80 and 443 and the fragment
//   - sorts query parameters
//   - removes trailing slashes, including the root slash
//
// Inputs without a scheme are treated as https. Normalize is idempotent.
// Unparseable input is returned trimmed and lowercased.
func Normalize(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}

	host := strings.ToLower(u.Hostname())
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	// The key carries no scheme, so both default ports are dropped.
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(host)
	b.WriteString(path)
	if q := sortedQuery(u); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// Same reports whether a and b denote the same resource after normalization.
func Same(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}

// Host returns the normalized host of rawURL, without "www.".
func Host(rawURL string) string {
	n := Normalize(rawURL)
	if i := strings.IndexAny(n, "/?"); i >= 0 {
		n = n[:i]
	}
	return n
}

func sortedQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	params := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sorted []string
	for _, k := range keys {
		vals := params[k]
		sort.Strings(vals)
		for _, v := range vals {
			sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(sorted, "&")
}

// Set tracks normalized URLs and preserves first-seen order.
// It is safe for concurrent use.
type Set struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewSet creates a Set with the given estimated capacity.
func NewSet(estimatedCapacity int) *Set {
	return &Set{
		seen: make(map[string]struct{}, estimatedCapacity),
	}
}

// Add records rawURL and reports whether it was not seen before.
// The original spelling of the first occurrence is kept.
func (s *Set) Add(rawURL string) bool {
	key := Normalize(rawURL)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, rawURL)
	return true
}

// Contains reports whether rawURL (after normalization) is in the set.
func (s *Set) Contains(rawURL string) bool {
	key := Normalize(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Len returns the number of unique URLs.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// URLs returns the unique URLs in first-seen order.
func (s *Set) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
