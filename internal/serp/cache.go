package serp

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/IshaanNene/RankWatch/internal/types"
)

type cacheEntry struct {
	results  []types.SearchResult
	provider string
}

// Cache holds recent search results keyed by keyword, locale and count.
// Entries expire after the configured TTL. A nil *Cache is a valid no-op.
type Cache struct {
	lru *expirable.LRU[string, cacheEntry]
}

// NewCache creates a result cache. size <= 0 disables caching.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl)}
}

func cacheKey(q Query) string {
	return fmt.Sprintf("%s|%s|%d", strings.ToLower(strings.TrimSpace(q.Keyword)), strings.ToLower(q.Locale), q.Count)
}

// Get returns cached results for q.
func (c *Cache) Get(q Query) ([]types.SearchResult, string, bool) {
	if c == nil {
		return nil, "", false
	}
	e, ok := c.lru.Get(cacheKey(q))
	if !ok {
		return nil, "", false
	}
	return append([]types.SearchResult(nil), e.results...), e.provider, true
}

// Add stores results for q.
func (c *Cache) Add(q Query, results []types.SearchResult, provider string) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(q), cacheEntry{
		results:  append([]types.SearchResult(nil), results...),
		provider: provider,
	})
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry. Called on shutdown.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
