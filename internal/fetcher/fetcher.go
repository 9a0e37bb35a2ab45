// Package fetcher retrieves single pages over plain HTTP or through a
// headless browser.
package fetcher

import (
	"context"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// Fetcher is the interface for all page fetcher implementations.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}
