package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// ProxyPool rotates outbound proxies for page fetches. A proxy that fails
// at the network level sits out for the cooldown and then rejoins.
type ProxyPool struct {
	proxies  []*proxyEntry
	rotation string
	cooldown time.Duration
	index    atomic.Int64
	mu       sync.RWMutex
	now      func() time.Time
	logger   *slog.Logger
}

type proxyEntry struct {
	URL       *url.URL
	LastErr   error
	downUntil time.Time
}

type proxyChoiceKey struct{}

// proxyChoice records which proxy the transport picked for one request.
type proxyChoice struct {
	url *url.URL
}

// NewProxyPool parses urls. rotation is "round_robin" (default) or
// "random".
func NewProxyPool(urls []string, rotation string, cooldown time.Duration, logger *slog.Logger) (*ProxyPool, error) {
	pp := &ProxyPool{
		proxies:  make([]*proxyEntry, 0, len(urls)),
		rotation: rotation,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger.With("component", "proxy_pool"),
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", raw)
		}
		pp.proxies = append(pp.proxies, &proxyEntry{URL: u})
	}
	pp.logger.Info("proxy pool initialized", "count", len(pp.proxies), "rotation", rotation)
	return pp, nil
}

// ProxyFunc returns an http.Transport-compatible proxy function. When every
// proxy is cooling down the request goes direct.
func (pp *ProxyPool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		u := pp.Next()
		if c, ok := req.Context().Value(proxyChoiceKey{}).(*proxyChoice); ok {
			c.url = u
		}
		return u, nil
	}
}

// Next returns the next available proxy, or nil.
func (pp *ProxyPool) Next() *url.URL {
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	healthy := pp.available()
	if len(healthy) == 0 {
		return nil
	}

	switch pp.rotation {
	case "random":
		return healthy[rand.Intn(len(healthy))].URL
	default:
		idx := pp.index.Add(1) % int64(len(healthy))
		return healthy[idx].URL
	}
}

// MarkFailed benches proxyURL for the cooldown.
func (pp *ProxyPool) MarkFailed(proxyURL *url.URL, err error) {
	if proxyURL == nil {
		return
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	for _, p := range pp.proxies {
		if p.URL.String() == proxyURL.String() {
			p.LastErr = err
			p.downUntil = pp.now().Add(pp.cooldown)
			pp.logger.Warn("proxy benched", "proxy", proxyURL.Host, "until", p.downUntil, "error", err)
			return
		}
	}
}

// HealthyCount returns the number of proxies not cooling down.
func (pp *ProxyPool) HealthyCount() int {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return len(pp.available())
}

func (pp *ProxyPool) available() []*proxyEntry {
	now := pp.now()
	out := make([]*proxyEntry, 0, len(pp.proxies))
	for _, p := range pp.proxies {
		if !now.Before(p.downUntil) {
			out = append(out, p)
		}
	}
	return out
}

// trackProxy attaches a slot the proxy function fills in.
func trackProxy(ctx context.Context) (context.Context, *proxyChoice) {
	c := &proxyChoice{}
	return context.WithValue(ctx, proxyChoiceKey{}, c), c
}
