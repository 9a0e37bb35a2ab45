package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/IshaanNene/RankWatch/internal/fetcher"
	"github.com/IshaanNene/RankWatch/internal/types"
)

const robotsMaxBytes = 512 * 1024

// Robots answers whether a page may be fetched under its host's robots.txt.
// Rules are cached per host; a robots.txt that cannot be fetched allows
// everything.
type Robots struct {
	fetcher fetcher.Fetcher
	agent   string
	cache   *expirable.LRU[string, *robotsRules]
	logger  *slog.Logger
}

type robotsRules struct {
	disallowed []string
	allowed    []string
}

// NewRobots creates a Robots checker. agent is matched case-insensitively
// against User-agent groups; "*" groups always apply.
func NewRobots(f fetcher.Fetcher, agent string, ttl time.Duration, logger *slog.Logger) *Robots {
	return &Robots{
		fetcher: f,
		agent:   strings.ToLower(agent),
		cache:   expirable.NewLRU[string, *robotsRules](256, nil, ttl),
		logger:  logger.With("component", "robots"),
	}
}

// Allowed reports whether rawURL may be fetched.
func (r *Robots) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	rules, ok := r.cache.Get(origin)
	if !ok {
		rules = r.fetch(ctx, origin)
		if ctx.Err() != nil {
			return true
		}
		r.cache.Add(origin, rules)
	}
	if rules == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.allows(path)
}

func (r *Robots) fetch(ctx context.Context, origin string) *robotsRules {
	req, err := types.NewRequest(origin + "/robots.txt")
	if err != nil {
		return nil
	}
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		r.logger.Debug("robots.txt unavailable", "origin", origin, "error", err)
		return nil
	}
	if resp.StatusCode != 200 {
		return nil
	}
	body := resp.Body
	if len(body) > robotsMaxBytes {
		body = body[:robotsMaxBytes]
	}
	return parseRobots(string(body), r.agent)
}

// allows applies the longest matching rule; Allow wins ties.
func (rr *robotsRules) allows(path string) bool {
	best, allow := -1, true
	for _, p := range rr.disallowed {
		if matchRobotsPattern(p, path) && len(p) > best {
			best, allow = len(p), false
		}
	}
	for _, p := range rr.allowed {
		if matchRobotsPattern(p, path) && len(p) >= best {
			best, allow = len(p), true
		}
	}
	return allow
}

// parseRobots collects the rules of every group naming agent or "*".
// Consecutive User-agent lines share one group.
func parseRobots(content, agent string) *robotsRules {
	rules := &robotsRules{}
	applies, inAgents := false, false

	for _, line := range strings.Split(content, "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if !inAgents {
				applies = false
			}
			inAgents = true
			ua := strings.ToLower(value)
			if ua == "*" || (agent != "" && strings.Contains(agent, ua)) {
				applies = true
			}
		case "disallow":
			inAgents = false
			if applies && value != "" {
				rules.disallowed = append(rules.disallowed, value)
			}
		case "allow":
			inAgents = false
			if applies && value != "" {
				rules.allowed = append(rules.allowed, value)
			}
		default:
			inAgents = false
		}
	}
	return rules
}

// matchRobotsPattern matches a robots.txt path pattern with * and $.
func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	if !strings.Contains(pattern, "*") {
		if anchored {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	if anchored {
		last := parts[len(parts)-1]
		return last == "" || strings.HasSuffix(path, last)
	}
	return true
}
