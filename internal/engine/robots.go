package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// robotsAgent is the user-agent token matched in robots.txt groups.
const robotsAgent = "calsync"

// robotsPolicy fetches, caches and enforces robots.txt per origin for the
// discovery crawl.
type robotsPolicy struct {
	enabled bool
	cache   map[string]*robotsData
	mu      sync.RWMutex
	client  *http.Client
}

// robotsData holds the parsed rules of one origin.
type robotsData struct {
	disallowed []string
	allowed    []string
	crawlDelay time.Duration
}

func newRobotsPolicy(enabled bool, client *http.Client) *robotsPolicy {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &robotsPolicy{
		enabled: enabled,
		cache:   make(map[string]*robotsData),
		client:  client,
	}
}

// Allowed reports whether rawURL may be crawled. Origins whose robots.txt
// cannot be read are allowed.
func (p *robotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	if !p.enabled {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	data := p.rules(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	for _, pattern := range data.allowed {
		if matchRobotsPattern(pattern, path) {
			return true
		}
	}
	for _, pattern := range data.disallowed {
		if matchRobotsPattern(pattern, path) {
			return false
		}
	}
	return true
}

// CrawlDelay returns the crawl-delay of an origin already consulted.
func (p *robotsPolicy) CrawlDelay(rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if data := p.cache[u.Scheme+"://"+u.Host]; data != nil {
		return data.crawlDelay
	}
	return 0
}

func (p *robotsPolicy) rules(ctx context.Context, origin string) *robotsData {
	p.mu.RLock()
	data, ok := p.cache[origin]
	p.mu.RUnlock()
	if ok {
		return data
	}

	data = p.fetch(ctx, origin)
	p.mu.Lock()
	p.cache[origin] = data
	p.mu.Unlock()
	return data
}

func (p *robotsPolicy) fetch(ctx context.Context, origin string) *robotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	return parseRobotsTxt(string(body), robotsAgent)
}

// parseRobotsTxt keeps the rules of the "*" group and of groups naming
// agent.
func parseRobotsTxt(content, agent string) *robotsData {
	data := &robotsData{}
	inGroup := false

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
			ua := strings.ToLower(value)
			inGroup = ua == "*" || strings.Contains(ua, agent)
		case "disallow":
			if inGroup && value != "" {
				data.disallowed = append(data.disallowed, value)
			}
		case "allow":
			if inGroup && value != "" {
				data.allowed = append(data.allowed, value)
			}
		case "crawl-delay":
			if inGroup {
				var delay float64
				if _, err := fmt.Sscanf(value, "%f", &delay); err == nil {
					data.crawlDelay = time.Duration(delay * float64(time.Second))
				}
			}
		}
	}
	return data
}

// matchRobotsPattern checks a path against a robots.txt pattern with
// * and $ wildcards.
func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	mustEnd := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	if !strings.Contains(pattern, "*") {
		if mustEnd {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	pos := 0
	for i, part := range strings.Split(pattern, "*") {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 || (i == 0 && idx != 0) {
			return false
		}
		pos += idx + len(part)
	}
	return !mustEnd || pos == len(path)
}
