package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/IshaanNene/calsync/internal/extractor"
	"github.com/IshaanNene/calsync/internal/fetcher"
	"github.com/IshaanNene/calsync/internal/types"
)

// Discovery link selectors, one per level of the tournament tree.
const (
	unionSelector    = ".union-list a"
	ageGroupSelector = ".age-group-list a"
	poolSelector     = ".pool-list a"
)

// errDisallowed marks a page excluded by robots.txt.
var errDisallowed = errors.New("disallowed by robots.txt")

// DiscoverResult summarizes a pool discovery crawl.
type DiscoverResult struct {
	Unions    int                    `json:"unions"`
	AgeGroups int                    `json:"ageGroups"`
	Pools     []types.PoolDefinition `json:"pools"`
	Saved     int                    `json:"saved"`
	Skipped   []string               `json:"skipped,omitempty"`
}

// treeLink is one anchor of the tournament tree.
type treeLink struct {
	name   string
	url    string
	id     string
	parent *treeLink
}

// crawl holds the state of one discovery.
type crawl struct {
	nav     fetcher.Navigator
	limiter *rate.Limiter
	robots  *robotsPolicy
	seen    *linkSet
	result  *DiscoverResult
}

// Discover walks unions, age groups and pools from a base URL and derives
// pool definitions, optionally saving them. Pages that fail are skipped and
// listed in the result; only the base page is required.
func (e *Engine) Discover(ctx context.Context, req types.DiscoverRequest) (*DiscoverResult, error) {
	req.BaseURL = strings.TrimSpace(req.BaseURL)
	req.Season = strings.TrimSpace(req.Season)
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}
	maxUnions := orDefault(req.MaxUnions, e.cfg.Engine.MaxUnions)
	maxGroups := orDefault(req.MaxGroups, e.cfg.Engine.MaxAgeGroups)
	maxPools := orDefault(req.MaxPools, e.cfg.Engine.MaxPools)

	kind := fetcher.KindHTTP
	if e.cfg.Engine.Strategy == StrategyBrowser {
		kind = fetcher.KindBrowser
	}
	nav, err := e.factory(ctx, kind)
	if err != nil {
		if !types.IsInfrastructure(err) {
			err = &types.InfrastructureError{Component: "navigator", Err: err}
		}
		return nil, err
	}
	defer nav.Close()

	c := &crawl{
		nav:     nav,
		limiter: rate.NewLimiter(politeness(e.cfg.Engine.PolitenessDelay), 1),
		robots:  newRobotsPolicy(e.cfg.Engine.RespectRobotsTxt, nil),
		seen:    newLinkSet(),
		result:  &DiscoverResult{},
	}
	if delay := c.crawlDelay(ctx, req.BaseURL); delay > e.cfg.Engine.PolitenessDelay {
		c.limiter.SetLimit(rate.Every(delay))
	}
	logger := e.logger.With("base_url", req.BaseURL, "season", req.Season)

	unions, err := c.links(ctx, req.BaseURL, unionSelector, nil)
	if err != nil {
		return nil, fmt.Errorf("load base page: %w", err)
	}
	unions = capLinks(unions, maxUnions)
	c.result.Unions = len(unions)

	var groups []*treeLink
	for _, u := range unions {
		found, err := c.links(ctx, u.url, ageGroupSelector, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.skip(u, err)
			continue
		}
		groups = append(groups, found...)
		if len(groups) >= maxGroups {
			break
		}
	}
	groups = capLinks(groups, maxGroups)
	c.result.AgeGroups = len(groups)

	for _, g := range groups {
		if len(c.result.Pools) >= maxPools {
			break
		}
		found, err := c.links(ctx, g.url, poolSelector, g)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.skip(g, err)
			continue
		}
		for _, p := range found {
			if len(c.result.Pools) >= maxPools {
				break
			}
			if def, ok := poolDefinition(req.Season, p); ok {
				c.result.Pools = append(c.result.Pools, def)
			} else {
				c.skip(p, errors.New("no pool id in link"))
			}
		}
	}

	logger.Info("discovery finished",
		"unions", c.result.Unions,
		"age_groups", c.result.AgeGroups,
		"pools", len(c.result.Pools),
		"skipped", len(c.result.Skipped),
	)

	if req.SavePools && len(c.result.Pools) > 0 {
		n, err := e.store.SavePools(ctx, c.result.Pools)
		if err != nil {
			return c.result, err
		}
		c.result.Saved = n
	}
	return c.result, nil
}

// links loads pageURL and returns the unseen anchors matching selector.
func (c *crawl) links(ctx context.Context, pageURL, selector string, parent *treeLink) ([]*treeLink, error) {
	if !c.robots.Allowed(ctx, pageURL) {
		return nil, errDisallowed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.nav.Open(ctx, pageURL); err != nil {
		return nil, err
	}
	c.nav.DismissBlockingDialogs()
	if err := c.nav.AwaitReady(ctx); err != nil {
		var re *types.ReadinessError
		if !errors.As(err, &re) {
			return nil, err
		}
	}
	c.nav.DismissBlockingDialogs()

	doc, err := snapshot(ctx, c.nav)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var out []*treeLink
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !c.seen.Add(abs) {
			return
		}
		out = append(out, &treeLink{
			name:   strings.Join(strings.Fields(a.Text()), " "),
			url:    abs,
			id:     linkID(abs),
			parent: parent,
		})
	})
	return out, nil
}

func (c *crawl) crawlDelay(ctx context.Context, baseURL string) time.Duration {
	c.robots.Allowed(ctx, baseURL)
	return c.robots.CrawlDelay(baseURL)
}

func (c *crawl) skip(l *treeLink, err error) {
	c.result.Skipped = append(c.result.Skipped, fmt.Sprintf("%s (%s): %v", l.name, l.url, err))
}

// poolDefinition derives a pool from a pool link and its ancestors.
func poolDefinition(season string, pool *treeLink) (types.PoolDefinition, bool) {
	if pool.id == "" {
		return types.PoolDefinition{}, false
	}
	def := types.PoolDefinition{
		Season:    season,
		PoolValue: pool.id,
		PoolName:  pool.name,
	}
	if group := pool.parent; group != nil {
		def.AgeGroupID, def.AgeGroupName = group.id, group.name
		if union := group.parent; union != nil {
			def.RegionID, def.RegionName = union.id, union.name
		}
	}
	return def, true
}

// linkID finds the identifier a tree link carries: an id-like query
// parameter, else the last numeric segment of a "#a.b.c" fragment, else
// any embedded id.
func linkID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	query := u.Query()
	if v := query.Get("id"); isNumeric(v) {
		return v
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if v := query.Get(key); strings.HasSuffix(strings.ToLower(key), "id") && isNumeric(v) {
			return v
		}
	}
	segments := strings.Split(u.Fragment, ".")
	for i := len(segments) - 1; i >= 0; i-- {
		if isNumeric(segments[i]) {
			return segments[i]
		}
	}
	if id, ok := extractor.ExtractID(rawURL); ok {
		return id
	}
	return ""
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func capLinks(links []*treeLink, limit int) []*treeLink {
	if limit > 0 && len(links) > limit {
		return links[:limit]
	}
	return links
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
