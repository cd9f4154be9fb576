package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/fetcher"
	"github.com/IshaanNene/calsync/internal/types"
)

func tournamentSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case r.URL.Path == "/robots.txt":
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		case r.URL.Path == "/":
			_, _ = w.Write([]byte(`<html><body><ul class="union-list">
				<li><a href="/union?id=4001">Sjælland</a></li>
				<li><a href="/private/union?id=4009">Intern</a></li>
			</ul></body></html>`))
		case r.URL.Path == "/union" && q.Get("id") == "4001":
			_, _ = w.Write([]byte(`<html><body><ul class="age-group-list">
				<li><a href="/group?unionid=4001&groupid=4006">Senior</a></li>
				<li><a href="/group?unionid=4001&groupid=4007">Ungdom</a></li>
			</ul></body></html>`))
		case r.URL.Path == "/group" && q.Get("groupid") == "4006":
			_, _ = w.Write([]byte(`<html><body><ul class="pool-list">
				<li><a href="/pool#4.2024.14822">Pulje 1</a></li>
				<li><a href="/pool#4.2024.14823">Pulje 2</a></li>
				<li><a href="/pool">Oversigt</a></li>
			</ul></body></html>`))
		case r.URL.Path == "/group" && q.Get("groupid") == "4007":
			_, _ = w.Write([]byte(`<html><body><ul class="pool-list">
				<li><a href="/pool#4.2024.14822">Pulje 1</a></li>
				<li><a href="/pool#4.2024.14830">U15 Pulje A</a></li>
			</ul></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover(t *testing.T) {
	srv := tournamentSite(t)
	cfg := testConfig(StrategyHTTP)
	cfg.Engine.RespectRobotsTxt = true
	cfg.Fetcher.NavigationTimeout = 5 * time.Second
	store := newMemStore()
	e := New(cfg, store, fetcher.NewFactory(cfg, testLogger), testLogger)

	res, err := e.Discover(context.Background(), types.DiscoverRequest{
		BaseURL:   srv.URL + "/",
		Season:    "42024",
		SavePools: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Unions)
	assert.Equal(t, 2, res.AgeGroups)
	require.Len(t, res.Pools, 3)
	assert.Equal(t, 3, res.Saved)
	assert.Len(t, store.pools, 3)
	assert.Len(t, res.Skipped, 2)

	first := res.Pools[0]
	assert.Equal(t, types.PoolDefinition{
		Season:       "42024",
		PoolValue:    "14822",
		PoolName:     "Pulje 1",
		AgeGroupID:   "4006",
		AgeGroupName: "Senior",
		RegionID:     "4001",
		RegionName:   "Sjælland",
	}, first)
	assert.Equal(t, "14830", res.Pools[2].PoolValue)
	assert.Equal(t, "4007", res.Pools[2].AgeGroupID)
}

func TestDiscoverCapsPools(t *testing.T) {
	srv := tournamentSite(t)
	cfg := testConfig(StrategyHTTP)
	store := newMemStore()
	e := New(cfg, store, fetcher.NewFactory(cfg, testLogger), testLogger)

	res, err := e.Discover(context.Background(), types.DiscoverRequest{
		BaseURL:  srv.URL + "/",
		Season:   "42024",
		MaxPools: 1,
	})
	require.NoError(t, err)
	assert.Len(t, res.Pools, 1)
	assert.Zero(t, res.Saved)
	assert.Empty(t, store.pools)
}

func TestDiscoverBasePageFailure(t *testing.T) {
	srv := tournamentSite(t)
	cfg := testConfig(StrategyHTTP)
	e := New(cfg, newMemStore(), fetcher.NewFactory(cfg, testLogger), testLogger)

	_, err := e.Discover(context.Background(), types.DiscoverRequest{
		BaseURL: srv.URL + "/missing",
		Season:  "42024",
	})
	require.Error(t, err)
	var navErr *types.NavigationError
	assert.ErrorAs(t, err, &navErr)
}

func TestDiscoverValidation(t *testing.T) {
	e := New(testConfig(StrategyHTTP), newMemStore(), (&fakeFactory{}).New, testLogger)

	_, err := e.Discover(context.Background(), types.DiscoverRequest{BaseURL: "not a url", Season: "42024"})
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "baseUrl", cfgErr.Field)

	_, err = e.Discover(context.Background(), types.DiscoverRequest{BaseURL: "https://results.example/"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "season", cfgErr.Field)
}

func TestLinkID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://results.example/union?id=4001", "4001"},
		{"https://results.example/group?unionid=4001&groupid=4006", "4006"},
		{"https://results.example/#4.42024.14822", "14822"},
		{"https://results.example/#4.42024.14822.4006.4001.....", "4001"},
		{"https://results.example/pools/14830", "14830"},
		{"https://results.example/pool", ""},
	}
	for _, tt := range tests {
		if got := linkID(tt.url); got != tt.want {
			t.Errorf("linkID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://Example.COM/path", "https://example.com/path"},
		{"http://example.com:80/path", "http://example.com/path"},
		{"https://example.com:443/path", "https://example.com/path"},
		{"https://example.com/path?b=2&a=1", "https://example.com/path?a=1&b=2"},
		{"https://example.com/path/", "https://example.com/path"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/#4.42024.14822", "https://example.com/#4.42024.14822"},
	}
	for _, tt := range tests {
		if got := CanonicalizeURL(tt.input); got != tt.expected {
			t.Errorf("CanonicalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLinkSet(t *testing.T) {
	s := newLinkSet()

	if !s.Add("https://Example.COM/Path?b=2&a=1") {
		t.Error("first link should be new")
	}
	if s.Add("https://example.com/Path?a=1&b=2") {
		t.Error("query order and host case should not matter")
	}
	if !s.Add("https://example.com/Path?a=1&b=2#4.1.2") {
		t.Error("fragment should distinguish links")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 links, got %d", s.Len())
	}
}

func TestParseRobotsTxt(t *testing.T) {
	content := `# comment
User-agent: Googlebot
Disallow: /

User-agent: *
Disallow: /admin
Allow: /admin/public
Disallow: /*.pdf$
Crawl-delay: 1.5
`
	data := parseRobotsTxt(content, robotsAgent)

	assert.Equal(t, []string{"/admin", "/*.pdf$"}, data.disallowed)
	assert.Equal(t, []string{"/admin/public"}, data.allowed)
	assert.Equal(t, 1500*time.Millisecond, data.crawlDelay)
}

func TestMatchRobotsPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/admin", "/admin/users", true},
		{"/admin", "/public", false},
		{"/*.pdf$", "/files/report.pdf", true},
		{"/*.pdf$", "/files/report.pdf?x=1", false},
		{"/index$", "/index", true},
		{"/index$", "/index.html", false},
		{"", "/", false},
	}
	for _, tt := range tests {
		if got := matchRobotsPattern(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchRobotsPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestRobotsPolicyAllowed(t *testing.T) {
	srv := tournamentSite(t)
	p := newRobotsPolicy(true, srv.Client())

	assert.True(t, p.Allowed(context.Background(), srv.URL+"/union?id=4001"))
	assert.False(t, p.Allowed(context.Background(), srv.URL+"/private/union"))
	assert.Zero(t, p.CrawlDelay(srv.URL+"/"))

	off := newRobotsPolicy(false, srv.Client())
	assert.True(t, off.Allowed(context.Background(), srv.URL+"/private/union"))
}
