package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const page = `<html><body><table class="matchtable"><tr><th>Dato</th></tr><tr><td>1</td></tr></table></body></html>`

func newTestNavigator(t *testing.T) *HTTPNavigator {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Fetcher.NavigationTimeout = 5 * time.Second
	n, err := NewHTTPNavigator(cfg, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestHTTPNavigatorOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	n := newTestNavigator(t)
	ctx := context.Background()

	require.NoError(t, n.Open(ctx, srv.URL))
	require.NoError(t, n.AwaitReady(ctx))
	html, err := n.HTML(ctx)
	require.NoError(t, err)
	assert.Equal(t, page, html)

	assert.False(t, n.TriggerRevealInteractions(ctx, RevealHints{Terms: []string{"Pulje 1"}}))
	assert.Equal(t, DialogResult{}, n.DismissBlockingDialogs())
	assert.Equal(t, KindHTTP, n.Kind())
}

func TestHTTPNavigatorDecodesCompressedBodies(t *testing.T) {
	encode := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			_, _ = zw.Write(b)
			_ = zw.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write(b)
			_ = bw.Close()
			return buf.Bytes()
		},
	}

	for enc, fn := range encode {
		t.Run(enc, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", enc)
				_, _ = w.Write(fn([]byte(page)))
			}))
			defer srv.Close()

			n := newTestNavigator(t)
			require.NoError(t, n.Open(context.Background(), srv.URL))
			html, err := n.HTML(context.Background())
			require.NoError(t, err)
			assert.Equal(t, page, html)
		})
	}
}

func TestHTTPNavigatorStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(tt.status)
		}))

		n := newTestNavigator(t)
		err := n.Open(context.Background(), srv.URL)
		srv.Close()

		var navErr *types.NavigationError
		require.True(t, errors.As(err, &navErr), "status %d", tt.status)
		assert.Equal(t, tt.retryable, navErr.IsRetryable(), "status %d", tt.status)
		assert.Equal(t, tt.retryable, types.IsTransient(err), "status %d", tt.status)
		if tt.status == http.StatusTooManyRequests {
			assert.Equal(t, 7*time.Second, navErr.RetryAfter)
		}
	}
}

func TestHTTPNavigatorFailedOpenClearsDocument(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	n := newTestNavigator(t)
	ctx := context.Background()
	require.NoError(t, n.Open(ctx, srv.URL))

	fail.Store(true)
	require.Error(t, n.Open(ctx, srv.URL))

	var readyErr *types.ReadinessError
	require.True(t, errors.As(n.AwaitReady(ctx), &readyErr))
	_, err := n.HTML(ctx)
	assert.ErrorIs(t, err, types.ErrEmptyDocument)
}

func TestHTTPNavigatorCancelledIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestNavigator(t).Open(ctx, srv.URL)
	require.Error(t, err)
	assert.False(t, types.IsTransient(err))
}

func TestUserAgentRotation(t *testing.T) {
	ua := newUserAgents([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b", "a"}, []string{ua.next(), ua.next(), ua.next()})
	assert.NotEmpty(t, newUserAgents(nil).next())
}

func TestUserAgentSentOnRequest(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Fetcher.UserAgents = []string{"calsync-test/1.0"}
	n, err := NewHTTPNavigator(cfg, testLogger)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Open(context.Background(), srv.URL))
	assert.Equal(t, "calsync-test/1.0", <-got)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter(""))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, 120*time.Second, parseRetryAfter("999"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("soon"))
	assert.Equal(t, time.Second, parseRetryAfter(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)))
}

func TestRandomDelay(t *testing.T) {
	base := 2 * time.Second
	for i := 0; i < 50; i++ {
		d := RandomDelay(base)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
	assert.Zero(t, RandomDelay(0))
}

func TestFactoryRejectsUnknownKind(t *testing.T) {
	_, err := NewFactory(config.DefaultConfig(), testLogger)(context.Background(), "telnet")
	assert.Error(t, err)
}

func TestBrowserNavigatorLive(t *testing.T) {
	if os.Getenv("CALSYNC_BROWSER_TEST") == "" {
		t.Skip("set CALSYNC_BROWSER_TEST=1 to run against a local Chromium")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<div style="display:none"><table><tr><td>x</td></tr></table></div>
			<script>alert("Cookie notice")</script>
		</body></html>`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	ctx := context.Background()
	bn, err := NewBrowserNavigator(ctx, cfg, testLogger)
	require.NoError(t, err)
	defer bn.Close()

	require.NoError(t, bn.Open(ctx, srv.URL))
	require.NoError(t, bn.AwaitReady(ctx))
	html, err := bn.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `data-calsync-hidden="1"`)
	assert.True(t, bn.DismissBlockingDialogs().Dismissed)
	assert.NoError(t, bn.Close())
	assert.NoError(t, bn.Close())
}

func TestBrowserNavigatorRemarksRevealedContent(t *testing.T) {
	if os.Getenv("CALSYNC_BROWSER_TEST") == "" {
		t.Skip("set CALSYNC_BROWSER_TEST=1 to run against a local Chromium")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<div id="results" style="display:none"><table><tr><td>x</td></tr></table></div>
		</body></html>`))
	}))
	defer srv.Close()

	ctx := context.Background()
	bn, err := NewBrowserNavigator(ctx, config.DefaultConfig(), testLogger)
	require.NoError(t, err)
	defer bn.Close()

	require.NoError(t, bn.Open(ctx, srv.URL))
	html, err := bn.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `data-calsync-hidden="1"`)

	_, err = bn.page.Eval(`() => { document.getElementById('results').style.display = 'block'; }`)
	require.NoError(t, err)
	html, err = bn.HTML(ctx)
	require.NoError(t, err)
	assert.NotContains(t, html, "data-calsync-hidden")
}
