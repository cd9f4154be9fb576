package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/types"
)

// HTTPNavigator fetches pages statically. Scripts are not run, so it only
// sees server-rendered markup.
type HTTPNavigator struct {
	client    *http.Client
	cfg       *config.FetcherConfig
	logger    *slog.Logger
	agents    *userAgents
	mu        sync.Mutex
	url       string
	body      string
	closeOnce sync.Once
}

// NewHTTPNavigator creates a static navigator.
func NewHTTPNavigator(cfg *config.Config, logger *slog.Logger) (*HTTPNavigator, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Fetcher.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Fetcher.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.Fetcher.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Fetcher.TLSInsecure,
		},
		DisableCompression: true, // decoded by decompressReader, including brotli
	}

	return &HTTPNavigator{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.Fetcher.NavigationTimeout,
		},
		cfg:    &cfg.Fetcher,
		logger: logger.With("component", "http_navigator"),
		agents: newUserAgents(cfg.Fetcher.UserAgents),
	}, nil
}

// Open fetches url and keeps the decoded body as the current document.
func (n *HTTPNavigator) Open(ctx context.Context, url string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &types.NavigationError{URL: url, Err: err, Retryable: false}
	}
	n.mu.Lock()
	n.url, n.body = url, ""
	n.mu.Unlock()

	httpReq.Header.Set("User-Agent", n.agents.next())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "da-DK,da;q=0.9,en;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	httpResp, err := n.client.Do(httpReq)
	if err != nil {
		return &types.NavigationError{URL: url, Err: err, Retryable: isRetryableError(err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		return &types.NavigationError{
			URL:        url,
			Err:        fmt.Errorf("HTTP 429: rate limited (retry after %s)", retryAfter),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	}
	if httpResp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return &types.NavigationError{
			URL:       url,
			Err:       fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body))),
			Retryable: true,
		}
	}
	if httpResp.StatusCode >= 400 {
		return &types.NavigationError{URL: url, Err: fmt.Errorf("HTTP %d", httpResp.StatusCode)}
	}

	var reader io.Reader = httpResp.Body
	if n.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, n.cfg.MaxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return &types.NavigationError{URL: url, Err: err, Retryable: false}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return &types.NavigationError{URL: url, Err: err, Retryable: true}
	}

	n.mu.Lock()
	n.body = string(body)
	n.mu.Unlock()

	n.logger.Debug("page fetched",
		"url", url,
		"status", httpResp.StatusCode,
		"size", len(body),
		"duration", time.Since(start),
	)
	return nil
}

// AwaitReady only checks that a non-empty document was loaded.
func (n *HTTPNavigator) AwaitReady(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if strings.TrimSpace(n.body) == "" {
		return &types.ReadinessError{URL: n.url, Err: types.ErrEmptyDocument}
	}
	return nil
}

// DismissBlockingDialogs is a no-op; static pages have no dialogs.
func (n *HTTPNavigator) DismissBlockingDialogs() DialogResult {
	return DialogResult{}
}

// TriggerRevealInteractions cannot interact with a static page.
func (n *HTTPNavigator) TriggerRevealInteractions(context.Context, RevealHints) bool {
	return false
}

// HTML returns the last fetched body.
func (n *HTTPNavigator) HTML(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.body == "" {
		return "", types.ErrEmptyDocument
	}
	return n.body, nil
}

// Close releases idle connections.
func (n *HTTPNavigator) Close() error {
	n.closeOnce.Do(n.client.CloseIdleConnections)
	return nil
}

// Kind returns the navigator kind identifier.
func (n *HTTPNavigator) Kind() string {
	return KindHTTP
}

// decompressReader wraps a reader with the decoder named by
// Content-Encoding: gzip, deflate or br.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError checks if a network error warrants another attempt.
// Navigation timeouts are retryable; caller cancellation is not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header value.
// Supports both integer seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
