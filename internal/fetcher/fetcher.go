package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/calsync/internal/config"
)

// Navigator kinds.
const (
	KindHTTP    = "http"
	KindBrowser = "browser"
)

// Navigator loads one page at a time and exposes its rendered HTML.
type Navigator interface {
	// Open loads url. Failures are *types.NavigationError.
	Open(ctx context.Context, url string) error

	// AwaitReady blocks until the loaded page has settled. A page that never
	// settles yields *types.ReadinessError but may still be usable.
	AwaitReady(ctx context.Context) error

	// DismissBlockingDialogs reports whether a native dialog was dismissed
	// since the previous call.
	DismissBlockingDialogs() DialogResult

	// TriggerRevealInteractions tries to expose content hidden behind tabs,
	// selects or lazy loading. It reports whether new content appeared.
	TriggerRevealInteractions(ctx context.Context, hints RevealHints) bool

	// HTML snapshots the current document.
	HTML(ctx context.Context) (string, error)

	// Close releases the session. It is safe to call more than once.
	Close() error

	// Kind returns the navigator kind identifier.
	Kind() string
}

// DialogResult describes a dismissed native dialog.
type DialogResult struct {
	Dismissed bool
	Message   string
}

// RevealHints are texts used to pick options in selects on the page,
// typically the season and pool name.
type RevealHints struct {
	Terms []string
}

// Factory creates a navigator of the given kind.
type Factory func(ctx context.Context, kind string) (Navigator, error)

// NewFactory returns a Factory backed by cfg.
func NewFactory(cfg *config.Config, logger *slog.Logger) Factory {
	return func(ctx context.Context, kind string) (Navigator, error) {
		switch kind {
		case KindHTTP:
			return NewHTTPNavigator(cfg, logger)
		case KindBrowser:
			return NewBrowserNavigator(ctx, cfg, logger)
		default:
			return nil, fmt.Errorf("unknown navigator kind %q", kind)
		}
	}
}

// DefaultUserAgents is used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// userAgents rotates through a fixed list.
type userAgents struct {
	list []string
	idx  atomic.Int64
}

func newUserAgents(list []string) *userAgents {
	if len(list) == 0 {
		list = DefaultUserAgents
	}
	return &userAgents{list: list}
}

func (u *userAgents) next() string {
	idx := (u.idx.Add(1) - 1) % int64(len(u.list))
	return u.list[idx]
}

// RandomDelay returns a random delay around the base duration (±25%).
func RandomDelay(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	jitter := float64(base) * 0.25
	return base + time.Duration(rand.Float64()*2*jitter-jitter)
}
