package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/locator"
	"github.com/IshaanNene/calsync/internal/types"
)

// loadingIndicators are elements that signal an in-flight ajax load.
const loadingIndicators = ".loading, .spinner, .loader, [aria-busy=true], #loading, .ajax-loader"

const loadingVisibleJS = `(sel) => Array.from(document.querySelectorAll(sel)).some((el) => {
	const s = window.getComputedStyle(el);
	return s.display !== 'none' && s.visibility !== 'hidden' && el.offsetParent !== null;
})`

// markHiddenJS tags every element the user cannot see, so the snapshot
// keeps visibility information. Tags from an earlier snapshot are cleared
// first.
const markHiddenJS = `(attr) => {
	for (const el of document.querySelectorAll('[' + attr + ']')) {
		el.removeAttribute(attr);
	}
	let n = 0;
	for (const el of document.querySelectorAll('body *')) {
		const s = window.getComputedStyle(el);
		if (s.display === 'none' || s.visibility === 'hidden') {
			el.setAttribute(attr, '1');
			n++;
		}
	}
	return n;
}`

// BrowserNavigator drives one headless Chromium page for a whole run.
type BrowserNavigator struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	cfg        *config.FetcherConfig
	stealthCfg *StealthConfig
	logger     *slog.Logger

	url string

	mu        sync.Mutex
	dialogs   []string
	stopWatch context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// NewBrowserNavigator launches a browser and opens a blank page with a
// dialog watcher attached. Launch failures are *types.InfrastructureError.
func NewBrowserNavigator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*BrowserNavigator, error) {
	bn := &BrowserNavigator{
		cfg:    &cfg.Fetcher,
		logger: logger.With("component", "browser_navigator"),
	}
	if cfg.Fetcher.Stealth {
		bn.stealthCfg = DefaultStealthConfig()
	}

	launchURL, err := bn.launchBrowser()
	if err != nil {
		return nil, &types.InfrastructureError{Component: "browser", Err: fmt.Errorf("launch browser: %w", err)}
	}

	browser := rod.New().ControlURL(launchURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		bn.launcher.Kill()
		return nil, &types.InfrastructureError{Component: "browser", Err: fmt.Errorf("connect browser: %w", err)}
	}
	// Detach from the constructor's context so the session outlives it.
	bn.browser = browser.Context(context.Background())

	page, err := bn.newPage(cfg.Fetcher.UserAgents)
	if err != nil {
		_ = bn.browser.Close()
		bn.launcher.Kill()
		return nil, &types.InfrastructureError{Component: "browser", Err: err}
	}
	bn.page = page
	bn.watchDialogs()

	bn.logger.Info("browser navigator ready",
		"headless", cfg.Fetcher.Headless,
		"stealth", bn.stealthCfg != nil,
	)
	return bn, nil
}

// launchBrowser starts a Chromium instance with appropriate flags.
func (bn *BrowserNavigator) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(bn.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-accelerated-2d-canvas").
		Set("disable-blink-features", "AutomationControlled")

	if bn.cfg.BrowserBin != "" {
		l = l.Bin(bn.cfg.BrowserBin)
	}
	if bn.stealthCfg != nil && bn.stealthCfg.WindowSize != "" {
		l = l.Set("window-size", bn.stealthCfg.WindowSize)
	}

	bn.launcher = l
	return l.Launch()
}

func (bn *BrowserNavigator) newPage(agents []string) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if bn.stealthCfg != nil {
		page, err = stealth.Page(bn.browser)
		if err != nil {
			return nil, fmt.Errorf("stealth page: %w", err)
		}
		if err := bn.stealthCfg.Apply(page); err != nil {
			bn.logger.Warn("stealth overrides failed", "error", err)
		}
	} else {
		page, err = bn.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return nil, fmt.Errorf("create page: %w", err)
		}
	}

	ua := newUserAgents(agents).next()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		bn.logger.Warn("failed to set user agent", "error", err)
	}
	return page, nil
}

// watchDialogs accepts every alert, confirm and prompt as it opens and
// records its message.
func (bn *BrowserNavigator) watchDialogs() {
	ctx, cancel := context.WithCancel(context.Background())
	bn.stopWatch = cancel

	page := bn.page
	wait := page.Context(ctx).EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		bn.mu.Lock()
		bn.dialogs = append(bn.dialogs, e.Message)
		bn.mu.Unlock()

		go func() {
			err := proto.PageHandleJavaScriptDialog{Accept: true}.Call(page)
			if err != nil {
				bn.logger.Warn("dialog dismiss failed", "message", e.Message, "error", err)
			}
		}()
	})
	go wait()
}

// Open navigates to url and waits for the load event.
func (bn *BrowserNavigator) Open(ctx context.Context, url string) error {
	bn.url = url
	p := bn.page.Context(ctx).Timeout(bn.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return &types.NavigationError{URL: url, Err: err, Retryable: !errors.Is(err, context.Canceled)}
	}
	if err := p.WaitLoad(); err != nil {
		return &types.NavigationError{URL: url, Err: fmt.Errorf("wait load: %w", err), Retryable: !errors.Is(err, context.Canceled)}
	}
	return nil
}

// AwaitReady waits for the body, for loading indicators to disappear and
// for the DOM to stop changing. Lazy content is nudged by a scroll to the
// bottom and back.
func (bn *BrowserNavigator) AwaitReady(ctx context.Context) error {
	start := time.Now()
	p := bn.page.Context(ctx).Timeout(bn.cfg.ReadyTimeout)
	defer p.CancelTimeout()

	notReady := func(err error) error {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &types.ReadinessError{URL: bn.url, Waited: time.Since(start), Err: err}
	}

	if _, err := p.Element("body"); err != nil {
		return notReady(fmt.Errorf("wait body: %w", err))
	}

	for {
		res, err := p.Eval(loadingVisibleJS, loadingIndicators)
		if err != nil {
			return notReady(fmt.Errorf("check loading indicators: %w", err))
		}
		if !res.Value.Bool() {
			break
		}
		select {
		case <-p.GetContext().Done():
			return notReady(p.GetContext().Err())
		case <-time.After(250 * time.Millisecond):
		}
	}

	if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		bn.logger.Debug("scroll failed", "error", err)
	}
	if _, err := p.Eval(`() => window.scrollTo(0, 0)`); err != nil {
		bn.logger.Debug("scroll failed", "error", err)
	}

	if err := p.WaitStable(bn.cfg.SettleDelay); err != nil {
		return notReady(fmt.Errorf("wait stable: %w", err))
	}

	bn.logger.Debug("page ready", "url", bn.url, "waited", time.Since(start))
	return nil
}

// DismissBlockingDialogs reports dialogs the watcher accepted since the
// previous call.
func (bn *BrowserNavigator) DismissBlockingDialogs() DialogResult {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	if len(bn.dialogs) == 0 {
		return DialogResult{}
	}
	msg := bn.dialogs[len(bn.dialogs)-1]
	bn.dialogs = bn.dialogs[:0]
	return DialogResult{Dismissed: true, Message: msg}
}

// HTML marks hidden elements and snapshots the document.
func (bn *BrowserNavigator) HTML(ctx context.Context) (string, error) {
	p := bn.page.Context(ctx)
	if res, err := p.Eval(markHiddenJS, locator.HiddenAttr); err != nil {
		bn.logger.Warn("mark hidden elements failed", "url", bn.url, "error", err)
	} else {
		bn.logger.Debug("hidden elements marked", "count", res.Value.Int())
	}

	html, err := p.HTML()
	if err != nil {
		return "", &types.NavigationError{URL: bn.url, Err: fmt.Errorf("snapshot: %w", err), Retryable: true}
	}
	return html, nil
}

// Close shuts down the page, the browser and the launcher process.
func (bn *BrowserNavigator) Close() error {
	bn.closeOnce.Do(func() {
		if bn.stopWatch != nil {
			bn.stopWatch()
		}
		if bn.page != nil {
			_ = bn.page.Close()
		}
		if bn.browser != nil {
			bn.closeErr = bn.browser.Close()
		}
		if bn.launcher != nil {
			bn.launcher.Kill()
		}
		bn.logger.Debug("browser navigator closed")
	})
	return bn.closeErr
}

// Kind returns the navigator kind identifier.
func (bn *BrowserNavigator) Kind() string {
	return KindBrowser
}
