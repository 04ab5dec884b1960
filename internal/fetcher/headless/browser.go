// Package headless implements the browser-automation fetch strategy on top
// of chromedp: one browser per run, one fresh tab per request, a stealth
// script installed before any page script runs, challenge resolution and a
// scroll-until-stable loop for lazily loaded listings.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/corpix/uarand"
)

// ErrBrowserDisabled is returned by New when browser automation is turned off.
var ErrBrowserDisabled = errors.New("browser automation disabled")

// stealthScript masks the most common automation fingerprints.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
if (window.navigator.permissions && window.navigator.permissions.query) {
	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications' ?
			Promise.resolve({ state: Notification.permission }) :
			originalQuery(parameters)
	);
}
`

// BrowserConfig controls how Chrome is launched.
type BrowserConfig struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	Headers   http.Header
}

// Browser owns a single Chrome process and hands out tabs.
type Browser struct {
	cfg         BrowserConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
	userAgent   func() string

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser prepares the allocator. Chrome itself starts on the first Open.
func NewBrowser(cfg BrowserConfig) *Browser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		userAgent:   uarand.GetRandom,
	}
}

// Open creates a new tab prepared with the stealth script and a user agent.
// The returned func closes the tab.
func (b *Browser) Open(ctx context.Context) (Driver, func(), error) {
	parent, err := b.browser()
	if err != nil {
		return nil, func() {}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(parent)
	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	driver := &chromedpDriver{tab: tabCtx, meta: meta}
	if err := driver.run(ctx, b.setupAction()); err != nil {
		tabCancel()
		return nil, func() {}, fmt.Errorf("prepare browser tab: %w", err)
	}
	return driver, tabCancel, nil
}

// Close shuts down the browser and its allocator.
func (b *Browser) Close() {
	b.mu.Lock()
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
		b.browserCtx = nil
	}
	b.mu.Unlock()
	b.allocCancel()
}

func (b *Browser) browser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	browserCtx, cancel := chromedp.NewContext(b.allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.browserCtx, b.browserCancel = browserCtx, cancel
	return browserCtx, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		ua := b.cfg.UserAgent
		if ua == "" {
			ua = b.userAgent()
		}
		if err := emulation.SetUserAgentOverride(ua).WithAcceptLanguage("en-US,en;q=0.9").Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if len(b.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
