package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Opener hands out prepared browser tabs.
type Opener interface {
	Open(ctx context.Context) (Driver, func(), error)
}

// Config controls the browser strategy.
type Config struct {
	Enabled bool
	Browser BrowserConfig
}

// Fetcher implements crawler.Fetcher with a browser session per request.
type Fetcher struct {
	opener  Opener
	session *Session
	browser *Browser
}

// New launches the browser strategy. It returns ErrBrowserDisabled when the
// strategy is turned off.
func New(cfg Config, session *Session) (*Fetcher, error) {
	if !cfg.Enabled {
		return nil, ErrBrowserDisabled
	}
	if session == nil {
		return nil, fmt.Errorf("browser session is required")
	}
	b := NewBrowser(cfg.Browser)
	return &Fetcher{opener: b, session: session, browser: b}, nil
}

// NewWithOpener builds a Fetcher over an existing Opener.
func NewWithOpener(opener Opener, session *Session) *Fetcher {
	return &Fetcher{opener: opener, session: session}
}

// Close shuts down the browser if this Fetcher launched it.
func (f *Fetcher) Close() {
	if f.browser != nil {
		f.browser.Close()
	}
}

// Fetch loads request.URL in a new tab and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	start := time.Now()
	driver, closeTab, err := f.opener.Open(ctx)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer closeTab()

	page, err := f.session.Load(ctx, driver, request.URL, request.Scroll)
	resp := crawler.FetchResponse{
		URL:        page.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       []byte(page.HTML),
		Duration:   time.Since(start),
		Strategy:   crawler.StrategyBrowser,
	}
	if reporter, ok := driver.(documentReporter); ok {
		status, headers, _ := reporter.Document()
		if status != 0 {
			resp.StatusCode = status
		}
		if headers != nil {
			resp.Headers = headers
		}
	}
	if err != nil {
		return resp, fmt.Errorf("browser fetch %s: %w", request.URL, err)
	}
	return resp, nil
}
