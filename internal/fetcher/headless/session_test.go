package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// fakeDriver scripts page sources and scroll heights.
type fakeDriver struct {
	mu        sync.Mutex
	navigated []string
	sources   []string
	heights   []int64
	clicks    []string
	clickable map[string]bool
	scrolls   int
	polls     int
	navErr    error
	status    int
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return d.navErr
}

func (d *fakeDriver) Eval(_ context.Context, expression string, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch expression {
	case scrollScript:
		d.scrolls++
	case heightScript:
		h := d.heights[0]
		if len(d.heights) > 1 {
			d.heights = d.heights[1:]
		}
		*(out.(*int64)) = h
	case locationJS:
		*(out.(*string)) = "https://example.com/final"
	}
	return nil
}

func (d *fakeDriver) WaitVisible(context.Context, string) error { return nil }

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clickable[selector] {
		d.clicks = append(d.clicks, selector)
		return nil
	}
	return errors.New("no node")
}

func (d *fakeDriver) Source(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	s := d.sources[0]
	if len(d.sources) > 1 {
		d.sources = d.sources[1:]
	}
	return s, nil
}

func (d *fakeDriver) Document() (int, http.Header, string) {
	return d.status, http.Header{"X-Doc": {"1"}}, ""
}

type markerDetector struct{}

func (markerDetector) Challenged(resp crawler.FetchResponse) bool {
	return strings.Contains(string(resp.Body), "Just a moment")
}

type countingPacer struct {
	mu    sync.Mutex
	light int
}

func (p *countingPacer) Light(ctx context.Context) error {
	p.mu.Lock()
	p.light++
	p.mu.Unlock()
	return ctx.Err()
}

func (p *countingPacer) Heavy(ctx context.Context) error { return ctx.Err() }

const (
	challengeHTML = `<html><head><title>Just a moment...</title></head><body></body></html>`
	contentHTML   = `<html><body><h1>Aventus</h1></body></html>`
)

func TestLoadPlainPage(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{sources: []string{contentHTML}}
	s := NewSession(SessionConfig{}, markerDetector{}, &countingPacer{}, nil)

	page, err := s.Load(context.Background(), d, "https://example.com/p", false)
	require.NoError(t, err)
	require.False(t, page.Challenged)
	require.Equal(t, contentHTML, page.HTML)
	require.Equal(t, "https://example.com/final", page.URL)
	require.Equal(t, []string{"https://example.com/p"}, d.navigated)
	require.Zero(t, d.scrolls)
}

func TestLoadResolvesChallenge(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		sources:   []string{challengeHTML, challengeHTML, contentHTML},
		clickable: map[string]bool{`button#verify`: true},
	}
	s := NewSession(SessionConfig{ChallengeTimeout: time.Second, ChallengePoll: 10 * time.Millisecond}, markerDetector{}, &countingPacer{}, nil)

	page, err := s.Load(context.Background(), d, "https://example.com/p", false)
	require.NoError(t, err)
	require.True(t, page.Challenged)
	require.Equal(t, contentHTML, page.HTML)
	require.Equal(t, []string{`button#verify`, `button#verify`}, d.clicks)
}

func TestLoadChallengeUnresolved(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{sources: []string{challengeHTML}}
	s := NewSession(SessionConfig{ChallengeTimeout: 50 * time.Millisecond}, markerDetector{}, &countingPacer{}, nil)

	page, err := s.Load(context.Background(), d, "https://example.com/p", false)
	require.ErrorIs(t, err, crawler.ErrChallengeUnresolved)
	require.True(t, page.Challenged)
}

func TestChallengePollingWithoutPacerIsBounded(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{sources: []string{challengeHTML}}
	s := NewSession(SessionConfig{ChallengeTimeout: 300 * time.Millisecond, ChallengePoll: 100 * time.Millisecond}, markerDetector{}, nil, nil)

	_, err := s.Load(context.Background(), d, "https://example.com/p", false)
	require.ErrorIs(t, err, crawler.ErrChallengeUnresolved)
	d.mu.Lock()
	defer d.mu.Unlock()
	require.LessOrEqual(t, d.polls, 5, "one initial check plus at most one per poll interval")
}

func TestLoadNavigationError(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{sources: []string{contentHTML}, navErr: errors.New("net::ERR_CONNECTION_RESET")}
	s := NewSession(SessionConfig{}, markerDetector{}, nil, nil)

	_, err := s.Load(context.Background(), d, "https://example.com/p", false)
	require.ErrorContains(t, err, "ERR_CONNECTION_RESET")
}

func TestScrollUntilStable(t *testing.T) {
	t.Parallel()

	// initial 1000, then grows twice, then repeats.
	d := &fakeDriver{sources: []string{contentHTML}, heights: []int64{1000, 2000, 3000, 3000}}
	pacer := &countingPacer{}
	s := NewSession(SessionConfig{MaxScrolls: 50}, nil, pacer, nil)

	page, err := s.Load(context.Background(), d, "https://example.com/brand", true)
	require.NoError(t, err)
	require.Equal(t, 3, page.Scrolls)
	require.Equal(t, 3, d.scrolls)
	// one pause before navigation and one after each scroll
	require.Equal(t, 4, pacer.light)
}

func TestScrollStopsAtLimit(t *testing.T) {
	t.Parallel()

	heights := make([]int64, 0, 20)
	for i := int64(1); i <= 20; i++ {
		heights = append(heights, i*100)
	}
	d := &fakeDriver{sources: []string{contentHTML}, heights: heights}
	s := NewSession(SessionConfig{MaxScrolls: 5}, nil, nil, nil)

	page, err := s.Load(context.Background(), d, "https://example.com/brand", true)
	require.NoError(t, err)
	require.Equal(t, 5, page.Scrolls)
	require.Equal(t, 5, d.scrolls)
}

type fakeOpener struct {
	driver Driver
	closed bool
	err    error
}

func (o *fakeOpener) Open(context.Context) (Driver, func(), error) {
	if o.err != nil {
		return nil, func() {}, o.err
	}
	return o.driver, func() { o.closed = true }, nil
}

func TestFetcherUsesDocumentStatus(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{sources: []string{contentHTML}, status: 203}
	opener := &fakeOpener{driver: d}
	f := NewWithOpener(opener, NewSession(SessionConfig{}, markerDetector{}, nil, nil))

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/p"})
	require.NoError(t, err)
	require.Equal(t, crawler.StrategyBrowser, resp.Strategy)
	require.Equal(t, 203, resp.StatusCode)
	require.Equal(t, "1", resp.Headers.Get("X-Doc"))
	require.Equal(t, contentHTML, string(resp.Body))
	require.True(t, opener.closed)
}

func TestFetcherOpenError(t *testing.T) {
	t.Parallel()

	f := NewWithOpener(&fakeOpener{err: errors.New("no chrome")}, NewSession(SessionConfig{}, nil, nil, nil))
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorContains(t, err, "no chrome")
}

func TestNewDisabled(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Enabled: false}, NewSession(SessionConfig{}, nil, nil, nil))
	require.ErrorIs(t, err, ErrBrowserDisabled)
}

func TestResponseMetaCapture(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  403,
			URL:     "https://example.com/p",
			Headers: network.Headers{"Cf-Ray": "abc"},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 200},
	})
	status, headers, url := meta.snapshot()
	require.Equal(t, 403, status)
	require.Equal(t, "abc", headers.Get("Cf-Ray"))
	require.Equal(t, "https://example.com/p", url)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	h := toNetworkHeaders(http.Header{"Accept-Language": {"en-US"}, "X-Multi": {"a", "b"}, "X-Empty": {}})
	require.Equal(t, "en-US", h["Accept-Language"])
	require.Equal(t, []string{"a", "b"}, h["X-Multi"])
	_, ok := h["X-Empty"]
	require.False(t, ok)
}
