package chain

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	resp  crawler.FetchResponse
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	resp := f.resp
	resp.URL = req.URL
	return resp, f.err
}

func ok(body string) *fakeFetcher {
	return &fakeFetcher{resp: crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(body)}}
}

func failing(status int, body string) *fakeFetcher {
	return &fakeFetcher{
		resp: crawler.FetchResponse{StatusCode: status, Body: []byte(body)},
		err:  &crawler.StatusError{StatusCode: status},
	}
}

type fakeBudget struct {
	records   int
	flags     int
	cooldown  bool
	cooldowns int
	err       error
}

func (b *fakeBudget) Record()              { b.records++ }
func (b *fakeBudget) Flag()                { b.flags++ }
func (b *fakeBudget) ShouldCooldown() bool { return b.cooldown }
func (b *fakeBudget) Cooldown(context.Context) error {
	b.cooldowns++
	b.cooldown = false
	return b.err
}

type markerDetector struct{}

func (markerDetector) Challenged(resp crawler.FetchResponse) bool {
	return strings.Contains(string(resp.Body), "Just a moment")
}

type fakeLimiter struct{ waits int }

func (l *fakeLimiter) Wait(ctx context.Context, _ string) error {
	l.waits++
	return ctx.Err()
}

func newLayer(t *testing.T, s Strategies, budget *fakeBudget, every int) *Layer {
	t.Helper()
	l, err := New(Config{ProxyEvery: every}, s, markerDetector{}, budget, nil, nil)
	require.NoError(t, err)
	return l
}

func TestDirectSuccess(t *testing.T) {
	t.Parallel()

	direct, proxy := ok("<h1>Bergamot</h1>"), ok("proxy")
	budget := &fakeBudget{}
	l := newLayer(t, Strategies{Direct: direct, Proxy: proxy}, budget, 10)

	resp, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.NoError(t, err)
	require.Equal(t, "<h1>Bergamot</h1>", string(resp.Body))
	require.Equal(t, crawler.StrategyDirect, outcome.Strategy)
	require.Len(t, outcome.Attempts, 1)
	require.Equal(t, 1, budget.records)
	require.Zero(t, proxy.calls)
}

func TestDirectFailureFallsBackToProxy(t *testing.T) {
	t.Parallel()

	direct, proxy := failing(http.StatusInternalServerError, "oops"), ok("<h1>Rendered</h1>")
	budget := &fakeBudget{}
	l := newLayer(t, Strategies{Direct: direct, Proxy: proxy}, budget, 10)

	resp, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.NoError(t, err)
	require.Equal(t, "<h1>Rendered</h1>", string(resp.Body))
	require.Equal(t, crawler.StrategyProxy, outcome.Strategy)
	require.Len(t, outcome.Attempts, 2)
	require.Equal(t, 2, budget.records, "each attempt counts once")
	require.Zero(t, budget.flags)
	require.False(t, outcome.Challenged)
}

func TestChallengeOnDirectFlagsBudget(t *testing.T) {
	t.Parallel()

	direct := ok("<title>Just a moment...</title>")
	proxy := ok("<h1>Rendered</h1>")
	budget := &fakeBudget{}
	l := newLayer(t, Strategies{Direct: direct, Proxy: proxy}, budget, 10)

	_, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.NoError(t, err)
	require.True(t, outcome.Challenged)
	require.True(t, outcome.Attempts[0].Challenged)
	require.ErrorIs(t, outcome.Attempts[0].Err, crawler.ErrBlocked)
	require.Equal(t, 1, budget.flags)
	require.False(t, outcome.Blocked())
}

func TestAllStrategiesFail(t *testing.T) {
	t.Parallel()

	direct := failing(http.StatusForbidden, "<title>Just a moment...</title>")
	proxy := &fakeFetcher{err: errors.New("proxy timeout")}
	budget := &fakeBudget{}
	l := newLayer(t, Strategies{Direct: direct, Proxy: proxy}, budget, 10)

	_, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Len(t, fetchErr.Attempts, 2)
	require.ErrorContains(t, err, "proxy timeout")
	require.Equal(t, 2, budget.records)
	require.True(t, outcome.Challenged)
	require.False(t, outcome.Blocked(), "the proxy failure was not a challenge")
}

func TestProxyCadence(t *testing.T) {
	t.Parallel()

	direct, proxy := ok("direct"), ok("proxy")
	l := newLayer(t, Strategies{Direct: direct, Proxy: proxy}, &fakeBudget{}, 3)

	var strategies []crawler.Strategy
	for i := 0; i < 6; i++ {
		_, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
		require.NoError(t, err)
		strategies = append(strategies, outcome.Strategy)
	}
	require.Equal(t, []crawler.Strategy{
		crawler.StrategyDirect, crawler.StrategyDirect, crawler.StrategyProxy,
		crawler.StrategyDirect, crawler.StrategyDirect, crawler.StrategyProxy,
	}, strategies)
}

func TestInteractiveUsesBrowserThenProxy(t *testing.T) {
	t.Parallel()

	direct := ok("direct")
	proxy := ok("proxy")
	browser := &fakeFetcher{err: crawler.ErrChallengeUnresolved}
	budget := &fakeBudget{}
	l := newLayer(t, Strategies{Direct: direct, Proxy: proxy, Browser: browser}, budget, 10)

	resp, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/b", Interactive: true})
	require.NoError(t, err)
	require.Equal(t, "proxy", string(resp.Body))
	require.Equal(t, crawler.StrategyProxy, outcome.Strategy)
	require.True(t, outcome.Attempts[0].Challenged)
	require.Equal(t, 1, budget.flags)
	require.Equal(t, 1, browser.calls)
	require.Zero(t, direct.calls)
}

func TestMissingProxyDegrades(t *testing.T) {
	t.Parallel()

	direct := failing(http.StatusBadGateway, "")
	browser := ok("<h1>From browser</h1>")
	l := newLayer(t, Strategies{Direct: direct, Browser: browser}, &fakeBudget{}, 1)

	resp, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.NoError(t, err)
	require.Equal(t, crawler.StrategyBrowser, outcome.Strategy)
	require.Equal(t, "<h1>From browser</h1>", string(resp.Body))
}

func TestCooldownGate(t *testing.T) {
	t.Parallel()

	budget := &fakeBudget{cooldown: true}
	l := newLayer(t, Strategies{Direct: ok("x")}, budget, 10)

	_, outcome, err := l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.NoError(t, err)
	require.True(t, outcome.CooledDown)
	require.Equal(t, 1, budget.cooldowns)

	budget.err = context.Canceled
	budget.cooldown = true
	_, _, err = l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimiterConsultedPerAttempt(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{}
	l, err := New(Config{}, Strategies{Direct: failing(500, ""), Proxy: ok("p")}, nil, &fakeBudget{}, limiter, nil)
	require.NoError(t, err)

	_, _, err = l.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/n"})
	require.NoError(t, err)
	require.Equal(t, 2, limiter.waits)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Strategies{}, nil, &fakeBudget{}, nil, nil)
	require.ErrorIs(t, err, crawler.ErrNoStrategy)

	_, err = New(Config{}, Strategies{Direct: ok("")}, nil, nil, nil, nil)
	require.Error(t, err)
}
