// Package chain selects and falls back across fetch strategies while
// keeping the request budget informed of every attempt.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/metrics"
)

// Budget is the part of the request budget the layer drives.
type Budget interface {
	Record()
	Flag()
	ShouldCooldown() bool
	Cooldown(ctx context.Context) error
}

// Limiter spaces requests to the same host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Strategies holds the available fetchers. A nil entry is an absent strategy.
type Strategies struct {
	Direct  crawler.Fetcher
	Proxy   crawler.Fetcher
	Browser crawler.Fetcher
}

// Config controls strategy selection.
type Config struct {
	// ProxyEvery routes every Nth request through the proxy first.
	ProxyEvery int
}

// Layer implements the challenge-aware fetch chain.
type Layer struct {
	strategies Strategies
	detector   crawler.ChallengeDetector
	budget     Budget
	limiter    Limiter
	proxyEvery int
	logger     *zap.Logger

	mu       sync.Mutex
	requests int
}

type step struct {
	kind    crawler.Strategy
	fetcher crawler.Fetcher
}

// New builds a Layer. The detector and limiter are optional.
func New(
	cfg Config,
	strategies Strategies,
	detector crawler.ChallengeDetector,
	budget Budget,
	limiter Limiter,
	logger *zap.Logger,
) (*Layer, error) {
	if budget == nil {
		return nil, fmt.Errorf("request budget is required")
	}
	if strategies.Direct == nil && strategies.Proxy == nil && strategies.Browser == nil {
		return nil, crawler.ErrNoStrategy
	}
	return &Layer{
		strategies: strategies,
		detector:   detector,
		budget:     budget,
		limiter:    limiter,
		proxyEvery: cfg.ProxyEvery,
		logger:     logging.OrNop(logger),
	}, nil
}

// Fetch retrieves request.URL, trying strategies in order until one returns
// real content. The outcome lists every attempt made.
func (l *Layer) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, crawler.FetchOutcome, error) {
	var outcome crawler.FetchOutcome

	if l.budget.ShouldCooldown() {
		if err := l.budget.Cooldown(ctx); err != nil {
			return crawler.FetchResponse{}, outcome, err
		}
		outcome.CooledDown = true
	}

	plan := l.plan(request, l.next())
	if len(plan) == 0 {
		return crawler.FetchResponse{}, outcome, &crawler.FetchError{URL: request.URL, Err: crawler.ErrNoStrategy}
	}

	var (
		last    crawler.FetchResponse
		lastErr error
	)
	for i, s := range plan {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx, request.URL); err != nil {
				lastErr = err
				break
			}
		}

		resp, attempt := l.attempt(ctx, s, request)
		outcome.Attempts = append(outcome.Attempts, attempt)
		if attempt.Challenged {
			outcome.Challenged = true
			l.budget.Flag()
		}
		if attempt.Err == nil {
			outcome.Strategy = s.kind
			return resp, outcome, nil
		}

		last, lastErr = resp, attempt.Err
		if ctx.Err() != nil {
			break
		}
		if i < len(plan)-1 {
			l.logger.Debug("fetch strategy failed, falling back",
				zap.String("url", request.URL),
				zap.String("strategy", string(s.kind)),
				zap.String("next", string(plan[i+1].kind)),
				zap.Error(attempt.Err),
			)
		}
	}

	return last, outcome, &crawler.FetchError{URL: request.URL, Attempts: outcome.Attempts, Err: lastErr}
}

func (l *Layer) next() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests++
	return l.requests
}

// plan orders the configured strategies for the n-th request.
func (l *Layer) plan(request crawler.FetchRequest, n int) []step {
	direct := step{crawler.StrategyDirect, l.strategies.Direct}
	proxy := step{crawler.StrategyProxy, l.strategies.Proxy}
	browser := step{crawler.StrategyBrowser, l.strategies.Browser}

	var order []step
	switch {
	case request.Interactive:
		order = []step{browser, proxy, direct}
	case l.proxyEvery > 0 && n%l.proxyEvery == 0:
		order = []step{proxy, direct, browser}
	default:
		order = []step{direct, proxy, browser}
	}

	out := order[:0]
	for _, s := range order {
		if s.fetcher != nil {
			out = append(out, s)
		}
	}
	return out
}

func (l *Layer) attempt(ctx context.Context, s step, request crawler.FetchRequest) (crawler.FetchResponse, crawler.Attempt) {
	l.budget.Record()
	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, request)
	attempt := crawler.Attempt{
		Strategy:   s.kind,
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
		Err:        err,
	}

	switch {
	case errors.Is(err, crawler.ErrChallengeUnresolved):
		attempt.Challenged = true
	case l.detector != nil && (len(resp.Body) > 0 || resp.StatusCode != 0) && l.detector.Challenged(resp):
		attempt.Challenged = true
		metrics.ObserveChallenge("detected")
		if err == nil {
			attempt.Err = fmt.Errorf("%s via %s: %w", request.URL, s.kind, crawler.ErrBlocked)
		}
	}

	result := "ok"
	switch {
	case attempt.Challenged:
		result = "challenged"
	case attempt.Err != nil:
		result = "error"
	}
	metrics.ObserveFetchAttempt(string(s.kind), result, attempt.Duration)
	return resp, attempt
}
