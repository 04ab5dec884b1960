package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/metrics"
	"github.com/JakeFAU/scentfinder-crawler/internal/policy/ratelimit"
)

const (
	heightScript = `document.body ? document.body.scrollHeight : 0`
	scrollScript = `window.scrollBy(0, window.innerHeight)`
	locationJS   = `window.location.href`
)

// challengeSelectors are interstitial controls worth clicking, in order.
var challengeSelectors = []string{
	`#challenge-stage input[type="checkbox"]`,
	`#challenge-stage input[type="button"]`,
	`#challenge-form input[type="submit"]`,
	`.cf-turnstile input[type="checkbox"]`,
	`input[type="checkbox"][name="cf-turnstile-response"]`,
	`button#verify`,
	`button[type="submit"]`,
}

// SessionConfig controls a page session.
type SessionConfig struct {
	NavTimeout       time.Duration
	ChallengeTimeout time.Duration
	MaxScrolls       int

	// ChallengePoll is the least time between two challenge checks, so a
	// pacer that never pauses cannot spin on the driver.
	ChallengePoll time.Duration
}

// Session performs the per-page browser choreography against a Driver.
type Session struct {
	cfg      SessionConfig
	detector crawler.ChallengeDetector
	pacer    ratelimit.Pacer
	logger   *zap.Logger
}

// Page is the result of loading a URL in a tab.
type Page struct {
	URL        string
	HTML       string
	Challenged bool
	Scrolls    int
}

// NewSession builds a Session. A nil detector disables challenge handling
// and a nil pacer never pauses.
func NewSession(cfg SessionConfig, detector crawler.ChallengeDetector, pacer ratelimit.Pacer, logger *zap.Logger) *Session {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.ChallengeTimeout <= 0 {
		cfg.ChallengeTimeout = 30 * time.Second
	}
	if cfg.ChallengePoll <= 0 {
		cfg.ChallengePoll = 250 * time.Millisecond
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 200
	}
	if pacer == nil {
		pacer = ratelimit.NoPacer{}
	}
	return &Session{cfg: cfg, detector: detector, pacer: pacer, logger: logging.OrNop(logger)}
}

// Load navigates d to url, clears any challenge, optionally scrolls until the
// page height settles, and returns the resulting DOM.
func (s *Session) Load(ctx context.Context, d Driver, url string, scroll bool) (Page, error) {
	result := Page{URL: url}

	if err := s.pacer.Light(ctx); err != nil {
		return result, fmt.Errorf("pause before navigation: %w", err)
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	err := d.Navigate(navCtx, url)
	if err == nil {
		err = d.WaitVisible(navCtx, "body")
	}
	cancel()
	if err != nil {
		return result, err
	}

	challenged, err := s.resolveChallenge(ctx, d, url)
	result.Challenged = challenged
	if err != nil {
		return result, err
	}

	if scroll {
		n, err := s.scrollUntilStable(ctx, d)
		result.Scrolls = n
		if err != nil {
			return result, err
		}
	}

	html, err := d.Source(ctx)
	if err != nil {
		return result, err
	}
	result.HTML = html

	var location string
	if err := d.Eval(ctx, locationJS, &location); err == nil && location != "" {
		result.URL = location
	}
	return result, nil
}

func (s *Session) isChallenge(url, html string) bool {
	if s.detector == nil {
		return false
	}
	return s.detector.Challenged(crawler.FetchResponse{URL: url, StatusCode: 200, Body: []byte(html)})
}

// resolveChallenge reports whether a challenge was present. It returns
// crawler.ErrChallengeUnresolved if the challenge outlives the timeout.
func (s *Session) resolveChallenge(ctx context.Context, d Driver, url string) (bool, error) {
	html, err := d.Source(ctx)
	if err != nil {
		return false, err
	}
	if !s.isChallenge(url, html) {
		return false, nil
	}

	metrics.ObserveChallenge("detected")
	s.logger.Warn("bot challenge detected", zap.String("url", url))

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ChallengeTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		polled := time.Now()
		s.clickChallenge(cctx, d)

		if err := s.pacer.Light(cctx); err != nil {
			break
		}
		if err := waitUntil(cctx, polled.Add(s.cfg.ChallengePoll)); err != nil {
			break
		}
		html, err := d.Source(cctx)
		if err == nil && !s.isChallenge(url, html) {
			metrics.ObserveChallenge("resolved")
			s.logger.Info("bot challenge cleared", zap.String("url", url), zap.Int("attempts", attempt))
			return true, nil
		}
		if cctx.Err() != nil {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return true, err
	}
	metrics.ObserveChallenge("unresolved")
	return true, fmt.Errorf("%s: %w", url, crawler.ErrChallengeUnresolved)
}

func waitUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) clickChallenge(ctx context.Context, d Driver) {
	for _, sel := range challengeSelectors {
		clickCtx, cancel := context.WithTimeout(ctx, clickTimeout)
		err := d.Click(clickCtx, sel)
		cancel()
		if err == nil {
			s.logger.Debug("clicked challenge control", zap.String("selector", sel))
			return
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
	}
}

// scrollUntilStable scrolls one viewport at a time until two consecutive
// height readings match or MaxScrolls is reached. It returns the number of
// scrolls performed.
func (s *Session) scrollUntilStable(ctx context.Context, d Driver) (int, error) {
	var previous int64
	if err := d.Eval(ctx, heightScript, &previous); err != nil {
		return 0, fmt.Errorf("measure page height: %w", err)
	}
	for i := 1; i <= s.cfg.MaxScrolls; i++ {
		if err := d.Eval(ctx, scrollScript, nil); err != nil {
			return i - 1, fmt.Errorf("scroll: %w", err)
		}
		if err := s.pacer.Light(ctx); err != nil {
			return i, fmt.Errorf("pause after scroll: %w", err)
		}
		var current int64
		if err := d.Eval(ctx, heightScript, &current); err != nil {
			return i, fmt.Errorf("measure page height: %w", err)
		}
		if current == previous {
			return i, nil
		}
		previous = current
	}
	s.logger.Debug("scroll limit reached", zap.Int("max_scrolls", s.cfg.MaxScrolls))
	return s.cfg.MaxScrolls, nil
}
