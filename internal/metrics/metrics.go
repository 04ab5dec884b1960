// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeAdded         = "added"
	OutcomeExists        = "exists"
	OutcomeFetchFailed   = "fetch_failed"
	OutcomeParseFailed   = "parse_failed"
	OutcomePersistFailed = "persist_failed"
)

// Link outcomes beyond added/exists.
const (
	LinkUnknownNote = "unknown_note"
	LinkFailed      = "failed"
)

var (
	recordsTotal               *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	cooldownsTotal             prometheus.Counter
	challengesTotal            *prometheus.CounterVec
	linksTotal                 *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. It is safe to call more than once
// and every Observe helper calls it.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scent_records_total",
				Help: "Frontier URLs processed, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scent_fetch_attempts_total",
				Help: "Fetch strategy attempts, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scent_fetch_duration_seconds",
				Help:    "Histogram of fetch attempt latencies, labeled by strategy.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		)

		cooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scent_cooldowns_total",
				Help: "Cooldown pauses taken by the request budget.",
			},
		)

		challengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scent_challenges_total",
				Help: "Bot challenges seen, labeled by result (detected, resolved, unresolved).",
			},
			[]string{"result"},
		)

		linksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scent_links_total",
				Help: "Cologne-note link decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scent_rate_limit_delays_seconds",
				Help:    "Histogram of per-host pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scent_http_requests_total",
				Help: "Requests served by the metrics listener, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scent_http_request_duration_seconds",
				Help:    "Histogram of metrics listener latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from rawURL, or "unknown".
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord counts one processed frontier URL.
func ObserveRecord(category, outcome string) {
	Init()
	recordsTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveFetchAttempt counts one strategy attempt and its latency.
func ObserveFetchAttempt(strategy, result string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(strategy, result).Inc()
	fetchDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveCooldown counts one budget cooldown.
func ObserveCooldown() {
	Init()
	cooldownsTotal.Inc()
}

// ObserveChallenge counts a challenge event.
func ObserveChallenge(result string) {
	Init()
	challengesTotal.WithLabelValues(result).Inc()
}

// ObserveLink counts a link decision.
func ObserveLink(outcome string) {
	Init()
	linksTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a request served by the metrics listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
