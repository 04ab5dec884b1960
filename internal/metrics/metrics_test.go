package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.Fragrantica.com/notes/", "www.fragrantica.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if recordsTotal == nil || fetchAttemptsTotal == nil || cooldownsTotal == nil ||
		challengesTotal == nil || linksTotal == nil {
		t.Fatal("Init() did not initialize collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(recordsTotalFor("colognes", OutcomeAdded))
	ObserveRecord("colognes", OutcomeAdded)
	if got := testutil.ToFloat64(recordsTotalFor("colognes", OutcomeAdded)); got != before+1 {
		t.Errorf("expected records counter to increase by 1, got %f -> %f", before, got)
	}

	beforeCooldowns := testutil.ToFloat64(cooldownsTotal)
	ObserveCooldown()
	if got := testutil.ToFloat64(cooldownsTotal); got != beforeCooldowns+1 {
		t.Errorf("expected cooldown counter to increase by 1")
	}

	ObserveFetchAttempt("direct", "ok", 10*time.Millisecond)
	if got := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("direct", "ok")); got < 1 {
		t.Errorf("expected fetch attempt to be counted, got %f", got)
	}

	ObserveChallenge("detected")
	ObserveLink("added")
	ObserveRateLimitDelay("example.com", time.Second)
	if got := testutil.ToFloat64(linksTotal.WithLabelValues("added")); got < 1 {
		t.Errorf("expected link to be counted, got %f", got)
	}
}

func recordsTotalFor(category, outcome string) prometheus.Counter {
	Init()
	return recordsTotal.WithLabelValues(category, outcome)
}
