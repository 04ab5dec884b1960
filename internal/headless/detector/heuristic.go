// Package detector recognizes bot-defense interstitials in fetched pages.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// titleHints are lowercase fragments seen in interstitial page titles.
var titleHints = []string{
	"just a moment",
	"attention required",
	"checking your browser",
	"verify you are human",
	"access denied",
	"please wait",
	"too many requests",
	"ddos-guard",
}

// challengeSelectors match markup that only interstitials carry.
var challengeSelectors = []string{
	"#challenge-form",
	"#challenge-stage",
	"#challenge-running",
	"#cf-challenge-running",
	".cf-browser-verification",
	".cf-turnstile",
	".g-recaptcha",
	".h-captcha",
	`script[src*="challenge-platform"]`,
	`iframe[src*="captcha"]`,
	`iframe[src*="challenges.cloudflare.com"]`,
}

// bodyHints back up a blocking status code when the markup is unfamiliar.
var bodyHints = []string{
	"cf-browser-verification",
	"challenge-platform",
	"captcha",
	"rate limited",
	"too many requests",
	"verify you are human",
}

// Heuristic implements crawler.ChallengeDetector with rule-based checks.
type Heuristic struct {
	// ShortBodyThreshold is the size below which a blocking status plus a
	// script-heavy body counts as a challenge.
	ShortBodyThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 16 * 1024
	}
	return &Heuristic{ShortBodyThreshold: threshold}
}

// Challenged reports whether resp looks like a bot challenge rather than
// real content.
func (h *Heuristic) Challenged(resp crawler.FetchResponse) bool {
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return blockingStatus(resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
		if containsAny(title, titleHints) {
			return true
		}
		for _, sel := range challengeSelectors {
			if doc.Find(sel).Length() > 0 {
				return true
			}
		}
	}

	if !blockingStatus(resp.StatusCode) {
		return false
	}
	if containsAny(strings.ToLower(string(body)), bodyHints) {
		return true
	}
	return len(body) < h.ShortBodyThreshold && scriptDensityHigh(body)
}

func blockingStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

func containsAny(s string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(s, hint) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
