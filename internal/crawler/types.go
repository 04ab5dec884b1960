package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Category names an entity type and, with it, a frontier list.
type Category string

// Supported categories.
const (
	CategoryNotes    Category = "notes"
	CategoryColognes Category = "colognes"
)

// ParseCategory validates a configured category name.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryNotes, CategoryColognes:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", raw)
	}
}

// Strategy identifies how a page was retrieved.
type Strategy string

// Fetch strategies, cheapest first.
const (
	StrategyDirect  Strategy = "direct"
	StrategyProxy   Strategy = "proxy"
	StrategyBrowser Strategy = "browser"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL      string
	Category Category
	// Interactive marks pages that need a real browser session, such as
	// paginated listings.
	Interactive bool
	// Scroll asks the browser strategy to scroll until the page height is
	// stable before taking the DOM snapshot.
	Scroll  bool
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Strategy   Strategy
}

// Attempt records one strategy invocation for a URL.
type Attempt struct {
	Strategy   Strategy
	StatusCode int
	Duration   time.Duration
	Challenged bool
	Err        error
}

// FetchOutcome summarizes how the fetch layer resolved a request.
type FetchOutcome struct {
	Strategy   Strategy
	Attempts   []Attempt
	Challenged bool
	CooledDown bool
}

// Blocked reports whether every attempt ran into a bot defense.
func (o FetchOutcome) Blocked() bool {
	if len(o.Attempts) == 0 {
		return false
	}
	for _, a := range o.Attempts {
		if !a.Challenged {
			return false
		}
	}
	return true
}
