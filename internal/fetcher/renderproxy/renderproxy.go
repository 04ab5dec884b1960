// Package renderproxy implements the fetch strategy that routes requests
// through a third-party rendering proxy which executes the page on its side
// and returns the resulting HTML.
package renderproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// ErrProxyNotConfigured is returned by New when no API key is available.
var ErrProxyNotConfigured = errors.New("rendering proxy api key not configured")

// maxBody caps how much of a proxied page is read.
const maxBody = 16 << 20

// Config controls the proxy endpoint and credentials.
type Config struct {
	Endpoint string
	APIKey   string
	Render   bool
	Timeout  time.Duration
}

// Fetcher implements crawler.Fetcher against the rendering proxy.
type Fetcher struct {
	endpoint *url.URL
	apiKey   string
	render   bool
	client   *http.Client
}

// New builds a Fetcher. It returns ErrProxyNotConfigured when cfg.APIKey is
// empty so callers can run without this strategy.
func New(cfg Config, client *http.Client) (*Fetcher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrProxyNotConfigured
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid rendering proxy endpoint %q", cfg.Endpoint)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 70 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{endpoint: endpoint, apiKey: cfg.APIKey, render: cfg.Render, client: client}, nil
}

// Fetch retrieves request.URL through the proxy.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(request.URL), nil)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("build proxy request: %w", err)
	}
	for key, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("proxy fetch %s: %w", request.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read errors are reported below

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("read proxy response for %s: %w", request.URL, err)
	}
	out := crawler.FetchResponse{
		URL:        request.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
		Strategy:   crawler.StrategyProxy,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("proxy fetch: %w", &crawler.StatusError{URL: request.URL, StatusCode: resp.StatusCode})
	}
	return out, nil
}

func (f *Fetcher) requestURL(target string) string {
	u := *f.endpoint
	q := u.Query()
	q.Set("api_key", f.apiKey)
	q.Set("url", target)
	if f.render {
		q.Set("render", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
