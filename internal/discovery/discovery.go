// Package discovery fills the frontier from the site's listing pages: the
// note index for notes, and country then brand listings for colognes.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/extract"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/policy/ratelimit"
)

// Listing selectors.
const (
	NoteLinks    = "div.notebox > a"
	BrandLinks   = "div.nduList > p > a"
	CologneLinks = "div.perfumeslist > div > div > p > a"
)

// Fetcher is the fetch layer as discovery uses it.
type Fetcher interface {
	Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, crawler.FetchOutcome, error)
}

// Frontier receives discovered URLs.
type Frontier interface {
	Append(ctx context.Context, category crawler.Category, urls ...string) error
}

// Config holds the site root and the countries whose brand lists are walked.
type Config struct {
	BaseURL   string
	Countries []string
}

// Discoverer walks listing pages and appends what it finds to the frontier.
type Discoverer struct {
	baseURL   string
	countries []string
	fetcher   Fetcher
	frontier  Frontier
	pacer     ratelimit.Pacer
	logger    *zap.Logger
}

// New constructs a Discoverer. A nil pacer disables jitter.
func New(cfg Config, fetcher Fetcher, frontier Frontier, pacer ratelimit.Pacer, logger *zap.Logger) (*Discoverer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if fetcher == nil || frontier == nil {
		return nil, errors.New("fetcher and frontier are required")
	}
	if pacer == nil {
		pacer = ratelimit.NoPacer{}
	}
	return &Discoverer{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		countries: cfg.Countries,
		fetcher:   fetcher,
		frontier:  frontier,
		pacer:     pacer,
		logger:    logging.OrNop(logger).Named("discovery"),
	}, nil
}

// DiscoverNotes appends every note linked from the note index and returns
// how many URLs were appended.
func (d *Discoverer) DiscoverNotes(ctx context.Context) (int, error) {
	links, err := d.links(ctx, crawler.FetchRequest{
		URL:      d.baseURL + "/notes/",
		Category: crawler.CategoryNotes,
	}, NoteLinks)
	if err != nil {
		return 0, err
	}
	if err := d.frontier.Append(ctx, crawler.CategoryNotes, links...); err != nil {
		return 0, fmt.Errorf("append note urls: %w", err)
	}
	d.logger.Info("notes discovered", zap.Int("urls", len(links)))
	return len(links), nil
}

// DiscoverColognes walks each country's brand list and every brand's
// cologne list. A brand listed under several countries is visited once.
// Pages that fail are logged and skipped; URLs are appended brand by brand
// so an interrupted run keeps what it found.
func (d *Discoverer) DiscoverColognes(ctx context.Context) (int, error) {
	seen := make(map[string]struct{})
	total := 0
	for _, country := range d.countries {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		countryURL := fmt.Sprintf("%s/colognes/%s.html", d.baseURL, url.PathEscape(country))
		brands, err := d.links(ctx, crawler.FetchRequest{
			URL:         countryURL,
			Category:    crawler.CategoryColognes,
			Interactive: true,
		}, BrandLinks)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			d.logger.Warn("country listing skipped", zap.String("country", country), zap.Error(err))
			continue
		}

		for _, brand := range brands {
			if _, dup := seen[brand]; dup {
				continue
			}
			seen[brand] = struct{}{}

			if err := d.pacer.Heavy(ctx); err != nil {
				return total, err
			}
			colognes, err := d.links(ctx, crawler.FetchRequest{
				URL:         brand,
				Category:    crawler.CategoryColognes,
				Headers:     http.Header{"Referer": {countryURL}},
				Interactive: true,
				Scroll:      true,
			}, CologneLinks)
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				d.logger.Warn("brand listing skipped", zap.String("brand_url", brand), zap.Error(err))
				continue
			}
			if err := d.frontier.Append(ctx, crawler.CategoryColognes, colognes...); err != nil {
				return total, fmt.Errorf("append cologne urls: %w", err)
			}
			total += len(colognes)
			d.logger.Debug("brand discovered", zap.String("brand_url", brand), zap.Int("urls", len(colognes)))
		}
		d.logger.Info("country discovered", zap.String("country", country), zap.Int("brands", len(brands)))
	}
	return total, nil
}

func (d *Discoverer) links(ctx context.Context, request crawler.FetchRequest, selector string) ([]string, error) {
	resp, _, err := d.fetcher.Fetch(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	base := resp.URL
	if base == "" {
		base = request.URL
	}
	links, err := extract.Links(resp.Body, base, selector)
	if err != nil {
		return nil, fmt.Errorf("links on %s: %w", request.URL, err)
	}
	return links, nil
}
