// Package worker drives the crawl: for each category it walks the frontier
// from the resume offset, one URL at a time, and reports one Result per URL.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/extract"
	"github.com/JakeFAU/scentfinder-crawler/internal/frontier"
	"github.com/JakeFAU/scentfinder-crawler/internal/hash/sha256"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/metrics"
	"github.com/JakeFAU/scentfinder-crawler/internal/persist"
	"github.com/JakeFAU/scentfinder-crawler/internal/policy/ratelimit"
)

// State is the terminal state of one URL in a run.
type State string

// Terminal URL states.
const (
	StatePersisted     State = "persisted"
	StateFetchFailed   State = "fetch_failed"
	StateParseFailed   State = "parse_failed"
	StatePersistFailed State = "persist_failed"
)

// Result describes what happened to one frontier URL.
type Result struct {
	Index    int
	URL      string
	State    State
	Status   persist.Status
	ID       int64
	Strategy crawler.Strategy
	// Blocked is set when every fetch attempt hit a bot-defense page.
	Blocked bool
	Links   persist.LinkReport
	// Err is a *crawler.FetchError, *crawler.ParseError or
	// *crawler.PersistError matching State.
	Err error
}

// Summary tallies one category run.
type Summary struct {
	Category      crawler.Category
	Queued        int
	Offset        int
	Processed     int
	Added         int
	Skipped       int
	FetchFailed   int
	ParseFailed   int
	PersistFailed int
	Blocked       int
}

// Fetcher is the fetch layer as the worker uses it.
type Fetcher interface {
	Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, crawler.FetchOutcome, error)
}

// Persister writes candidates.
type Persister interface {
	UpsertNote(ctx context.Context, note crawler.NoteCandidate) (persist.Status, int64, error)
	UpsertCologne(ctx context.Context, c crawler.CologneCandidate) (persist.Status, int64, error)
	LinkLayout(ctx context.Context, cologneID int64, layout crawler.NoteLayout) (persist.LinkReport, error)
}

// Frontier lists the queued URLs of a category.
type Frontier interface {
	Enumerate(category crawler.Category) ([]string, error)
}

// Discoverer fills the frontier before crawling.
type Discoverer interface {
	DiscoverNotes(ctx context.Context) (int, error)
	DiscoverColognes(ctx context.Context) (int, error)
}

// Config controls Worker behavior.
type Config struct {
	RunID      string
	Categories []crawler.Category
	Discover   bool
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
	ContentType   string
}

// Deps are the collaborators of a Worker. Discoverer, Archive, Hasher and
// Pacer are optional.
type Deps struct {
	Frontier   Frontier
	Counter    crawler.Counter
	Fetcher    Fetcher
	Persister  Persister
	Discoverer Discoverer
	Archive    crawler.BlobStore
	Hasher     crawler.Hasher
	Pacer      ratelimit.Pacer
}

// Worker runs the crawl pipeline.
type Worker struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Worker, error) {
	if deps.Frontier == nil || deps.Counter == nil || deps.Fetcher == nil || deps.Persister == nil {
		return nil, errors.New("frontier, counter, fetcher and persister are required")
	}
	if cfg.Discover && deps.Discoverer == nil {
		return nil, errors.New("discovery enabled without a discoverer")
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimit.NoPacer{}
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{cfg: cfg, deps: deps, log: logging.OrNop(logger)}, nil
}

// Run optionally discovers URLs, then crawls each configured category in
// order. A category that fails to start is logged and the next one runs.
func (w *Worker) Run(ctx context.Context) ([]Summary, error) {
	if w.cfg.Discover {
		w.discover(ctx)
	}
	var summaries []Summary
	for _, category := range w.cfg.Categories {
		summary, err := w.RunCategory(ctx, category)
		summaries = append(summaries, summary)
		if err != nil {
			if ctx.Err() != nil {
				return summaries, err
			}
			w.log.Error("category run failed", zap.String("category", string(category)), zap.Error(err))
		}
	}
	return summaries, nil
}

func (w *Worker) discover(ctx context.Context) {
	for _, category := range w.cfg.Categories {
		var (
			n   int
			err error
		)
		switch category {
		case crawler.CategoryNotes:
			n, err = w.deps.Discoverer.DiscoverNotes(ctx)
		case crawler.CategoryColognes:
			n, err = w.deps.Discoverer.DiscoverColognes(ctx)
		}
		if err != nil {
			w.log.Warn("discovery failed", zap.String("category", string(category)), zap.Error(err))
			continue
		}
		w.log.Info("discovery finished", zap.String("category", string(category)), zap.Int("urls", n))
	}
}

// RunCategory processes the frontier of category from the resume offset to
// the end, strictly in order. It returns early only when ctx ends.
func (w *Worker) RunCategory(ctx context.Context, category crawler.Category) (Summary, error) {
	summary := Summary{Category: category}
	urls, err := w.deps.Frontier.Enumerate(category)
	if err != nil {
		return summary, fmt.Errorf("enumerate %s frontier: %w", category, err)
	}
	offset, err := frontier.ResumeOffset(ctx, w.deps.Counter, category)
	if err != nil {
		return summary, err
	}
	summary.Queued, summary.Offset = len(urls), offset

	pending := frontier.Window(urls, offset)
	w.log.Info("category run started",
		zap.String("run_id", w.cfg.RunID),
		zap.String("category", string(category)),
		zap.Int("queued", len(urls)),
		zap.Int("offset", offset),
		zap.Int("pending", len(pending)),
	)

	for i, url := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if i > 0 {
			if err := w.deps.Pacer.Heavy(ctx); err != nil {
				return summary, err
			}
		}
		result := w.process(ctx, category, offset+i, url)
		w.report(category, result)
		summary.add(result)
	}

	if summary.Processed > 0 && summary.Blocked == summary.Processed {
		w.log.Warn("every fetch in the category run was blocked",
			zap.String("run_id", w.cfg.RunID),
			zap.String("category", string(category)),
			zap.Int("processed", summary.Processed),
		)
	}
	w.log.Info("category run finished",
		zap.String("run_id", w.cfg.RunID),
		zap.String("category", string(category)),
		zap.Int("processed", summary.Processed),
		zap.Int("added", summary.Added),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.FetchFailed+summary.ParseFailed+summary.PersistFailed),
	)
	return summary, nil
}

func (w *Worker) process(ctx context.Context, category crawler.Category, index int, url string) Result {
	result := Result{Index: index, URL: url}

	resp, outcome, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Category: category})
	result.Strategy, result.Blocked = outcome.Strategy, outcome.Blocked()
	if err != nil {
		var ferr *crawler.FetchError
		if !errors.As(err, &ferr) {
			err = &crawler.FetchError{URL: url, Attempts: outcome.Attempts, Err: err}
		}
		result.State, result.Err = StateFetchFailed, err
		return result
	}

	w.archive(ctx, category, url, resp.Body)

	candidate, err := extract.Extract(resp.Body, category, url)
	if err != nil {
		result.State, result.Err = StateParseFailed, err
		return result
	}

	switch {
	case candidate.Note != nil:
		result.Status, result.ID, err = w.deps.Persister.UpsertNote(ctx, *candidate.Note)
	case candidate.Cologne != nil:
		result.Status, result.ID, err = w.deps.Persister.UpsertCologne(ctx, *candidate.Cologne)
		if err == nil {
			// runs for skipped colognes too, so links missed earlier get backfilled
			var linkErr error
			result.Links, linkErr = w.deps.Persister.LinkLayout(ctx, result.ID, candidate.Cologne.Notes)
			if linkErr != nil {
				w.log.Warn("some note links failed",
					append(logging.Record(w.cfg.RunID, string(category), index, url), zap.Error(linkErr))...)
			}
		}
	}
	if err != nil {
		var perr *crawler.PersistError
		if !errors.As(err, &perr) {
			err = &crawler.PersistError{URL: url, Op: "persist", Err: err}
		}
		result.State, result.Err = StatePersistFailed, err
		return result
	}
	result.State = StatePersisted
	return result
}

func (w *Worker) archive(ctx context.Context, category crawler.Category, url string, body []byte) {
	if w.deps.Archive == nil {
		return
	}
	path := w.archivePath(category, url)
	uri, err := w.deps.Archive.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.log.Warn("archive page failed", zap.String("url", url), zap.String("path", path), zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("url", url), zap.String("uri", uri)}
	if digest, err := w.deps.Hasher.Hash(body); err == nil {
		fields = append(fields, zap.String("content_sha256", digest))
	}
	w.log.Debug("page archived", fields...)
}

func (w *Worker) archivePath(category crawler.Category, url string) string {
	name := fmt.Sprintf("%s/%s.html", category, sha256.Key(url))
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// report writes the one summary line every URL gets.
func (w *Worker) report(category crawler.Category, r Result) {
	fields := logging.Record(w.cfg.RunID, string(category), r.Index, r.URL)
	if r.Strategy != "" {
		fields = append(fields, zap.String("strategy", string(r.Strategy)))
	}
	switch r.State {
	case StatePersisted:
		fields = append(fields, zap.Int64("id", r.ID))
		if category == crawler.CategoryColognes {
			fields = append(fields, zap.Int("links_added", r.Links.Added), zap.Int("links_unknown", r.Links.Unknown))
		}
		if r.Status == persist.StatusAdded {
			metrics.ObserveRecord(string(category), metrics.OutcomeAdded)
			w.log.Info("added", fields...)
			return
		}
		metrics.ObserveRecord(string(category), metrics.OutcomeExists)
		w.log.Info("already exists", fields...)
	case StateFetchFailed:
		metrics.ObserveRecord(string(category), metrics.OutcomeFetchFailed)
		w.log.Warn("fetch failed", append(fields, zap.Bool("blocked", r.Blocked), zap.Error(r.Err))...)
	case StateParseFailed:
		metrics.ObserveRecord(string(category), metrics.OutcomeParseFailed)
		w.log.Warn("parse failed", append(fields, zap.Error(r.Err))...)
	case StatePersistFailed:
		metrics.ObserveRecord(string(category), metrics.OutcomePersistFailed)
		w.log.Error("persist failed", append(fields, zap.Error(r.Err))...)
	}
}

func (s *Summary) add(r Result) {
	s.Processed++
	if r.Blocked {
		s.Blocked++
	}
	switch r.State {
	case StatePersisted:
		if r.Status == persist.StatusAdded {
			s.Added++
		} else {
			s.Skipped++
		}
	case StateFetchFailed:
		s.FetchFailed++
	case StateParseFailed:
		s.ParseFailed++
	case StatePersistFailed:
		s.PersistFailed++
	}
}
