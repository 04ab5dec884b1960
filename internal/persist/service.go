// Package persist deduplicates extracted candidates against the relational
// store. Every check-then-insert runs in its own transaction, so a failure
// never reaches back into rows that were already committed.
package persist

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/metrics"
)

// Status reports what an upsert did.
type Status string

// Upsert statuses.
const (
	StatusAdded   Status = "added"
	StatusSkipped Status = "skipped"
)

// LinkReport tallies the link decisions for one note layout.
type LinkReport struct {
	Added   int
	Skipped int
	Unknown int
	Failed  int
}

// Service writes notes, colognes and their links.
type Service struct {
	store    crawler.Store
	notifier *Notifier
	logger   *zap.Logger
}

// New constructs a Service. notifier may be nil.
func New(store crawler.Store, notifier *Notifier, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logging.OrNop(logger),
	}, nil
}

// UpsertNote inserts note unless a note with the same name exists. It returns
// the id of the new or existing row.
func (s *Service) UpsertNote(ctx context.Context, note crawler.NoteCandidate) (Status, int64, error) {
	status := StatusSkipped
	var id int64
	err := s.withTx(ctx, func(tx crawler.Tx) error {
		existing, err := tx.FindNoteByName(ctx, note.Name)
		switch {
		case err == nil:
			id = existing.ID
			return nil
		case !errors.Is(err, crawler.ErrNotFound):
			return fmt.Errorf("find note: %w", err)
		}
		newID, err := tx.InsertNote(ctx, note)
		if errors.Is(err, crawler.ErrDuplicate) {
			// lost a race with a concurrent writer
			existing, err = tx.FindNoteByName(ctx, note.Name)
			if err != nil {
				return fmt.Errorf("find note after conflict: %w", err)
			}
			id = existing.ID
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		status, id = StatusAdded, newID
		return nil
	})
	if err != nil {
		return "", 0, &crawler.PersistError{URL: note.URL, Op: "upsert note", Err: err}
	}
	if status == StatusSkipped {
		s.logger.Debug("note already exists", zap.String("name", note.Name), zap.Int64("note_id", id))
	}
	return status, id, nil
}

// UpsertCologne inserts c unless a cologne with the same URL, or the same
// brand and name, exists. Existing rows are never updated. A newly added
// cologne is announced through the notifier, if any.
func (s *Service) UpsertCologne(ctx context.Context, c crawler.CologneCandidate) (Status, int64, error) {
	status := StatusSkipped
	var id int64
	err := s.withTx(ctx, func(tx crawler.Tx) error {
		existing, err := tx.FindCologne(ctx, c.URL, c.Brand, c.Name)
		switch {
		case err == nil:
			id = existing.ID
			return nil
		case !errors.Is(err, crawler.ErrNotFound):
			return fmt.Errorf("find cologne: %w", err)
		}
		newID, err := tx.InsertCologne(ctx, c)
		if errors.Is(err, crawler.ErrDuplicate) {
			existing, err = tx.FindCologne(ctx, c.URL, c.Brand, c.Name)
			if err != nil {
				return fmt.Errorf("find cologne after conflict: %w", err)
			}
			id = existing.ID
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert cologne: %w", err)
		}
		status, id = StatusAdded, newID
		return nil
	})
	if err != nil {
		return "", 0, &crawler.PersistError{URL: c.URL, Op: "upsert cologne", Err: err}
	}
	if status == StatusSkipped {
		s.logger.Debug("cologne already exists",
			zap.String("brand", c.Brand), zap.String("name", c.Name), zap.Int64("cologne_id", id))
		return status, id, nil
	}
	if s.notifier != nil {
		if err := s.notifier.CologneAdded(ctx, id, c); err != nil {
			s.logger.Warn("cologne notification failed", zap.Int64("cologne_id", id), zap.Error(err))
		}
	}
	return status, id, nil
}

// LinkNote associates an existing cologne and note under role. An existing
// triple is left alone and reported as skipped.
func (s *Service) LinkNote(ctx context.Context, cologneID, noteID int64, role crawler.Role) (Status, error) {
	link := crawler.CologneNote{CologneID: cologneID, NoteID: noteID, Role: role}
	var status Status
	err := s.withTx(ctx, func(tx crawler.Tx) error {
		var err error
		status, err = insertLink(ctx, tx, link)
		return err
	})
	if err != nil {
		return "", &crawler.PersistError{URL: fmt.Sprintf("cologne/%d", cologneID), Op: "link note", Err: err}
	}
	return status, nil
}

// LinkLayout links every note named by layout to the cologne. Notes that are
// not in the store yet are skipped and logged. Each link commits on its own,
// so a failure leaves the cologne and earlier links in place; the failures
// are joined into the returned error.
func (s *Service) LinkLayout(ctx context.Context, cologneID int64, layout crawler.NoteLayout) (LinkReport, error) {
	var report LinkReport
	if layout == nil {
		return report, nil
	}
	var errs []error
	for _, entry := range layout.Entries() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		outcome, err := s.linkByName(ctx, cologneID, entry)
		switch {
		case err != nil:
			report.Failed++
			metrics.ObserveLink(metrics.LinkFailed)
			s.logger.Warn("link failed",
				zap.Int64("cologne_id", cologneID), zap.String("note", entry.Name),
				zap.String("role", string(entry.Role)), zap.Error(err))
			errs = append(errs, fmt.Errorf("link %q as %s: %w", entry.Name, entry.Role, err))
		case outcome == metrics.LinkUnknownNote:
			report.Unknown++
			metrics.ObserveLink(outcome)
			s.logger.Info("note not found, link skipped",
				zap.Int64("cologne_id", cologneID), zap.String("note", entry.Name), zap.String("role", string(entry.Role)))
		case outcome == metrics.OutcomeExists:
			report.Skipped++
			metrics.ObserveLink(outcome)
		default:
			report.Added++
			metrics.ObserveLink(outcome)
		}
	}
	if len(errs) > 0 {
		return report, &crawler.PersistError{
			URL: fmt.Sprintf("cologne/%d", cologneID),
			Op:  "link layout",
			Err: errors.Join(errs...),
		}
	}
	return report, nil
}

func (s *Service) linkByName(ctx context.Context, cologneID int64, entry crawler.NoteEntry) (string, error) {
	outcome := metrics.OutcomeAdded
	err := s.withTx(ctx, func(tx crawler.Tx) error {
		note, err := tx.FindNoteByName(ctx, entry.Name)
		if errors.Is(err, crawler.ErrNotFound) {
			outcome = metrics.LinkUnknownNote
			return nil
		}
		if err != nil {
			return fmt.Errorf("find note: %w", err)
		}
		status, err := insertLink(ctx, tx, crawler.CologneNote{CologneID: cologneID, NoteID: note.ID, Role: entry.Role})
		if err != nil {
			return err
		}
		if status == StatusSkipped {
			outcome = metrics.OutcomeExists
		}
		return nil
	})
	return outcome, err
}

func insertLink(ctx context.Context, tx crawler.Tx, link crawler.CologneNote) (Status, error) {
	if !link.Role.Valid() {
		return "", fmt.Errorf("invalid role %q", link.Role)
	}
	exists, err := tx.LinkExists(ctx, link)
	if err != nil {
		return "", fmt.Errorf("check link: %w", err)
	}
	if exists {
		return StatusSkipped, nil
	}
	err = tx.InsertLink(ctx, link)
	if errors.Is(err, crawler.ErrDuplicate) {
		return StatusSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("insert link: %w", err)
	}
	return StatusAdded, nil
}

// withTx runs fn in a transaction, rolling back on any error.
func (s *Service) withTx(ctx context.Context, fn func(tx crawler.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
