package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Store is an in-memory relational store for dry runs and tests. A
// transaction holds the store lock from Begin until Commit or Rollback, so
// transactions are fully serialized.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	notes    []crawler.Note
	colognes []crawler.Cologne
	links    []crawler.CologneNote
	closed   bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Count returns the number of persisted entities of category.
func (s *Store) Count(_ context.Context, category crawler.Category) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch category {
	case crawler.CategoryNotes:
		return len(s.notes), nil
	case crawler.CategoryColognes:
		return len(s.colognes), nil
	default:
		return 0, fmt.Errorf("unknown category %q", category)
	}
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (crawler.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("store closed")
	}
	return &tx{store: s}, nil
}

// Close marks the store closed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Notes returns a snapshot of persisted notes.
func (s *Store) Notes() []crawler.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Note(nil), s.notes...)
}

// Colognes returns a snapshot of persisted colognes.
func (s *Store) Colognes() []crawler.Cologne {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Cologne(nil), s.colognes...)
}

// Links returns a snapshot of persisted cologne-note links.
func (s *Store) Links() []crawler.CologneNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.CologneNote(nil), s.links...)
}

// tx stages writes until Commit.
type tx struct {
	store    *Store
	notes    []crawler.Note
	colognes []crawler.Cologne
	links    []crawler.CologneNote
	done     bool
}

var errTxDone = errors.New("transaction already closed")

func (t *tx) allNotes() []crawler.Note {
	return append(append([]crawler.Note(nil), t.store.notes...), t.notes...)
}

func (t *tx) allColognes() []crawler.Cologne {
	return append(append([]crawler.Cologne(nil), t.store.colognes...), t.colognes...)
}

func (t *tx) allLinks() []crawler.CologneNote {
	return append(append([]crawler.CologneNote(nil), t.store.links...), t.links...)
}

func (t *tx) FindNoteByName(_ context.Context, name string) (crawler.Note, error) {
	if t.done {
		return crawler.Note{}, errTxDone
	}
	for _, n := range t.allNotes() {
		if n.Name == name {
			return n, nil
		}
	}
	return crawler.Note{}, crawler.ErrNotFound
}

func (t *tx) FindCologne(_ context.Context, url, brand, name string) (crawler.Cologne, error) {
	if t.done {
		return crawler.Cologne{}, errTxDone
	}
	all := t.allColognes()
	if url != "" {
		for _, c := range all {
			if c.URL == url {
				return c, nil
			}
		}
	}
	for _, c := range all {
		if c.Brand == brand && c.Name == name {
			return c, nil
		}
	}
	return crawler.Cologne{}, crawler.ErrNotFound
}

func (t *tx) InsertNote(_ context.Context, note crawler.NoteCandidate) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	for _, n := range t.allNotes() {
		if n.Name == note.Name {
			return 0, crawler.ErrDuplicate
		}
	}
	t.store.nextID++
	id := t.store.nextID
	t.notes = append(t.notes, crawler.Note{
		ID:          id,
		Name:        note.Name,
		Group:       note.Group,
		Description: note.Description,
		URL:         note.URL,
	})
	return id, nil
}

func (t *tx) InsertCologne(_ context.Context, c crawler.CologneCandidate) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	for _, existing := range t.allColognes() {
		if (c.URL != "" && existing.URL == c.URL) || (existing.Brand == c.Brand && existing.Name == c.Name) {
			return 0, crawler.ErrDuplicate
		}
	}
	t.store.nextID++
	id := t.store.nextID
	t.colognes = append(t.colognes, crawler.Cologne{
		ID:         id,
		Name:       c.Name,
		Brand:      c.Brand,
		LaunchYear: c.LaunchYear,
		Accords:    append([]string(nil), c.Accords...),
		Votes:      c.Votes,
		URL:        c.URL,
	})
	return id, nil
}

func (t *tx) LinkExists(_ context.Context, link crawler.CologneNote) (bool, error) {
	if t.done {
		return false, errTxDone
	}
	for _, l := range t.allLinks() {
		if l == link {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertLink(ctx context.Context, link crawler.CologneNote) error {
	exists, err := t.LinkExists(ctx, link)
	if err != nil {
		return err
	}
	if exists {
		return crawler.ErrDuplicate
	}
	if !link.Role.Valid() {
		return fmt.Errorf("invalid role %q", link.Role)
	}
	if !t.hasCologne(link.CologneID) || !t.hasNote(link.NoteID) {
		return fmt.Errorf("link %d->%d references a missing row: %w", link.CologneID, link.NoteID, crawler.ErrNotFound)
	}
	t.links = append(t.links, link)
	return nil
}

func (t *tx) hasCologne(id int64) bool {
	for _, c := range t.allColognes() {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (t *tx) hasNote(id int64) bool {
	for _, n := range t.allNotes() {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.notes = append(t.store.notes, t.notes...)
	t.store.colognes = append(t.store.colognes, t.colognes...)
	t.store.links = append(t.store.links, t.links...)
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
