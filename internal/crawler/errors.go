package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound signals that a lookup by natural key matched no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate signals that an insert hit a uniqueness constraint.
	ErrDuplicate = errors.New("record already exists")
	// ErrVoteTableShort rejects cologne pages with an incomplete vote grid.
	ErrVoteTableShort = errors.New("vote table too short")
	// ErrMissingTitle rejects note pages without a title.
	ErrMissingTitle = errors.New("page title missing")
	// ErrChallengeUnresolved signals a bot challenge that could not be cleared.
	ErrChallengeUnresolved = errors.New("bot challenge unresolved")
	// ErrNoStrategy signals that no fetch strategy is available for a request.
	ErrNoStrategy = errors.New("no fetch strategy available")
	// ErrBlocked signals that a strategy returned a bot-defense page instead
	// of content.
	ErrBlocked = errors.New("blocked by bot defense")
)

// FetchError is returned when every strategy failed for a URL.
type FetchError struct {
	URL      string
	Attempts []Attempt
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, len(e.Attempts), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is returned when a fetched page cannot produce a candidate.
type ParseError struct {
	URL      string
	Category Category
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s page %s: %v", e.Category, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistError is returned when a candidate could not be committed.
type PersistError struct {
	URL string
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response from a fetch strategy.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}
