package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ChallengeDetector recognizes bot-defense interstitials in fetched pages.
type ChallengeDetector interface {
	Challenged(resp FetchResponse) bool
}

// Counter reports how many entities of a category are persisted.
type Counter interface {
	Count(ctx context.Context, category Category) (int, error)
}

// Store is the transactional relational store.
type Store interface {
	Counter
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Tx is a single store transaction. Find methods return ErrNotFound on a
// miss; Insert methods return ErrDuplicate when a unique key already exists.
type Tx interface {
	FindNoteByName(ctx context.Context, name string) (Note, error)
	FindCologne(ctx context.Context, url, brand, name string) (Cologne, error)
	InsertNote(ctx context.Context, note NoteCandidate) (int64, error)
	InsertCologne(ctx context.Context, cologne CologneCandidate) (int64, error)
	LinkExists(ctx context.Context, link CologneNote) (bool, error)
	InsertLink(ctx context.Context, link CologneNote) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
