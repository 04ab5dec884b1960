// Package postgres stores notes, colognes and their links in Postgres.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

//go:embed schema.sql
var schema string

const foreignKeyViolation = "23503"

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements crawler.Store on a pgx pool.
type Store struct {
	pool pool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Count returns the number of rows persisted for category.
func (s *Store) Count(ctx context.Context, category crawler.Category) (int, error) {
	var table string
	switch category {
	case crawler.CategoryNotes:
		table = "notes"
	case crawler.CategoryColognes:
		table = "colognes"
	default:
		return 0, fmt.Errorf("unknown category %q", category)
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (crawler.Tx, error) {
	t, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &tx{tx: t}, nil
}

var voteColumns = []string{
	"longevity_very_weak", "longevity_weak", "longevity_moderate", "longevity_long_lasting", "longevity_eternal",
	"sillage_intimate", "sillage_moderate", "sillage_strong", "sillage_enormous",
	"gender_female", "gender_more_female", "gender_unisex", "gender_more_male", "gender_male",
	"price_way_overpriced", "price_overpriced", "price_ok", "price_good_value", "price_great_value",
}

var (
	cologneColumns = "id, name, brand, launch_year, accords, " + strings.Join(voteColumns, ", ") + ", COALESCE(url, '')"

	findCologneSQL = `SELECT ` + cologneColumns + `
FROM colognes
WHERE ($1 <> '' AND url = $1) OR (brand = $2 AND name = $3)
ORDER BY (url IS NOT DISTINCT FROM $1) DESC
LIMIT 1`

	insertCologneSQL = func() string {
		placeholders := make([]string, 0, len(voteColumns))
		for i := range voteColumns {
			placeholders = append(placeholders, fmt.Sprintf("$%d", i+5))
		}
		return `INSERT INTO colognes (name, brand, launch_year, accords, ` + strings.Join(voteColumns, ", ") + `, url)
VALUES ($1, $2, $3, $4, ` + strings.Join(placeholders, ", ") + fmt.Sprintf(`, NULLIF($%d, ''))`, len(voteColumns)+5) + `
ON CONFLICT DO NOTHING
RETURNING id`
	}()
)

const (
	findNoteSQL = `SELECT id, name, note_group, description, url FROM notes WHERE name = $1`

	insertNoteSQL = `INSERT INTO notes (name, note_group, description, url)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING
RETURNING id`

	linkExistsSQL = `SELECT EXISTS (
	SELECT 1 FROM cologne_notes WHERE cologne_id = $1 AND note_id = $2 AND role = $3
)`

	insertLinkSQL = `INSERT INTO cologne_notes (cologne_id, note_id, role)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`
)

type tx struct {
	tx pgx.Tx
}

func (t *tx) FindNoteByName(ctx context.Context, name string) (crawler.Note, error) {
	var n crawler.Note
	err := t.tx.QueryRow(ctx, findNoteSQL, name).Scan(&n.ID, &n.Name, &n.Group, &n.Description, &n.URL)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Note{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Note{}, fmt.Errorf("select note: %w", err)
	}
	return n, nil
}

func (t *tx) FindCologne(ctx context.Context, url, brand, name string) (crawler.Cologne, error) {
	var c crawler.Cologne
	dest := append([]any{&c.ID, &c.Name, &c.Brand, &c.LaunchYear, &c.Accords}, votePointers(&c.Votes)...)
	dest = append(dest, &c.URL)
	err := t.tx.QueryRow(ctx, findCologneSQL, url, brand, name).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Cologne{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Cologne{}, fmt.Errorf("select cologne: %w", err)
	}
	return c, nil
}

func (t *tx) InsertNote(ctx context.Context, note crawler.NoteCandidate) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, insertNoteSQL, note.Name, note.Group, note.Description, note.URL).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, crawler.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert note: %w", err)
	}
	return id, nil
}

func (t *tx) InsertCologne(ctx context.Context, c crawler.CologneCandidate) (int64, error) {
	accords := c.Accords
	if accords == nil {
		accords = []string{}
	}
	args := []any{c.Name, c.Brand, c.LaunchYear, accords}
	for _, v := range c.Votes.Cells() {
		args = append(args, v)
	}
	args = append(args, c.URL)

	var id int64
	err := t.tx.QueryRow(ctx, insertCologneSQL, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, crawler.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert cologne: %w", err)
	}
	return id, nil
}

func (t *tx) LinkExists(ctx context.Context, link crawler.CologneNote) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, linkExistsSQL, link.CologneID, link.NoteID, string(link.Role)).Scan(&exists); err != nil {
		return false, fmt.Errorf("select link: %w", err)
	}
	return exists, nil
}

func (t *tx) InsertLink(ctx context.Context, link crawler.CologneNote) error {
	tag, err := t.tx.Exec(ctx, insertLinkSQL, link.CologneID, link.NoteID, string(link.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("link %d->%d: %w", link.CologneID, link.NoteID, crawler.ErrNotFound)
		}
		return fmt.Errorf("insert link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrDuplicate
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func votePointers(v *crawler.VoteTable) []any {
	return []any{
		&v.Longevity.VeryWeak, &v.Longevity.Weak, &v.Longevity.Moderate, &v.Longevity.LongLasting, &v.Longevity.Eternal,
		&v.Sillage.Intimate, &v.Sillage.Moderate, &v.Sillage.Strong, &v.Sillage.Enormous,
		&v.Gender.Female, &v.Gender.MoreFemale, &v.Gender.Unisex, &v.Gender.MoreMale, &v.Gender.Male,
		&v.PriceValue.WayOverpriced, &v.PriceValue.Overpriced, &v.PriceValue.OK, &v.PriceValue.GoodValue, &v.PriceValue.GreatValue,
	}
}
