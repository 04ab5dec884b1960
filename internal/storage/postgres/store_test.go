package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
	_, err = NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS notes").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM colognes")).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(42))

	n, err := store.Count(context.Background(), crawler.CategoryColognes)
	require.NoError(t, err)
	require.Equal(t, 42, n)

	_, err = store.Count(context.Background(), "perfumers")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNoteMissAndInsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, note_group, description, url FROM notes").
		WithArgs("Bergamot").
		WillReturnRows(mock.NewRows([]string{"id", "name", "note_group", "description", "url"}))
	mock.ExpectQuery("INSERT INTO notes").
		WithArgs("Bergamot", "Citrus", "bright", "https://example.com/notes/Bergamot-75.html").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(75)))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.FindNoteByName(ctx, "Bergamot")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	id, err := tx.InsertNote(ctx, crawler.NoteCandidate{
		Name:        "Bergamot",
		Group:       "Citrus",
		Description: "bright",
		URL:         "https://example.com/notes/Bergamot-75.html",
	})
	require.NoError(t, err)
	require.Equal(t, int64(75), id)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNoteConflictIsDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO notes").
		WithArgs("Musk", "", "", "").
		WillReturnRows(mock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertNote(ctx, crawler.NoteCandidate{Name: "Musk"})
	require.ErrorIs(t, err, crawler.ErrDuplicate)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCologneScansVotes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mock := newMockStore(t)

	year := 2010
	cols := append([]string{"id", "name", "brand", "launch_year", "accords"}, voteColumns...)
	cols = append(cols, "url")
	values := []any{int64(9), "Aventus", "Creed", &year, []string{"fruity", "smoky"}}
	for i := range voteColumns {
		values = append(values, i+1)
	}
	values = append(values, "https://example.com/perfume/Creed/Aventus-9828.html")

	mock.ExpectBegin()
	mock.ExpectQuery("FROM colognes").
		WithArgs("https://example.com/perfume/Creed/Aventus-9828.html", "Creed", "Aventus").
		WillReturnRows(mock.NewRows(cols).AddRow(values...))
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	c, err := tx.FindCologne(ctx, "https://example.com/perfume/Creed/Aventus-9828.html", "Creed", "Aventus")
	require.NoError(t, err)
	require.Equal(t, int64(9), c.ID)
	require.Equal(t, 2010, *c.LaunchYear)
	require.Equal(t, []string{"fruity", "smoky"}, c.Accords)
	require.Equal(t, 1, c.Votes.Longevity.VeryWeak)
	require.Equal(t, 19, c.Votes.PriceValue.GreatValue)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCologneArgs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mock := newMockStore(t)

	year := 2012
	cells := make([]int, crawler.VoteCells)
	for i := range cells {
		cells[i] = i * 10
	}
	votes, err := crawler.NewVoteTable(cells)
	require.NoError(t, err)

	args := []any{"Bleu", "Chanel", &year, []string{}}
	for _, v := range cells {
		args = append(args, v)
	}
	args = append(args, "https://example.com/perfume/Chanel/Bleu-1.html")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO colognes").
		WithArgs(args...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertCologne(ctx, crawler.CologneCandidate{
		Name:       "Bleu",
		Brand:      "Chanel",
		LaunchYear: &year,
		Votes:      votes,
		URL:        "https://example.com/perfume/Chanel/Bleu-1.html",
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), id)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkExistsAndInsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mock := newMockStore(t)
	link := crawler.CologneNote{CologneID: 7, NoteID: 3, Role: crawler.RoleTop}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7), int64(3), "top").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO cologne_notes").
		WithArgs(int64(7), int64(3), "top").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO cologne_notes").
		WithArgs(int64(7), int64(3), "top").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	exists, err := tx.LinkExists(ctx, link)
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, tx.InsertLink(ctx, link))
	require.ErrorIs(t, tx.InsertLink(ctx, link), crawler.ErrDuplicate)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLinkForeignKeyViolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cologne_notes").
		WithArgs(int64(7), int64(99), "base").
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolation})
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertLink(ctx, crawler.CologneNote{CologneID: 7, NoteID: 99, Role: crawler.RoleBase})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := store.Begin(context.Background())
	require.ErrorContains(t, err, "pool exhausted")
	require.NoError(t, mock.ExpectationsWereMet())
}
