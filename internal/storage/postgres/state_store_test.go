package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

func newMockStore(t *testing.T) (*StateStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStateStoreWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

func TestNewStateStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	_, err := NewStateStoreWithPool(nil, "crawl_state", "fr")
	require.ErrorContains(t, err, "pool is required")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStateStoreWithPool(mock, "bad;table", "fr")
	require.ErrorContains(t, err, "invalid table name")
}

func TestNewStateStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStateStore(context.Background(), StateStoreConfig{})
	require.ErrorContains(t, err, "dsn is required")
}

func TestStateStoreWriteUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	payload := []byte(`{"version":2}`)

	mock.ExpectExec("INSERT INTO crawl_state").
		WithArgs("default", payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Write(context.Background(), payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateStoreReadReturnsPayload(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	payload := []byte(`{"version":2}`)

	mock.ExpectQuery("SELECT payload FROM crawl_state").
		WithArgs("default").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateStoreReadMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT payload FROM crawl_state").
		WithArgs("default").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Read(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateStoreDeleteWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM crawl_state").
		WithArgs("default").
		WillReturnError(errors.New("connection reset"))

	err := store.Delete(context.Background())
	require.ErrorContains(t, err, "delete state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_state").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
