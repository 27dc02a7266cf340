package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T, opts Options) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, opts: opts.withDefaults()}
	return s, mock
}

func TestPostgres_Get_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{})

	mock.ExpectQuery(`SELECT key, zip, payload, source, dataset, year, cached_at, expires_at FROM variable_cache WHERE key = \$1`).
		WithArgs("acs:v2:absent").
		WillReturnError(pgx.ErrNoRows)

	e, err := s.Get(context.Background(), "acs:v2:absent")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{})

	cached := time.Now().UTC().Add(-time.Minute)
	expires := cached.Add(time.Hour)
	rows := pgxmock.NewRows([]string{"key", "zip", "payload", "source", "dataset", "year", "cached_at", "expires_at"}).
		AddRow("acs:v2:k", "10001", []byte(`{"B01003_001E":"26966"}`), "api", "acs/acs5", 2023, cached, expires)

	mock.ExpectQuery(`SELECT key, zip, payload`).
		WithArgs("acs:v2:k").
		WillReturnRows(rows)

	e, err := s.Get(context.Background(), "acs:v2:k")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "10001", e.Meta.Zip)
	assert.Equal(t, 2023, e.Meta.Year)
	assert.Equal(t, `{"B01003_001E":"26966"}`, string(e.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get_ExpiredEntryIsDeleted(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{})

	cached := time.Now().UTC().Add(-48 * time.Hour)
	expires := time.Now().UTC().Add(-time.Hour)
	rows := pgxmock.NewRows([]string{"key", "zip", "payload", "source", "dataset", "year", "cached_at", "expires_at"}).
		AddRow("acs:v2:stale", "10001", []byte(`{"a":"1"}`), "api", "", 0, cached, expires)

	mock.ExpectQuery(`SELECT key, zip, payload`).
		WithArgs("acs:v2:stale").
		WillReturnRows(rows)
	mock.ExpectExec(`DELETE FROM variable_cache WHERE key = \$1`).
		WithArgs("acs:v2:stale").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	e, err := s.Get(context.Background(), "acs:v2:stale")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Put_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{TTL: time.Hour})

	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("acs:v2:k", "acs:v2", "10001", []byte(`{"a":"1"}`), "api", "", 0,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Put(context.Background(), "acs:v2:k", []byte(`{"a":"1"}`), Meta{Zip: "10001", Source: "api"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Put_EvictsWhenFull(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{TTL: time.Hour, MaxEntries: 1, EvictBatch: 1})

	// First attempt: key is new and the namespace is already at budget.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM variable_cache WHERE key = ANY\(\$1\)`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM variable_cache WHERE namespace = \$1`).
		WithArgs("acs:v2").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	// Eviction frees a slot, then the retry goes through.
	mock.ExpectExec(`DELETE FROM variable_cache WHERE key IN`).
		WithArgs("acs:v2", 1).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM variable_cache WHERE key = ANY\(\$1\)`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM variable_cache WHERE namespace = \$1`).
		WithArgs("acs:v2").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("acs:v2:k2", "acs:v2", "10002", []byte(`{"b":"2"}`), "", "", 0,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Put(context.Background(), "acs:v2:k2", []byte(`{"b":"2"}`), Meta{Zip: "10002"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutMany_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{TTL: time.Hour})

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"variable_cache_incoming"}, cacheColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "variable_cache"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	writes := []Write{
		{Key: "acs:v2:a", Payload: []byte(`{"a":"1"}`), Meta: Meta{Zip: "10001"}},
		{Key: "acs:v2:b", Payload: []byte(`{"b":"2"}`), Meta: Meta{Zip: "10002"}},
	}
	err := s.PutMany(context.Background(), writes)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Sweep(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{})

	mock.ExpectExec(`DELETE FROM variable_cache WHERE namespace = \$1 AND expires_at <= now\(\)`).
		WithArgs("acs:v2").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectQuery(`SELECT key, payload FROM variable_cache WHERE namespace = \$1`).
		WithArgs("acs:v2").
		WillReturnRows(pgxmock.NewRows([]string{"key", "payload"}).
			AddRow("acs:v2:good", []byte(`{"a":"1"}`)).
			AddRow("acs:v2:bad", []byte(`{broken`)))
	mock.ExpectExec(`DELETE FROM variable_cache WHERE key = \$1`).
		WithArgs("acs:v2:bad").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	sr, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sr.Expired)
	assert.Equal(t, 1, sr.Corrupt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Clear(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{})

	mock.ExpectExec(`DELETE FROM variable_cache WHERE namespace = \$1`).
		WithArgs("acs:v2").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountAndSize(t *testing.T) {
	s, mock := newMockPostgresStore(t, Options{})

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM variable_cache WHERE namespace = \$1`).
		WithArgs("acs:v2").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(OCTET_LENGTH\(payload\)\), 0\)`).
		WithArgs("acs:v2").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(12345)))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	size, err := s.SizeBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)
	assert.NoError(t, mock.ExpectationsWereMet())
}
