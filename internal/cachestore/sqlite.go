package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, opts: opts.withDefaults()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS variable_cache (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	zip        TEXT NOT NULL,
	payload    BLOB NOT NULL,
	source     TEXT NOT NULL DEFAULT 'api',
	dataset    TEXT NOT NULL DEFAULT '',
	year       INTEGER NOT NULL DEFAULT 0,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_variable_cache_ns_expires ON variable_cache(namespace, expires_at);
CREATE INDEX IF NOT EXISTS idx_variable_cache_ns_cached ON variable_cache(namespace, cached_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "cache: migrate sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Key(zip string, vars []string) string {
	return s.opts.Key(zip, vars)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, zip, payload, source, dataset, year, cached_at, expires_at
		 FROM variable_cache WHERE key = ?`,
		key,
	)

	var e Entry
	err := row.Scan(&e.Key, &e.Meta.Zip, &e.Payload, &e.Meta.Source, &e.Meta.Dataset,
		&e.Meta.Year, &e.CachedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}

	if !e.ExpiresAt.After(time.Now().UTC()) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM variable_cache WHERE key = ?`, key); err != nil {
			return nil, eris.Wrap(err, "cache: delete expired")
		}
		return nil, nil
	}
	return &e, nil
}

const sqlitePut = `
INSERT INTO variable_cache (key, namespace, zip, payload, source, dataset, year, cached_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	payload = excluded.payload, source = excluded.source, dataset = excluded.dataset,
	year = excluded.year, cached_at = excluded.cached_at, expires_at = excluded.expires_at`

func (s *SQLiteStore) Put(ctx context.Context, key string, payload []byte, meta Meta) error {
	return s.PutMany(ctx, []Write{{Key: key, Payload: payload, Meta: meta}})
}

func (s *SQLiteStore) PutMany(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	return putRetry(
		func() error { return s.tryPut(ctx, writes) },
		func() (int, error) { return s.EvictOldest(ctx, s.opts.EvictBatch) },
		s.isCapacity,
		s.opts.Namespace,
	)
}

func (s *SQLiteStore) tryPut(ctx context.Context, writes []Write) error {
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	if err := s.checkBudget(ctx, keys); err != nil {
		return err
	}

	now := time.Now().UTC()
	expires := now.Add(s.opts.TTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "cache: begin put")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, sqlitePut,
			w.Key, s.opts.Namespace, w.Meta.Zip, w.Payload,
			w.Meta.Source, w.Meta.Dataset, w.Meta.Year, now, expires,
		); err != nil {
			return eris.Wrapf(err, "cache: put %s", w.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "cache: commit put")
}

// checkBudget rejects a write that would push the namespace past its entry
// budget. Keys already present overwrite in place and don't grow the count.
func (s *SQLiteStore) checkBudget(ctx context.Context, keys []string) error {
	if s.opts.MaxEntries <= 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM variable_cache WHERE key IN (`+placeholders+`)`, args...,
	).Scan(&existing)
	if err != nil {
		return eris.Wrap(err, "cache: count existing keys")
	}

	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if count+len(keys)-existing > s.opts.MaxEntries {
		return errCacheFull
	}
	return nil
}

func (s *SQLiteStore) isCapacity(err error) bool {
	if errors.Is(err, errCacheFull) {
		return true
	}
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_FULL
}

// EvictOldest deletes up to n entries in the namespace, oldest cache-write
// time first. Last access never factors in.
func (s *SQLiteStore) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM variable_cache WHERE key IN (
			SELECT key FROM variable_cache WHERE namespace = ?
			ORDER BY cached_at ASC, key ASC LIMIT ?
		)`,
		s.opts.Namespace, n,
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: evict oldest")
	}
	dropped, err := res.RowsAffected()
	return int(dropped), eris.Wrap(err, "cache: rows affected")
}

func (s *SQLiteStore) Sweep(ctx context.Context) (SweepResult, error) {
	var sr SweepResult

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM variable_cache WHERE namespace = ? AND expires_at <= ?`,
		s.opts.Namespace, time.Now().UTC(),
	)
	if err != nil {
		return sr, eris.Wrap(err, "cache: sweep expired")
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return sr, eris.Wrap(err, "cache: rows affected")
	}
	sr.Expired = int(expired)

	corrupt, err := s.sweepCorrupt(ctx)
	if err != nil {
		return sr, err
	}
	sr.Corrupt = corrupt

	zap.L().Info("cache sweep complete",
		zap.String("namespace", s.opts.Namespace),
		zap.Int("expired", sr.Expired),
		zap.Int("corrupt", sr.Corrupt),
	)
	return sr, nil
}

func (s *SQLiteStore) sweepCorrupt(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, payload FROM variable_cache WHERE namespace = ?`, s.opts.Namespace)
	if err != nil {
		return 0, eris.Wrap(err, "cache: scan payloads")
	}
	defer rows.Close()

	var corrupt []string
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return 0, eris.Wrap(err, "cache: scan payload row")
		}
		if !json.Valid(payload) {
			corrupt = append(corrupt, key)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "cache: iterate payloads")
	}

	for _, key := range corrupt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM variable_cache WHERE key = ?`, key); err != nil {
			return 0, eris.Wrapf(err, "cache: delete corrupt %s", key)
		}
		zap.L().Warn("deleted corrupt cache entry", zap.String("key", key))
	}
	return len(corrupt), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM variable_cache WHERE namespace = ?`, s.opts.Namespace).Scan(&n)
	return n, eris.Wrap(err, "cache: count")
}

func (s *SQLiteStore) SizeBytes(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM variable_cache WHERE namespace = ?`,
		s.opts.Namespace).Scan(&n)
	return n, eris.Wrap(err, "cache: size")
}

func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM variable_cache WHERE namespace = ?`, s.opts.Namespace)
	if err != nil {
		return 0, eris.Wrap(err, "cache: clear")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: rows affected")
}
