package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	opts    Options
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot cache operations.
var preparedStatements = map[string]string{
	"cache_get":    `SELECT key, zip, payload, source, dataset, year, cached_at, expires_at FROM variable_cache WHERE key = $1`,
	"cache_delete": `DELETE FROM variable_cache WHERE key = $1`,
	"cache_count":  `SELECT COUNT(*) FROM variable_cache WHERE namespace = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse postgres config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "cache: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cache: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, opts: opts.withDefaults()}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS variable_cache (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	zip        TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	source     TEXT NOT NULL DEFAULT 'api',
	dataset    TEXT NOT NULL DEFAULT '',
	year       INTEGER NOT NULL DEFAULT 0,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_variable_cache_ns_expires ON variable_cache(namespace, expires_at);
CREATE INDEX IF NOT EXISTS idx_variable_cache_ns_cached ON variable_cache(namespace, cached_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "cache: migrate postgres")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Key(zip string, vars []string) string {
	return s.opts.Key(zip, vars)
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT key, zip, payload, source, dataset, year, cached_at, expires_at FROM variable_cache WHERE key = $1`,
		key,
	).Scan(&e.Key, &e.Meta.Zip, &e.Payload, &e.Meta.Source, &e.Meta.Dataset,
		&e.Meta.Year, &e.CachedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "cache: get")
	}

	if !e.ExpiresAt.After(time.Now().UTC()) {
		if _, err := s.pool.Exec(ctx, `DELETE FROM variable_cache WHERE key = $1`, key); err != nil {
			return nil, eris.Wrap(err, "cache: delete expired")
		}
		return nil, nil
	}
	return &e, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, payload []byte, meta Meta) error {
	return putRetry(
		func() error { return s.tryPut(ctx, key, payload, meta) },
		func() (int, error) { return s.EvictOldest(ctx, s.opts.EvictBatch) },
		s.isCapacity,
		s.opts.Namespace,
	)
}

func (s *PostgresStore) tryPut(ctx context.Context, key string, payload []byte, meta Meta) error {
	if err := s.checkBudget(ctx, []string{key}); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO variable_cache (key, namespace, zip, payload, source, dataset, year, cached_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (key) DO UPDATE SET
		   payload = $4, source = $5, dataset = $6, year = $7, cached_at = $8, expires_at = $9`,
		key, s.opts.Namespace, meta.Zip, payload, meta.Source, meta.Dataset, meta.Year,
		now, now.Add(s.opts.TTL),
	)
	return eris.Wrapf(err, "cache: put %s", key)
}

var cacheColumns = []string{"key", "namespace", "zip", "payload", "source", "dataset", "year", "cached_at", "expires_at"}

func (s *PostgresStore) PutMany(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	return putRetry(
		func() error { return s.tryPutMany(ctx, writes) },
		func() (int, error) { return s.EvictOldest(ctx, s.opts.EvictBatch) },
		s.isCapacity,
		s.opts.Namespace,
	)
}

func (s *PostgresStore) tryPutMany(ctx context.Context, writes []Write) error {
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	if err := s.checkBudget(ctx, keys); err != nil {
		return err
	}

	now := time.Now().UTC()
	expires := now.Add(s.opts.TTL)

	rows := make([][]any, len(writes))
	for i, w := range writes {
		rows[i] = []any{w.Key, s.opts.Namespace, w.Meta.Zip, w.Payload,
			w.Meta.Source, w.Meta.Dataset, w.Meta.Year, now, expires}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "variable_cache",
		Columns:      cacheColumns,
		ConflictKeys: []string{"key"},
	}, rows)
	return err
}

// checkBudget rejects a write that would push the namespace past its entry
// budget. Keys already present overwrite in place and don't grow the count.
func (s *PostgresStore) checkBudget(ctx context.Context, keys []string) error {
	if s.opts.MaxEntries <= 0 {
		return nil
	}

	var existing int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM variable_cache WHERE key = ANY($1)`, keys,
	).Scan(&existing); err != nil {
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

// Class 53 covers insufficient_resources: disk_full and its siblings.
func (s *PostgresStore) isCapacity(err error) bool {
	if errors.Is(err, errCacheFull) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "53")
}

// EvictOldest deletes up to n entries in the namespace, oldest cache-write
// time first. Last access never factors in.
func (s *PostgresStore) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM variable_cache WHERE key IN (
			SELECT key FROM variable_cache WHERE namespace = $1
			ORDER BY cached_at ASC, key ASC LIMIT $2
		)`,
		s.opts.Namespace, n,
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: evict oldest")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (SweepResult, error) {
	var sr SweepResult

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM variable_cache WHERE namespace = $1 AND expires_at <= now()`,
		s.opts.Namespace,
	)
	if err != nil {
		return sr, eris.Wrap(err, "cache: sweep expired")
	}
	sr.Expired = int(tag.RowsAffected())

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

func (s *PostgresStore) sweepCorrupt(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, payload FROM variable_cache WHERE namespace = $1`, s.opts.Namespace)
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
		if _, err := s.pool.Exec(ctx, `DELETE FROM variable_cache WHERE key = $1`, key); err != nil {
			return 0, eris.Wrapf(err, "cache: delete corrupt %s", key)
		}
		zap.L().Warn("deleted corrupt cache entry", zap.String("key", key))
	}
	return len(corrupt), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM variable_cache WHERE namespace = $1`, s.opts.Namespace).Scan(&n)
	return n, eris.Wrap(err, "cache: count")
}

func (s *PostgresStore) SizeBytes(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(OCTET_LENGTH(payload)), 0) FROM variable_cache WHERE namespace = $1`,
		s.opts.Namespace).Scan(&n)
	return n, eris.Wrap(err, "cache: size")
}

func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM variable_cache WHERE namespace = $1`, s.opts.Namespace)
	if err != nil {
		return 0, eris.Wrap(err, "cache: clear")
	}
	return int(tag.RowsAffected()), nil
}
