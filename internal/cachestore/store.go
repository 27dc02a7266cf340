// Package cachestore persists fetched variable payloads keyed by ZIP and
// variable set, with TTL expiry and size-bounded eviction.
package cachestore

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes keys written by the current payload format.
// Bumping the version orphans every old-prefix entry instead of migrating it.
const DefaultNamespace = "acs:v2"

// Meta describes where a cached payload came from.
type Meta struct {
	Zip     string `json:"zip"`
	Source  string `json:"source,omitempty"`
	Dataset string `json:"dataset,omitempty"`
	Year    int    `json:"year,omitempty"`
}

// Entry is one cached payload with its bookkeeping metadata.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Meta      Meta      `json:"meta"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Write is one pending cache write for PutMany.
type Write struct {
	Key     string
	Payload []byte
	Meta    Meta
}

// SweepResult reports what a maintenance sweep removed.
type SweepResult struct {
	Expired int `json:"expired"`
	Corrupt int `json:"corrupt"`
}

// Options tunes a cache store backend.
type Options struct {
	// Namespace prefixes every key and scopes Clear, Sweep and eviction.
	// Default: DefaultNamespace.
	Namespace string

	// TTL is the lifetime of a written entry. Default: 30 days.
	TTL time.Duration

	// MaxEntries caps how many entries the namespace may hold. Zero or
	// negative means unbounded.
	MaxEntries int

	// EvictBatch is how many of the oldest entries are dropped when a write
	// hits capacity. Default: 500.
	EvictBatch int
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.TTL == 0 {
		o.TTL = 30 * 24 * time.Hour
	}
	if o.EvictBatch <= 0 {
		o.EvictBatch = 500
	}
	return o
}

// Store is the persistence interface for fetched variable payloads.
type Store interface {
	// Key derives the namespaced cache key for one ZIP and variable set.
	Key(zip string, vars []string) string

	// Get returns the entry for key, or nil when absent. Reading an expired
	// entry deletes it and reports a miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put writes payload under key with expiry now+TTL. A write rejected for
	// capacity evicts the oldest entries once and retries before failing.
	Put(ctx context.Context, key string, payload []byte, meta Meta) error

	// PutMany writes a batch of entries with the same eviction semantics.
	PutMany(ctx context.Context, writes []Write) error

	// Sweep deletes expired entries and entries whose payload no longer
	// decodes. Corruption is logged and removed, never surfaced.
	Sweep(ctx context.Context) (SweepResult, error)

	Count(ctx context.Context) (int, error)
	SizeBytes(ctx context.Context) (int64, error)

	// Clear removes every entry in this store's namespace and reports how
	// many were dropped. Other namespaces are untouched.
	Clear(ctx context.Context) (int, error)

	Close() error
}

// Open selects and migrates a cache backend. driver is "sqlite" or
// "postgres"; dsn is the database file path or the connection string.
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	switch driver {
	case "", "sqlite":
		s, err := NewSQLite(dsn, opts)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, dsn, opts)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", driver)
	}
}

// errCacheFull marks a write rejected by the entry budget. Backend-specific
// out-of-space errors are classified separately by each store.
var errCacheFull = eris.New("cache full")

// putRetry runs attempt once, and once more after evicting the oldest
// entries if the first attempt hit a capacity condition.
func putRetry(attempt func() error, evict func() (int, error), isCapacity func(error) bool, namespace string) error {
	err := attempt()
	if err == nil || !isCapacity(err) {
		return err
	}

	evicted, evictErr := evict()
	if evictErr != nil {
		return eris.Wrap(evictErr, "cache: evict at capacity")
	}
	zap.L().Warn("cache at capacity, evicted oldest entries",
		zap.String("namespace", namespace),
		zap.Int("evicted", evicted),
	)
	return attempt()
}
