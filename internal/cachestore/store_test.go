package cachestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteDefaultDriver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	st, err := Open(context.Background(), "", dbPath, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "bolt", "whatever", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultNamespace, o.Namespace)
	assert.Equal(t, 30*24*time.Hour, o.TTL)
	assert.Equal(t, 500, o.EvictBatch)
	assert.Equal(t, 0, o.MaxEntries) // unbounded unless configured
}
