//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
)

func TestOpenIndex_FromSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg = testConfig(dir)

	require.NoError(t, zipdata.SaveSnapshot(cfg.Index.SnapshotPath, testRecords()))

	idx, err := openIndex(context.Background())
	require.NoError(t, err)

	rec, ok := idx.Get("10001")
	require.True(t, ok)
	assert.Equal(t, "New York", rec.City)
	assert.Equal(t, 5, idx.Stats().Records)
}

func TestOpenIndex_FallsBackToDataset(t *testing.T) {
	dir := t.TempDir()
	cfg = testConfig(dir)

	require.NoError(t, os.WriteFile(cfg.Index.DatasetPath, []byte(sampleCSV), 0o644))

	idx, err := openIndex(context.Background())
	require.NoError(t, err)

	_, ok := idx.Get("90210")
	assert.True(t, ok)
}

func TestOpenIndex_NothingAvailable(t *testing.T) {
	cfg = testConfig(t.TempDir())

	_, err := openIndex(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipmap load")
}

func TestParseDataset_TSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gaz.txt")
	tsv := "GEOID\tINTPTLAT\tINTPTLONG\n00501\t40.8154\t-73.0451\n99999\tbad\t-73.0\n"
	require.NoError(t, os.WriteFile(path, []byte(tsv), 0o644))

	res, err := parseDataset(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "00501", res.Records[0].Zip)
	assert.Len(t, res.Errors, 1)
}

func TestParseDataset_UnsupportedExtension(t *testing.T) {
	_, err := parseDataset(context.Background(), "dataset.parquet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dataset format")
}
