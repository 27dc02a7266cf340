package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
	"github.com/mykull23/us-census-map-shanir/internal/zipindex"
)

// openIndex builds the in-memory ZIP index, preferring the gob snapshot and
// falling back to parsing the configured dataset file.
func openIndex(ctx context.Context) (*zipindex.Index, error) {
	idx := zipindex.New()

	if _, err := os.Stat(cfg.Index.SnapshotPath); err == nil {
		records, err := zipdata.LoadSnapshot(cfg.Index.SnapshotPath)
		if err != nil {
			return nil, err
		}
		stats := idx.Load(records)
		zap.L().Debug("index loaded from snapshot",
			zap.String("path", cfg.Index.SnapshotPath),
			zap.Int("records", stats.Loaded),
		)
		return idx, nil
	}

	if _, err := os.Stat(cfg.Index.DatasetPath); err != nil {
		return nil, eris.Errorf(
			"no snapshot at %s and no dataset at %s; run `zipmap load` first",
			cfg.Index.SnapshotPath, cfg.Index.DatasetPath,
		)
	}

	res, err := parseDataset(ctx, cfg.Index.DatasetPath)
	if err != nil {
		return nil, err
	}
	stats := idx.Load(res.Records)
	zap.L().Info("index loaded from dataset",
		zap.String("path", cfg.Index.DatasetPath),
		zap.Int("records", stats.Loaded),
		zap.Int("rejected", stats.Rejected),
	)
	return idx, nil
}

// parseDataset picks a parser from the file extension. Gazetteer .txt files
// are tab-delimited.
func parseDataset(ctx context.Context, path string) (*zipdata.ParseResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseDelimitedFile(ctx, path, zipdata.ParseCSV)
	case ".txt", ".tsv":
		return parseDelimitedFile(ctx, path, zipdata.ParseTSV)
	case ".xlsx":
		return zipdata.ParseXLSX(path)
	case ".shp":
		return zipdata.ParseShapefile(path)
	default:
		return nil, eris.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
}

func parseDelimitedFile(ctx context.Context, path string, parse func(context.Context, io.Reader) (*zipdata.ParseResult, error)) (*zipdata.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close() //nolint:errcheck

	return parse(ctx, f)
}
