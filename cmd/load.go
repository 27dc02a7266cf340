package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/fetcher"
	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
	"github.com/mykull23/us-census-map-shanir/internal/zipindex"
)

var (
	loadDataset  string
	loadSnapshot string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Build the ZIP index from a dataset and write a snapshot",
	Long: `Load parses a ZIP code dataset (CSV, tab-delimited gazetteer, XLSX or
shapefile, optionally inside a .zip archive, local or remote), builds the
index once to validate it, and writes a gob snapshot for fast reloads by the
other commands.

Examples:
  zipmap load --dataset data/uszips.csv
  zipmap load --dataset https://www2.census.gov/geo/docs/maps-data/data/gazetteer/2023_Gazetteer/2023_Gaz_zcta_national.zip`,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadDataset, "dataset", "", "dataset path or URL (default from config)")
	loadCmd.Flags().StringVar(&loadSnapshot, "snapshot", "", "snapshot output path (default from config)")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := cfg.Validate("index"); err != nil {
		return err
	}

	dataset := loadDataset
	if dataset == "" {
		dataset = cfg.Index.DatasetPath
	}
	snapshot := loadSnapshot
	if snapshot == "" {
		snapshot = cfg.Index.SnapshotPath
	}

	local := dataset
	if strings.Contains(dataset, "://") {
		var err error
		local, err = downloadDataset(ctx, dataset)
		if err != nil {
			return err
		}
	}

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		var err error
		local, err = extractDataset(local)
		if err != nil {
			return err
		}
	}

	res, err := parseDataset(ctx, local)
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		zap.L().Warn("rows rejected during parse", zap.Int("count", len(res.Errors)))
	}

	idx := zipindex.New()
	stats := idx.Load(res.Records)

	if dir := filepath.Dir(snapshot); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create snapshot dir %s", dir)
		}
	}
	if err := zipdata.SaveSnapshot(snapshot, res.Records); err != nil {
		return err
	}

	fmt.Printf("Loaded %d ZIP records (%d rejected) in %s\n",
		stats.Loaded, stats.Rejected, stats.Duration.Round(time.Millisecond))
	fmt.Printf("Snapshot written to %s\n", snapshot)
	return nil
}

func downloadDataset(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "parse dataset url")
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", eris.Errorf("dataset url %s has no file name", rawURL)
	}

	if err := os.MkdirAll(cfg.Loader.TempDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "create temp dir %s", cfg.Loader.TempDir)
	}

	timeout := time.Duration(cfg.Loader.TimeoutSecs) * time.Second
	f, err := fetcher.ForURL(rawURL,
		fetcher.HTTPOptions{UserAgent: cfg.Loader.UserAgent, Timeout: timeout},
		fetcher.FTPOptions{Timeout: timeout},
	)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(cfg.Loader.TempDir, base)
	n, err := f.DownloadToFile(ctx, rawURL, dest)
	if err != nil {
		return "", err
	}
	zap.L().Info("dataset downloaded",
		zap.String("url", rawURL),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

// extractDataset unpacks a dataset archive and returns the member to parse.
// A shapefile wins over delimited text so its sidecars stay alongside.
func extractDataset(archive string) (string, error) {
	destDir := strings.TrimSuffix(archive, filepath.Ext(archive))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "create extract dir %s", destDir)
	}
	files, err := fetcher.ExtractZIP(archive, destDir)
	if err != nil {
		return "", err
	}

	for _, want := range []string{".shp", ".csv", ".txt", ".xlsx"} {
		for _, f := range files {
			if strings.EqualFold(filepath.Ext(f), want) {
				return f, nil
			}
		}
	}
	return "", eris.Errorf("archive %s holds no parseable dataset", archive)
}
