package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/catalog"
	"github.com/mykull23/us-census-map-shanir/internal/demographics"
)

var (
	fetchVars    string
	fetchDataset string
	fetchYear    int
	fetchList    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [zip...]",
	Short: "Fetch census variables for ZIP codes",
	Long: `Fetch resolves ACS variables for the given ZIP codes, serving from the
cache where possible and batching the rest through the Census Data API.
--vars accepts raw variable IDs (B01003_001E) and catalog names (population,
income) in any mix. The result is printed as JSON; missing ZIPs and failed
batches ride along inside it.

Examples:
  zipmap fetch --vars population,income 10001 90210
  zipmap fetch --vars B01003_001E --year 2022 00501`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchVars, "vars", "", "comma-separated variable IDs or catalog names")
	fetchCmd.Flags().StringVar(&fetchDataset, "dataset", "", "ACS dataset override, e.g. acs/acs5")
	fetchCmd.Flags().IntVar(&fetchYear, "year", 0, "dataset vintage override")
	fetchCmd.Flags().BoolVar(&fetchList, "list", false, "list catalog variable names and exit")
	rootCmd.AddCommand(fetchCmd)
}

func loadCatalog() (*catalog.Catalog, error) {
	if cfg.Fetch.CatalogPath != "" {
		return catalog.Load(cfg.Fetch.CatalogPath)
	}
	return catalog.Default()
}

func runFetch(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	if fetchList {
		for _, name := range cat.Names() {
			fmt.Println(name)
		}
		return nil
	}

	if err := cfg.Validate("fetch"); err != nil {
		return err
	}
	if len(args) == 0 {
		return eris.New("at least one ZIP code is required")
	}
	if fetchVars == "" {
		return eris.New("--vars is required")
	}

	vars, err := cat.Expand(splitCSVFlag(fetchVars))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initFetchEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.Service.FetchVariables(ctx, args, vars, demographics.FetchOptions{
		Dataset: fetchDataset,
		Year:    fetchYear,
	})
	if err != nil {
		return err
	}

	zap.L().Info("fetch complete",
		zap.String("request_id", result.RequestID),
		zap.Int("resolved", len(result.Values)),
		zap.Int("missing", len(result.Missing)),
		zap.Int("failed_batches", len(result.Failures)),
	)
	return printJSON(result)
}

func splitCSVFlag(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
