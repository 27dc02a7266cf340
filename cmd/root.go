package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "zipmap",
	Short: "US ZIP code geographic index and census demographics tool",
	Long:  "Builds an in-memory index of US ZIP codes from Census Bureau dataset files, answers point, radius and bounding-box queries, and fetches ACS demographic variables through a persistent, rate-limited cache.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
