package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mykull23/us-census-map-shanir/pkg/census"
)

var validateKeyCmd = &cobra.Command{
	Use:   "validate-key",
	Short: "Probe the Census API key",
	Long: `Validate-key issues a one-variable probe request against the Census Data
API and reports whether the configured key is accepted. A rate-limited or
unreachable API reports "rate_limited" or "unknown" without failing the
command; only a rejected key does.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		client := census.NewClient(
			census.WithBaseURL(cfg.Census.BaseURL),
			census.WithRateLimit(cfg.Census.RequestsPerSecond),
			census.WithTimeout(time.Duration(cfg.Census.TimeoutSecs)*time.Second),
		)

		status, err := client.ValidateKey(cmd.Context(), cfg.Census.Key)
		if err != nil {
			return err
		}

		fmt.Printf("Key status: %s\n", status)
		if status == census.KeyInvalid {
			return eris.New("census API rejected the configured key")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateKeyCmd)
}
