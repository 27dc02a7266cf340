package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSON bool

var zipStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}

		stats := idx.Stats()
		if statsJSON {
			return printJSON(stats)
		}

		fmt.Printf("%-14s %d\n", "Records:", stats.Records)
		fmt.Printf("%-14s %d\n", "With coords:", stats.WithCoords)
		fmt.Printf("%-14s %d\n", "States:", stats.States)
		fmt.Printf("%-14s %d\n", "Cities:", stats.Cities)
		fmt.Printf("%-14s %d\n", "Counties:", stats.Counties)
		fmt.Printf("%-14s %d\n", "Grid cells:", stats.GridCells)
		if !stats.LoadedAt.IsZero() {
			fmt.Printf("%-14s %s\n", "Loaded at:", stats.LoadedAt.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

func init() {
	zipStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit JSON instead of text")
	zipCmd.AddCommand(zipStatsCmd)
}
