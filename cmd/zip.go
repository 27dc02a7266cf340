package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
)

var zipCmd = &cobra.Command{
	Use:   "zip",
	Short: "Query the ZIP code index",
	Long: `Query the in-memory ZIP index built by "zipmap load". Subcommands look up
single ZIPs, search by state, city or county, and run radius and bounding-box
queries against the spatial grid.`,
}

func init() {
	rootCmd.AddCommand(zipCmd)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRecordTable writes a fixed-width listing of ZIP records.
func printRecordTable(records []zipdata.ZipRecord) {
	fmt.Printf("%-6s %-24s %-6s %-24s %10s\n", "ZIP", "CITY", "STATE", "COUNTY", "POP")
	fmt.Println(strings.Repeat("-", 74))
	for _, r := range records {
		fmt.Printf("%-6s %-24s %-6s %-24s %10d\n",
			r.Zip, truncate(r.City, 24), r.StateID, truncate(r.CountyName, 24), r.Population)
	}
	fmt.Printf("\n%d record(s)\n", len(records))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
