package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	radiusLat   float64
	radiusLng   float64
	radiusKm    float64
	radiusLimit int
	radiusJSON  bool
)

var zipRadiusCmd = &cobra.Command{
	Use:   "radius",
	Short: "Find ZIP codes within a radius of a point",
	Long: `Radius lists ZIP records whose centroid lies within --km kilometers of
the query point, sorted by great-circle distance.

Example:
  zipmap zip radius --lat 40.7506 --lng -73.9971 --km 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}

		limit := radiusLimit
		if limit == 0 {
			limit = cfg.Index.DefaultLimit
		}

		matches := idx.SearchRadius(radiusLat, radiusLng, radiusKm, limit)
		if radiusJSON {
			return printJSON(matches)
		}

		fmt.Printf("%-6s %-24s %-6s %10s %10s\n", "ZIP", "CITY", "STATE", "POP", "KM")
		fmt.Println(strings.Repeat("-", 60))
		for _, m := range matches {
			fmt.Printf("%-6s %-24s %-6s %10d %10.2f\n",
				m.Record.Zip, truncate(m.Record.City, 24), m.Record.StateID,
				m.Record.Population, m.DistanceKm)
		}
		fmt.Printf("\n%d record(s)\n", len(matches))
		return nil
	},
}

func init() {
	zipRadiusCmd.Flags().Float64Var(&radiusLat, "lat", 0, "query latitude")
	zipRadiusCmd.Flags().Float64Var(&radiusLng, "lng", 0, "query longitude")
	zipRadiusCmd.Flags().Float64Var(&radiusKm, "km", 0, "radius in kilometers")
	zipRadiusCmd.Flags().IntVar(&radiusLimit, "limit", 0, "max results (0 = config default)")
	zipRadiusCmd.Flags().BoolVar(&radiusJSON, "json", false, "emit JSON instead of a table")
	_ = zipRadiusCmd.MarkFlagRequired("lat")
	_ = zipRadiusCmd.MarkFlagRequired("lng")
	_ = zipRadiusCmd.MarkFlagRequired("km")
	zipCmd.AddCommand(zipRadiusCmd)
}
