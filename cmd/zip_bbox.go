package main

import (
	"github.com/spf13/cobra"
)

var (
	bboxMinLat float64
	bboxMinLng float64
	bboxMaxLat float64
	bboxMaxLng float64
	bboxLimit  int
	bboxJSON   bool
)

var zipBboxCmd = &cobra.Command{
	Use:   "bbox",
	Short: "Find ZIP codes inside a bounding box",
	Long:  "Bbox lists ZIP records whose centroid falls inside the given lat/lng rectangle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}

		limit := bboxLimit
		if limit == 0 {
			limit = cfg.Index.DefaultLimit
		}

		records := idx.SearchBoundingBox(bboxMinLat, bboxMinLng, bboxMaxLat, bboxMaxLng, limit)
		if bboxJSON {
			return printJSON(records)
		}
		printRecordTable(records)
		return nil
	},
}

func init() {
	zipBboxCmd.Flags().Float64Var(&bboxMinLat, "min-lat", 0, "south edge latitude")
	zipBboxCmd.Flags().Float64Var(&bboxMinLng, "min-lng", 0, "west edge longitude")
	zipBboxCmd.Flags().Float64Var(&bboxMaxLat, "max-lat", 0, "north edge latitude")
	zipBboxCmd.Flags().Float64Var(&bboxMaxLng, "max-lng", 0, "east edge longitude")
	zipBboxCmd.Flags().IntVar(&bboxLimit, "limit", 0, "max results (0 = config default)")
	zipBboxCmd.Flags().BoolVar(&bboxJSON, "json", false, "emit JSON instead of a table")
	_ = zipBboxCmd.MarkFlagRequired("min-lat")
	_ = zipBboxCmd.MarkFlagRequired("min-lng")
	_ = zipBboxCmd.MarkFlagRequired("max-lat")
	_ = zipBboxCmd.MarkFlagRequired("max-lng")
	zipCmd.AddCommand(zipBboxCmd)
}
