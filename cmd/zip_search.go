package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
)

var (
	searchState  string
	searchCity   string
	searchCounty string
	searchLimit  int
	searchJSON   bool
)

var zipSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search ZIP codes by state, city or county",
	Long: `Search lists indexed ZIP records matching a state code, a city name
substring (optionally narrowed by --state), or a county FIPS code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}

		limit := searchLimit
		if limit == 0 {
			limit = cfg.Index.DefaultLimit
		}

		var records []zipdata.ZipRecord
		switch {
		case searchCity != "":
			records = idx.ByCity(searchCity, searchState, limit)
		case searchCounty != "":
			records = idx.ByCounty(searchCounty, limit)
		case searchState != "":
			records = idx.ByState(searchState, limit)
		default:
			return eris.New("one of --state, --city or --county is required")
		}

		if searchJSON {
			return printJSON(records)
		}
		printRecordTable(records)
		return nil
	},
}

func init() {
	zipSearchCmd.Flags().StringVar(&searchState, "state", "", "2-letter state code")
	zipSearchCmd.Flags().StringVar(&searchCity, "city", "", "city name substring")
	zipSearchCmd.Flags().StringVar(&searchCounty, "county", "", "county FIPS code")
	zipSearchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results (0 = config default)")
	zipSearchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit JSON instead of a table")
	zipCmd.AddCommand(zipSearchCmd)
}
