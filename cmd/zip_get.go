package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
)

var zipGetCmd = &cobra.Command{
	Use:   "get <zip>",
	Short: "Look up a single ZIP code",
	Long: `Get prints the indexed record for one ZIP code as JSON. Short codes are
zero-padded, so "501" and "00501" return the same record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}

		rec, ok := idx.Get(args[0])
		if !ok {
			return eris.Errorf("zip %s not found", zipdata.NormalizeZip(args[0]))
		}
		return printJSON(rec)
	},
}

func init() {
	zipCmd.AddCommand(zipGetCmd)
}
