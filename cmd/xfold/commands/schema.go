package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/pkg/product"
)

var schemaCmd = &cobra.Command{
	Use:       "schema <kind>",
	Short:     "Print the JSON Schema of a product kind",
	Long:      `Print the JSON Schema of a product document: response, spectrum or flux.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: product.Kinds,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := product.Schema(args[0])
		if err != nil {
			return err
		}
		return outputResult(s)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
