package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/xfold/cmd/xfold/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("format") || query != "" {
			return outputResult(build.Get())
		}
		fmt.Println(build.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
