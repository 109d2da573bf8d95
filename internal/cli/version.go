package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mtg-spectr %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildDate)
	},
}
