package cli

import (
	"github.com/spf13/cobra"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/app"
)

var (
	importFile   string
	importSource string
	importDryRun bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import price snapshots from a feed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ImportOptions{
			Path:   importFile,
			Source: importSource,
			DryRun: importDryRun,
		}

		return getApp().Import(cmd.Context(), opts)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "Path to a CSV or JSON feed file")
	importCmd.Flags().StringVar(&importSource, "source", "", "Source label for rows without one")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse the feed without writing to storage")
}
