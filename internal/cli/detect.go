package cli

import (
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection cycle and print trending cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Detect(cmd.Context())
	},
}
