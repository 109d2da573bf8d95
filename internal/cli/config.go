package cli

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change runtime monitoring options",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective options and their origin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ConfigList(cmd.Context())
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one option value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ConfigGet(cmd.Context(), args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one option override",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ConfigSet(cmd.Context(), args[0], args[1])
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
