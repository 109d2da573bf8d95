package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/app"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "mtg-spectr",
	Short: "Detect trending Magic card prices and dispatch alerts",
	Long: `mtg-spectr watches a store of Magic: The Gathering price snapshots,
flags cards whose price moved past configured thresholds, and dispatches
rate-limited alerts over email and Telegram.`,
	PersistentPreRunE: initApp,
}

// initApp loads configuration and builds the shared application handle once.
// Subcommands reach it through getApp.
func initApp(cmd *cobra.Command, args []string) error {
	if appHandle != nil {
		return nil
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	for _, cmd := range []*cobra.Command{
		runCmd, detectCmd, showCmd, statsCmd, exportCmd,
		importCmd, configCmd, simulateCmd, versionCmd,
	} {
		rootCmd.AddCommand(cmd)
	}
}

func getApp() *app.App {
	if appHandle == nil {
		panic("app not initialised; root PersistentPreRunE must run first")
	}
	return appHandle
}
