// Package cmd defines and implements the CLI commands for the quakepipe
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/config"
	"github.com/quakewatch/quakepipe/internal/logging"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
)

// newRootCmd creates and configures the root command. Config and logger are
// built once in the pre-run hook and shared by every subcommand.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quakepipe",
		Short: "Earthquake feed ingestion pipeline and read API.",
		Long: `quakepipe captures a GeoJSON earthquake feed, archives each raw
capture immutably, normalizes events into date-partitioned parquet, and
serves the result over Postgres or straight from the parquet layer.`,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default reads QUAKEPIPE_* environment)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKeepaliveCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
