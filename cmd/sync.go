package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
	"github.com/quakewatch/quakepipe/internal/silver"
	"github.com/quakewatch/quakepipe/internal/storage/postgres"
)

// newSyncCmd creates the 'sync' subcommand: load silver output into Postgres
// without running an ingest. Useful for backfills and for recovering from a
// sync failure after a successful run.
func newSyncCmd() *cobra.Command {
	var (
		initSchema bool
		date       string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upserts silver parquet output into Postgres",
		Long: `Reads run stats from the silver layer and upserts the run plus
its date partition's events into Postgres. By default the latest run is
synced; with --date, the newest run of that partition. Re-running
converges to the same rows.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := postgres.New(cmd.Context(), postgres.Config{
				DSN:      cfg.DB.DSN,
				MaxConns: cfg.DB.MaxConns,
				MinConns: cfg.DB.MinConns,
				PostGIS:  cfg.DB.PostGISEnabled,
			}, logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer store.Close()

			if initSchema {
				if err := store.InitSchema(cmd.Context()); err != nil {
					return fmt.Errorf("init schema: %w", err)
				}
				logger.Info("schema initialized", zap.Bool("postgis", cfg.DB.PostGISEnabled))
			}

			canonical := silver.New(cfg.Storage.Root, logger)

			// The stats row must describe the partition being synced, so a
			// --date backfill resolves that date's newest run rather than
			// attributing foreign events to the latest run overall.
			var stats *quake.RunStats
			if date != "" {
				stats, err = canonical.LatestStatsForDate(date)
			} else {
				stats, err = canonical.LatestStats()
			}
			if err != nil {
				return fmt.Errorf("read run stats: %w", err)
			}
			if stats == nil {
				logger.Info("no runs recorded, nothing to sync", zap.String("date", date))
				return nil
			}

			events, err := canonical.ReadPartition(stats.Date)
			if err != nil {
				return fmt.Errorf("read partition date=%s: %w", stats.Date, err)
			}
			if len(events) == 0 {
				logger.Info("partition is empty, nothing to sync", zap.String("date", stats.Date))
				return nil
			}

			if err := store.UpsertRun(cmd.Context(), *stats); err != nil {
				return fmt.Errorf("upsert run: %w", err)
			}
			if err := store.UpsertEvents(cmd.Context(), stats.RunID, events); err != nil {
				return fmt.Errorf("upsert events: %w", err)
			}

			logger.Info("sync finished",
				zap.String("run_id", stats.RunID),
				zap.String("date", stats.Date),
				zap.Int("events", len(events)),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&initSchema, "init-schema", false, "create tables and indexes before syncing")
	cmd.Flags().StringVar(&date, "date", "", "sync this date partition, attributed to its newest run")

	return cmd
}
