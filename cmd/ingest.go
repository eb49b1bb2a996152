package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/archive"
	"github.com/quakewatch/quakepipe/internal/feed"
	"github.com/quakewatch/quakepipe/internal/normalize"
	"github.com/quakewatch/quakepipe/internal/pipeline"
	"github.com/quakewatch/quakepipe/internal/quake"
	"github.com/quakewatch/quakepipe/internal/silver"
	"github.com/quakewatch/quakepipe/internal/storage/postgres"
)

// newIngestCmd creates the 'ingest' subcommand. One invocation is one run:
// fetch, archive, normalize, write silver, and optionally sync to Postgres.
func newIngestCmd() *cobra.Command {
	var (
		syncDB      bool
		fromArchive string
		archiveDate string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Runs one capture of the earthquake feed",
		Long: `Fetches the configured GeoJSON feed, archives the raw capture,
normalizes events into the silver parquet layer, and optionally upserts
the result into Postgres. With --from-archive, replays a previously
archived capture instead of fetching.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromArchive != "" && archiveDate == "" {
				return fmt.Errorf("--date is required with --from-archive")
			}

			retry := quake.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.BackoffInitial(), cfg.BackoffMax())
			fetcher := feed.New(feed.Config{
				URL:       cfg.Feed.URL,
				Source:    cfg.Feed.Source,
				UserAgent: cfg.Feed.UserAgent,
				Timeout:   cfg.FeedTimeout(),
			}, retry, quake.SystemClock{}, logger)

			bronze := archive.New(cfg.Storage.Root, logger)
			canonical := silver.New(cfg.Storage.Root, logger)

			var syncer pipeline.Syncer
			if syncDB {
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
				syncer = store
			}

			p := pipeline.New(fetcher, bronze, normalize.New(logger), canonical, syncer, logger)

			var (
				result pipeline.Result
				err    error
			)
			if fromArchive != "" {
				run, readErr := bronze.ReadRun(cfg.Feed.Source, archiveDate, fromArchive)
				if readErr != nil {
					return fmt.Errorf("read archived run: %w", readErr)
				}
				result, err = p.RunFromArchive(cmd.Context(), run)
			} else {
				result, err = p.Run(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("ingest run: %w", err)
			}

			logger.Info("ingest finished",
				zap.String("run_id", result.RunID),
				zap.String("status", string(result.Status)),
				zap.Int("declared", result.Declared),
				zap.Int("persisted", result.Persisted),
				zap.Int("skipped", result.Skipped),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&syncDB, "sync", false, "upsert the run into Postgres after writing silver")
	cmd.Flags().StringVar(&fromArchive, "from-archive", "", "replay the archived run with this run_id instead of fetching")
	cmd.Flags().StringVar(&archiveDate, "date", "", "date partition (YYYY-MM-DD) of the archived run")

	return cmd
}
