package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/api"
	"github.com/quakewatch/quakepipe/internal/quake"
	"github.com/quakewatch/quakepipe/internal/silver"
	"github.com/quakewatch/quakepipe/internal/storage/postgres"
)

// newServeCmd creates the 'serve' subcommand running the HTTP read API.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the earthquake read API over HTTP",
		Long: `Starts the HTTP API. The read backend is either Postgres or the
silver parquet layer directly, selected by api.backend.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var backend api.Backend
			switch cfg.API.Backend {
			case "postgres":
				store, err := postgres.New(ctx, postgres.Config{
					DSN:      cfg.DB.DSN,
					MaxConns: cfg.DB.MaxConns,
					MinConns: cfg.DB.MinConns,
					PostGIS:  cfg.DB.PostGISEnabled,
				}, logger)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer store.Close()
				backend = store
			case "silver":
				backend = silver.NewBackend(silver.New(cfg.Storage.Root, logger), quake.SystemClock{})
			default:
				return fmt.Errorf("unknown api backend %q", cfg.API.Backend)
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           api.NewServer(backend, cfg.API, logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("api listening", zap.String("addr", srv.Addr), zap.String("backend", cfg.API.Backend))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
			}
			return nil
		},
	}
	return cmd
}
