package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

// newKeepaliveCmd creates the 'keepalive' subcommand: periodically pings a
// deployed API instance so free-tier hosts do not idle it out. The ping
// carries a cache-busting query parameter so intermediaries cannot answer
// from cache.
func newKeepaliveCmd() *cobra.Command {
	var (
		target   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Pings a deployed API instance to keep it warm",

		RunE: func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				return fmt.Errorf("--url is required")
			}
			if _, err := url.ParseRequestURI(target); err != nil {
				return fmt.Errorf("invalid --url: %w", err)
			}

			retry := quake.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.BackoffInitial(), cfg.BackoffMax())
			client := &http.Client{Timeout: cfg.FeedTimeout()}

			ping := func(ctx context.Context) error {
				return quake.Retry(ctx, retry, func() error {
					return pingOnce(ctx, client, target)
				})
			}

			if interval <= 0 {
				if err := ping(cmd.Context()); err != nil {
					return fmt.Errorf("keepalive ping: %w", err)
				}
				logger.Info("keepalive ping ok", zap.String("url", target))
				return nil
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					if err := ping(cmd.Context()); err != nil {
						logger.Warn("keepalive ping failed", zap.String("url", target), zap.Error(err))
						continue
					}
					logger.Info("keepalive ping ok", zap.String("url", target))
				}
			}
		},
	}

	cmd.Flags().StringVar(&target, "url", "", "base URL of the deployed instance")
	cmd.Flags().DurationVar(&interval, "interval", 0, "ping period; zero pings once and exits")

	return cmd
}

func pingOnce(ctx context.Context, client *http.Client, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("cachebust", strconv.FormatInt(time.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &quake.FetchError{URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}
