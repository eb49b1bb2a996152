package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

// maxPayloadBytes bounds how much of a feed response is read into memory.
const maxPayloadBytes = 64 << 20

// Config controls fetch behavior.
type Config struct {
	URL       string
	Source    string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher captures the feed over HTTP and stamps the result with run
// identity. A fetch failure leaves no trace anywhere; archiving is the
// caller's job.
type Fetcher struct {
	cfg    Config
	client *http.Client
	retry  quake.RetryPolicy
	clock  quake.Clock
	logger *zap.Logger
}

// New builds a Fetcher with a pooled transport and the shared retry policy.
func New(cfg Config, retry quake.RetryPolicy, clock quake.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "quakepipe/0.1"
	}
	if clock == nil {
		clock = quake.SystemClock{}
	}
	if retry == nil {
		retry = quake.NewExponentialRetryPolicy()
	}
	return &Fetcher{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		retry:  retry,
		clock:  clock,
		logger: logger,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Fetch retrieves the feed and returns an immutable RawRun. The run ID is
// freshly generated from the capture instant, so repeated invocations never
// collide. Failures surface as *quake.FetchError after the bounded retry
// budget is exhausted.
func (f *Fetcher) Fetch(ctx context.Context) (quake.RawRun, error) {
	var payload []byte
	err := quake.Retry(ctx, f.retry, func() error {
		body, err := f.get(ctx)
		if err != nil {
			f.logger.Warn("feed fetch attempt failed", zap.String("url", f.cfg.URL), zap.Error(err))
			return err
		}
		payload = body
		return nil
	})
	if err != nil {
		var fe *quake.FetchError
		if errors.As(err, &fe) {
			return quake.RawRun{}, fe
		}
		return quake.RawRun{}, &quake.FetchError{URL: f.cfg.URL, Err: err}
	}

	doc, err := Parse(payload)
	if err != nil {
		return quake.RawRun{}, &quake.FetchError{URL: f.cfg.URL, Err: err}
	}

	now := f.clock.Now()
	run := quake.RawRun{
		RunID:         quake.FormatRunID(now),
		Source:        f.cfg.Source,
		SourceURL:     f.cfg.URL,
		IngestionTime: now,
		DatePartition: quake.FormatDate(now),
		Payload:       payload,
		RecordCount:   len(doc.Features),
		BBox:          doc.DeclaredBBox(),
	}
	f.logger.Info("feed captured",
		zap.String("run_id", run.RunID),
		zap.Int("records", run.RecordCount),
		zap.Int("bytes", len(payload)),
	)
	return run, nil
}

func (f *Fetcher) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already consumed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for keep-alive
		return nil, &quake.FetchError{URL: f.cfg.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
