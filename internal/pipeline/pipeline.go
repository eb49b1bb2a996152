// Package pipeline runs the fetch, normalize, and load stages as one discrete
// run. Each stage hands the next a persisted artifact or an in-memory value;
// no stage holds a lock or resource across a stage boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/metrics"
	"github.com/quakewatch/quakepipe/internal/normalize"
	"github.com/quakewatch/quakepipe/internal/quake"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusSucceeded means canonical output was written (and synced when
	// sync is enabled).
	StatusSucceeded Status = "succeeded"
	// StatusEmpty means the capture held zero valid features: nothing was
	// persisted beyond the raw archive, and that is not a failure.
	StatusEmpty Status = "empty"
	// StatusFailed means a stage failed and downstream stages did not run.
	StatusFailed Status = "failed"
)

// Result summarizes one run. Declared is the source-reported feature count,
// Persisted the number of events that survived normalization; callers compare
// the two to detect partial success.
type Result struct {
	RunID      string
	Status     Status
	Declared   int
	Persisted  int
	Skipped    int
	ArchiveDir string
}

// Fetcher captures the feed into a RawRun.
type Fetcher interface {
	Fetch(ctx context.Context) (quake.RawRun, error)
}

// Archiver persists raw runs immutably.
type Archiver interface {
	WriteRun(run quake.RawRun) (string, error)
}

// Normalizer produces the canonical event set for a raw run.
type Normalizer interface {
	Normalize(run quake.RawRun) (normalize.Result, error)
}

// CanonicalWriter persists normalized output into the silver layer.
type CanonicalWriter interface {
	WriteEvents(date string, events []quake.Event) error
	WriteStats(stats quake.RunStats) error
}

// Syncer upserts canonical output into the relational store.
type Syncer interface {
	UpsertRun(ctx context.Context, stats quake.RunStats) error
	UpsertEvents(ctx context.Context, runID string, events []quake.Event) error
}

// Pipeline wires the stages together. Syncer may be nil, leaving the
// relational load to a separate sync invocation.
type Pipeline struct {
	fetcher    Fetcher
	archive    Archiver
	normalizer Normalizer
	canonical  CanonicalWriter
	syncer     Syncer
	logger     *zap.Logger
}

// New constructs a Pipeline.
func New(
	fetcher Fetcher,
	archive Archiver,
	normalizer Normalizer,
	canonical CanonicalWriter,
	syncer Syncer,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		archive:    archive,
		normalizer: normalizer,
		canonical:  canonical,
		syncer:     syncer,
		logger:     logger,
	}
}

// Run executes one capture end to end. A fetch failure prevents any write; an
// empty run archives the capture but writes nothing downstream.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	run, err := p.fetcher.Fetch(ctx)
	if err != nil {
		metrics.ObserveRun(string(StatusFailed))
		return Result{Status: StatusFailed}, fmt.Errorf("fetch stage: %w", err)
	}
	metrics.ObserveFetch(time.Since(start))

	dir, err := p.archive.WriteRun(run)
	if err != nil {
		metrics.ObserveRun(string(StatusFailed))
		return Result{RunID: run.RunID, Status: StatusFailed}, fmt.Errorf("archive stage: %w", err)
	}

	result, err := p.finish(ctx, run)
	result.ArchiveDir = dir
	return result, err
}

// RunFromArchive re-normalizes a previously archived capture, skipping the
// fetch stage. The run keeps its original identity and ingestion metadata.
func (p *Pipeline) RunFromArchive(ctx context.Context, run quake.RawRun) (Result, error) {
	return p.finish(ctx, run)
}

func (p *Pipeline) finish(ctx context.Context, run quake.RawRun) (Result, error) {
	result := Result{RunID: run.RunID, Declared: run.RecordCount}

	normalized, err := p.normalizer.Normalize(run)
	result.Skipped = normalized.Skipped
	if err != nil {
		if errors.Is(err, quake.ErrEmptyRun) {
			result.Status = StatusEmpty
			metrics.ObserveRun(string(StatusEmpty))
			p.logger.Info("run produced no valid features, nothing to persist",
				zap.String("run_id", run.RunID),
				zap.Int("declared", run.RecordCount),
				zap.Int("skipped", normalized.Skipped),
			)
			return result, nil
		}
		result.Status = StatusFailed
		metrics.ObserveRun(string(StatusFailed))
		return result, fmt.Errorf("normalize stage: %w", err)
	}
	result.Persisted = len(normalized.Events)
	metrics.ObserveNormalize(result.Persisted, result.Skipped)

	if err := p.canonical.WriteEvents(run.DatePartition, normalized.Events); err != nil {
		result.Status = StatusFailed
		metrics.ObserveRun(string(StatusFailed))
		return result, fmt.Errorf("canonical stage: %w", err)
	}
	if err := p.canonical.WriteStats(normalized.Stats); err != nil {
		result.Status = StatusFailed
		metrics.ObserveRun(string(StatusFailed))
		return result, fmt.Errorf("canonical stats: %w", err)
	}

	if p.syncer != nil {
		syncStart := time.Now()
		if err := p.syncRun(ctx, normalized.Stats, normalized.Events); err != nil {
			result.Status = StatusFailed
			metrics.ObserveRun(string(StatusFailed))
			return result, err
		}
		metrics.ObserveSync(time.Since(syncStart))
	}

	result.Status = StatusSucceeded
	metrics.ObserveRun(string(StatusSucceeded))
	p.logger.Info("run completed",
		zap.String("run_id", run.RunID),
		zap.Int("declared", result.Declared),
		zap.Int("persisted", result.Persisted),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (p *Pipeline) syncRun(ctx context.Context, stats quake.RunStats, events []quake.Event) error {
	if err := p.syncer.UpsertRun(ctx, stats); err != nil {
		return fmt.Errorf("sync stage: %w", err)
	}
	if err := p.syncer.UpsertEvents(ctx, stats.RunID, events); err != nil {
		return fmt.Errorf("sync stage: %w", err)
	}
	return nil
}
