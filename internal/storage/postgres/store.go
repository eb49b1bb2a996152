// Package postgres provides the Postgres-backed serving store: idempotent
// per-run upserts of canonical events and run stats, plus the read queries
// behind the HTTP API.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	PostGIS         bool
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store upserts canonical output into Postgres and serves read queries.
type Store struct {
	pool    pool
	postgis bool
	logger  *zap.Logger
}

// New connects a pooled Store. The pool reconnects per statement, so a
// dropped connection costs one retry inside pgx, not the run.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p, postgis: cfg.PostGIS, logger: logger}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, postgis bool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, postgis: postgis, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertRunSQL = `
INSERT INTO ingestion_runs (
	run_id, date, records, time_min_utc, time_max_utc,
	bbox_west, bbox_south, bbox_min_depth_km,
	bbox_east, bbox_north, bbox_max_depth_km,
	source, ingestion_time_utc, inserted_at_utc
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()
)
ON CONFLICT (run_id) DO UPDATE SET
	date = EXCLUDED.date,
	records = EXCLUDED.records,
	time_min_utc = EXCLUDED.time_min_utc,
	time_max_utc = EXCLUDED.time_max_utc,
	bbox_west = EXCLUDED.bbox_west,
	bbox_south = EXCLUDED.bbox_south,
	bbox_min_depth_km = EXCLUDED.bbox_min_depth_km,
	bbox_east = EXCLUDED.bbox_east,
	bbox_north = EXCLUDED.bbox_north,
	bbox_max_depth_km = EXCLUDED.bbox_max_depth_km,
	source = EXCLUDED.source,
	ingestion_time_utc = EXCLUDED.ingestion_time_utc,
	inserted_at_utc = EXCLUDED.inserted_at_utc`

// UpsertRun writes the run's stats row. Re-running with identical input
// produces no net change beyond the insertion timestamp.
func (s *Store) UpsertRun(ctx context.Context, stats quake.RunStats) error {
	if stats.RunID == "" {
		return &quake.SyncError{Err: errors.New("run_id is required")}
	}
	_, err := s.pool.Exec(ctx, upsertRunSQL,
		stats.RunID,
		stats.Date,
		stats.Records,
		stats.TimeMin,
		stats.TimeMax,
		stats.BBox.West,
		stats.BBox.South,
		stats.BBox.MinDepthKM,
		stats.BBox.East,
		stats.BBox.North,
		stats.BBox.MaxDepthKM,
		stats.Source,
		stats.IngestionTime,
	)
	if err != nil {
		return &quake.SyncError{RunID: stats.RunID, Err: fmt.Errorf("upsert ingestion run: %w", err)}
	}
	return nil
}

const upsertEventSQL = `
INSERT INTO earthquakes (
	event_id, mag, place, time_utc, lat, lon, depth_km, source, run_id, ingestion_time_utc
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (event_id) DO UPDATE SET
	mag = EXCLUDED.mag,
	place = EXCLUDED.place,
	time_utc = EXCLUDED.time_utc,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	depth_km = EXCLUDED.depth_km,
	source = EXCLUDED.source,
	run_id = EXCLUDED.run_id,
	ingestion_time_utc = EXCLUDED.ingestion_time_utc`

const refreshGeomSQL = `
UPDATE earthquakes
SET geom = ST_SetSRID(ST_MakePoint(lon, lat), 4326)::geography
WHERE (run_id = $1 OR geom IS NULL) AND lat IS NOT NULL AND lon IS NOT NULL`

// UpsertEvents applies one run's event batch inside a single transaction:
// a mid-batch failure rolls the whole contribution back. Conflicting rows
// are overwritten unconditionally; dedup already happened upstream. When
// PostGIS is enabled the geography points are recomputed before commit for
// the run's rows and for any row still missing a point. Backfill batches
// carry rows stamped with older run IDs, so a refresh scoped to the current
// run alone would leave those rows invisible to radius queries.
func (s *Store) UpsertEvents(ctx context.Context, runID string, events []quake.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &quake.SyncError{RunID: runID, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, e := range events {
		if e.EventID == "" {
			return &quake.SyncError{RunID: runID, Err: errors.New("event without event_id")}
		}
		_, err := tx.Exec(ctx, upsertEventSQL,
			e.EventID,
			e.Mag,
			e.Place,
			e.OccurredAt,
			e.Lat,
			e.Lon,
			e.DepthKM,
			e.Source,
			e.RunID,
			e.IngestionTime,
		)
		if err != nil {
			return &quake.SyncError{RunID: runID, Err: fmt.Errorf("upsert event %s: %w", e.EventID, err)}
		}
	}

	if s.postgis {
		if _, err := tx.Exec(ctx, refreshGeomSQL, runID); err != nil {
			return &quake.SyncError{RunID: runID, Err: fmt.Errorf("refresh geometry: %w", err)}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &quake.SyncError{RunID: runID, Err: fmt.Errorf("commit: %w", err)}
	}
	s.logger.Info("run synced", zap.String("run_id", runID), zap.Int("events", len(events)))
	return nil
}

const eventColumns = `event_id, mag, place, time_utc, lat, lon, depth_km, source, run_id, ingestion_time_utc`

const recentSQL = `
SELECT ` + eventColumns + `
FROM earthquakes
WHERE time_utc >= NOW() - make_interval(hours => $1)
  AND (mag IS NULL OR mag >= $2)
ORDER BY time_utc DESC
LIMIT $3`

// Recent returns events inside the trailing window, newest first.
func (s *Store) Recent(ctx context.Context, hours int, minMag float64, limit int) ([]quake.Event, error) {
	rows, err := s.pool.Query(ctx, recentSQL, hours, minMag, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return scanEvents(rows)
}

const aroundSQL = `
SELECT ` + eventColumns + `
FROM earthquakes
WHERE (mag IS NULL OR mag >= $4)
  AND geom IS NOT NULL
  AND ST_DWithin(geom, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3)
ORDER BY time_utc DESC
LIMIT $5`

// Around returns events within radiusKm of the center, newest first. It
// relies on the PostGIS geography column; without PostGIS the silver backend
// serves radius queries instead.
func (s *Store) Around(ctx context.Context, lat, lon, radiusKM, minMag float64, limit int) ([]quake.Event, error) {
	if !s.postgis {
		return nil, errors.New("around queries require the postgis geometry column")
	}
	rows, err := s.pool.Query(ctx, aroundSQL, lat, lon, radiusKM*1000.0, minMag, limit)
	if err != nil {
		return nil, fmt.Errorf("query around: %w", err)
	}
	return scanEvents(rows)
}

const byDateSQL = `
SELECT ` + eventColumns + `
FROM earthquakes
WHERE (time_utc AT TIME ZONE 'UTC')::date = $1::date
ORDER BY time_utc DESC`

// ByDate returns the events whose occurrence date (UTC) matches.
func (s *Store) ByDate(ctx context.Context, date string) ([]quake.Event, error) {
	rows, err := s.pool.Query(ctx, byDateSQL, date)
	if err != nil {
		return nil, fmt.Errorf("query by date: %w", err)
	}
	return scanEvents(rows)
}

const latestRunSQL = `
SELECT run_id, date, records, time_min_utc, time_max_utc,
       bbox_west, bbox_south, bbox_min_depth_km,
       bbox_east, bbox_north, bbox_max_depth_km, source, ingestion_time_utc
FROM ingestion_runs
ORDER BY time_max_utc DESC
LIMIT 1`

// LatestRun returns the stats of the most recently observed run, or nil when
// no run has been synced yet.
func (s *Store) LatestRun(ctx context.Context) (*quake.RunStats, error) {
	var stats quake.RunStats
	err := s.pool.QueryRow(ctx, latestRunSQL).Scan(
		&stats.RunID,
		&stats.Date,
		&stats.Records,
		&stats.TimeMin,
		&stats.TimeMax,
		&stats.BBox.West,
		&stats.BBox.South,
		&stats.BBox.MinDepthKM,
		&stats.BBox.East,
		&stats.BBox.North,
		&stats.BBox.MaxDepthKM,
		&stats.Source,
		&stats.IngestionTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return &stats, nil
}

func scanEvents(rows pgx.Rows) ([]quake.Event, error) {
	defer rows.Close()
	var out []quake.Event
	for rows.Next() {
		var e quake.Event
		if err := rows.Scan(
			&e.EventID,
			&e.Mag,
			&e.Place,
			&e.OccurredAt,
			&e.Lat,
			&e.Lon,
			&e.DepthKM,
			&e.Source,
			&e.RunID,
			&e.IngestionTime,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
