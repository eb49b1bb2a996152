package postgres

import (
	"context"
	"fmt"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS earthquakes (
	event_id           TEXT PRIMARY KEY,
	mag                DOUBLE PRECISION,
	place              TEXT,
	time_utc           TIMESTAMPTZ NOT NULL,
	lat                DOUBLE PRECISION,
	lon                DOUBLE PRECISION,
	depth_km           DOUBLE PRECISION,
	source             TEXT,
	run_id             TEXT,
	ingestion_time_utc TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS earthquakes_time_utc_idx ON earthquakes (time_utc DESC);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	run_id             TEXT PRIMARY KEY,
	date               DATE,
	records            BIGINT,
	time_min_utc       TIMESTAMPTZ,
	time_max_utc       TIMESTAMPTZ,
	bbox_west          DOUBLE PRECISION,
	bbox_south         DOUBLE PRECISION,
	bbox_min_depth_km  DOUBLE PRECISION,
	bbox_east          DOUBLE PRECISION,
	bbox_north         DOUBLE PRECISION,
	bbox_max_depth_km  DOUBLE PRECISION,
	source             TEXT,
	ingestion_time_utc TIMESTAMPTZ,
	inserted_at_utc    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS ingestion_runs_time_max_idx ON ingestion_runs (time_max_utc DESC);
`

const postgisSchema = `
CREATE EXTENSION IF NOT EXISTS postgis;

ALTER TABLE earthquakes ADD COLUMN IF NOT EXISTS geom geography(Point, 4326);

CREATE INDEX IF NOT EXISTS earthquakes_geom_idx ON earthquakes USING GIST (geom);
`

// Schema returns the DDL for the serving store. The PostGIS block is appended
// only when the geography column is wanted.
func Schema(postgis bool) string {
	if postgis {
		return baseSchema + postgisSchema
	}
	return baseSchema
}

// InitSchema applies the DDL. Statements are idempotent, so re-running is safe.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema(s.postgis)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
