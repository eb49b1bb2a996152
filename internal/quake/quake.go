// Package quake defines the core domain types shared by every pipeline stage.
// Stages communicate only through these types and the artifacts they persist;
// no stage shares mutable state with another.
package quake

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunIDLayout is the time layout used for run identifiers. Run IDs sort
// lexicographically in capture order.
const RunIDLayout = "20060102T150405Z"

// DateLayout is the calendar-date layout used for partition keys.
const DateLayout = "2006-01-02"

// FormatRunID derives a run identifier from a capture instant.
func FormatRunID(t time.Time) string {
	return t.UTC().Format(RunIDLayout)
}

// FormatDate derives a date partition key from an instant.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// BBox is the six-tuple of spatial and depth extents describing a run's
// geographic coverage: west, south, min depth, east, north, max depth.
type BBox struct {
	West       float64
	South      float64
	MinDepthKM float64
	East       float64
	North      float64
	MaxDepthKM float64
}

// MarshalJSON encodes the bbox as the feed's six-element array.
func (b BBox) MarshalJSON() ([]byte, error) {
	arr := [6]float64{b.West, b.South, b.MinDepthKM, b.East, b.North, b.MaxDepthKM}
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("marshal bbox: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a six-element array into the bbox.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("unmarshal bbox: %w", err)
	}
	if len(arr) != 6 {
		return fmt.Errorf("bbox must have 6 elements, got %d", len(arr))
	}
	b.West, b.South, b.MinDepthKM = arr[0], arr[1], arr[2]
	b.East, b.North, b.MaxDepthKM = arr[3], arr[4], arr[5]
	return nil
}

// Manifest describes one archived capture. It is written next to the raw
// payload and is the authoritative record of what the source declared.
type Manifest struct {
	Source           string    `json:"source"`
	SourceURL        string    `json:"source_url"`
	IngestionTimeUTC time.Time `json:"ingestion_time_utc"`
	RunID            string    `json:"run_id"`
	Records          int       `json:"records"`
	BBox             *BBox     `json:"bbox"`
}

// RawRun is one capture attempt: the raw payload plus ingestion metadata.
// It is created once per fetch invocation and immutable thereafter.
type RawRun struct {
	RunID         string
	Source        string
	SourceURL     string
	IngestionTime time.Time
	DatePartition string
	Payload       []byte
	RecordCount   int
	BBox          *BBox
}

// Manifest builds the archive manifest for the run.
func (r RawRun) Manifest() Manifest {
	return Manifest{
		Source:           r.Source,
		SourceURL:        r.SourceURL,
		IngestionTimeUTC: r.IngestionTime,
		RunID:            r.RunID,
		Records:          r.RecordCount,
		BBox:             r.BBox,
	}
}

// Event is one normalized seismic event snapshot. EventID is the natural key
// from the source and stays stable across updates; UpdatedAt drives dedup.
type Event struct {
	EventID       string
	Mag           *float64
	Place         *string
	OccurredAt    time.Time
	UpdatedAt     time.Time
	Lat           *float64
	Lon           *float64
	DepthKM       *float64
	Source        string
	RunID         string
	IngestionTime time.Time
}

// HasCoordinates reports whether the event carries a usable lat/lon pair.
// Events without coordinates are excluded from radius queries.
func (e Event) HasCoordinates() bool {
	return e.Lat != nil && e.Lon != nil
}

// RunStats is the per-run aggregate row persisted alongside the canonical
// data. Records is the source-declared feature count from the manifest, which
// may exceed the persisted event count when malformed features were skipped.
type RunStats struct {
	RunID         string
	Date          string
	Records       int
	TimeMin       time.Time
	TimeMax       time.Time
	BBox          BBox
	Source        string
	IngestionTime time.Time
}

// Clock abstracts time.Now so run identities are injectable in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the real time in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
