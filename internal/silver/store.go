// Package silver owns the canonical columnar dataset: deduplicated event
// snapshots partitioned by calendar date, plus one stats file per run, all
// parquet under hive-style key=value directories.
package silver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

const (
	eventsFile = "data.parquet"
	statsFile  = "stats.parquet"
)

// eventRow is the parquet schema for canonical events. Instants are stored as
// epoch milliseconds so output bytes are deterministic across zones.
type eventRow struct {
	EventID      string   `parquet:"event_id"`
	Mag          *float64 `parquet:"mag,optional"`
	Place        *string  `parquet:"place,optional"`
	TimeUTCMs    int64    `parquet:"time_utc_ms"`
	UpdatedUTCMs int64    `parquet:"updated_utc_ms"`
	Lat          *float64 `parquet:"lat,optional"`
	Lon          *float64 `parquet:"lon,optional"`
	DepthKM      *float64 `parquet:"depth_km,optional"`
	Source       string   `parquet:"source"`
	RunID        string   `parquet:"run_id"`
	IngestedMs   int64    `parquet:"ingestion_time_utc_ms"`
}

// statsRow is the parquet schema for per-run statistics.
type statsRow struct {
	RunID          string  `parquet:"run_id"`
	Date           string  `parquet:"date"`
	Records        int64   `parquet:"records"`
	TimeMinUTCMs   int64   `parquet:"time_min_utc_ms"`
	TimeMaxUTCMs   int64   `parquet:"time_max_utc_ms"`
	BBoxWest       float64 `parquet:"bbox_west"`
	BBoxSouth      float64 `parquet:"bbox_south"`
	BBoxMinDepthKM float64 `parquet:"bbox_min_depth_km"`
	BBoxEast       float64 `parquet:"bbox_east"`
	BBoxNorth      float64 `parquet:"bbox_north"`
	BBoxMaxDepthKM float64 `parquet:"bbox_max_depth_km"`
	Source         string  `parquet:"source"`
	IngestedMs     int64   `parquet:"ingestion_time_utc_ms"`
}

// Store reads and writes the silver layer under <root>/silver.
type Store struct {
	root   string
	logger *zap.Logger
}

// New builds a Store rooted at the lake directory.
func New(root string, logger *zap.Logger) *Store {
	return &Store{root: root, logger: logger}
}

func (s *Store) eventsDir() string {
	return filepath.Join(s.root, "silver", "events")
}

func (s *Store) partitionPath(date string) string {
	return filepath.Join(s.eventsDir(), "date="+date, eventsFile)
}

func (s *Store) statsPath(date, runID string) string {
	return filepath.Join(s.root, "silver", "run_stats", "date="+date, "run_id="+runID, statsFile)
}

// WriteEvents merges the run's events into the date partition and atomically
// swaps the partition file. Merging keeps, per event_id, the row with the
// greater updated_at; the incoming row wins ties. Re-running a day therefore
// converges to the same set as a single run over the union of records.
func (s *Store) WriteEvents(date string, events []quake.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("refusing to write empty partition date=%s", date)
	}

	existing, err := s.ReadPartition(date)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read existing partition: %w", err)
	}

	merged := mergeEvents(existing, events)
	rows := make([]eventRow, len(merged))
	for i, e := range merged {
		rows[i] = toRow(e)
	}

	path := s.partitionPath(date)
	if err := writeParquet(path, rows); err != nil {
		return err
	}
	s.logger.Info("event partition written",
		zap.String("date", date),
		zap.Int("incoming", len(events)),
		zap.Int("total", len(merged)),
	)
	return nil
}

// WriteStats persists exactly one stats file for the run. Stats are immutable;
// an existing file for the same run is an error.
func (s *Store) WriteStats(stats quake.RunStats) error {
	path := s.statsPath(stats.Date, stats.RunID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("stats for run %s already written", stats.RunID)
	}
	row := statsRow{
		RunID:          stats.RunID,
		Date:           stats.Date,
		Records:        int64(stats.Records),
		TimeMinUTCMs:   stats.TimeMin.UnixMilli(),
		TimeMaxUTCMs:   stats.TimeMax.UnixMilli(),
		BBoxWest:       stats.BBox.West,
		BBoxSouth:      stats.BBox.South,
		BBoxMinDepthKM: stats.BBox.MinDepthKM,
		BBoxEast:       stats.BBox.East,
		BBoxNorth:      stats.BBox.North,
		BBoxMaxDepthKM: stats.BBox.MaxDepthKM,
		Source:         stats.Source,
		IngestedMs:     stats.IngestionTime.UnixMilli(),
	}
	if err := writeParquet(path, []statsRow{row}); err != nil {
		return err
	}
	s.logger.Info("run stats written", zap.String("run_id", stats.RunID), zap.String("date", stats.Date))
	return nil
}

// ReadPartition loads one date partition. A missing partition surfaces as an
// os.IsNotExist error.
func (s *Store) ReadPartition(date string) ([]quake.Event, error) {
	rows, err := readParquet[eventRow](s.partitionPath(date))
	if err != nil {
		return nil, err
	}
	events := make([]quake.Event, len(rows))
	for i, r := range rows {
		events[i] = fromRow(r)
	}
	return events, nil
}

// ReadAll loads every date partition in date order.
func (s *Store) ReadAll() ([]quake.Event, error) {
	dates, err := s.ListDates()
	if err != nil {
		return nil, err
	}
	var all []quake.Event
	for _, date := range dates {
		events, err := s.ReadPartition(date)
		if err != nil {
			return nil, fmt.Errorf("read partition %s: %w", date, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

// ListDates returns the partition dates present on disk, ascending. The
// hive-style layout makes a directory listing sufficient.
func (s *Store) ListDates() ([]string, error) {
	entries, err := os.ReadDir(s.eventsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list event partitions: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "date=") {
			dates = append(dates, strings.TrimPrefix(e.Name(), "date="))
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// LatestStats returns the stats row of the most recent run, or nil when no
// run has completed yet. Run IDs sort lexicographically in capture order, so
// path order is capture order.
func (s *Store) LatestStats() (*quake.RunStats, error) {
	return s.latestStats(filepath.Join(s.root, "silver", "run_stats", "date=*", "run_id=*", statsFile))
}

// LatestStatsForDate returns the stats row of the most recent run that wrote
// the given date partition, or nil when no run has touched that date.
func (s *Store) LatestStatsForDate(date string) (*quake.RunStats, error) {
	return s.latestStats(filepath.Join(s.root, "silver", "run_stats", "date="+date, "run_id=*", statsFile))
}

func (s *Store) latestStats(pattern string) (*quake.RunStats, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob run stats: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	sort.Strings(paths)
	rows, err := readParquet[statsRow](paths[len(paths)-1])
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("stats file %s holds %d rows, want 1", paths[len(paths)-1], len(rows))
	}
	stats := fromStatsRow(rows[0])
	return &stats, nil
}

func mergeEvents(existing, incoming []quake.Event) []quake.Event {
	byID := make(map[string]quake.Event, len(existing)+len(incoming))
	for _, e := range existing {
		byID[e.EventID] = e
	}
	for _, e := range incoming {
		if prev, ok := byID[e.EventID]; ok && e.UpdatedAt.Before(prev.UpdatedAt) {
			continue
		}
		byID[e.EventID] = e
	}
	merged := make([]quake.Event, 0, len(byID))
	for _, e := range byID {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].OccurredAt.Equal(merged[j].OccurredAt) {
			return merged[i].OccurredAt.Before(merged[j].OccurredAt)
		}
		return merged[i].EventID < merged[j].EventID
	})
	return merged
}

// writeParquet stages the file next to its destination and renames it into
// place so readers never observe a partial file.
func writeParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stage-*.parquet")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after successful rename

	w := parquet.NewGenericWriter[T](tmp)
	if _, err := w.Write(rows); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish parquet file: %w", err)
	}
	return nil
}

func readParquet[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

func toRow(e quake.Event) eventRow {
	return eventRow{
		EventID:      e.EventID,
		Mag:          e.Mag,
		Place:        e.Place,
		TimeUTCMs:    e.OccurredAt.UnixMilli(),
		UpdatedUTCMs: e.UpdatedAt.UnixMilli(),
		Lat:          e.Lat,
		Lon:          e.Lon,
		DepthKM:      e.DepthKM,
		Source:       e.Source,
		RunID:        e.RunID,
		IngestedMs:   e.IngestionTime.UnixMilli(),
	}
}

func fromRow(r eventRow) quake.Event {
	return quake.Event{
		EventID:       r.EventID,
		Mag:           r.Mag,
		Place:         r.Place,
		OccurredAt:    time.UnixMilli(r.TimeUTCMs).UTC(),
		UpdatedAt:     time.UnixMilli(r.UpdatedUTCMs).UTC(),
		Lat:           r.Lat,
		Lon:           r.Lon,
		DepthKM:       r.DepthKM,
		Source:        r.Source,
		RunID:         r.RunID,
		IngestionTime: time.UnixMilli(r.IngestedMs).UTC(),
	}
}

func fromStatsRow(r statsRow) quake.RunStats {
	return quake.RunStats{
		RunID:   r.RunID,
		Date:    r.Date,
		Records: int(r.Records),
		TimeMin: time.UnixMilli(r.TimeMinUTCMs).UTC(),
		TimeMax: time.UnixMilli(r.TimeMaxUTCMs).UTC(),
		BBox: quake.BBox{
			West:       r.BBoxWest,
			South:      r.BBoxSouth,
			MinDepthKM: r.BBoxMinDepthKM,
			East:       r.BBoxEast,
			North:      r.BBoxNorth,
			MaxDepthKM: r.BBoxMaxDepthKM,
		},
		Source:        r.Source,
		IngestionTime: time.UnixMilli(r.IngestedMs).UTC(),
	}
}
