package silver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

func ptr[T any](v T) *T { return &v }

func event(id string, occurred, updated time.Time, lat, lon float64, runID string) quake.Event {
	return quake.Event{
		EventID:       id,
		Mag:           ptr(3.1),
		Place:         ptr("near " + id),
		OccurredAt:    occurred,
		UpdatedAt:     updated,
		Lat:           ptr(lat),
		Lon:           ptr(lon),
		DepthKM:       ptr(8.0),
		Source:        "USGS",
		RunID:         runID,
		IngestionTime: updated,
	}
}

func TestWriteEventsRoundTrip(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	base := time.Date(2025, 8, 31, 10, 0, 0, 0, time.UTC)
	events := []quake.Event{
		event("ev1", base, base, 34.05, -118.25, "run1"),
		event("ev2", base.Add(time.Minute), base, 40.0, -120.0, "run1"),
	}

	require.NoError(t, s.WriteEvents("2025-08-31", events))

	got, err := s.ReadPartition("2025-08-31")
	require.NoError(t, err)
	require.Equal(t, events, got)
}

func TestWriteEventsMergesAcrossRuns(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	base := time.Date(2025, 8, 31, 10, 0, 0, 0, time.UTC)

	first := []quake.Event{
		event("ev1", base, base, 34.0, -118.0, "run1"),
		event("ev2", base.Add(time.Minute), base, 35.0, -119.0, "run1"),
	}
	require.NoError(t, s.WriteEvents("2025-08-31", first))

	// Second run updates ev1 and adds ev3; ev2 is untouched and must survive.
	updated := event("ev1", base, base.Add(time.Hour), 34.1, -118.1, "run2")
	second := []quake.Event{
		updated,
		event("ev3", base.Add(2*time.Minute), base.Add(time.Hour), 36.0, -117.0, "run2"),
	}
	require.NoError(t, s.WriteEvents("2025-08-31", second))

	got, err := s.ReadPartition("2025-08-31")
	require.NoError(t, err)
	require.Len(t, got, 3)

	byID := map[string]quake.Event{}
	for _, e := range got {
		byID[e.EventID] = e
	}
	require.Equal(t, "run2", byID["ev1"].RunID)
	require.InDelta(t, 34.1, *byID["ev1"].Lat, 1e-9)
	require.Equal(t, "run1", byID["ev2"].RunID)
}

func TestWriteEventsStaleUpdateDoesNotRegress(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	base := time.Date(2025, 8, 31, 10, 0, 0, 0, time.UTC)

	fresh := event("ev1", base, base.Add(time.Hour), 34.1, -118.1, "run2")
	require.NoError(t, s.WriteEvents("2025-08-31", []quake.Event{fresh}))

	stale := event("ev1", base, base, 34.0, -118.0, "run1")
	require.NoError(t, s.WriteEvents("2025-08-31", []quake.Event{stale}))

	got, err := s.ReadPartition("2025-08-31")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "run2", got[0].RunID)
}

func TestWriteEventsRejectsEmptySet(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	require.Error(t, s.WriteEvents("2025-08-31", nil))
}

func TestWriteEventsLeavesNoStagingFiles(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	base := time.Date(2025, 8, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteEvents("2025-08-31", []quake.Event{event("ev1", base, base, 1, 2, "run1")}))

	entries, err := os.ReadDir(filepath.Join(s.root, "silver", "events", "date=2025-08-31"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "data.parquet", entries[0].Name())
}

func TestWriteStatsOncePerRun(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	stats := quake.RunStats{
		RunID:         "20250831T120000Z",
		Date:          "2025-08-31",
		Records:       10,
		TimeMin:       time.Date(2025, 8, 31, 9, 0, 0, 0, time.UTC),
		TimeMax:       time.Date(2025, 8, 31, 11, 0, 0, 0, time.UTC),
		BBox:          quake.BBox{West: -5, South: 10, MinDepthKM: 5, East: 20, North: 30, MaxDepthKM: 15},
		Source:        "USGS",
		IngestionTime: time.Date(2025, 8, 31, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.WriteStats(stats))
	require.Error(t, s.WriteStats(stats))
}

func TestLatestStatsPicksNewestRun(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	older := quake.RunStats{RunID: "20250830T120000Z", Date: "2025-08-30", Records: 1, Source: "USGS"}
	newer := quake.RunStats{RunID: "20250831T060000Z", Date: "2025-08-31", Records: 2, Source: "USGS"}
	require.NoError(t, s.WriteStats(older))
	require.NoError(t, s.WriteStats(newer))

	got, err := s.LatestStats()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "20250831T060000Z", got.RunID)
	require.Equal(t, 2, got.Records)
}

func TestLatestStatsForDatePicksThatPartitionsNewestRun(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	dayOneEarly := quake.RunStats{RunID: "20250830T060000Z", Date: "2025-08-30", Records: 1, Source: "USGS"}
	dayOneLate := quake.RunStats{RunID: "20250830T180000Z", Date: "2025-08-30", Records: 3, Source: "USGS"}
	dayTwo := quake.RunStats{RunID: "20250831T060000Z", Date: "2025-08-31", Records: 2, Source: "USGS"}
	require.NoError(t, s.WriteStats(dayOneEarly))
	require.NoError(t, s.WriteStats(dayOneLate))
	require.NoError(t, s.WriteStats(dayTwo))

	got, err := s.LatestStatsForDate("2025-08-30")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "20250830T180000Z", got.RunID)
	require.Equal(t, 3, got.Records)

	missing, err := s.LatestStatsForDate("1999-01-01")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLatestStatsEmptyLake(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	got, err := s.LatestStats()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListDatesAndReadAll(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	base := time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteEvents("2025-08-31", []quake.Event{event("ev2", base.Add(24*time.Hour), base, 1, 2, "run2")}))
	require.NoError(t, s.WriteEvents("2025-08-30", []quake.Event{event("ev1", base, base, 1, 2, "run1")}))

	dates, err := s.ListDates()
	require.NoError(t, err)
	require.Equal(t, []string{"2025-08-30", "2025-08-31"}, dates)

	all, err := s.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"ev1", "ev2"}, []string{all[0].EventID, all[1].EventID})
}

func TestReadPartitionMissingIsNotExist(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir(), zap.NewNop())
	_, err := s.ReadPartition("1999-01-01")
	require.True(t, os.IsNotExist(err))
}
