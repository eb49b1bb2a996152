package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

type rawFeature struct {
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
	Geometry   map[string]any `json:"geometry,omitempty"`
}

func payload(bbox []float64, features ...rawFeature) []byte {
	doc := map[string]any{"type": "FeatureCollection", "features": features}
	if bbox != nil {
		doc["bbox"] = bbox
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func feature(id string, mag float64, epochMs, updatedMs int64, lon, lat, depth float64) rawFeature {
	return rawFeature{
		ID: id,
		Properties: map[string]any{
			"mag":     mag,
			"place":   fmt.Sprintf("near %s", id),
			"time":    epochMs,
			"updated": updatedMs,
		},
		Geometry: map[string]any{"type": "Point", "coordinates": []float64{lon, lat, depth}},
	}
}

func testRun(body []byte, declared int, bbox *quake.BBox) quake.RawRun {
	return quake.RawRun{
		RunID:         "20250831T120000Z",
		Source:        "USGS",
		IngestionTime: time.Date(2025, 8, 31, 12, 0, 0, 0, time.UTC),
		DatePartition: "2025-08-31",
		Payload:       body,
		RecordCount:   declared,
		BBox:          bbox,
	}
}

func TestDedupLatestUpdateWins(t *testing.T) {
	t.Parallel()

	t1 := int64(1756600000000)
	t2 := int64(1756600100000)
	body := payload(nil,
		feature("ev1", 2.0, t1, t2, -118.0, 34.0, 10),
		feature("ev1", 4.5, t1, t1, -117.0, 33.0, 5),
	)

	res, err := New(zap.NewNop()).Normalize(testRun(body, 2, nil))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	ev := res.Events[0]
	require.Equal(t, "ev1", ev.EventID)
	// All fields must come from the record with the greater updated_at.
	require.InDelta(t, 2.0, *ev.Mag, 1e-9)
	require.InDelta(t, -118.0, *ev.Lon, 1e-9)
	require.Equal(t, time.UnixMilli(t2).UTC(), ev.UpdatedAt)
}

func TestDedupTieBrokenByFeedPosition(t *testing.T) {
	t.Parallel()

	ts := int64(1756600000000)
	body := payload(nil,
		feature("ev1", 1.0, ts, ts, -118.0, 34.0, 10),
		feature("ev1", 9.0, ts, ts, -117.0, 33.0, 5),
	)

	res, err := New(zap.NewNop()).Normalize(testRun(body, 2, nil))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	// Equal updated_at: the later feed position wins, deterministically.
	require.InDelta(t, 9.0, *res.Events[0].Mag, 1e-9)
}

func TestOutputOrderIsDeterministic(t *testing.T) {
	t.Parallel()

	base := int64(1756600000000)
	forward := payload(nil,
		feature("b", 1, base, base, 1, 1, 1),
		feature("a", 1, base, base, 2, 2, 2),
		feature("c", 1, base+1000, base, 3, 3, 3),
	)
	reversed := payload(nil,
		feature("c", 1, base+1000, base, 3, 3, 3),
		feature("a", 1, base, base, 2, 2, 2),
		feature("b", 1, base, base, 1, 1, 1),
	)

	n := New(zap.NewNop())
	res1, err := n.Normalize(testRun(forward, 3, nil))
	require.NoError(t, err)
	res2, err := n.Normalize(testRun(reversed, 3, nil))
	require.NoError(t, err)

	require.Equal(t, res1.Events, res2.Events)
	require.Equal(t, []string{"a", "b", "c"}, ids(res1.Events))
}

func TestSkipAndCount(t *testing.T) {
	t.Parallel()

	ts := int64(1756600000000)
	features := make([]rawFeature, 0, 10)
	for i := 0; i < 8; i++ {
		features = append(features, feature(fmt.Sprintf("ev%d", i), 1, ts+int64(i)*1000, ts, float64(i), float64(i), 1))
	}
	// Two features without usable geometry.
	features = append(features,
		rawFeature{ID: "broken1", Properties: map[string]any{"time": ts}},
		rawFeature{ID: "broken2", Properties: map[string]any{"time": ts}, Geometry: map[string]any{"coordinates": []float64{1}}},
	)

	res, err := New(zap.NewNop()).Normalize(testRun(payload(nil, features...), 10, nil))
	require.NoError(t, err)
	require.Len(t, res.Events, 8)
	require.Equal(t, 2, res.Skipped)
	// Declared count stays the manifest's 10, persisted count is 8.
	require.Equal(t, 10, res.Stats.Records)
}

func TestEmptyRun(t *testing.T) {
	t.Parallel()

	res, err := New(zap.NewNop()).Normalize(testRun(payload(nil), 0, nil))
	require.ErrorIs(t, err, quake.ErrEmptyRun)
	require.Empty(t, res.Events)
}

func TestAllFeaturesSkippedIsEmptyRun(t *testing.T) {
	t.Parallel()

	body := payload(nil, rawFeature{ID: "broken", Properties: map[string]any{}})
	res, err := New(zap.NewNop()).Normalize(testRun(body, 1, nil))
	require.ErrorIs(t, err, quake.ErrEmptyRun)
	require.Equal(t, 1, res.Skipped)
}

func TestStatsUseDeclaredBBoxVerbatim(t *testing.T) {
	t.Parallel()

	ts := int64(1756600000000)
	declared := &quake.BBox{West: -180, South: -90, MinDepthKM: 0, East: 180, North: 90, MaxDepthKM: 700}
	body := payload(nil, feature("ev1", 1, ts, ts, -118, 34, 10))

	res, err := New(zap.NewNop()).Normalize(testRun(body, 1, declared))
	require.NoError(t, err)
	require.Equal(t, *declared, res.Stats.BBox)
}

func TestStatsBBoxFallbackComputesExtents(t *testing.T) {
	t.Parallel()

	ts := int64(1756600000000)
	body := payload(nil,
		feature("ev1", 1, ts, ts, 20, 10, 5),
		feature("ev2", 1, ts+1000, ts, -5, 30, 15),
	)

	res, err := New(zap.NewNop()).Normalize(testRun(body, 2, nil))
	require.NoError(t, err)

	b := res.Stats.BBox
	require.InDelta(t, -5, b.West, 1e-9)
	require.InDelta(t, 20, b.East, 1e-9)
	require.InDelta(t, 10, b.South, 1e-9)
	require.InDelta(t, 30, b.North, 1e-9)
	require.InDelta(t, 5, b.MinDepthKM, 1e-9)
	require.InDelta(t, 15, b.MaxDepthKM, 1e-9)
}

func TestStatsTimeRange(t *testing.T) {
	t.Parallel()

	base := int64(1756600000000)
	body := payload(nil,
		feature("ev1", 1, base+5000, base, 1, 1, 1),
		feature("ev2", 1, base, base, 2, 2, 2),
	)

	res, err := New(zap.NewNop()).Normalize(testRun(body, 2, nil))
	require.NoError(t, err)
	require.Equal(t, time.UnixMilli(base).UTC(), res.Stats.TimeMin)
	require.Equal(t, time.UnixMilli(base+5000).UTC(), res.Stats.TimeMax)
}

func TestMissingUpdatedFallsBackToTime(t *testing.T) {
	t.Parallel()

	ts := int64(1756600000000)
	f := rawFeature{
		ID:         "ev1",
		Properties: map[string]any{"time": ts},
		Geometry:   map[string]any{"coordinates": []float64{-118.0, 34.0}},
	}

	res, err := New(zap.NewNop()).Normalize(testRun(payload(nil, f), 1, nil))
	require.NoError(t, err)
	require.Equal(t, res.Events[0].OccurredAt, res.Events[0].UpdatedAt)
	require.Nil(t, res.Events[0].DepthKM)
	require.Nil(t, res.Events[0].Mag)
}

func ids(events []quake.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventID
	}
	return out
}
