// Package normalize turns raw feed captures into the deduplicated canonical
// event set plus run-level statistics.
package normalize

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/feed"
	"github.com/quakewatch/quakepipe/internal/quake"
)

// Result is the output of one normalizer execution. Skipped counts features
// rejected by the skip-and-count policy; Stats.Records keeps the manifest's
// declared count, so the two are independently inspectable.
type Result struct {
	Events  []quake.Event
	Stats   quake.RunStats
	Skipped int
}

// Normalizer parses, validates, deduplicates and orders feed records.
type Normalizer struct {
	logger *zap.Logger
}

// New builds a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize produces the canonical event set for one raw run.
//
// Malformed features (missing id, missing time, or a geometry with fewer than
// two coordinates) are skipped and counted, never fatal. When an event_id
// appears more than once the record with the greatest updated_at wins; on an
// updated_at tie the record appearing later in the feature list wins, so the
// outcome never depends on map iteration order. Output is sorted by
// (occurred_at, event_id) ascending.
//
// Zero valid features yields quake.ErrEmptyRun: nothing to persist, distinct
// from failure.
func (n *Normalizer) Normalize(run quake.RawRun) (Result, error) {
	doc, err := feed.Parse(run.Payload)
	if err != nil {
		return Result{}, err
	}

	skipped := 0
	byID := make(map[string]quake.Event, len(doc.Features))
	order := make([]string, 0, len(doc.Features))

	for i, feature := range doc.Features {
		event, perr := n.toEvent(feature, run)
		if perr != nil {
			skipped++
			n.logger.Warn("feature skipped",
				zap.String("run_id", run.RunID),
				zap.Int("index", i),
				zap.Error(perr),
			)
			continue
		}
		existing, seen := byID[event.EventID]
		if !seen {
			order = append(order, event.EventID)
			byID[event.EventID] = event
			continue
		}
		// Later feed position wins ties, matching a stable keep-last pass.
		if !event.UpdatedAt.Before(existing.UpdatedAt) {
			byID[event.EventID] = event
		}
	}

	if len(byID) == 0 {
		return Result{Skipped: skipped}, quake.ErrEmptyRun
	}

	events := make([]quake.Event, 0, len(byID))
	for _, id := range order {
		events = append(events, byID[id])
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].EventID < events[j].EventID
	})

	stats := n.buildStats(run, events)
	n.logger.Info("run normalized",
		zap.String("run_id", run.RunID),
		zap.Int("declared", run.RecordCount),
		zap.Int("persisted", len(events)),
		zap.Int("skipped", skipped),
	)
	return Result{Events: events, Stats: stats, Skipped: skipped}, nil
}

func (n *Normalizer) toEvent(f feed.Feature, run quake.RawRun) (quake.Event, error) {
	if f.ID == "" {
		return quake.Event{}, &quake.ParseError{Reason: "missing id"}
	}
	if f.Geometry == nil || len(f.Geometry.Coordinates) < 2 {
		return quake.Event{}, &quake.ParseError{EventID: f.ID, Reason: "geometry requires at least [lon, lat]"}
	}
	if f.Properties.Time == nil {
		return quake.Event{}, &quake.ParseError{EventID: f.ID, Reason: "missing time"}
	}

	occurred := time.UnixMilli(*f.Properties.Time).UTC()
	updated := occurred
	if f.Properties.Updated != nil {
		updated = time.UnixMilli(*f.Properties.Updated).UTC()
	}

	lon := f.Geometry.Coordinates[0]
	lat := f.Geometry.Coordinates[1]
	var depth *float64
	if len(f.Geometry.Coordinates) >= 3 {
		d := f.Geometry.Coordinates[2]
		depth = &d
	}

	return quake.Event{
		EventID:       f.ID,
		Mag:           f.Properties.Mag,
		Place:         f.Properties.Place,
		OccurredAt:    occurred,
		UpdatedAt:     updated,
		Lat:           &lat,
		Lon:           &lon,
		DepthKM:       depth,
		Source:        run.Source,
		RunID:         run.RunID,
		IngestionTime: run.IngestionTime,
	}, nil
}

// buildStats prefers the manifest-declared bbox verbatim; it is the source's
// self-reported coverage and authoritative for monitoring even when it
// disagrees with the computed extents.
func (n *Normalizer) buildStats(run quake.RawRun, events []quake.Event) quake.RunStats {
	stats := quake.RunStats{
		RunID:         run.RunID,
		Date:          run.DatePartition,
		Records:       run.RecordCount,
		TimeMin:       events[0].OccurredAt,
		TimeMax:       events[len(events)-1].OccurredAt,
		Source:        run.Source,
		IngestionTime: run.IngestionTime,
	}
	if run.BBox != nil {
		stats.BBox = *run.BBox
		return stats
	}
	stats.BBox = computedBBox(events)
	return stats
}

func computedBBox(events []quake.Event) quake.BBox {
	var b quake.BBox
	first := true
	depthFirst := true
	for _, e := range events {
		if !e.HasCoordinates() {
			continue
		}
		lat, lon := *e.Lat, *e.Lon
		if first {
			b.West, b.East = lon, lon
			b.South, b.North = lat, lat
			first = false
		} else {
			b.West = min(b.West, lon)
			b.East = max(b.East, lon)
			b.South = min(b.South, lat)
			b.North = max(b.North, lat)
		}
		if e.DepthKM == nil {
			continue
		}
		if depthFirst {
			b.MinDepthKM, b.MaxDepthKM = *e.DepthKM, *e.DepthKM
			depthFirst = false
		} else {
			b.MinDepthKM = min(b.MinDepthKM, *e.DepthKM)
			b.MaxDepthKM = max(b.MaxDepthKM, *e.DepthKM)
		}
	}
	return b
}
