package silver

import (
	"context"
	"math"
	"os"
	"sort"
	"time"

	"github.com/quakewatch/quakepipe/internal/quake"
)

const earthRadiusKM = 6371.0

// Backend adapts the Store to the read API by scanning partitions and
// filtering in process. It reflects whatever the last successful run wrote,
// independent of the relational store.
type Backend struct {
	store *Store
	clock quake.Clock
}

// NewBackend wraps a Store for query use.
func NewBackend(store *Store, clock quake.Clock) *Backend {
	if clock == nil {
		clock = quake.SystemClock{}
	}
	return &Backend{store: store, clock: clock}
}

// Recent returns events inside the trailing window at or above the minimum
// magnitude, newest first, capped at limit.
func (b *Backend) Recent(_ context.Context, hours int, minMag float64, limit int) ([]quake.Event, error) {
	events, err := b.store.ReadAll()
	if err != nil {
		return nil, err
	}
	cutoff := b.clock.Now().Add(-time.Duration(hours) * time.Hour)
	var out []quake.Event
	for _, e := range events {
		if e.OccurredAt.Before(cutoff) {
			continue
		}
		if !magAtLeast(e, minMag) {
			continue
		}
		out = append(out, e)
	}
	return newestFirst(out, limit), nil
}

// Around returns events within radiusKm of the center by great-circle
// distance, newest first, capped at limit. Events without coordinates are
// excluded.
func (b *Backend) Around(_ context.Context, lat, lon, radiusKM, minMag float64, limit int) ([]quake.Event, error) {
	events, err := b.store.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []quake.Event
	for _, e := range events {
		if !e.HasCoordinates() || !magAtLeast(e, minMag) {
			continue
		}
		if haversineKM(lat, lon, *e.Lat, *e.Lon) > radiusKM {
			continue
		}
		out = append(out, e)
	}
	return newestFirst(out, limit), nil
}

// ByDate returns one date partition, newest first. A missing partition is an
// empty result, not an error.
func (b *Backend) ByDate(_ context.Context, date string) ([]quake.Event, error) {
	events, err := b.store.ReadPartition(date)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return newestFirst(events, len(events)), nil
}

// LatestRun returns the stats of the most recent run, or nil if none exists.
func (b *Backend) LatestRun(_ context.Context) (*quake.RunStats, error) {
	return b.store.LatestStats()
}

func magAtLeast(e quake.Event, minMag float64) bool {
	if minMag <= 0 {
		return true
	}
	return e.Mag != nil && *e.Mag >= minMag
}

func newestFirst(events []quake.Event, limit int) []quake.Event {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.After(events[j].OccurredAt)
		}
		return events[i].EventID < events[j].EventID
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// haversineKM computes the great-circle distance between two points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
