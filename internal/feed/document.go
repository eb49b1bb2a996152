// Package feed retrieves and decodes the upstream GeoJSON event feed.
package feed

import (
	"encoding/json"
	"fmt"

	"github.com/quakewatch/quakepipe/internal/quake"
)

// Document is the top-level feed payload: a GeoJSON FeatureCollection with an
// optional source-declared bounding box.
type Document struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	BBox     []float64 `json:"bbox"`
}

// Feature is one raw event record as reported by the source. Fields are
// pointers where the feed may omit them; validation happens at the
// normalizer boundary, not here.
type Feature struct {
	ID         string     `json:"id"`
	Properties Properties `json:"properties"`
	Geometry   *Geometry  `json:"geometry"`
}

// Properties carries the per-event attributes the pipeline consumes. Time and
// Updated are epoch milliseconds.
type Properties struct {
	Mag     *float64 `json:"mag"`
	Place   *string  `json:"place"`
	Time    *int64   `json:"time"`
	Updated *int64   `json:"updated"`
}

// Geometry holds the [lon, lat, depth_km] coordinate array. Depth may be
// absent; anything shorter than two elements is malformed.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Parse decodes a raw feed payload.
func Parse(payload []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, fmt.Errorf("decode feed payload: %w", err)
	}
	return doc, nil
}

// DeclaredBBox converts the feed's bbox array into the domain type, or nil
// when the source did not declare one.
func (d Document) DeclaredBBox() *quake.BBox {
	if len(d.BBox) != 6 {
		return nil
	}
	return &quake.BBox{
		West:       d.BBox[0],
		South:      d.BBox[1],
		MinDepthKM: d.BBox[2],
		East:       d.BBox[3],
		North:      d.BBox[4],
		MaxDepthKM: d.BBox[5],
	}
}
