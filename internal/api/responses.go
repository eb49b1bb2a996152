package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quakewatch/quakepipe/internal/quake"
)

type eventJSON struct {
	EventID          string    `json:"event_id"`
	Mag              *float64  `json:"mag"`
	Place            *string   `json:"place"`
	TimeUTC          time.Time `json:"time_utc"`
	UpdatedUTC       time.Time `json:"updated_utc"`
	Lat              *float64  `json:"lat"`
	Lon              *float64  `json:"lon"`
	DepthKM          *float64  `json:"depth_km"`
	Source           string    `json:"source"`
	RunID            string    `json:"run_id"`
	IngestionTimeUTC time.Time `json:"ingestion_time_utc"`
}

type eventList struct {
	Count  int         `json:"count"`
	Events []eventJSON `json:"events"`
}

type runJSON struct {
	RunID            string     `json:"run_id"`
	Date             string     `json:"date"`
	Records          int        `json:"records"`
	TimeMinUTC       time.Time  `json:"time_min_utc"`
	TimeMaxUTC       time.Time  `json:"time_max_utc"`
	BBox             quake.BBox `json:"bbox"`
	Source           string     `json:"source"`
	IngestionTimeUTC time.Time  `json:"ingestion_time_utc"`
}

func toEventJSON(e quake.Event) eventJSON {
	return eventJSON{
		EventID:          e.EventID,
		Mag:              e.Mag,
		Place:            e.Place,
		TimeUTC:          e.OccurredAt,
		UpdatedUTC:       e.UpdatedAt,
		Lat:              e.Lat,
		Lon:              e.Lon,
		DepthKM:          e.DepthKM,
		Source:           e.Source,
		RunID:            e.RunID,
		IngestionTimeUTC: e.IngestionTime,
	}
}

func eventListResponse(events []quake.Event) eventList {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, toEventJSON(e))
	}
	return eventList{Count: len(out), Events: out}
}

func toRunJSON(s quake.RunStats) runJSON {
	return runJSON{
		RunID:            s.RunID,
		Date:             s.Date,
		Records:          s.Records,
		TimeMinUTC:       s.TimeMin,
		TimeMaxUTC:       s.TimeMax,
		BBox:             s.BBox,
		Source:           s.Source,
		IngestionTimeUTC: s.IngestionTime,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
