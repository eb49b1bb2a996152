// Package api exposes the HTTP read interface over the canonical event data.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/config"
	"github.com/quakewatch/quakepipe/internal/metrics"
	"github.com/quakewatch/quakepipe/internal/quake"
)

// Backend answers read queries. Both the relational store and the silver
// partition scanner satisfy it; which one serves is a config choice.
type Backend interface {
	Recent(ctx context.Context, hours int, minMag float64, limit int) ([]quake.Event, error)
	Around(ctx context.Context, lat, lon, radiusKM, minMag float64, limit int) ([]quake.Event, error)
	ByDate(ctx context.Context, date string) ([]quake.Event, error)
	LatestRun(ctx context.Context) (*quake.RunStats, error)
}

const (
	defaultWindowHours = 24
	defaultLimit       = 100
	maxLimit           = 1000
	maxWindowHours     = 24 * 30
	maxRadiusKM        = 20000
)

// Server wires HTTP handlers to a query backend.
type Server struct {
	router  chi.Router
	backend Backend
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(backend Backend, cfg config.APIConfig, logger *zap.Logger) *Server {
	s := &Server{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/earthquakes", func(r chi.Router) {
			r.Get("/recent", s.recent)
			r.Get("/around", s.around)
			r.Get("/by-date/{date}", s.byDate)
		})
		r.Get("/runs/latest", s.latestRun)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Ready when the backend answers; a backend with no runs yet still counts.
	if _, err := s.backend.LatestRun(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "backend not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultWindowHours)
	if err != nil || hours <= 0 || hours > maxWindowHours {
		writeError(w, http.StatusBadRequest, "hours must be an integer between 1 and 720")
		return
	}
	minMag, err := floatParam(r, "min_mag", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min_mag must be a number")
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil || limit <= 0 || limit > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
		return
	}

	events, err := s.backend.Recent(r.Context(), hours, minMag, limit)
	if err != nil {
		s.logger.Error("recent query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, eventListResponse(events))
}

func (s *Server) around(w http.ResponseWriter, r *http.Request) {
	lat, err := requiredFloatParam(r, "lat")
	if err != nil || lat < -90 || lat > 90 {
		writeError(w, http.StatusBadRequest, "lat must be a number between -90 and 90")
		return
	}
	lon, err := requiredFloatParam(r, "lon")
	if err != nil || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "lon must be a number between -180 and 180")
		return
	}
	radius, err := requiredFloatParam(r, "radius_km")
	if err != nil || radius <= 0 || radius > maxRadiusKM {
		writeError(w, http.StatusBadRequest, "radius_km must be a positive number up to 20000")
		return
	}
	minMag, err := floatParam(r, "min_mag", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min_mag must be a number")
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil || limit <= 0 || limit > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
		return
	}

	events, err := s.backend.Around(r.Context(), lat, lon, radius, minMag, limit)
	if err != nil {
		s.logger.Error("around query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, eventListResponse(events))
}

func (s *Server) byDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(quake.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	events, err := s.backend.ByDate(r.Context(), date)
	if err != nil {
		s.logger.Error("by-date query failed", zap.Error(err), zap.String("date", date))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, eventListResponse(events))
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.LatestRun(r.Context())
	if err != nil {
		s.logger.Error("latest run query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(*stats))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func requiredFloatParam(r *http.Request, name string) (float64, error) {
	return strconv.ParseFloat(r.URL.Query().Get(name), 64)
}
