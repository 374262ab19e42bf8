package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/logger"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

type server struct {
	log    *slog.Logger
	cfg    *config.API
	svc    *insights.Service
	health healthChecker
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type dataResponse struct {
	Success bool `json:"success"`
	*insights.ListResult
}

type filtersResponse struct {
	Success bool                    `json:"success"`
	Filters *insights.FilterOptions `json:"filters"`
}

type statsResponse struct {
	Success bool `json:"success"`
	*insights.Stats
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Requests(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/data", s.handleData)
	r.Get("/filters", s.handleFilters)
	r.Get("/stats", s.handleStats)
	r.Get("/diagnostics", s.handleDiagnostics)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	values := r.URL.Query()
	page := query.Page{
		Limit: clampInt(values.Get("limit"), s.cfg.DefaultLimit, 1, s.cfg.MaxLimit),
		Skip:  clampInt(values.Get("skip"), 0, 0, s.cfg.MaxSkip),
	}

	result, err := s.svc.List(ctx, query.Parse(values), page)
	if err != nil {
		s.fail(w, r, "fetch data", err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Success: true, ListResult: result})
}

func (s *server) handleFilters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	opts, err := s.svc.FilterOptions(ctx)
	if err != nil {
		s.fail(w, r, "fetch filters", err)
		return
	}

	writeJSON(w, http.StatusOK, filtersResponse{Success: true, Filters: opts})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	stats, err := s.svc.Stats(ctx, query.Parse(r.URL.Query()))
	if err != nil {
		s.fail(w, r, "fetch stats", err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

func (s *server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	diag, err := s.svc.Diagnostics(ctx)
	if diag == nil {
		diag = &insights.Diagnostics{
			Timestamp:   time.Now().UTC(),
			Connection:  insights.ConnectionInfo{Status: "disconnected"},
			Collections: []insights.CollectionInfo{},
		}
	}
	if err != nil && diag.Error == "" {
		diag.Error = err.Error()
	}

	diag.Success = diag.Error == ""
	status := http.StatusOK
	if !diag.Success {
		status = http.StatusInternalServerError
		s.log.Warn("diagnostics reported a problem",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", diag.Error),
		)
	}
	writeJSON(w, status, diag)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op,
		slog.Any("err", err),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("kind", errorKind(err)),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func errorKind(err error) string {
	switch {
	case query.IsConnection(err):
		return "connection"
	case query.IsQuery(err):
		return "query"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// clampInt parses raw, falling back for empty, unparsable or below-min
// values, and caps the result at max.
func clampInt(raw string, fallback, min, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value < min {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
