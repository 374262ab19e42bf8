package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/dashboard"
	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/logger"
	"github.com/DeafMist/insight-dashboard/internal/memstore"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

// serviceSource answers dashboard calls straight from an insights service.
type serviceSource struct {
	svc *insights.Service

	mu         sync.Mutex
	selections []dashboard.Selection
}

func (s *serviceSource) FilterOptions(ctx context.Context) (*insights.FilterOptions, error) {
	return s.svc.FilterOptions(ctx)
}

func (s *serviceSource) Stats(ctx context.Context, sel dashboard.Selection) (*insights.Stats, error) {
	s.mu.Lock()
	s.selections = append(s.selections, sel)
	s.mu.Unlock()
	return s.svc.Stats(ctx, sel.Filters())
}

func (s *serviceSource) Total(ctx context.Context, sel dashboard.Selection) (int64, error) {
	res, err := s.svc.List(ctx, sel.Filters(), query.Page{Limit: 1})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

func newTestServer(store *memstore.Store) (*server, *serviceSource) {
	src := &serviceSource{svc: insights.NewService(store, nil)}
	return &server{
		log:    logger.Discard(),
		cfg:    &config.Dashboard{RequestTimeout: time.Second},
		src:    src,
		panels: dashboard.DefaultPanels(),
	}, src
}

func fixture() *memstore.Store {
	return memstore.New(
		models.Record{EndYear: "2020", Topic: "gmo trade", Country: "India", Region: "Asia", Sector: "Agriculture", Intensity: 6, Likelihood: 3, Relevance: 2},
		models.Record{EndYear: "2021", Topic: "Fertilizer", Country: "France", Region: "Europe", Sector: "Agriculture", Intensity: 2, Likelihood: 2, Relevance: 4},
		models.Record{EndYear: "2020", Topic: "GMO Policy", Country: "India", Region: "Asia", Sector: "Government", Intensity: 4, Likelihood: 1, Relevance: 3},
	)
}

func TestIndexRendersDashboard(t *testing.T) {
	srv, src := newTestServer(fixture())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?topic=GMO&city=all", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Contains(t, body, pageTitle)
	require.Contains(t, body, "Total Records")
	require.Contains(t, body, `<option value="Fertilizer">Fertilizer</option>`)
	require.Contains(t, body, `id="series-intensity-by-topic"`)
	require.NotContains(t, body, "Could not load chart")

	// Cards plus one request per panel, all for the submitted selection.
	require.Len(t, src.selections, 1+len(srv.panels))
	for _, sel := range src.selections {
		require.Equal(t, "GMO", sel.Value(query.Topic))
	}
}

func TestViewJSON(t *testing.T) {
	srv, _ := newTestServer(fixture())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/view.json?end_year=2020", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Generation uint64 `json:"generation"`
		Cards      struct {
			State   string         `json:"state"`
			Total   int64          `json:"totalRecords"`
			Summary map[string]any `json:"summary"`
		} `json:"cards"`
		Panels []struct {
			Panel  map[string]any `json:"panel"`
			Widget struct {
				State string `json:"state"`
			} `json:"widget"`
			Series dashboard.Series `json:"series"`
		} `json:"panels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.EqualValues(t, 1, view.Generation)
	require.Equal(t, "ready", view.Cards.State)
	require.EqualValues(t, 2, view.Cards.Total)
	require.Equal(t, "ok", view.Cards.Summary["state"])
	require.Len(t, view.Panels, len(srv.panels))
	for _, p := range view.Panels {
		require.Equal(t, "ready", p.Widget.State)
	}
}

func TestIndexShowsFailures(t *testing.T) {
	store := fixture()
	store.FailWith(&query.ConnectionError{Op: "search", Err: errors.New("connection refused")})
	srv, _ := newTestServer(store)

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Statistics unavailable")
	require.Contains(t, body, "Filter options unavailable")
	require.Contains(t, body, "Could not load chart")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(fixture())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
