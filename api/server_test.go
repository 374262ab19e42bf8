package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/logger"
	"github.com/DeafMist/insight-dashboard/internal/memstore"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

func testRecords() []models.Record {
	return []models.Record{
		{EndYear: "2020", Topic: "GMO crops", Sector: "Agriculture", Region: "Asia", Country: "India", Intensity: 6, Likelihood: 3, Relevance: 2},
		{EndYear: "2021", Topic: "gmo trade", Sector: "Agriculture", Region: "Europe", Country: "France", Intensity: 4, Likelihood: 2, Relevance: 4},
		{EndYear: "2020", Topic: "oil", Sector: "Energy", Region: "Asia", Country: "India", Intensity: 8, Likelihood: 4, Relevance: 3},
	}
}

func newTestServer(t *testing.T, store *memstore.Store) http.Handler {
	t.Helper()
	srv := &server{
		log: logger.Discard(),
		cfg: &config.API{
			DefaultLimit:   1000,
			MaxLimit:       2,
			MaxSkip:        10,
			RequestTimeout: time.Second,
		},
		svc:    insights.NewService(store, nil),
		health: store,
	}
	return srv.routes()
}

func get(t *testing.T, h http.Handler, target string) (int, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHandleDataFiltersAndPages(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	code, body := get(t, h, "/data?topic=GMO&limit=1")
	require.Equal(t, http.StatusOK, code)
	require.True(t, decode[bool](t, body["success"]))
	require.EqualValues(t, 2, decode[int64](t, body["total"]))
	require.Equal(t, 1, decode[int](t, body["limit"]))
	require.Equal(t, 0, decode[int](t, body["skip"]))

	records := decode[[]models.Record](t, body["data"])
	require.Len(t, records, 1)
	require.Equal(t, "GMO crops", records[0].Topic)
	require.NotEmpty(t, records[0].ID)
}

func TestHandleDataExactYear(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	_, body := get(t, h, "/data?end_year=2020&topic=all")
	require.EqualValues(t, 2, decode[int64](t, body["total"]))
	for _, rec := range decode[[]models.Record](t, body["data"]) {
		require.Equal(t, "2020", rec.EndYear)
	}

	_, body = get(t, h, "/data?end_year=202")
	require.EqualValues(t, 0, decode[int64](t, body["total"]))
	require.Equal(t, "[]", string(body["data"]))
}

func TestHandleDataClampsPaging(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	tests := []struct {
		query     string
		wantLimit int
		wantSkip  int
	}{
		{query: "", wantLimit: 1000, wantSkip: 0},
		{query: "limit=abc&skip=x", wantLimit: 1000, wantSkip: 0},
		{query: "limit=0&skip=-3", wantLimit: 1000, wantSkip: 0},
		{query: "limit=50&skip=50", wantLimit: 2, wantSkip: 10},
		{query: "limit=1&skip=1", wantLimit: 1, wantSkip: 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			code, body := get(t, h, "/data?"+tt.query)
			require.Equal(t, http.StatusOK, code)
			require.Equal(t, tt.wantLimit, decode[int](t, body["limit"]))
			require.Equal(t, tt.wantSkip, decode[int](t, body["skip"]))
			require.EqualValues(t, 3, decode[int64](t, body["total"]))
		})
	}
}

func TestHandleFilters(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	code, body := get(t, h, "/filters")
	require.Equal(t, http.StatusOK, code)
	require.True(t, decode[bool](t, body["success"]))

	opts := decode[map[string][]string](t, body["filters"])
	require.Equal(t, []string{"2020", "2021"}, opts["endYears"])
	require.Equal(t, []string{"France", "India"}, opts["countries"])
	require.NotNil(t, opts["cities"])
	require.Empty(t, opts["cities"])
	require.Len(t, opts, 9)
}

func TestHandleStats(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	code, body := get(t, h, "/stats?region=asia")
	require.Equal(t, http.StatusOK, code)

	summary := decode[query.Summary](t, body["stats"])
	require.True(t, summary.HasData())
	require.EqualValues(t, 2, summary.Count)
	intensity, ok := summary.Mean(query.Intensity)
	require.True(t, ok)
	require.InDelta(t, 7.0, intensity, 1e-9)

	dists := decode[map[string]insights.Distribution](t, body["distributions"])
	require.Len(t, dists, 5)
	require.Equal(t, []query.Bucket{{Key: "India", Count: 2, Average: 2.5}}, dists["countries"].Buckets)
}

func TestHandleStatsNoData(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	code, body := get(t, h, "/stats?country=atlantis")
	require.Equal(t, http.StatusOK, code)

	stats := decode[map[string]any](t, body["stats"])
	require.Equal(t, "no_data", stats["state"])
	require.NotContains(t, stats, "avgIntensity")
}

func TestStoreFailureReturnsEnvelope(t *testing.T) {
	store := memstore.New(testRecords()...)
	store.FailWith(&query.ConnectionError{Op: "search", Err: errors.New("connection refused")})
	h := newTestServer(t, store)

	for _, target := range []string{"/data", "/filters", "/stats"} {
		code, body := get(t, h, target)
		require.Equal(t, http.StatusInternalServerError, code, target)
		require.False(t, decode[bool](t, body["success"]), target)
		require.Contains(t, decode[string](t, body["error"]), "connection refused", target)
	}

	code, _ := get(t, h, "/health")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHandleDiagnostics(t *testing.T) {
	h := newTestServer(t, memstore.New(testRecords()...))

	code, body := get(t, h, "/diagnostics")
	require.Equal(t, http.StatusOK, code)
	require.True(t, decode[bool](t, body["success"]))
	require.Equal(t, "connected", decode[insights.ConnectionInfo](t, body["connection"]).Status)
	require.EqualValues(t, 3, decode[insights.CollectionInfo](t, body["collection"]).Count)
	require.NotContains(t, body, "error")

	code, body = get(t, newTestServer(t, memstore.New()), "/diagnostics")
	require.Equal(t, http.StatusInternalServerError, code)
	require.False(t, decode[bool](t, body["success"]))
	require.Contains(t, decode[string](t, body["error"]), "empty")
}

func TestHandleHealth(t *testing.T) {
	code, body := get(t, newTestServer(t, memstore.New()), "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", decode[string](t, body["status"]))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: &query.ConnectionError{Op: "search", Err: errors.New("refused")}, want: "connection"},
		{err: fmt.Errorf("fetch stats: %w", &query.QueryError{Op: "search", Err: errors.New("bad request")}), want: "query"},
		{err: fmt.Errorf("aggregate: %w", context.DeadlineExceeded), want: "timeout"},
		{err: errors.New("boom"), want: "internal"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, errorKind(tt.err), tt.err.Error())
	}
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 5, clampInt("", 5, 1, 10))
	require.Equal(t, 5, clampInt("nope", 5, 1, 10))
	require.Equal(t, 5, clampInt("0", 5, 1, 10))
	require.Equal(t, 0, clampInt("0", 7, 0, 10))
	require.Equal(t, 10, clampInt("99", 5, 1, 10))
	require.Equal(t, 3, clampInt(" 3 ", 5, 1, 10))
}
