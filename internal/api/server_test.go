package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress/sinks"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, Config{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := newTestServer(t, Config{Ready: func(context.Context) error { return nil }})
	require.Equal(t, http.StatusOK, do(t, ready, "/readyz").Code)

	notReady := newTestServer(t, Config{Ready: func(context.Context) error { return errors.New("session pool closed") }})
	rec := do(t, notReady, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "session pool closed")
}

func TestServer_LatestBatch(t *testing.T) {
	t.Parallel()

	status := sinks.NewStatusSink()
	s := newTestServer(t, Config{Status: status})

	require.Equal(t, http.StatusNotFound, do(t, s, "/v1/batches/latest").Code)

	id := uuid.New()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, status.Consume(context.Background(), []progress.Event{
		{BatchID: id, TS: now, Stage: progress.StageBatchStart, URL: "https://cars.example/search", Listings: 2},
		{BatchID: id, TS: now, Stage: progress.StageListingStart, URL: "https://cars.example/a"},
		{BatchID: id, TS: now, Stage: progress.StageListingDone, URL: "https://cars.example/a"},
		{BatchID: id, TS: now, Stage: progress.StageListingStart, URL: "https://cars.example/b"},
		{BatchID: id, TS: now, Stage: progress.StageListingFailed, URL: "https://cars.example/b", Kind: "missing_field"},
	}))

	rec := do(t, s, "/v1/batches/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var got sinks.BatchStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, id.String(), got.BatchID)
	require.Equal(t, sinks.BatchRunning, got.State)
	require.Equal(t, 2, got.Listings)
	require.Equal(t, 1, got.Succeeded)
	require.Equal(t, 1, got.Failed)
	require.Len(t, got.Failures, 1)
	require.Equal(t, "missing_field", got.Failures[0].Kind)
}

func TestServer_LatestBatchWithoutSource(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, Config{}), "/v1/batches/latest")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(t, Config{Registry: reg})

	require.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	rec := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `scraper_http_requests_total{code="200",method="GET",route="/healthz"} 1`), body)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_KeepsIncomingRequestID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestNewServerReusesCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewServer(Config{Registry: reg})
	require.NoError(t, err)
	_, err = NewServer(Config{Registry: reg})
	require.NoError(t, err)
}
