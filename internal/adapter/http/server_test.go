package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/dwd-ingest/internal/adapter/http"
	"github.com/couchcryptid/dwd-ingest/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockStatus struct {
	status pipeline.Status
}

func (m *mockStatus) Status() pipeline.Status { return m.status }

func newTestServer(readyErr error) *httpadapter.Server {
	status := &mockStatus{status: pipeline.Status{
		RunID:         "6f1c",
		Running:       true,
		TargetsDone:   2,
		TargetsFailed: 1,
		RecordsLoaded: 240,
		LastTarget:    "MOSMIX_S_LATEST_240.kmz",
	}}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, status, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("pipeline has not loaded any input yet")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "6f1c", body["run_id"])
	assert.Equal(t, true, body["running"])
	assert.Equal(t, 240.0, body["records_loaded"])
	assert.Equal(t, "MOSMIX_S_LATEST_240.kmz", body["last_target"])
	assert.NotContains(t, body, "started_at")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnknownMethod(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
