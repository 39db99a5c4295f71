package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticsengine/internal/logger"
	"analyticsengine/internal/model"
)

type staticStatus struct {
	running int
	cameras []model.CameraStatus
}

func (s staticStatus) Running() int                 { return s.running }
func (s staticStatus) Status() []model.CameraStatus { return s.cameras }

func TestHealthHandler(t *testing.T) {
	cameras := []model.CameraStatus{{ID: "gate", State: "streaming", Running: true}, {ID: "dock", State: "failed"}}

	tests := []struct {
		name     string
		running  int
		wantCode int
		wantBody string
	}{
		{"one camera running", 1, http.StatusOK, "ok"},
		{"no camera running", 0, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthHandler(staticStatus{running: tt.running, cameras: cameras})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, tt.running, body.Running)
			assert.Equal(t, 2, body.Cameras)
		})
	}
}

func TestCamerasHandler(t *testing.T) {
	last := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	provider := staticStatus{cameras: []model.CameraStatus{
		{ID: "gate", State: "streaming", Running: true, Frames: 12, Events: 12, LastEvent: &last},
		{ID: "dock", State: "failed"},
	}}

	rec := httptest.NewRecorder()
	CamerasHandler(provider, logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/api/cameras", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "gate", got[0]["id"])
	assert.Equal(t, "2026-03-04T05:06:07Z", got[0]["last_event"])
	assert.Equal(t, "failed", got[1]["state"])
	assert.NotContains(t, got[1], "last_event")
}

func TestLogsHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warning.log"), []byte("camera gate: frame dropped\n"), 0o644))

	mux := http.NewServeMux()
	mux.Handle("GET /logs/{level}", LogsHandler(dir))

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/logs/warning", http.StatusOK, "camera gate: frame dropped"},
		{"/logs/error", http.StatusNotFound, "Log file not found: error.log"},
		{"/logs/verbose", http.StatusNotFound, "Unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestLogsHandler_FileLoggingDisabled(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /logs/{level}", LogsHandler(""))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
