package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"analyticsengine/internal/config"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
	live "analyticsengine/internal/service/websocket"
)

type oneCamera struct{ running int }

func (o oneCamera) Running() int { return o.running }
func (o oneCamera) Status() []model.CameraStatus {
	return []model.CameraStatus{{ID: "gate", State: "streaming", Running: o.running > 0}}
}

func TestSetupRoutes(t *testing.T) {
	m := metrics.New()
	hub := live.NewHubService(logger.Discard(), m)
	cfg := &config.Config{APIToken: "s3cret"}
	router := SetupRoutes(oneCamera{running: 1}, hub, m, cfg, logger.Discard())

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is open", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics are open", http.MethodGet, "/metrics", "", http.StatusOK},
		{"cameras need token", http.MethodGet, "/api/cameras", "", http.StatusUnauthorized},
		{"cameras with token", http.MethodGet, "/api/cameras", "s3cret", http.StatusOK},
		{"health rejects POST", http.MethodPost, "/healthz", "", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/gallery", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSetupRoutes_MetricsExposeEngineSeries(t *testing.T) {
	m := metrics.New()
	m.CamerasRunning.Set(2)
	router := SetupRoutes(oneCamera{}, live.NewHubService(logger.Discard(), m), m, &config.Config{}, logger.Discard())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "engine_cameras_running 2")
}
