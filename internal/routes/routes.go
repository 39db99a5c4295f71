package routes

import (
	"net/http"

	"analyticsengine/internal/config"
	"analyticsengine/internal/handler"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/middleware"
	live "analyticsengine/internal/service/websocket"
)

// SetupRoutes registers the viewer websocket, health and operator endpoints.
// Operator endpoints sit behind API_TOKEN when one is configured.
func SetupRoutes(provider handler.StatusProvider, hub *live.HubService, metrics *metrics.Metrics, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Live viewers
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, cfg.SendTimeout, logger))

	// Probes
	mux.HandleFunc("GET /healthz", handler.HealthHandler(provider))
	mux.Handle("GET /metrics", metrics.Handler())

	// Operator endpoints
	mux.Handle("GET /api/cameras", middleware.TokenAuth(cfg.APIToken, handler.CamerasHandler(provider, logger)))
	mux.Handle("GET /logs/{level}", middleware.TokenAuth(cfg.APIToken, handler.LogsHandler(cfg.LogDirectory)))

	return mux
}
