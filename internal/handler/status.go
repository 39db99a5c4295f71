package handler

import (
	"encoding/json"
	"net/http"

	"analyticsengine/internal/logger"
	"analyticsengine/internal/model"
)

// StatusProvider reports what the camera tasks are doing.
type StatusProvider interface {
	Running() int
	Status() []model.CameraStatus
}

type healthResponse struct {
	Status  string `json:"status"`
	Running int    `json:"running"`
	Cameras int    `json:"cameras"`
}

// HealthHandler answers 200 while at least one camera task is running and
// 503 otherwise.
func HealthHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		running := provider.Running()
		response := healthResponse{
			Status:  "ok",
			Running: running,
			Cameras: len(provider.Status()),
		}

		code := http.StatusOK
		if running == 0 {
			response.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}

// CamerasHandler lists every configured camera with its current state.
func CamerasHandler(provider StatusProvider, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Status()); err != nil {
			logger.Error("Failed to encode camera status: %v", err)
		}
	}
}
