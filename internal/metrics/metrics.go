package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts the soft failures the engine logs and moves past, so they
// stay observable.
type Metrics struct {
	registry *prometheus.Registry

	EventsPublished   *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	BroadcastFailures prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	ExtractionErrors  *prometheus.CounterVec
	DetectorErrors    *prometheus.CounterVec
	CamerasRunning    prometheus.Gauge
	ViewersConnected  prometheus.Gauge
}

// New creates the engine metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_events_published_total",
			Help: "Detection events accepted by the bus.",
		}, []string{"camera"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_publish_errors_total",
			Help: "Detection events the bus rejected.",
		}, []string{"camera"}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_broadcast_failures_total",
			Help: "Live viewer sends that failed and removed the viewer.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_frames_dropped_total",
			Help: "Transient frame read failures.",
		}, []string{"camera"}),
		ExtractionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_extraction_errors_total",
			Help: "Detections emitted with a degraded payload.",
		}, []string{"kind"}),
		DetectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_detector_errors_total",
			Help: "Detector invocations that failed.",
		}, []string{"kind"}),
		CamerasRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_cameras_running",
			Help: "Camera tasks currently running.",
		}),
		ViewersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_viewers_connected",
			Help: "Live viewers currently registered.",
		}),
	}

	m.registry.MustRegister(
		m.EventsPublished,
		m.PublishErrors,
		m.BroadcastFailures,
		m.FramesDropped,
		m.ExtractionErrors,
		m.DetectorErrors,
		m.CamerasRunning,
		m.ViewersConnected,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
