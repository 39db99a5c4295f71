package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"analyticsengine/internal/config"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/routes"
	"analyticsengine/internal/service"
	"analyticsengine/internal/service/ai"
	"analyticsengine/internal/service/camera"
	"analyticsengine/internal/service/detection"
	"analyticsengine/internal/service/publisher"
	"analyticsengine/internal/service/source"
	"analyticsengine/internal/service/tracking"
	live "analyticsengine/internal/service/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	detectors  []*ai.NetDetector
	publisher  *publisher.Publisher
	hubService *live.HubService
	supervisor *service.Supervisor
}

// NewApp wires the engine from configuration. A detector whose model cannot
// be loaded is skipped with a warning; a bus that cannot be created is fatal.
func NewApp(cfg *config.Config) (*App, error) {
	log := logger.NewLogger(cfg)
	m := metrics.New()

	bus, err := newBus(cfg, log)
	if err != nil {
		return nil, err
	}
	pub := publisher.New(bus, cfg.MQTTTopic, log, m)

	netDetectors := loadDetectors(cfg, log)
	detectors := make([]detection.Detector, 0, len(netDetectors))
	for _, d := range netDetectors {
		detectors = append(detectors, d)
	}
	if len(detectors) == 0 {
		log.Warning("No detection networks loaded, events will carry no detections")
	}
	pipeline := detection.NewPipeline(detectors, ai.CropExtractor{}, log, m)

	hub := live.NewHubService(log, m)

	sup := service.NewSupervisor(service.SupervisorOptions{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Source: source.Options{
			TargetFPS:           cfg.TargetFPS,
			Cooldown:            cfg.FrameCooldown,
			MaxConsecutiveDrops: cfg.MaxConsecutiveDrops,
			MaxReconnects:       cfg.MaxReconnects,
			ReconnectDelay:      cfg.ReconnectDelay,
			MaxReconnectDelay:   cfg.MaxReconnectDelay,
		},
		Tracking: tracking.Options{
			Capacity: cfg.TrackerCapacity,
			MinIoU:   cfg.TrackerMinIoU,
		},
	}, camera.Open, pipeline, pub, hub, log, m)
	sup.Handle(routes.SetupRoutes(sup, hub, m, cfg, log))

	return &App{
		config:     cfg,
		logger:     log,
		metrics:    m,
		detectors:  netDetectors,
		publisher:  pub,
		hubService: hub,
		supervisor: sup,
	}, nil
}

func newBus(cfg *config.Config, log *logger.Logger) (publisher.Bus, error) {
	switch cfg.BusDriver {
	case "sqlite":
		bus, err := publisher.NewSQLiteBus(cfg.BusSQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("Publishing to SQLite bus at %s", cfg.BusSQLitePath)
		return bus, nil
	default:
		return publisher.NewMQTTBus(publisher.MQTTOptions{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			QoS:            byte(cfg.MQTTQoS),
			PublishTimeout: cfg.MQTTPublishTimeout,
		}, log)
	}
}

func loadDetectors(cfg *config.Config, log *logger.Logger) []*ai.NetDetector {
	options := []ai.NetOptions{
		ai.PlateNetOptions(cfg.PlateModelPath, cfg.PlateConfigPath, cfg.PlateThreshold),
		ai.FaceNetOptions(cfg.FaceModelPath, cfg.FaceConfigPath, cfg.FaceThreshold),
	}

	detectors := make([]*ai.NetDetector, 0, len(options))
	for _, opts := range options {
		d, err := ai.NewNetDetector(opts, log)
		if err != nil {
			log.Warning("Could not initialize %s detection network: %v", opts.Kind, err)
			continue
		}
		detectors = append(detectors, d)
	}
	return detectors
}

// Run blocks until every camera has ended or ctx is cancelled, then
// releases the bus and the networks.
func (a *App) Run(ctx context.Context) (err error) {
	a.logger.Info("🚀 Analytics engine starting")
	a.logger.Info("📍 Viewers: ws://localhost:%d/api/view", a.config.Port)
	a.logger.Info("📨 Bus: %s (topic %s)", a.config.BusDriver, a.publisher.Topic())

	defer func() {
		err = multierr.Append(err, a.close())
	}()
	return a.supervisor.Run(ctx, a.config.Cameras)
}

func (a *App) close() error {
	var errs error
	for _, d := range a.detectors {
		errs = multierr.Append(errs, d.Close())
	}
	return multierr.Append(errs, a.publisher.Close())
}
