package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"analyticsengine/internal/config"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
	"analyticsengine/internal/service/source"
	"analyticsengine/internal/service/tracking"
)

const shutdownTimeout = 5 * time.Second

// FramePipeline turns one frame into detections.
type FramePipeline interface {
	Run(ctx context.Context, frame model.Frame) ([]model.Detection, error)
}

// EventPublisher hands events to the durable bus.
type EventPublisher interface {
	Publish(ctx context.Context, event model.DetectionEvent) error
}

// Broadcaster fans events out to live viewers.
type Broadcaster interface {
	Run(ctx context.Context)
	Broadcast(ctx context.Context, event model.DetectionEvent) int
}

type SupervisorOptions struct {
	Addr     string
	Source   source.Options
	Tracking tracking.Options
}

// Supervisor runs one task per camera next to the viewer HTTP listener.
// Cameras are isolated from each other: a camera that fails to open or
// panics ends only its own task.
type Supervisor struct {
	opts      SupervisorOptions
	open      source.Opener
	pipeline  FramePipeline
	publisher EventPublisher
	hub       Broadcaster
	handler   http.Handler
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mutex   sync.RWMutex
	tasks   []*cameraTask
	running atomic.Int32
	addr    chan net.Addr
}

type cameraTask struct {
	id        string
	source    *source.Source
	running   atomic.Bool
	frames    atomic.Uint64
	events    atomic.Uint64
	lastEvent atomic.Int64
}

func NewSupervisor(opts SupervisorOptions, open source.Opener, pipeline FramePipeline, publisher EventPublisher, hub Broadcaster, logger *logger.Logger, metrics *metrics.Metrics) *Supervisor {
	return &Supervisor{
		opts:      opts,
		open:      open,
		pipeline:  pipeline,
		publisher: publisher,
		hub:       hub,
		handler:   http.NotFoundHandler(),
		logger:    logger,
		metrics:   metrics,
		addr:      make(chan net.Addr, 1),
	}
}

// Handle sets the handler served on the viewer listener. Call it before Run.
func (s *Supervisor) Handle(handler http.Handler) {
	s.handler = handler
}

// Addr returns the bound listener address once Run has bound it.
func (s *Supervisor) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case addr := <-s.addr:
		s.addr <- addr
		return addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run binds the viewer listener, then streams every camera until all of
// them have ended or ctx is cancelled. Only a bind or serve failure is
// returned; camera failures are logged and stay local to their camera.
func (s *Supervisor) Run(ctx context.Context, cameras []config.Camera) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind viewer listener on %s: %w", s.opts.Addr, err)
	}
	s.addr <- listener.Addr()

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tasks := make([]*cameraTask, 0, len(cameras))
	for _, cam := range cameras {
		tasks = append(tasks, &cameraTask{
			id:     cam.ID,
			source: source.New(cam.ID, cam.URI, s.open, s.opts.Source, s.logger, s.metrics),
		})
	}
	s.mutex.Lock()
	s.tasks = tasks
	s.mutex.Unlock()

	if len(tasks) == 0 {
		s.logger.Warning("No cameras configured")
	}
	s.logger.Info("🚀 Analytics engine listening on %s with %d camera(s)", listener.Addr(), len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	hubCtx, stopHub := context.WithCancel(gctx)
	defer stopHub()

	g.Go(func() error {
		s.hub.Run(hubCtx)
		return nil
	})

	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("viewer listener failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var cameraGroup errgroup.Group
		for _, task := range tasks {
			cameraGroup.Go(func() error {
				s.runCamera(gctx, task)
				return nil
			})
		}
		cameraGroup.Wait()

		if ctx.Err() == nil {
			s.logger.Info("All camera tasks ended, stopping viewer listener")
		}
		stopHub()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	s.logger.Info("🛑 Supervisor stopped")
	return err
}

func (s *Supervisor) runCamera(ctx context.Context, task *cameraTask) {
	src := task.source

	if err := src.Open(ctx); err != nil {
		s.logger.Error("Camera %s unavailable: %v", task.id, err)
		return
	}
	defer src.Close()

	task.running.Store(true)
	s.running.Add(1)
	s.metrics.CamerasRunning.Inc()
	defer func() {
		task.running.Store(false)
		s.running.Add(-1)
		s.metrics.CamerasRunning.Dec()
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Camera %s task panicked and was stopped: %v", task.id, r)
		}
	}()

	tracker := tracking.NewTracker(s.opts.Tracking)
	var last time.Time

	err := src.Stream(ctx, func(frame model.Frame) {
		task.frames.Add(1)

		detections, err := s.pipeline.Run(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warning("Camera %s frame %d: %v", task.id, frame.Seq, err)
		}

		for i := range detections {
			detections[i].TrackingID = tracker.Tag(task.id, detections[i].BBox)
		}

		ts := frame.Captured
		if ts.Before(last) {
			ts = last
		}
		last = ts

		event := model.NewEvent(task.id, ts, detections)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("Camera %s: %v", task.id, err)
		}
		s.hub.Broadcast(ctx, event)

		task.events.Add(1)
		task.lastEvent.Store(ts.UnixNano())
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.Info("Camera %s stopped", task.id)
	default:
		s.logger.Warning("Camera %s ended: %v", task.id, err)
	}
}

// Running is the number of camera tasks currently streaming.
func (s *Supervisor) Running() int {
	return int(s.running.Load())
}

// Status returns a snapshot of every camera in configuration order.
func (s *Supervisor) Status() []model.CameraStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	statuses := make([]model.CameraStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		status := model.CameraStatus{
			ID:      task.id,
			State:   task.source.State().String(),
			Running: task.running.Load(),
			Frames:  task.frames.Load(),
			Events:  task.events.Load(),
		}
		if ns := task.lastEvent.Load(); ns != 0 {
			t := time.Unix(0, ns).UTC()
			status.LastEvent = &t
		}
		statuses = append(statuses, status)
	}
	return statuses
}
