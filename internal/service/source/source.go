package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
)

var (
	// ErrSourceUnavailable means the stream could not be opened. Terminal for the camera.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrFrameDropped means one read failed; the caller cools down and retries.
	ErrFrameDropped = errors.New("frame dropped")
	// ErrSourceClosed means the stream ended for good.
	ErrSourceClosed = errors.New("source closed")
)

// Capture is an opened video stream. Implementations report transient read
// failures with ErrFrameDropped and end-of-stream with ErrSourceClosed.
type Capture interface {
	Read(ctx context.Context) (model.Frame, error)
	Close() error
}

// Opener opens the stream behind uri for one camera.
type Opener func(ctx context.Context, cameraID, uri string) (Capture, error)

// Options controls cadence, cooldown and reconnect behaviour of a Source.
type Options struct {
	TargetFPS           float64
	Cooldown            time.Duration
	MaxConsecutiveDrops int // 0 disables reconnecting
	MaxReconnects       int
	ReconnectDelay      time.Duration
	MaxReconnectDelay   time.Duration
}

func DefaultOptions() Options {
	return Options{
		TargetFPS:           30,
		Cooldown:            time.Second,
		MaxConsecutiveDrops: 10,
		MaxReconnects:       5,
		ReconnectDelay:      time.Second,
		MaxReconnectDelay:   30 * time.Second,
	}
}

// Source produces frames from one camera and hides transient capture
// failures from the rest of the pipeline. A Source is owned by a single
// camera task; only State may be called from elsewhere.
type Source struct {
	cameraID string
	uri      string
	open     Opener
	opts     Options
	limiter  *rate.Limiter
	logger   *logger.Logger
	metrics  *metrics.Metrics

	state     atomic.Int32
	capture   Capture
	drops     int
	seq       uint64
	closeOnce sync.Once
}

func New(cameraID, uri string, open Opener, opts Options, logger *logger.Logger, metrics *metrics.Metrics) *Source {
	limit := rate.Inf
	if opts.TargetFPS > 0 {
		limit = rate.Limit(opts.TargetFPS)
	}

	s := &Source{
		cameraID: cameraID,
		uri:      uri,
		open:     open,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		metrics:  metrics,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Source) CameraID() string { return s.cameraID }

// State is safe to call from any goroutine.
func (s *Source) State() State {
	return State(s.state.Load())
}

func (s *Source) setState(state State) {
	if old := State(s.state.Swap(int32(state))); old != state {
		s.logger.Debug("camera %s: %s -> %s", s.cameraID, old, state)
	}
}

// Open connects to the stream. Failure is terminal: the source moves to
// Failed and the error wraps ErrSourceUnavailable.
func (s *Source) Open(ctx context.Context) error {
	s.setState(StateConnecting)

	capture, err := s.openCapture(ctx)
	if err != nil {
		s.setState(StateFailed)
		if !errors.Is(err, ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return fmt.Errorf("camera %s: %w", s.cameraID, err)
	}

	s.capture = capture
	s.drops = 0
	s.setState(StateStreaming)
	s.logger.Info("📹 Camera %s: stream opened", s.cameraID)
	return nil
}

// Next waits for the cadence limiter and reads one frame.
func (s *Source) Next(ctx context.Context) (model.Frame, error) {
	if s.capture == nil {
		return model.Frame{}, fmt.Errorf("camera %s: %w", s.cameraID, ErrSourceClosed)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return model.Frame{}, ctx.Err()
		}
		return model.Frame{}, err
	}

	frame, err := s.read(ctx)
	switch {
	case err == nil:
		s.drops = 0
		s.seq++
		s.setState(StateStreaming)

		frame.Seq = s.seq
		if frame.CameraID == "" {
			frame.CameraID = s.cameraID
		}
		if frame.Captured.IsZero() {
			frame.Captured = time.Now()
		}
		return frame, nil

	case errors.Is(err, ErrFrameDropped):
		s.drops++
		s.setState(StateRecovering)
		s.metrics.FramesDropped.WithLabelValues(s.cameraID).Inc()
		return model.Frame{}, fmt.Errorf("camera %s: %w", s.cameraID, err)

	case ctx.Err() != nil:
		return model.Frame{}, ctx.Err()

	case errors.Is(err, ErrSourceClosed):
		return model.Frame{}, fmt.Errorf("camera %s: %w", s.cameraID, err)

	default:
		return model.Frame{}, fmt.Errorf("camera %s: %w: %v", s.cameraID, ErrSourceClosed, err)
	}
}

// Stream reads frames in capture order and hands each to fn until the
// stream ends or ctx is cancelled. Dropped frames are retried after the
// cooldown; a run of drops triggers a reconnect. The returned error is
// ctx.Err() on cancellation and wraps ErrSourceClosed otherwise.
func (s *Source) Stream(ctx context.Context, fn func(model.Frame)) error {
	for {
		frame, err := s.Next(ctx)
		switch {
		case err == nil:
			fn(frame)

		case errors.Is(err, ErrFrameDropped):
			if s.opts.MaxConsecutiveDrops > 0 && s.drops >= s.opts.MaxConsecutiveDrops {
				s.logger.Warning("Camera %s: %d consecutive dropped frames, reconnecting", s.cameraID, s.drops)
				if err := s.reconnect(ctx); err != nil {
					return err
				}
				continue
			}

			s.logger.Debug("Camera %s: frame dropped, retrying in %v", s.cameraID, s.opts.Cooldown)
			if err := sleep(ctx, s.opts.Cooldown); err != nil {
				return err
			}

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			s.logger.Error("Camera %s: stream ended: %v", s.cameraID, err)
			return err
		}
	}
}

// reconnect reopens the capture with exponential backoff between attempts.
func (s *Source) reconnect(ctx context.Context) error {
	s.closeCapture()

	for attempt := 1; attempt <= s.opts.MaxReconnects; attempt++ {
		capture, err := s.openCapture(ctx)
		if err == nil {
			s.capture = capture
			s.drops = 0
			s.setState(StateStreaming)
			s.logger.Info("📹 Camera %s: reconnected after %d attempt(s)", s.cameraID, attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff(attempt, s.opts.ReconnectDelay, s.opts.MaxReconnectDelay)
		s.logger.Warning("Camera %s: reconnect attempt %d/%d failed: %v (next in %v)",
			s.cameraID, attempt, s.opts.MaxReconnects, err, delay)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("camera %s: %w: gave up after %d reconnect attempts", s.cameraID, ErrSourceClosed, s.opts.MaxReconnects)
}

// Close releases the capture. It is safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.closeCapture()
		if s.State() != StateFailed {
			s.setState(StateClosed)
		}
	})
	return err
}

func (s *Source) closeCapture() (err error) {
	if s.capture == nil {
		return nil
	}
	capture := s.capture
	s.capture = nil

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("camera %s: capture close panicked: %v", s.cameraID, r)
		}
	}()
	return capture.Close()
}

func (s *Source) openCapture(ctx context.Context) (capture Capture, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("opener panicked: %v", r)
		}
	}()
	return s.open(ctx, s.cameraID, s.uri)
}

func (s *Source) read(ctx context.Context) (frame model.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: capture panicked: %v", ErrSourceClosed, r)
		}
	}()
	return s.capture.Read(ctx)
}

// backoff returns base * 2^(attempt-1), capped at limit.
func backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		attempt = 31
	}
	delay := base * time.Duration(1<<uint(attempt-1))
	if limit > 0 && (delay > limit || delay <= 0) {
		delay = limit
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
