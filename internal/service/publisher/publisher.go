package publisher

import (
	"context"
	"errors"
	"fmt"

	"analyticsengine/internal/dto"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
)

// ErrPublish wraps every failure to hand an event to the bus.
var ErrPublish = errors.New("publish failed")

// Bus is a durable, at-least-once topic transport. Retries and backoff, if
// any, live inside the Bus implementation.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Publisher sends one DetectionEvent per processed frame to a bus topic.
type Publisher struct {
	bus     Bus
	topic   string
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func New(bus Bus, topic string, logger *logger.Logger, metrics *metrics.Metrics) *Publisher {
	return &Publisher{
		bus:     bus,
		topic:   topic,
		logger:  logger,
		metrics: metrics,
	}
}

// Publish serializes the event and hands it to the bus once. Errors wrap
// ErrPublish; callers log them and keep processing frames.
func (p *Publisher) Publish(ctx context.Context, event model.DetectionEvent) error {
	payload, err := dto.MarshalEvent(event)
	if err != nil {
		p.metrics.PublishErrors.WithLabelValues(event.CameraID).Inc()
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	if err := p.bus.Publish(ctx, p.topic, payload); err != nil {
		p.metrics.PublishErrors.WithLabelValues(event.CameraID).Inc()
		return fmt.Errorf("%w: camera %s topic %s: %v", ErrPublish, event.CameraID, p.topic, err)
	}

	p.metrics.EventsPublished.WithLabelValues(event.CameraID).Inc()
	p.logger.Debug("Camera %s: published %d detection(s) to %s", event.CameraID, len(event.Detections), p.topic)
	return nil
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Close closes the underlying bus.
func (p *Publisher) Close() error {
	return p.bus.Close()
}
