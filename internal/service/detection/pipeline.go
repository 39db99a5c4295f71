package detection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
)

// ErrExtraction marks a payload that could not be extracted. The detection
// is still emitted, with its payload degraded.
var ErrExtraction = errors.New("payload extraction failed")

const (
	DefaultPlateThreshold = 0.7
	DefaultFaceThreshold  = 0.6
)

// Box is one raw detector hit.
type Box struct {
	BBox       model.BBox
	Confidence float64
}

// Detector finds objects of one kind. It must drop every box scoring below
// the threshold it is given.
type Detector interface {
	Kind() model.Kind
	Threshold() float64
	Detect(ctx context.Context, frame model.Frame, threshold float64) ([]Box, error)
}

// Extractor builds the kind-specific payload for one accepted box.
type Extractor interface {
	Extract(kind model.Kind, bbox model.BBox, frame model.Frame) (model.Payload, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(kind model.Kind, bbox model.BBox, frame model.Frame) (model.Payload, error)

func (f ExtractorFunc) Extract(kind model.Kind, bbox model.BBox, frame model.Frame) (model.Payload, error) {
	return f(kind, bbox, frame)
}

// NopExtractor returns empty payloads.
var NopExtractor = ExtractorFunc(func(model.Kind, model.BBox, model.Frame) (model.Payload, error) {
	return model.Payload{}, nil
})

// Pipeline turns a frame into detections using a fixed set of detectors.
// It keeps no state between frames and is safe for concurrent use as long
// as its detectors and extractor are.
type Pipeline struct {
	detectors []Detector
	extractor Extractor
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewPipeline(detectors []Detector, extractor Extractor, logger *logger.Logger, metrics *metrics.Metrics) *Pipeline {
	if extractor == nil {
		extractor = NopExtractor
	}
	return &Pipeline{
		detectors: detectors,
		extractor: extractor,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run invokes every detector on the frame. Detections come back in
// insertion order with no tracking id. A failing detector only loses its own
// detections; its error is combined into the returned error.
func (p *Pipeline) Run(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	detections := []model.Detection{}
	var errs error

	for _, d := range p.detectors {
		if err := ctx.Err(); err != nil {
			return detections, multierr.Append(errs, err)
		}

		kind := d.Kind()
		boxes, err := d.Detect(ctx, frame, d.Threshold())
		if err != nil {
			p.metrics.DetectorErrors.WithLabelValues(kind.String()).Inc()
			errs = multierr.Append(errs, fmt.Errorf("%s detector: %w", kind, err))
			continue
		}

		for _, box := range boxes {
			detections = append(detections, model.Detection{
				Kind:       kind,
				BBox:       box.BBox,
				Confidence: box.Confidence,
				Payload:    p.extract(kind, box.BBox, frame),
			})
		}
	}

	return detections, errs
}

func (p *Pipeline) extract(kind model.Kind, bbox model.BBox, frame model.Frame) (payload model.Payload) {
	defer func() {
		if r := recover(); r != nil {
			payload = p.degraded(kind, bbox, frame, fmt.Errorf("%w: extractor panicked: %v", ErrExtraction, r))
		}
	}()

	payload, err := p.extractor.Extract(kind, bbox, frame)
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		return p.degraded(kind, bbox, frame, err)
	}
	return payload
}

func (p *Pipeline) degraded(kind model.Kind, bbox model.BBox, frame model.Frame, err error) model.Payload {
	p.metrics.ExtractionErrors.WithLabelValues(kind.String()).Inc()
	p.logger.Warning("Camera %s: %s payload for %s degraded: %v", frame.CameraID, kind, bbox, err)
	return model.Payload{Error: err.Error()}
}
