package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"analyticsengine/internal/model"
)

// TimestampLayout is the ISO-8601 layout used for event timestamps on the wire.
const TimestampLayout = time.RFC3339Nano

// DetectionEventMessage is the JSON shape sent to the bus and to live viewers.
type DetectionEventMessage struct {
	CameraID   string             `json:"camera_id"`
	Timestamp  string             `json:"timestamp"`
	Detections []DetectionMessage `json:"detections"`
}

type DetectionMessage struct {
	Type       string        `json:"type"`
	Data       DetectionData `json:"data"`
	TrackingID string        `json:"tracking_id"`
}

// DetectionData carries the box, the score and whatever kind-specific
// fields the extractor produced.
type DetectionData struct {
	BBox         [4]int    `json:"bbox"`
	Confidence   float64   `json:"confidence"`
	PlateText    string    `json:"plate_text,omitempty"`
	Crop         []byte    `json:"crop,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	PayloadError string    `json:"payload_error,omitempty"`
}

// FromEvent converts a model event into its wire form.
func FromEvent(event model.DetectionEvent) DetectionEventMessage {
	msg := DetectionEventMessage{
		CameraID:   event.CameraID,
		Timestamp:  event.Timestamp.UTC().Format(TimestampLayout),
		Detections: make([]DetectionMessage, 0, len(event.Detections)),
	}
	for _, d := range event.Detections {
		msg.Detections = append(msg.Detections, DetectionMessage{
			Type: d.Kind.String(),
			Data: DetectionData{
				BBox:         [4]int{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
				Confidence:   d.Confidence,
				PlateText:    d.Payload.PlateText,
				Crop:         d.Payload.Crop,
				Embedding:    d.Payload.Embedding,
				PayloadError: d.Payload.Error,
			},
			TrackingID: d.TrackingID,
		})
	}
	return msg
}

// ToEvent converts a wire message back into a model event.
func (m DetectionEventMessage) ToEvent() (model.DetectionEvent, error) {
	ts, err := time.Parse(TimestampLayout, m.Timestamp)
	if err != nil {
		return model.DetectionEvent{}, fmt.Errorf("invalid timestamp %q: %w", m.Timestamp, err)
	}

	detections := make([]model.Detection, 0, len(m.Detections))
	for _, d := range m.Detections {
		detections = append(detections, model.Detection{
			Kind:       model.Kind(d.Type),
			BBox:       model.BBox{X1: d.Data.BBox[0], Y1: d.Data.BBox[1], X2: d.Data.BBox[2], Y2: d.Data.BBox[3]},
			Confidence: d.Data.Confidence,
			Payload: model.Payload{
				PlateText: d.Data.PlateText,
				Crop:      d.Data.Crop,
				Embedding: d.Data.Embedding,
				Error:     d.Data.PayloadError,
			},
			TrackingID: d.TrackingID,
		})
	}
	return model.NewEvent(m.CameraID, ts, detections), nil
}

// MarshalEvent serializes an event to UTF-8 JSON.
func MarshalEvent(event model.DetectionEvent) ([]byte, error) {
	data, err := json.Marshal(FromEvent(event))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event for camera %s: %w", event.CameraID, err)
	}
	return data, nil
}

// ParseEvent decodes a bus or live-push payload.
func ParseEvent(data []byte) (model.DetectionEvent, error) {
	var msg DetectionEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.DetectionEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return msg.ToEvent()
}
