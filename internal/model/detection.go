package model

import (
	"fmt"
	"image"
	"time"
)

// Kind identifies which detector produced a Detection.
type Kind string

const (
	KindPlate Kind = "license_plate"
	KindFace  Kind = "face"
)

func (k Kind) String() string {
	return string(k)
}

// BBox is a pixel-space bounding box, [X1,Y1] top-left and [X2,Y2] bottom-right.
type BBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

func (b BBox) Area() int {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Clamp limits the box to a width x height image.
func (b BBox) Clamp(width, height int) BBox {
	return BBox{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func (b BBox) IoU(other BBox) float64 {
	inter := BBox{
		X1: max(b.X1, other.X1),
		Y1: max(b.Y1, other.Y1),
		X2: min(b.X2, other.X2),
		Y2: min(b.Y2, other.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func (b BBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Payload holds the kind-specific fields of a Detection. A non-empty Error
// marks a payload degraded by a failed extraction.
type Payload struct {
	PlateText string
	Crop      []byte
	Embedding []float32
	Error     string
}

// Degraded reports whether extraction failed for this payload.
func (p Payload) Degraded() bool {
	return p.Error != ""
}

// Detection is one object found in one frame.
type Detection struct {
	Kind       Kind
	BBox       BBox
	Confidence float64
	Payload    Payload
	TrackingID string
}

// DetectionEvent is every detection found in one processed frame. It is the
// unit of publication for both the bus and the live viewers.
type DetectionEvent struct {
	CameraID   string
	Timestamp  time.Time
	Detections []Detection
}

// NewEvent builds an event; a nil detection list becomes an empty one so
// heartbeat events serialize as "detections": [].
func NewEvent(cameraID string, ts time.Time, detections []Detection) DetectionEvent {
	if detections == nil {
		detections = []Detection{}
	}
	return DetectionEvent{
		CameraID:   cameraID,
		Timestamp:  ts,
		Detections: detections,
	}
}
