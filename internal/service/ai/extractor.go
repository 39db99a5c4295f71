package ai

import (
	"fmt"

	"gocv.io/x/gocv"

	"analyticsengine/internal/model"
	"analyticsengine/internal/service/detection"
)

// CropExtractor cuts the detected region out of the frame as a JPEG.
// Plate text and face embeddings are left empty; those models are not
// part of the engine.
type CropExtractor struct{}

func (CropExtractor) Extract(kind model.Kind, bbox model.BBox, frame model.Frame) (model.Payload, error) {
	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return model.Payload{}, fmt.Errorf("%w: failed to decode frame: %v", detection.ErrExtraction, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return model.Payload{}, fmt.Errorf("%w: decoded frame is empty", detection.ErrExtraction)
	}

	clamped := bbox.Clamp(mat.Cols(), mat.Rows())
	if !clamped.Valid() {
		return model.Payload{}, fmt.Errorf("%w: box %s is outside the %dx%d frame", detection.ErrExtraction, bbox, mat.Cols(), mat.Rows())
	}

	region := mat.Region(clamped.Rect())
	defer region.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, region)
	if err != nil {
		return model.Payload{}, fmt.Errorf("%w: failed to encode crop: %v", detection.ErrExtraction, err)
	}
	defer buf.Close()

	crop := make([]byte, buf.Len())
	copy(crop, buf.GetBytes())

	return model.Payload{Crop: crop}, nil
}

var _ detection.Extractor = CropExtractor{}
