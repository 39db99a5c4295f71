package ai

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"analyticsengine/internal/logger"
	"analyticsengine/internal/model"
	"analyticsengine/internal/service/detection"
)

// NetOptions describes one SSD-style network and how to feed it.
type NetOptions struct {
	Kind       model.Kind
	ModelPath  string
	ConfigPath string
	Threshold  float64
	InputSize  image.Point
	Scale      float64
	Mean       gocv.Scalar
	SwapRB     bool
	// Classes keeps only these class ids. Empty keeps all.
	Classes []int
}

// FaceNetOptions fits the OpenCV res10 face SSD.
func FaceNetOptions(modelPath, configPath string, threshold float64) NetOptions {
	return NetOptions{
		Kind:       model.KindFace,
		ModelPath:  modelPath,
		ConfigPath: configPath,
		Threshold:  threshold,
		InputSize:  image.Pt(300, 300),
		Scale:      1.0,
		Mean:       gocv.NewScalar(104, 177, 123, 0),
	}
}

// PlateNetOptions fits a MobileNet SSD trained on plates.
func PlateNetOptions(modelPath, configPath string, threshold float64) NetOptions {
	return NetOptions{
		Kind:       model.KindPlate,
		ModelPath:  modelPath,
		ConfigPath: configPath,
		Threshold:  threshold,
		InputSize:  image.Pt(300, 300),
		Scale:      1.0 / 127.5,
		Mean:       gocv.NewScalar(127.5, 127.5, 127.5, 0),
		SwapRB:     true,
	}
}

// NetDetector runs a gocv DNN for a single detection kind. gocv.Net is not
// safe for concurrent use, so Forward is serialized.
type NetDetector struct {
	opts    NetOptions
	classes map[int]bool
	mutex   sync.Mutex
	net     gocv.Net
	logger  *logger.Logger
}

// NewNetDetector loads the network from disk.
func NewNetDetector(opts NetOptions, logger *logger.Logger) (*NetDetector, error) {
	d := &NetDetector{
		opts:   opts,
		logger: logger,
	}
	if len(opts.Classes) > 0 {
		d.classes = make(map[int]bool, len(opts.Classes))
		for _, c := range opts.Classes {
			d.classes[c] = true
		}
	}

	if err := d.initializeNet(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *NetDetector) initializeNet() error {
	if _, err := os.Stat(d.opts.ModelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.opts.ModelPath)
	}
	if d.opts.ConfigPath != "" {
		if _, err := os.Stat(d.opts.ConfigPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", d.opts.ConfigPath)
		}
	}

	net := gocv.ReadNet(d.opts.ModelPath, d.opts.ConfigPath)
	if net.Empty() {
		return fmt.Errorf("failed to load %s network from %s", d.opts.Kind, d.opts.ModelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.net = net
	d.logger.Info("%s detection network initialized from %s", d.opts.Kind, d.opts.ModelPath)
	return nil
}

func (d *NetDetector) Kind() model.Kind {
	return d.opts.Kind
}

func (d *NetDetector) Threshold() float64 {
	return d.opts.Threshold
}

// Detect decodes the JPEG frame and returns every box at or above threshold.
func (d *NetDetector) Detect(ctx context.Context, frame model.Frame, threshold float64) ([]detection.Box, error) {
	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blob := gocv.BlobFromImage(mat, d.opts.Scale, d.opts.InputSize, d.opts.Mean, d.opts.SwapRB, false)
	defer blob.Close()

	d.mutex.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mutex.Unlock()
	defer output.Close()

	cols, rows := mat.Cols(), mat.Rows()
	boxes := []detection.Box{}

	// SSD output is [1,1,N,7]: image id, class id, confidence, x1, y1, x2, y2.
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		confidence := float64(reshaped.GetFloatAt(i, 2))
		if confidence < threshold {
			continue
		}

		classID := int(reshaped.GetFloatAt(i, 1))
		if d.classes != nil && !d.classes[classID] {
			continue
		}

		bbox := model.BBox{
			X1: int(reshaped.GetFloatAt(i, 3) * float32(cols)),
			Y1: int(reshaped.GetFloatAt(i, 4) * float32(rows)),
			X2: int(reshaped.GetFloatAt(i, 5) * float32(cols)),
			Y2: int(reshaped.GetFloatAt(i, 6) * float32(rows)),
		}.Clamp(cols, rows)
		if !bbox.Valid() {
			continue
		}

		boxes = append(boxes, detection.Box{BBox: bbox, Confidence: confidence})
	}

	return boxes, nil
}

func (d *NetDetector) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.net.Close()
}
