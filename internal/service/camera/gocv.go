package camera

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"analyticsengine/internal/model"
	"analyticsengine/internal/service/source"
)

// VideoCapture reads frames from anything OpenCV can open: RTSP/HTTP
// streams, files, or a device index.
type VideoCapture struct {
	cameraID string
	capture  *gocv.VideoCapture
	img      gocv.Mat
}

// OpenVideoCapture opens uri with OpenCV.
func OpenVideoCapture(ctx context.Context, cameraID, uri string) (source.Capture, error) {
	capture, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", source.ErrSourceUnavailable, uri, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: video capture is not opened for %s", source.ErrSourceUnavailable, uri)
	}

	// keep latency low on network streams
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	return &VideoCapture{
		cameraID: cameraID,
		capture:  capture,
		img:      gocv.NewMat(),
	}, nil
}

func (v *VideoCapture) Read(ctx context.Context) (model.Frame, error) {
	if !v.capture.IsOpened() {
		return model.Frame{}, source.ErrSourceClosed
	}

	if ok := v.capture.Read(&v.img); !ok {
		return model.Frame{}, fmt.Errorf("%w: read failed", source.ErrFrameDropped)
	}
	if v.img.Empty() {
		return model.Frame{}, fmt.Errorf("%w: empty frame", source.ErrFrameDropped)
	}
	captured := time.Now()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, v.img)
	if err != nil {
		return model.Frame{}, fmt.Errorf("%w: encode failed: %v", source.ErrFrameDropped, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return model.Frame{
		CameraID: v.cameraID,
		Captured: captured,
		Data:     data,
		Width:    v.img.Cols(),
		Height:   v.img.Rows(),
	}, nil
}

func (v *VideoCapture) Close() error {
	v.img.Close()
	return v.capture.Close()
}
