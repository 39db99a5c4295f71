package model

import "time"

// Frame is one JPEG-encoded image sampled from a camera. It belongs to the
// pipeline pass that read it and is dropped once that pass ends.
type Frame struct {
	CameraID string
	Captured time.Time
	Seq      uint64
	Data     []byte
	Width    int
	Height   int
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}
