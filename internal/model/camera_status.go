package model

import "time"

// CameraStatus is a point-in-time view of one camera task.
type CameraStatus struct {
	ID        string     `json:"id"`
	State     string     `json:"state"`
	Running   bool       `json:"running"`
	Frames    uint64     `json:"frames"`
	Events    uint64     `json:"events"`
	LastEvent *time.Time `json:"last_event,omitempty"`
}
