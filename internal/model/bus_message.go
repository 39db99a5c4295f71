package model

import "time"

// BusMessage is one payload stored on a durable topic.
type BusMessage struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
