package repository

import (
	"context"

	"analyticsengine/internal/model"
)

// MessageRepository defines the storage operations behind a durable topic.
type MessageRepository interface {
	// Create operations
	Insert(ctx context.Context, topic string, payload []byte) (int64, error)

	// Read operations
	ListAfter(ctx context.Context, topic string, afterID int64, limit int) ([]model.BusMessage, error)
	Count(ctx context.Context, topic string) (int, error)
}
