package sqlite

import (
	"context"
	"fmt"
	"time"

	"analyticsengine/internal/model"
)

// MessageRepository implements repository.MessageRepository for SQLite.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new SQLite message repository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert appends a payload to a topic and returns its id.
func (r *MessageRepository) Insert(ctx context.Context, topic string, payload []byte) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO bus_messages (topic, payload, created_at)
		VALUES (?, ?, ?)
	`, topic, payload, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	return result.LastInsertId()
}

// ListAfter returns up to limit messages on topic with id greater than
// afterID, oldest first. Consumers page through a topic by passing the last
// id they processed.
func (r *MessageRepository) ListAfter(ctx context.Context, topic string, afterID int64, limit int) ([]model.BusMessage, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, topic, payload, created_at
		FROM bus_messages WHERE topic = ? AND id > ?
		ORDER BY id LIMIT ?
	`, topic, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []model.BusMessage
	for rows.Next() {
		var msg model.BusMessage
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Count returns how many messages a topic holds.
func (r *MessageRepository) Count(ctx context.Context, topic string) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM bus_messages WHERE topic = ?`, topic).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
