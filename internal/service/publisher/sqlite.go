package publisher

import (
	"context"

	"analyticsengine/internal/repository"
	"analyticsengine/internal/repository/sqlite"
)

// SQLiteBus is a durable topic kept in a local SQLite file. A message is
// acknowledged once its row is committed.
type SQLiteBus struct {
	db       *sqlite.DB
	messages repository.MessageRepository
}

func NewSQLiteBus(path string) (*SQLiteBus, error) {
	db, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteBus{
		db:       db,
		messages: sqlite.NewMessageRepository(db),
	}, nil
}

func (b *SQLiteBus) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := b.messages.Insert(ctx, topic, payload)
	return err
}

// Messages exposes the topic for consumers.
func (b *SQLiteBus) Messages() repository.MessageRepository {
	return b.messages
}

func (b *SQLiteBus) Close() error {
	return b.db.Close()
}
