package publisher

import (
	"context"
	"time"

	"analyticsengine/internal/model"
	"analyticsengine/internal/repository"
)

// TailOptions controls how a durable topic is read back.
type TailOptions struct {
	AfterID int64
	Batch   int
	// Follow keeps polling for new messages every Poll until ctx is done.
	Follow bool
	Poll   time.Duration
}

// Tail hands every message on topic after opts.AfterID to fn, oldest first,
// and returns the id of the last message handled. An error from fn stops
// the tail before that message is counted as handled.
func Tail(ctx context.Context, messages repository.MessageRepository, topic string, opts TailOptions, fn func(model.BusMessage) error) (int64, error) {
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}

	last := opts.AfterID
	for {
		batch, err := messages.ListAfter(ctx, topic, last, opts.Batch)
		if err != nil {
			return last, err
		}

		for _, msg := range batch {
			if err := fn(msg); err != nil {
				return last, err
			}
			last = msg.ID
		}

		if len(batch) > 0 {
			continue
		}
		if !opts.Follow {
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, nil
		case <-time.After(opts.Poll):
		}
	}
}
