package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnSubscriber adapts a websocket connection to Subscriber. Writes are
// serialized; each is bounded by the write timeout.
type ConnSubscriber struct {
	id           string
	connectedAt  time.Time
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewConnSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *ConnSubscriber {
	if writeTimeout <= 0 {
		writeTimeout = time.Second
	}
	return &ConnSubscriber{
		id:           uuid.NewString(),
		connectedAt:  time.Now(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *ConnSubscriber) ID() string             { return c.id }
func (c *ConnSubscriber) ConnectedAt() time.Time { return c.connectedAt }

func (c *ConnSubscriber) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscriberSend, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscriberSend, err)
	}
	return nil
}

// Ping sends a keepalive; safe to call alongside Send.
func (c *ConnSubscriber) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *ConnSubscriber) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(c.writeTimeout))
		err = c.conn.Close()
	})
	return err
}
