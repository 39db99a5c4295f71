package publisher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticsengine/internal/dto"
	"analyticsengine/internal/model"
)

func seedBus(t *testing.T, bus *SQLiteBus, topic string, cameras ...string) {
	t.Helper()
	for i, camera := range cameras {
		payload, err := dto.MarshalEvent(model.NewEvent(camera, time.Unix(int64(i), 0), nil))
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), topic, payload))
	}
}

func TestTail_ReadsTopicInOrderAcrossBatches(t *testing.T) {
	bus, err := NewSQLiteBus(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	defer bus.Close()

	seedBus(t, bus, "detections", "gate", "dock", "gate", "lobby", "dock")
	seedBus(t, bus, "other", "ignored")

	var cameras []string
	last, err := Tail(context.Background(), bus.Messages(), "detections", TailOptions{Batch: 2}, func(msg model.BusMessage) error {
		event, err := dto.ParseEvent(msg.Payload)
		if err != nil {
			return err
		}
		cameras = append(cameras, event.CameraID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gate", "dock", "gate", "lobby", "dock"}, cameras)
	assert.EqualValues(t, 5, last)

	var resumed int
	_, err = Tail(context.Background(), bus.Messages(), "detections", TailOptions{AfterID: 3}, func(model.BusMessage) error {
		resumed++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)
}

func TestTail_HandlerErrorStops(t *testing.T) {
	bus, err := NewSQLiteBus(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	defer bus.Close()

	seedBus(t, bus, "detections", "gate", "dock", "lobby")

	boom := errors.New("consumer down")
	last, err := Tail(context.Background(), bus.Messages(), "detections", TailOptions{}, func(msg model.BusMessage) error {
		if msg.ID == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, last)
}

func TestTail_FollowPicksUpNewMessages(t *testing.T) {
	bus, err := NewSQLiteBus(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		_, err := Tail(ctx, bus.Messages(), "detections", TailOptions{Follow: true, Poll: 10 * time.Millisecond}, func(msg model.BusMessage) error {
			seen <- fmt.Sprintf("%d", msg.ID)
			return nil
		})
		done <- err
	}()

	seedBus(t, bus, "detections", "gate")
	select {
	case id := <-seen:
		assert.Equal(t, "1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("followed tail never delivered the new message")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not stop on cancel")
	}
}
