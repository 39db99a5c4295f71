package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"analyticsengine/internal/dto"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
)

// ErrSubscriberSend marks a failed delivery to one live viewer.
var ErrSubscriberSend = errors.New("subscriber send failed")

// Subscriber is one connected live viewer.
type Subscriber interface {
	ID() string
	ConnectedAt() time.Time
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// HubService tracks connected viewers and pushes every event to all of
// them, best-effort. Nothing is buffered per viewer.
type HubService struct {
	clients map[string]Subscriber
	stopped bool
	mutex   sync.RWMutex
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewHubService(logger *logger.Logger, metrics *metrics.Metrics) *HubService {
	return &HubService{
		clients: make(map[string]Subscriber),
		logger:  logger,
		metrics: metrics,
	}
}

// Run blocks until ctx is done, then disconnects every viewer.
func (h *HubService) Run(ctx context.Context) {
	<-ctx.Done()

	h.mutex.Lock()
	clients := h.clients
	h.clients = make(map[string]Subscriber)
	h.stopped = true
	h.mutex.Unlock()

	for _, client := range clients {
		client.Close()
	}
	h.metrics.ViewersConnected.Set(0)
	h.logger.Info("Hub stopped, %d viewer(s) disconnected", len(clients))
}

// Register adds a viewer. Once the hub has stopped the viewer is closed
// straight away instead.
func (h *HubService) Register(client Subscriber) {
	h.mutex.Lock()
	if h.stopped {
		h.mutex.Unlock()
		client.Close()
		h.logger.Warning("Client %s rejected, hub is stopped", client.ID())
		return
	}
	h.clients[client.ID()] = client
	total := len(h.clients)
	h.mutex.Unlock()

	h.metrics.ViewersConnected.Set(float64(total))
	h.logger.Info("Client %s connected. Total: %d", client.ID(), total)
}

// Unregister removes and closes the viewer. Unknown viewers are ignored.
func (h *HubService) Unregister(client Subscriber) {
	if h.remove(client) {
		h.logger.Info("Client %s disconnected. Total: %d", client.ID(), h.GetClientCount())
	}
}

func (h *HubService) remove(client Subscriber) bool {
	h.mutex.Lock()
	current, ok := h.clients[client.ID()]
	if ok && current == client {
		delete(h.clients, client.ID())
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if !ok || current != client {
		return false
	}
	client.Close()
	h.metrics.ViewersConnected.Set(float64(total))
	return true
}

// Broadcast sends the event to every registered viewer concurrently and
// returns how many received it. A viewer whose send fails is dropped; the
// others are unaffected. With no viewers the event is not even serialized.
func (h *HubService) Broadcast(ctx context.Context, event model.DetectionEvent) int {
	clients := h.snapshot()
	if len(clients) == 0 {
		return 0
	}

	payload, err := dto.MarshalEvent(event)
	if err != nil {
		h.logger.Error("Error encoding event for viewers: %v", err)
		return 0
	}

	var delivered atomic.Int32
	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client Subscriber) {
			defer wg.Done()
			if err := client.Send(ctx, payload); err != nil {
				h.metrics.BroadcastFailures.Inc()
				h.logger.Warning("Error sending message to client %s: %v", client.ID(), err)
				h.Unregister(client)
				return
			}
			delivered.Add(1)
		}(client)
	}
	wg.Wait()

	return int(delivered.Load())
}

func (h *HubService) snapshot() []Subscriber {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]Subscriber, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
