package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"analyticsengine/internal/logger"
	live "analyticsengine/internal/service/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the HubService to receive detection events. Anything a
// viewer sends is read and discarded.
func ViewWebsocketHandler(hub *live.HubService, sendTimeout time.Duration, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(pongWait))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		subscriber := live.NewConnSubscriber(connection, sendTimeout)
		hub.Register(subscriber)
		defer hub.Unregister(subscriber)

		logger.Info("Viewer %s connected from %s", subscriber.ID(), r.RemoteAddr)

		done := make(chan struct{})
		defer close(done)
		go keepAlive(subscriber, done)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer %s disconnected normally", subscriber.ID())
				} else {
					logger.Warning("Viewer %s disconnected: %v", subscriber.ID(), err)
				}
				return
			}
		}
	}
}

func keepAlive(subscriber *live.ConnSubscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := subscriber.Ping(); err != nil {
				return
			}
		}
	}
}
