package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticsengine/internal/dto"
	"analyticsengine/internal/logger"
	"analyticsengine/internal/metrics"
	"analyticsengine/internal/model"
	live "analyticsengine/internal/service/websocket"
)

func dialViewer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, hub *live.HubService, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.GetClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestViewWebsocketHandler_ReceivesEvents(t *testing.T) {
	hub := live.NewHubService(logger.Discard(), metrics.New())
	server := httptest.NewServer(ViewWebsocketHandler(hub, time.Second, logger.Discard()))
	defer server.Close()

	conn := dialViewer(t, server)
	defer conn.Close()
	waitForClients(t, hub, 1)

	event := model.NewEvent("gate", time.Now(), []model.Detection{{
		Kind:       model.KindFace,
		BBox:       model.BBox{X1: 1, Y1: 1, X2: 20, Y2: 20},
		Confidence: 0.9,
		TrackingID: "gate_track_3",
	}})
	assert.Equal(t, 1, hub.Broadcast(context.Background(), event))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	got, err := dto.ParseEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "gate", got.CameraID)
	require.Len(t, got.Detections, 1)
	assert.Equal(t, "gate_track_3", got.Detections[0].TrackingID)
}

func TestViewWebsocketHandler_InboundMessagesIgnored(t *testing.T) {
	hub := live.NewHubService(logger.Discard(), metrics.New())
	server := httptest.NewServer(ViewWebsocketHandler(hub, time.Second, logger.Discard()))
	defer server.Close()

	conn := dialViewer(t, server)
	defer conn.Close()
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"pan_left"}`)))

	hub.Broadcast(context.Background(), model.NewEvent("gate", time.Now(), nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections":[]`)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestViewWebsocketHandler_DisconnectUnregisters(t *testing.T) {
	hub := live.NewHubService(logger.Discard(), metrics.New())
	server := httptest.NewServer(ViewWebsocketHandler(hub, time.Second, logger.Discard()))
	defer server.Close()

	conn := dialViewer(t, server)
	waitForClients(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitForClients(t, hub, 0)
}
