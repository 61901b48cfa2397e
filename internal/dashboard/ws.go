package dashboard

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartcare-lab/care-monitor/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket pushes status views over a WebSocket. Views are JSON text
// frames, or binary protobuf frames with ?format=protobuf.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WS", "Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	useProtobuf := r.URL.Query().Get("format") == "protobuf"

	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	s.metrics.LiveClients.Add(1)
	defer s.metrics.LiveClients.Add(-1)
	logger.Debug("WS", "Client %d connected (protobuf=%v)", id, useProtobuf)

	// Reader: only control frames are expected; a read error means the peer left.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Debug("WS", "Client %d disconnected", id)
			return

		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if useProtobuf {
				raw, err := base64.StdEncoding.DecodeString(string(event.ProtobufData))
				if err == nil {
					err = conn.WriteMessage(websocket.BinaryMessage, raw)
				}
				if err != nil {
					logger.Debug("WS", "Write to client %d failed: %v", id, err)
					return
				}
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, event.JSONData); err != nil {
				logger.Debug("WS", "Write to client %d failed: %v", id, err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
