package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/diag/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The debug surface is same-host tooling; origin checks are the host
	// app's concern if it exposes this beyond localhost.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	streamBuf  = 64
)

// handleEventStream upgrades to a websocket and forwards every engine event
// to the client as JSON until the connection drops.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	h.logger.Info("event stream connected", "remoteAddr", r.RemoteAddr)

	events := make(chan event.Event, streamBuf)
	cancel := h.engine.Bus.Subscribe(func(evt event.Event) {
		select {
		case events <- evt:
		default:
			// Slow consumer: drop rather than stall the dispatcher.
		}
	})
	defer cancel()
	defer conn.Close()

	// Reader goroutine: we only care about close/error.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
