package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stormwatch-systems/stormwatch/internal/publisher"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamMessage is one frame on the stream: the opening snapshot, then
// deltas. Applying deltas on top of the snapshot converges with polling.
type StreamMessage struct {
	Type   string               `json:"type"`
	Events []*model.AttackEvent `json:"events,omitempty"`
	Delta  *model.EventDelta    `json:"delta,omitempty"`
}

// StreamHandler upgrades /api/v1/stream to a live event feed, as a
// websocket by default or Server-Sent Events with ?mode=sse.
type StreamHandler struct {
	pub      *publisher.Publisher
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler constructs the streaming handler.
func NewStreamHandler(pub *publisher.Publisher, log *slog.Logger) *StreamHandler {
	return &StreamHandler{
		pub: pub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The map is public read-only data; any origin may stream it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Stream handles GET /api/v1/stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if r.URL.Query().Get("mode") == "sse" {
		h.serveSSE(w, r)
		return
	}
	h.serveWebsocket(w, r)
}

func (h *StreamHandler) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, snap := h.pub.Subscribe()
	defer h.pub.Unsubscribe(sub)

	if err := writeFrame(conn, StreamMessage{Type: "snapshot", Events: snap}); err != nil {
		return
	}

	// Reader goroutine: we never expect client frames, only closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case d, ok := <-sub.Deltas():
			if !ok {
				// Dropped for falling behind.
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow")
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := writeFrame(conn, StreamMessage{Type: "delta", Delta: &d}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *StreamHandler) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub, snap := h.pub.Subscribe()
	defer h.pub.Unsubscribe(sub)

	if err := writeSSE(w, "snapshot", StreamMessage{Type: "snapshot", Events: snap}); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(pingPeriod)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case d, ok := <-sub.Deltas():
			if !ok {
				return
			}
			if err := writeSSE(w, "delta", StreamMessage{Type: "delta", Delta: &d}); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
