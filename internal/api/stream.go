package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// StreamEvent is one frame on the god stream.
type StreamEvent struct {
	Type    string         `json:"type"`
	Message *store.Message `json:"message,omitempty"`
}

// StreamHandler pushes every new message of a god over a websocket. When the client
// falls behind, the socket is closed with CloseTryAgainLater and the client re-reads
// the timeline from GET /gods/{id}/chat.
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	godID := chi.URLParam(r, "id")
	if _, err := h.registry.Get(r.Context(), godID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(w, "God not found", http.StatusNotFound)
			return
		}
		h.internalError(w, r, "Failed to load god", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.ledger.Feed().Subscribe(godID)
	defer sub.Close()

	user := currentUser(r)
	h.logger.Debug("Stream opened", zap.String("god_id", godID), zap.String("user_id", user.ID))

	// The read loop only notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	if err := h.writeEvent(conn, StreamEvent{Type: "subscribed"}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case m, ok := <-sub.C:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "fell behind, reload the timeline")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				h.logger.Debug("Stream subscriber dropped", zap.String("god_id", godID), zap.String("user_id", user.ID))
				return
			}
			if err := h.writeEvent(conn, StreamEvent{Type: "message", Message: &m}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *APIHandler) writeEvent(conn *websocket.Conn, event StreamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Debug("WebSocket write failed", zap.Error(err))
		return err
	}
	return nil
}
