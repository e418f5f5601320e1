package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// staff displays run on the restaurant LAN under arbitrary hostnames
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FeedSSE streams confirmed orders as server-sent events until the client disconnects.
func (h *HTTPHandler) FeedSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "streaming unsupported", logger.RequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	requestID := logger.RequestID(r.Context())
	h.log.Debug("feed_sse", "display connected", requestID, map[string]any{"path": r.URL.Path})

	if err := h.feed.Stream(r.Context(), &sseSink{w: w, flusher: flusher}); err != nil {
		h.log.Debug("feed_sse", "display disconnected", requestID, map[string]any{"error": err.Error()})
	}
}

// FeedWebSocket pushes the same stream as FeedSSE over a websocket.
func (h *HTTPHandler) FeedWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("feed_ws", "websocket upgrade failed", requestID, err, nil)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Displays never send data; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	if err := h.feed.Stream(ctx, sink); err != nil {
		h.log.Debug("feed_ws", "display disconnected", requestID, map[string]any{"error": err.Error()})
		return
	}
	sink.close()
}

type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(_ context.Context, order domain.Order) error {
	payload, err := json.Marshal(newOrderResponse(order))
	if err != nil {
		return fmt.Errorf("marshal feed order: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteJSON(newOrderResponse(order)); err != nil {
		return fmt.Errorf("write ws event: %w", err)
	}
	return nil
}

func (s *wsSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
