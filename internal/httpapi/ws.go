package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/watchpipe/internal/core"
)

// handleWS upgrades to a WebSocket and streams analyzed messages matching the
// request filters. The same subscriber fan-out backs SSE and WebSocket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.cors == nil,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	sub := &subscriber{
		ch:        make(chan core.AnalyzedMessage, 256),
		filters:   filters.CloneForStream(),
		transport: "ws",
	}
	if !s.addSubscriber(sub) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.removeSubscriber(sub)

	s.metrics.IncWSClients(1)
	defer s.metrics.IncWSClients(-1)

	ctx := r.Context()

	// Reader drains control frames and detects client close.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-readerDone:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case msg, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				return
			}
			s.metrics.IncMessagesSent("ws")
		}
	}
}
