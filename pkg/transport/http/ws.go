package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/transport"
)

// wsWriteTimeout bounds every websocket write so a stalled client
// cannot wedge the handler.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The events endpoint sits behind the same auth as the rest of the
	// API; origin checks add nothing for non-browser benchmark clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleRunEvents serves GET /v1/runs/{id}/events: a websocket that
// relays the run's normalized events as JSON frames until the run
// emits its terminal event or the client hangs up.
func (a *Adapter) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "invalid run ID format"))
		return
	}
	if a.events == nil {
		transport.WriteErrorResponse(w,
			api.NewServerError("event streaming not configured"),
			http.StatusNotImplemented)
		return
	}

	// A run with a ledger record is already over. Decide before touching
	// the registry: Watch would create a channel nothing will publish to.
	finished := false
	if a.store != nil {
		if _, err := a.store.GetRun(r.Context(), id); err == nil {
			finished = true
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake error response.
		slog.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	if finished {
		closeConn(conn, "run already finished")
		return
	}

	events := a.events.Watch(id)

	// Clients never send payload frames; the read loop exists to notice
	// close frames and dropped connections.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("websocket read failed", "run_id", id, "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				closeConn(conn, "run finished")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "run_id", id, "error", err)
				return
			}
		}
	}
}

// closeConn sends a normal-closure frame so well-behaved clients see a
// clean end of stream instead of an abnormal close.
func closeConn(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
