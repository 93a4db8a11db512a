package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/piyush97/resonance/internal/protocol"
	"github.com/piyush97/resonance/internal/session"
)

// upgrader builds the WebSocket upgrader with the configured origin policy.
func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// No origin: non-browser clients (CLI, server-side widgets).
				return true
			}
			for _, allowed := range h.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket upgrades the connection for a conversation id and runs
// the per-connection read loop. Any previously issued identifier is
// honored; the identifier itself is the capability.
// GET /api/v1/conversations/:id/ws
func (h *Handler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")

	up := h.upgrader()
	ws, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade WebSocket for %s: %v", id, err)
		return err
	}

	conn, err := h.registry.Attach(id, ws)
	if err != nil {
		// Reject policy: the session already has a live connection.
		data, _ := protocol.Encode(protocol.NewError("Conversation already has an active connection"))
		ws.WriteMessage(websocket.TextMessage, data)
		ws.Close()
		return nil
	}

	if err := h.ensureConversation(c.Request().Context(), id); err != nil {
		log.Printf("WARN: failed to ensure conversation %s: %v", id, err)
	}

	log.Printf("WebSocket connected: conversation=%s conn=%s", id, conn.ID)
	go h.pingLoop(conn)
	h.readLoop(conn)
	return nil
}

// pingLoop keeps the connection alive until the socket closes.
func (h *Handler) pingLoop(conn *session.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// readLoop reads frames sequentially. Each message frame is processed to
// completion, and exactly one outbound frame written, before the next
// read. A slow RAG backend therefore never pipelines turns for one
// connection, and sessions stay fully independent of each other.
func (h *Handler) readLoop(conn *session.Conn) {
	defer func() {
		h.registry.Detach(conn)
		conn.Close()
		log.Printf("WebSocket closed: conversation=%s conn=%s", conn.SessionID, conn.ID)
	}()

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: WebSocket error on %s: %v", conn.SessionID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		if err := h.handleFrame(conn, data); err != nil {
			// Write failure is transport-level and fatal to this connection.
			return
		}
	}
}

// handleFrame processes one inbound frame. Processing failures produce an
// error frame and keep the connection open; only write errors propagate.
func (h *Handler) handleFrame(conn *session.Conn, data []byte) error {
	frame, err := protocol.Decode(data)
	if err != nil {
		return h.writeFrame(conn, protocol.NewError("Failed to process message"))
	}

	if frame.Type != protocol.TypeMessage {
		// Unknown frame types decode cleanly and are a no-op.
		return nil
	}

	if frame.Content == "" {
		return h.writeFrame(conn, protocol.NewError("Message content is required"))
	}

	answer, sources, err := h.processTurn(conn.Context(), conn.SessionID, frame.Content, frame.AssistantID, frame.History)
	if err != nil {
		return h.writeFrame(conn, protocol.NewError(userFacingError))
	}

	return h.writeFrame(conn, protocol.NewResponse(answer, sources))
}

// writeFrame encodes and writes exactly one outbound frame.
func (h *Handler) writeFrame(conn *session.Conn, frame interface{}) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
