// Package gateway orchestrates conversation sessions over WebSocket and REST.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/piyush97/resonance/internal/config"
	"github.com/piyush97/resonance/internal/domain"
	"github.com/piyush97/resonance/internal/rag"
	"github.com/piyush97/resonance/internal/session"
	"github.com/piyush97/resonance/internal/store"
)

// userFacingError is the fixed message sent to clients when the RAG
// backend fails. Upstream detail is logged server-side only.
const userFacingError = "Failed to generate response"

// Handler handles HTTP and WebSocket requests for the gateway.
type Handler struct {
	cfg      *config.Config
	registry *session.Registry
	store    store.Store
	rag      *rag.Client
}

// NewHandler creates a new gateway handler.
func NewHandler(cfg *config.Config, registry *session.Registry, st store.Store, ragClient *rag.Client) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		store:    st,
		rag:      ragClient,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/v1/conversations/create", h.CreateConversation)
	e.GET("/api/v1/conversations/:id", h.GetConversation)
	e.POST("/api/v1/conversations/:id/messages", h.PostMessage)
	e.GET("/api/v1/conversations/:id/ws", h.HandleWebSocket)

	e.GET("/health", h.Health)
}

// CreateConversationRequest is the request body for POST /conversations/create.
type CreateConversationRequest struct {
	VisitorID      string          `json:"visitor_id"`
	Channel        string          `json:"channel"`
	InitialMessage string          `json:"initial_message,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// CreateConversationResponse is the response for POST /conversations/create.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	WSURL          string `json:"ws_url"`
}

// validate returns field-level failure details, empty when the request is valid.
func (r *CreateConversationRequest) validate() []string {
	var details []string
	if r.VisitorID == "" {
		details = append(details, "visitor_id is required")
	}
	if r.Channel == "" {
		details = append(details, "channel is required")
	} else if !domain.ValidChannel(r.Channel) {
		details = append(details, "channel must be one of: web, slack, whatsapp, email")
	}
	return details
}

// CreateConversation creates a new conversation session.
// POST /api/v1/conversations/create
func (h *Handler) CreateConversation(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "validation failed",
			"details": []string{"request body must be a JSON object"},
		})
	}

	if details := req.validate(); len(details) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "validation failed",
			"details": details,
		})
	}

	sess := h.registry.Create(domain.Channel(req.Channel), req.VisitorID, req.Metadata)

	if err := h.store.CreateConversation(ctx, sess); err != nil {
		log.Printf("ERROR: failed to persist conversation %s: %v", sess.ID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create conversation"})
	}

	// The initial message goes through the same turn pipeline as live
	// turns; the assistant reply lands in the transcript.
	if req.InitialMessage != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RAGTimeout+5*time.Second)
			defer cancel()
			if _, _, err := h.processTurn(ctx, sess.ID, req.InitialMessage, "", nil); err != nil {
				log.Printf("WARN: initial message for %s failed: %v", sess.ID, err)
			}
		}()
	}

	return c.JSON(http.StatusOK, CreateConversationResponse{
		ConversationID: sess.ID,
		WSURL:          h.wsURL(c, sess.ID),
	})
}

// wsURL builds the real-time endpoint for a conversation id.
func (h *Handler) wsURL(c echo.Context, id string) string {
	path := "/api/v1/conversations/" + id + "/ws"
	if h.cfg.PublicWSBase != "" {
		return h.cfg.PublicWSBase + path
	}
	scheme := "ws"
	if c.Request().TLS != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request().Host, path)
}

// GetConversation returns the transcript and status for a conversation.
// Unknown identifiers report the default no-history shape rather than 404.
// GET /api/v1/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	sess, err := h.store.GetConversation(ctx, id)
	if err != nil {
		log.Printf("ERROR: failed to get conversation %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get conversation"})
	}

	status := domain.SessionActive
	turns := []domain.Turn{}
	if sess != nil {
		status = sess.Status
		stored, err := h.store.GetTurns(ctx, id)
		if err != nil {
			log.Printf("ERROR: failed to get turns for %s: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get conversation"})
		}
		if stored != nil {
			turns = stored
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"messages":        turns,
		"status":          status,
	})
}

// PostMessageRequest is the stateless per-turn fallback request body.
type PostMessageRequest struct {
	Content     string                `json:"content"`
	AssistantID string                `json:"assistant_id,omitempty"`
	History     []domain.HistoryEntry `json:"history,omitempty"`
}

// PostMessage processes one turn without a live transport connection.
// The reply carries the same shape as a response or error frame.
// POST /api/v1/conversations/:id/messages
func (h *Handler) PostMessage(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "validation failed",
			"details": []string{"request body must be a JSON object"},
		})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "validation failed",
			"details": []string{"content is required"},
		})
	}

	if err := h.ensureConversation(ctx, id); err != nil {
		log.Printf("ERROR: failed to ensure conversation %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to process message"})
	}

	answer, sources, err := h.processTurn(ctx, id, req.Content, req.AssistantID, req.History)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]string{
			"type":    "error",
			"message": userFacingError,
		})
	}

	if sources == nil {
		sources = []domain.SourceCitation{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":    "response",
		"content": answer,
		"sources": sources,
	})
}

// Health returns gateway health plus a KB service reachability probe.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	kbStatus := "error"
	if h.rag.Healthy(ctx) {
		kbStatus = "ok"
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]string{
			"api": "ok",
			"kb":  kbStatus,
		},
		"sessions":    h.registry.SessionCount(),
		"connections": h.registry.ConnectionCount(),
	})
}

// ensureConversation guarantees a durable record exists for id, so turns
// can be appended for identifiers issued before a restart.
func (h *Handler) ensureConversation(ctx context.Context, id string) error {
	sess, err := h.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if sess != nil {
		return nil
	}

	if known, ok := h.registry.Get(id); ok {
		return h.store.CreateConversation(ctx, known)
	}

	return h.store.CreateConversation(ctx, &domain.Session{
		ID:        id,
		Channel:   domain.ChannelWeb,
		VisitorID: "unknown",
		Status:    domain.SessionActive,
		CreatedAt: time.Now(),
	})
}

// processTurn runs one user turn through the RAG pipeline: persist the
// user turn, call the backend once, persist the assistant turn on success.
func (h *Handler) processTurn(ctx context.Context, conversationID, content, assistantID string, history []domain.HistoryEntry) (string, []domain.SourceCitation, error) {
	userTurn := &domain.Turn{
		ID:        newTurnID(),
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := h.store.AppendTurn(ctx, conversationID, userTurn); err != nil {
		log.Printf("WARN: failed to persist user turn for %s: %v", conversationID, err)
	}

	answer, sources, err := h.rag.Answer(ctx, content, assistantID, history)
	if err != nil {
		log.Printf("ERROR: RAG call failed for %s: %v", conversationID, err)
		return "", nil, err
	}

	assistantTurn := &domain.Turn{
		ID:        newTurnID(),
		Role:      domain.RoleAssistant,
		Content:   answer,
		Sources:   sources,
		CreatedAt: time.Now(),
	}
	if err := h.store.AppendTurn(ctx, conversationID, assistantTurn); err != nil {
		log.Printf("WARN: failed to persist assistant turn for %s: %v", conversationID, err)
	}

	return answer, sources, nil
}

func newTurnID() string {
	return "turn_" + uuid.New().String()[:8]
}
