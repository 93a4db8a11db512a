// Package widget implements the client side of the conversation gateway:
// create a conversation, prefer the real-time transport, and fall back to
// the stateless request path when the socket is unavailable.
package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/piyush97/resonance/internal/domain"
)

// State is the transport state visible to the embedding UI.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFallback   State = "fallback"
)

// ErrNotStarted is returned by Send before Start has succeeded.
var ErrNotStarted = errors.New("conversation not started")

// Reply is the single answer to one turn, identical in shape whether it
// arrived over the socket or the stateless path.
type Reply struct {
	Type    string                  `json:"type"`
	Content string                  `json:"content,omitempty"`
	Sources []domain.SourceCitation `json:"sources,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// messageFrame is the outbound wire frame for one user turn.
type messageFrame struct {
	Type        string                `json:"type"`
	Content     string                `json:"content"`
	AssistantID string                `json:"assistant_id,omitempty"`
	History     []domain.HistoryEntry `json:"history,omitempty"`
}

// createResponse mirrors the gateway's conversation-create response.
type createResponse struct {
	ConversationID string `json:"conversation_id"`
	WSURL          string `json:"ws_url"`
}

// Client drives one conversation. At most one turn is in flight at a
// time, so the visible transcript stays strictly ordered on both paths.
type Client struct {
	apiBase     string
	assistantID string
	httpClient  *http.Client

	mu             sync.Mutex
	state          State
	conversationID string
	wsURL          string
	ws             *websocket.Conn
	history        []domain.HistoryEntry
}

// NewClient creates a widget client for the given gateway base URL.
func NewClient(apiBase, assistantID string) *Client {
	return &Client{
		apiBase:     strings.TrimSuffix(apiBase, "/"),
		assistantID: assistantID,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		state:       StateIdle,
	}
}

// State returns the current transport state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID returns the id issued by the gateway, empty before Start.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Start creates the conversation and attempts the real-time transport.
// A failed dial is not an error: the client simply stays on the
// stateless fallback for the rest of the session.
func (c *Client) Start(ctx context.Context, visitorID string) error {
	body, err := json.Marshal(map[string]string{
		"visitor_id": visitorID,
		"channel":    string(domain.ChannelWeb),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/api/v1/conversations/create", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read create response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create conversation failed (%d)", resp.StatusCode)
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return fmt.Errorf("failed to unmarshal create response: %w", err)
	}

	c.mu.Lock()
	c.conversationID = created.ConversationID
	c.wsURL = created.WSURL
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, created.WSURL, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFallback
		return nil
	}
	c.ws = ws
	c.state = StateConnected
	return nil
}

// Send submits one user turn and blocks until the single reply arrives.
// While the socket is open turns go out as message frames; otherwise the
// stateless per-turn call carries the same payload. A socket failure
// mid-turn closes the transport and retries this turn on the fallback
// path, so every turn still gets exactly one reply.
func (c *Client) Send(ctx context.Context, content string) (string, []domain.SourceCitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversationID == "" {
		return "", nil, ErrNotStarted
	}

	var reply *Reply
	var err error
	if c.state == StateConnected {
		reply, err = c.sendFrame(ctx, content)
		if err != nil {
			// Transport-level failure: no reconnection, fall back for
			// the rest of the session.
			c.closeSocketLocked()
			reply, err = c.sendFallback(ctx, content)
		}
	} else {
		reply, err = c.sendFallback(ctx, content)
	}
	if err != nil {
		return "", nil, err
	}

	if reply.Type == "error" {
		return "", nil, errors.New(reply.Message)
	}

	c.history = append(c.history,
		domain.HistoryEntry{Role: domain.RoleUser, Content: content},
		domain.HistoryEntry{Role: domain.RoleAssistant, Content: reply.Content},
	)
	return reply.Content, reply.Sources, nil
}

// Close tears down the socket if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSocketLocked()
	return nil
}

func (c *Client) closeSocketLocked() {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.state = StateFallback
}

// sendFrame writes one message frame and reads the single reply frame.
func (c *Client) sendFrame(ctx context.Context, content string) (*Reply, error) {
	frame := messageFrame{
		Type:        "message",
		Content:     content,
		AssistantID: c.assistantID,
		History:     c.history,
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
		c.ws.SetReadDeadline(deadline)
	}

	if err := c.ws.WriteJSON(frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &reply, nil
}

// sendFallback submits the turn via the stateless per-turn endpoint.
func (c *Client) sendFallback(ctx context.Context, content string) (*Reply, error) {
	body, err := json.Marshal(map[string]interface{}{
		"content":      content,
		"assistant_id": c.assistantID,
		"history":      c.history,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	url := c.apiBase + "/api/v1/conversations/" + c.conversationID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("message failed (%d)", resp.StatusCode)
	}

	var reply Reply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return &reply, nil
}

// TopSources truncates citations for display. Display-layer concern only:
// the gateway never truncates what the backend returned.
func TopSources(sources []domain.SourceCitation, n int) []domain.SourceCitation {
	if len(sources) <= n {
		return sources
	}
	return sources[:n]
}
