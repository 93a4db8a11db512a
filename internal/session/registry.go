// Package session tracks active conversation sessions and their live connections.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/piyush97/resonance/internal/config"
	"github.com/piyush97/resonance/internal/domain"
)

// ErrAlreadyConnected is returned by Attach under the reject policy when
// the session already has a live connection.
var ErrAlreadyConnected = errors.New("session already has a live connection")

// Conn wraps a WebSocket connection bound to one conversation session.
type Conn struct {
	ID        string
	SessionID string
	ws        *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// Context is cancelled when the connection closes, so work started on
// behalf of this connection can be abandoned.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}

// ReadMessage reads the next message from the connection.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// SetReadLimit caps the size of inbound messages.
func (c *Conn) SetReadLimit(limit int64) {
	c.ws.SetReadLimit(limit)
}

// SetPongHandler installs the pong handler on the underlying socket.
func (c *Conn) SetPongHandler(h func(string) error) {
	c.ws.SetPongHandler(h)
}

// Close closes the underlying socket and cancels the connection context.
func (c *Conn) Close() error {
	c.cancel()
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// Registry tracks sessions and guarantees at most one current live
// connection per session id. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	conns    map[string]*Conn // current connection per session id
	policy   string
}

// NewRegistry creates a registry with the given duplicate-connection policy.
func NewRegistry(policy string) *Registry {
	if policy != config.DuplicateReject {
		policy = config.DuplicateSupersede
	}
	return &Registry{
		sessions: make(map[string]*domain.Session),
		conns:    make(map[string]*Conn),
		policy:   policy,
	}
}

// NewID generates a conversation identifier: a time component plus a
// random suffix, collision-resistant under concurrent generation.
func NewID() string {
	return fmt.Sprintf("conv_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// Create registers a new active session and returns it.
func (r *Registry) Create(channel domain.Channel, visitorID string, metadata json.RawMessage) *domain.Session {
	sess := &domain.Session{
		ID:        NewID(),
		Channel:   channel,
		VisitorID: visitorID,
		Metadata:  metadata,
		Status:    domain.SessionActive,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	return sess
}

// Get returns the session for id, if known.
func (r *Registry) Get(id string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// CloseSession marks a session closed. The identifier stays addressable.
func (r *Registry) CloseSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.Status = domain.SessionClosed
	}
}

// Attach binds a socket to a session as its current connection. Under
// the supersede policy a previous connection is explicitly closed before
// the new one is accepted; under reject the new socket is refused.
func (r *Registry) Attach(sessionID string, ws *websocket.Conn) (*Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
	}

	r.mu.Lock()
	prev := r.conns[sessionID]
	if prev != nil && r.policy == config.DuplicateReject {
		r.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	r.conns[sessionID] = conn
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return conn, nil
}

// Detach clears the session's connection slot, but only if conn is still
// current; a superseded connection must not evict its replacement.
func (r *Registry) Detach(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[conn.SessionID]; ok && current.ID == conn.ID {
		delete(r.conns, conn.SessionID)
	}
}

// SessionCount returns the number of known sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
