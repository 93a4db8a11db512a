// Package domain defines the core domain models for the gateway.
package domain

import (
	"encoding/json"
	"time"
)

// Channel identifies where a conversation originates.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelSlack    Channel = "slack"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Channels lists every accepted channel value.
var Channels = []Channel{ChannelWeb, ChannelSlack, ChannelWhatsApp, ChannelEmail}

// ValidChannel reports whether ch is one of the accepted channel values.
func ValidChannel(ch string) bool {
	for _, c := range Channels {
		if string(c) == ch {
			return true
		}
	}
	return false
}

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session represents one conversation, addressable by a stable identifier
// independent of any particular transport connection.
type Session struct {
	ID        string          `json:"conversation_id"`
	Channel   Channel         `json:"channel"`
	VisitorID string          `json:"visitor_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Status    SessionStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Turn represents a single message exchange unit within a conversation.
type Turn struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"` // user, assistant, system
	Content   string           `json:"content"`
	Sources   []SourceCitation `json:"sources,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// SourceCitation is a supporting source returned by the RAG backend.
// Ordering is whatever the backend produced; the gateway never re-sorts.
type SourceCitation struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// HistoryEntry is one (role, content) pair of prior conversation history
// forwarded to the RAG backend.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
