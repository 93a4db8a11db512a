// Package store defines the conversation record store and its SQLite implementation.
package store

import (
	"context"
	"encoding/json"

	"github.com/piyush97/resonance/internal/domain"
)

// Store is the durable owner of conversation metadata and transcripts.
type Store interface {
	CreateConversation(ctx context.Context, sess *domain.Session) error
	GetConversation(ctx context.Context, id string) (*domain.Session, error)
	SetStatus(ctx context.Context, id string, status domain.SessionStatus) error

	AppendTurn(ctx context.Context, conversationID string, turn *domain.Turn) error
	GetTurns(ctx context.Context, conversationID string) ([]domain.Turn, error)

	Close() error
}

// marshalSources encodes citations for storage; nil encodes as empty list.
func marshalSources(sources []domain.SourceCitation) string {
	if sources == nil {
		sources = []domain.SourceCitation{}
	}
	data, _ := json.Marshal(sources)
	return string(data)
}
