package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/piyush97/resonance/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation persists a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, sess *domain.Session) error {
	metadata := ""
	if sess.Metadata != nil {
		metadata = string(sess.Metadata)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, visitor_id, channel, status, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.VisitorID, sess.Channel, sess.Status, sess.CreatedAt, metadata)
	return err
}

// GetConversation retrieves a conversation by id. Returns nil for unknown ids.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, visitor_id, channel, status, created_at, metadata FROM conversations WHERE conversation_id = ?`,
		id).Scan(&sess.ID, &sess.VisitorID, &sess.Channel, &sess.Status, &sess.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		sess.Metadata = json.RawMessage(metadata.String)
	}
	return &sess, nil
}

// SetStatus updates the lifecycle status of a conversation.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE conversation_id = ?`,
		status, id)
	return err
}

// AppendTurn persists one turn of a conversation transcript.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID string, turn *domain.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, conversation_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, conversationID, turn.Role, turn.Content, marshalSources(turn.Sources), turn.CreatedAt)
	return err
}

// GetTurns retrieves the ordered transcript for a conversation.
func (s *SQLiteStore) GetTurns(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, role, content, sources, created_at FROM turns WHERE conversation_id = ? ORDER BY created_at ASC, turn_id ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var sources sql.NullString
		if err := rows.Scan(&turn.ID, &turn.Role, &turn.Content, &sources, &turn.CreatedAt); err != nil {
			return nil, err
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &turn.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources for turn %s: %w", turn.ID, err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
