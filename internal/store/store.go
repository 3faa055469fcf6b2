package store

import (
	"context"
	"errors"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
)

// ErrNotFound is returned when a person-scoped record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for agent sessions. Every lookup
// is scoped by person; ids of another person are indistinguishable from
// missing ones.
type Store interface {
	// Sessions
	UpsertSession(ctx context.Context, session *models.AgentSession) error
	GetSession(ctx context.Context, person, id string) (*models.AgentSession, error)
	ListSessions(ctx context.Context, person string) ([]*models.SessionSummary, error)
	DeleteSession(ctx context.Context, person, id string) (bool, error)
	DeleteAllSessions(ctx context.Context, person string) (int64, error)

	// Conversation history
	AppendItems(ctx context.Context, person, sessionID string, items []*models.ConversationItem) error
	ListItems(ctx context.Context, person, sessionID string) ([]*models.ConversationItem, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
