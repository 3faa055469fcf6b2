package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/store"
)

const (
	sessionNamePrefix = "Session"
	maxSessionNameLen = 72
	maxPreviewLen     = 140
)

// SessionStore is the subset of store.Store needed for session lifecycle.
type SessionStore interface {
	UpsertSession(ctx context.Context, session *models.AgentSession) error
	GetSession(ctx context.Context, person, id string) (*models.AgentSession, error)
	ListSessions(ctx context.Context, person string) ([]*models.SessionSummary, error)
	DeleteSession(ctx context.Context, person, id string) (bool, error)
	DeleteAllSessions(ctx context.Context, person string) (int64, error)
	AppendItems(ctx context.Context, person, sessionID string, items []*models.ConversationItem) error
	ListItems(ctx context.Context, person, sessionID string) ([]*models.ConversationItem, error)
}

// touchSession creates the session on first use, naming it after the first
// message, and otherwise bumps its last-used time and runtime mode.
func (s *Service) touchSession(ctx context.Context, person, id, firstMessage string, mode models.RuntimeMode) error {
	session := &models.AgentSession{
		ID:          id,
		Person:      person,
		RuntimeMode: mode,
		LastUsedAt:  time.Now().UTC(),
	}
	_, err := s.store.GetSession(ctx, person, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing, err := s.store.ListSessions(ctx, person)
		if err != nil {
			return err
		}
		session.Name = sessionName(firstMessage, len(existing)+1)
	case err != nil:
		return err
	}
	return s.store.UpsertSession(ctx, session)
}

// ClearSession removes one session and its history. Unknown ids are not an
// error. A session with a run in flight cannot be cleared.
func (s *Service) ClearSession(ctx context.Context, person, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	key := sessionKey(person, id)

	s.mu.Lock()
	if runID, busy := s.busy[key]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %q (run %s)", ErrSessionBusy, id, runID)
	}
	delete(s.awaiting, key)
	s.mu.Unlock()

	if _, err := s.store.DeleteSession(ctx, person, id); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ClearAllSessions removes every session of person. It refuses while any of
// them has a run in flight.
func (s *Service) ClearAllSessions(ctx context.Context, person string) (int64, error) {
	prefix := sessionKey(person, "")

	s.mu.Lock()
	for key, runID := range s.busy {
		if strings.HasPrefix(key, prefix) {
			s.mu.Unlock()
			return 0, fmt.Errorf("%w: run %s is active", ErrSessionBusy, runID)
		}
	}
	for key := range s.awaiting {
		if strings.HasPrefix(key, prefix) {
			delete(s.awaiting, key)
		}
	}
	s.mu.Unlock()

	n, err := s.store.DeleteAllSessions(ctx, person)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return n, nil
}

// ListSessions returns person's sessions, most recently used first.
func (s *Service) ListSessions(ctx context.Context, person string) ([]*models.SessionSummary, error) {
	sessions, err := s.store.ListSessions(ctx, person)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*models.SessionSummary{}
	}
	for _, sum := range sessions {
		sum.LastPreview = clip(sum.LastPreview, maxPreviewLen)
	}
	return sessions, nil
}

// GetConversationHistory returns the ordered history of one session. An
// unknown session has an empty history.
func (s *Service) GetConversationHistory(ctx context.Context, person, id string) ([]*models.ConversationItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	items, err := s.store.ListItems(ctx, person, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.ConversationItem{}
	}
	return items, nil
}

func sessionName(message string, seq int) string {
	name := strings.Join(strings.Fields(message), " ")
	if name == "" {
		return fmt.Sprintf("%s %d", sessionNamePrefix, seq)
	}
	return clip(name, maxSessionNameLen)
}

// clip collapses whitespace and shortens s to at most n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
