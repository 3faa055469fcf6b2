package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes access and avoids "database is locked" under concurrent runs.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

// UpsertSession creates the session or updates its name, runtime mode and
// last-used time. CreatedAt is kept from the first insert.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *models.AgentSession) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastUsedAt.IsZero() {
		session.LastUsedAt = now
	}
	if session.RuntimeMode == "" {
		session.RuntimeMode = models.RuntimeGateway
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (id, person, name, runtime_mode, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person, id) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN agent_sessions.name ELSE excluded.name END,
			runtime_mode = excluded.runtime_mode,
			last_used_at = excluded.last_used_at`,
		session.ID, session.Person, session.Name, string(session.RuntimeMode),
		session.CreatedAt, session.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, person, id string) (*models.AgentSession, error) {
	session := &models.AgentSession{Person: person}
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, runtime_mode, created_at, last_used_at
		FROM agent_sessions WHERE person = ? AND id = ?`, person, id,
	).Scan(&session.ID, &session.Name, &mode, &session.CreatedAt, &session.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session: %w", err)
	}
	session.RuntimeMode = models.RuntimeMode(mode)
	return session, nil
}

// ListSessions returns person's sessions, most recently used first, with
// their message count and the content of the last message.
func (s *SQLiteStore) ListSessions(ctx context.Context, person string) ([]*models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.runtime_mode, s.created_at, s.last_used_at,
			(SELECT COUNT(*) FROM conversation_items c
				WHERE c.person = s.person AND c.session_id = s.id AND c.type = 'message'),
			COALESCE((SELECT c.content FROM conversation_items c
				WHERE c.person = s.person AND c.session_id = s.id AND c.type = 'message'
				ORDER BY c.seq DESC LIMIT 1), '')
		FROM agent_sessions s
		WHERE s.person = ?
		ORDER BY s.last_used_at DESC, s.id DESC`, person,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.SessionSummary
	for rows.Next() {
		sum := &models.SessionSummary{}
		sum.Person = person
		var mode string
		if err := rows.Scan(&sum.ID, &sum.Name, &mode, &sum.CreatedAt, &sum.LastUsedAt,
			&sum.MessageCount, &sum.LastPreview); err != nil {
			return nil, fmt.Errorf("scan agent session: %w", err)
		}
		sum.RuntimeMode = models.RuntimeMode(mode)
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// DeleteSession removes one session and its history. It reports whether
// the session existed.
func (s *SQLiteStore) DeleteSession(ctx context.Context, person, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_items WHERE person = ? AND session_id = ?`, person, id); err != nil {
		return false, fmt.Errorf("delete conversation items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agent_sessions WHERE person = ? AND id = ?`, person, id)
	if err != nil {
		return false, fmt.Errorf("delete agent session: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// DeleteAllSessions removes every session of person and returns how many
// there were.
func (s *SQLiteStore) DeleteAllSessions(ctx context.Context, person string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_items WHERE person = ?`, person); err != nil {
		return 0, fmt.Errorf("delete conversation items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agent_sessions WHERE person = ?`, person)
	if err != nil {
		return 0, fmt.Errorf("delete agent sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// --- Conversation items ---

// AppendItems stores items after the session's existing history, assigning
// ids, sequence numbers and missing timestamps. The session must exist.
func (s *SQLiteStore) AppendItems(ctx context.Context, person, sessionID string, items []*models.ConversationItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_items WHERE person = ? AND session_id = ?`,
		person, sessionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	now := time.Now().UTC()
	for _, item := range items {
		next++
		if item.ID == "" {
			item.ID = newULID()
		}
		item.Person = person
		item.SessionID = sessionID
		item.Seq = next
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}

		args := ""
		if item.Args != nil {
			data, err := json.Marshal(item.Args)
			if err != nil {
				return fmt.Errorf("encode args: %w", err)
			}
			args = string(data)
		}
		var ok sql.NullInt64
		if item.OK != nil {
			ok = sql.NullInt64{Int64: int64(boolToInt(*item.OK)), Valid: true}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_items (id, person, session_id, seq, type, role, content, run_id, tool, args, ok, summary, message, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, person, sessionID, item.Seq, string(item.Type), item.Role, item.Content,
			item.RunID, item.Tool, args, ok, item.Summary, item.Message, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert conversation item: %w", err)
		}
	}
	return tx.Commit()
}

// ListItems returns a session's history in order.
func (s *SQLiteStore) ListItems(ctx context.Context, person, sessionID string) ([]*models.ConversationItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, type, role, content, run_id, tool, args, ok, summary, message, ts
		FROM conversation_items WHERE person = ? AND session_id = ? ORDER BY seq`,
		person, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.ConversationItem
	for rows.Next() {
		item := &models.ConversationItem{Person: person, SessionID: sessionID}
		var typ, args string
		var ok sql.NullInt64
		if err := rows.Scan(&item.ID, &item.Seq, &typ, &item.Role, &item.Content, &item.RunID,
			&item.Tool, &args, &ok, &item.Summary, &item.Message, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation item: %w", err)
		}
		item.Type = models.ItemType(typ)
		if args != "" {
			if err := json.Unmarshal([]byte(args), &item.Args); err != nil {
				return nil, fmt.Errorf("decode args of item %s: %w", item.ID, err)
			}
		}
		if ok.Valid {
			b := ok.Int64 != 0
			item.OK = &b
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
