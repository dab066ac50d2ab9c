// Package archive keeps every completed entry of every session in a
// SQLite database so past sessions can be listed and inspected.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alanmeadows/relay/internal/transcript"
)

// ErrSessionNotFound is returned for a session id the archive has never
// recorded.
var ErrSessionNotFound = errors.New("session not found")

// Session summarizes one archived session.
type Session struct {
	ID        string
	Prompt    string
	StartedAt time.Time
	UpdatedAt time.Time
	Entries   int
}

// Archive handles entry persistence.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		started_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		input TEXT,
		output TEXT,
		failed INTEGER NOT NULL DEFAULT 0,
		interrupted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, seq);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close closes the database connection
func (a *Archive) Close() error {
	return a.db.Close()
}

// Append stores e as the next entry of sessionID, registering the session
// on first use.
func (a *Archive) Append(sessionID, prompt string, e transcript.Entry) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	_, err = tx.Exec(`
		INSERT INTO sessions (id, prompt, started_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, prompt, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO entries (id, session_id, seq, input, output, failed, interrupted, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM entries WHERE session_id = ?), ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, sessionID,
		nullString(e.Input), nullString(e.Output), e.Failed, e.Interrupted, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	return tx.Commit()
}

// Sessions lists archived sessions, most recently active first.
func (a *Archive) Sessions() ([]Session, error) {
	rows, err := a.db.Query(`
		SELECT s.id, s.prompt, s.started_at, s.updated_at, COUNT(e.id)
		FROM sessions s LEFT JOIN entries e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started, updated string
		if err := rows.Scan(&s.ID, &s.Prompt, &started, &updated, &s.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = parseTime(started)
		s.UpdatedAt = parseTime(updated)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Get returns one session summary.
func (a *Archive) Get(sessionID string) (*Session, error) {
	sessions, err := a.Sessions()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == sessionID {
			return &sessions[i], nil
		}
	}
	return nil, ErrSessionNotFound
}

// Entries returns the entries of sessionID in the order they completed.
func (a *Archive) Entries(sessionID string) ([]transcript.Entry, error) {
	var exists int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	rows, err := a.db.Query(`
		SELECT input, output, failed, interrupted FROM entries
		WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []transcript.Entry
	for rows.Next() {
		var input, output sql.NullString
		var e transcript.Entry
		if err := rows.Scan(&input, &output, &e.Failed, &e.Interrupted); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if input.Valid {
			e.Input = &input.String
		}
		if output.Valid {
			e.Output = &output.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Sink returns a transcript.Sink recording entries under sessionID.
func (a *Archive) Sink(sessionID, prompt string) transcript.Sink {
	return &sink{archive: a, sessionID: sessionID, prompt: prompt}
}

type sink struct {
	mu        sync.Mutex
	archive   *Archive
	sessionID string
	prompt    string
}

func (s *sink) Append(e transcript.Entry) error {
	if e.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.Append(s.sessionID, s.prompt, e)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
