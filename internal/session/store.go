package session

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ehall/attic/internal/db"
)

const schemaVersion = 1

// Record is one ingested session. Immutable from the caller's point of
// view; ingestion itself advances the cursor and appends extracted text as
// the source log grows.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	SourcePath   string    `json:"source_path"`
	Domain       string    `json:"domain,omitempty"`
	ProjectPath  string    `json:"project_path,omitempty"`
	FirstAt      time.Time `json:"first_at"`
	LastAt       time.Time `json:"last_at"`
	MessageCount int       `json:"message_count"`
	Text         string    `json:"text,omitempty"`
}

// Store persists ingested session records. Like the index, it is derived
// state: sessions.db can be deleted and re-ingested from the source logs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// domainFor maps a session's working directory to a configured
	// domain, "" when none matches.
	domainFor func(path string) string
}

// Open opens (creating if needed) the session database at dbPath.
func Open(dbPath string, domainFor func(string) string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if domainFor == nil {
		domainFor = func(string) string { return "" }
	}
	conn, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn, logger: logger, domainFor: domainFor}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for pool configuration.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	version, err := db.GetUserVersion(s.db)
	if err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		source_path   TEXT NOT NULL UNIQUE,
		domain        TEXT NOT NULL DEFAULT '',
		project_path  TEXT NOT NULL DEFAULT '',
		first_at      TEXT NOT NULL DEFAULT '',
		last_at       TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		text          TEXT NOT NULL DEFAULT '',
		file_hash     TEXT NOT NULL DEFAULT '',
		cursor_offset INTEGER NOT NULL DEFAULT 0,
		indexed_at    TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("session migration: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_domain ON sessions(domain, last_at)`); err != nil {
		return err
	}
	return db.SetUserVersion(s.db, schemaVersion)
}

// sourceState is the stored ingestion cursor for one log file.
type sourceState struct {
	id           string
	sessionID    string
	cursor       int64
	fileHash     string
	messageCount int
	firstAt      string
	lastAt       string
}

func (s *Store) stateFor(sourcePath string) (*sourceState, error) {
	st := &sourceState{}
	err := s.db.QueryRow(
		`SELECT id, session_id, cursor_offset, file_hash, message_count, first_at, last_at
		 FROM sessions WHERE source_path = ?`, sourcePath,
	).Scan(&st.id, &st.sessionID, &st.cursor, &st.fileHash, &st.messageCount, &st.firstAt, &st.lastAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
