package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ehall/attic/internal/errors"
)

// IngestStats summarizes one ingestion pass.
type IngestStats struct {
	Files    int
	Records  int
	Skipped  int
	Sessions int
}

// logLine is the part of a session log record we understand. The rest of
// the schema belongs to the log writer and is ignored.
type logLine struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	CWD       string          `json:"cwd"`
	Message   json.RawMessage `json:"message"`
}

type logMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Ingest scans every *.jsonl file under each source directory and folds
// new lines into the store. Each file keeps a byte cursor, so repeated
// calls only process what was appended since the last pass and never
// duplicate records. Cancellation stops between files; completed files
// stay committed.
func (s *Store) Ingest(ctx context.Context, sources []string) (*IngestStats, error) {
	stats := &IngestStats{}
	for _, dir := range sources {
		files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
		if err != nil {
			return stats, errors.NewInternal(err)
		}
		sort.Strings(files)
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := s.ingestFile(path, stats); err != nil {
				s.logger.Warn("session file skipped", "path", path, "error", err)
			}
		}
	}
	s.logger.Info("session ingestion pass complete",
		"files", stats.Files, "records", stats.Records, "skipped", stats.Skipped)
	return stats, nil
}

func (s *Store) ingestFile(path string, stats *IngestStats) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	state, err := s.stateFor(path)
	if err != nil {
		return err
	}
	if state != nil && state.fileHash == hash {
		return nil
	}
	cursor := int64(0)
	reset := false
	if state != nil {
		cursor = state.cursor
		// A shrunk or rewritten-in-place log restarts from zero rather
		// than decoding from the middle of a record.
		if cursor > int64(len(data)) {
			cursor = 0
			reset = true
			state.messageCount = 0
			state.firstAt = ""
			state.lastAt = ""
		}
	}

	stats.Files++
	agg := newAggregate(path, state)
	offset := cursor
	lineNo := 0
	for offset < int64(len(data)) {
		// Split on the raw bytes so the cursor advances by exactly what
		// was consumed. CRLF line endings must count both bytes.
		nl := bytes.IndexByte(data[offset:], '\n')
		if nl < 0 {
			// Final line without trailing newline: likely a write in
			// flight. Leave it for the next pass.
			break
		}
		raw := data[offset : offset+int64(nl)]
		offset += int64(nl) + 1
		lineNo++
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}

		var rec logLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			stats.Skipped++
			s.logger.Debug("malformed session record",
				"error", errors.NewIngestion(path, lineNo, err.Error()))
			continue
		}
		if agg.add(rec) {
			stats.Records++
		} else {
			stats.Skipped++
		}
	}

	agg.domain = s.domainFor(agg.projectPath)
	if err := s.commitAggregate(agg, offset, hash, state == nil, reset); err != nil {
		return err
	}
	if state == nil {
		stats.Sessions++
	}
	return nil
}

// aggregate accumulates one file's worth of parsed lines before the single
// row upsert.
type aggregate struct {
	id           string
	sessionID    string
	sourcePath   string
	domain       string
	projectPath  string
	firstAt      string
	lastAt       string
	messageCount int
	newText      []string
}

func newAggregate(path string, state *sourceState) *aggregate {
	a := &aggregate{sourcePath: path}
	if state != nil {
		a.id = state.id
		a.sessionID = state.sessionID
		a.firstAt = state.firstAt
		a.lastAt = state.lastAt
		a.messageCount = state.messageCount
	}
	if a.id == "" {
		a.id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if a.sessionID == "" {
		a.sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}
	return a
}

// add folds one parsed record in. Records that are neither user nor
// assistant turns (tool results, metadata) are not counted.
func (a *aggregate) add(rec logLine) bool {
	if rec.SessionID != "" {
		a.sessionID = rec.SessionID
	}
	if rec.CWD != "" {
		a.projectPath = rec.CWD
	}
	if rec.Timestamp != "" {
		if a.firstAt == "" || rec.Timestamp < a.firstAt {
			a.firstAt = rec.Timestamp
		}
		if rec.Timestamp > a.lastAt {
			a.lastAt = rec.Timestamp
		}
	}
	if rec.Type != "user" && rec.Type != "assistant" {
		return false
	}

	var msg logMessage
	if len(rec.Message) > 0 {
		if err := json.Unmarshal(rec.Message, &msg); err != nil {
			return false
		}
	}
	if rec.Type == "user" {
		a.messageCount++
	}
	if text := extractText(msg.Content); text != "" {
		a.newText = append(a.newText, rec.Type+": "+text)
	}
	return true
}

// extractText pulls free text out of a message content field, which is
// either a plain string or an array of typed blocks.
func extractText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Store) commitAggregate(a *aggregate, cursor int64, hash string, isNew, reset bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	text := strings.Join(a.newText, "\n")

	if isNew {
		_, err := s.db.Exec(
			`INSERT INTO sessions (id, session_id, source_path, domain, project_path,
				first_at, last_at, message_count, text, file_hash, cursor_offset, indexed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.id, a.sessionID, a.sourcePath, a.domain, a.projectPath,
			a.firstAt, a.lastAt, a.messageCount, text, hash, cursor, now,
		)
		return err
	}

	if reset {
		_, err := s.db.Exec(
			`UPDATE sessions SET session_id = ?, domain = ?, project_path = ?,
				first_at = ?, last_at = ?, message_count = ?, text = ?,
				file_hash = ?, cursor_offset = ?, indexed_at = ?
			 WHERE source_path = ?`,
			a.sessionID, a.domain, a.projectPath, a.firstAt, a.lastAt,
			a.messageCount, text, hash, cursor, now, a.sourcePath,
		)
		return err
	}

	_, err := s.db.Exec(
		`UPDATE sessions SET session_id = ?, domain = ?,
			project_path = CASE WHEN ? != '' THEN ? ELSE project_path END,
			first_at = ?, last_at = ?, message_count = ?,
			text = CASE WHEN ? = '' THEN text
				WHEN text = '' THEN ?
				ELSE text || char(10) || ? END,
			file_hash = ?, cursor_offset = ?, indexed_at = ?
		 WHERE source_path = ?`,
		a.sessionID, a.domain, a.projectPath, a.projectPath,
		a.firstAt, a.lastAt, a.messageCount,
		text, text, text, hash, cursor, now, a.sourcePath,
	)
	return err
}
