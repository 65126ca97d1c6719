package session

import (
	"context"
	"strings"
	"time"

	"github.com/ehall/attic/internal/errors"
)

// Filter narrows a history query. Zero values match everything. Query is
// a case-insensitive substring match over the extracted conversation text.
type Filter struct {
	Query   string
	Domain  string
	Project string
	Since   time.Time
	Limit   int
}

// DefaultHistoryLimit caps QueryHistory results when the filter does not.
const DefaultHistoryLimit = 20

// QueryHistory returns ingested sessions matching f, most recent first.
// Project matches against the session's working directory suffix, so
// "attic" finds sessions run in any .../attic checkout.
func (s *Store) QueryHistory(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	since := ""
	if !f.Since.IsZero() {
		since = f.Since.UTC().Format(time.RFC3339)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, source_path, domain, project_path,
			first_at, last_at, message_count, text
		 FROM sessions
		 WHERE (? = '' OR domain = ?)
		   AND (? = '' OR last_at >= ?)
		   AND (? = '' OR text LIKE '%' || ? || '%')
		 ORDER BY last_at DESC, id DESC
		 LIMIT ?`,
		f.Domain, f.Domain, since, since, f.Query, f.Query, limit*4,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var firstAt, lastAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SourcePath, &r.Domain,
			&r.ProjectPath, &firstAt, &lastAt, &r.MessageCount, &r.Text); err != nil {
			return nil, errors.NewInternal(err)
		}
		if f.Project != "" && !matchesProject(r.ProjectPath, f.Project) {
			continue
		}
		r.FirstAt = parseWhen(firstAt)
		r.LastAt = parseWhen(lastAt)
		records = append(records, r)
		if len(records) >= limit {
			break
		}
	}
	return records, rows.Err()
}

// Get returns one session by its session id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	var r Record
	var firstAt, lastAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, source_path, domain, project_path,
			first_at, last_at, message_count, text
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&r.ID, &r.SessionID, &r.SourcePath, &r.Domain, &r.ProjectPath,
		&firstAt, &lastAt, &r.MessageCount, &r.Text)
	if err != nil {
		return nil, errors.NewNotFound("session '" + sessionID + "'")
	}
	r.FirstAt = parseWhen(firstAt)
	r.LastAt = parseWhen(lastAt)
	return &r, nil
}

// Pending returns sessions last active after cutoff, most recent first,
// for the summarization runner.
func (s *Store) Pending(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return s.QueryHistory(ctx, Filter{Since: cutoff, Limit: 100})
}

func matchesProject(projectPath, project string) bool {
	base := strings.TrimSuffix(projectPath, "/")
	return strings.EqualFold(base, project) ||
		strings.HasSuffix(strings.ToLower(base), "/"+strings.ToLower(project))
}

func parseWhen(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
