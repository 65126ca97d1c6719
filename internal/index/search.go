package index

import (
	"context"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/ehall/attic/internal/errors"
)

// DefaultLimit is the result cap when a query does not set one.
const DefaultLimit = 5

// fuzzyThreshold is the result count below which the approximate-match
// fallback pass runs.
const fuzzyThreshold = 3

// Tier distinguishes how a result matched.
type Tier string

const (
	TierExact Tier = "exact"
	TierFuzzy Tier = "fuzzy"
)

// Query is a search request. Domain is an optional filter.
type Query struct {
	Text   string
	Domain string
	Limit  int
}

// Result is one ranked search hit.
type Result struct {
	Path    string `json:"path"`
	Domain  string `json:"domain"`
	Project string `json:"project"`
	Status  string `json:"status,omitempty"`
	Summary string `json:"summary,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Tier    Tier   `json:"tier"`
}

// Search runs a ranked full-text search. An empty query returns no
// results. When the exact pass yields fewer than a handful of hits, an
// approximate pass over paths and summaries fills in lower-tier matches.
func (i *Index) Search(ctx context.Context, q Query) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	results, err := i.searchExact(ctx, text, q.Domain, limit)
	if err != nil {
		return nil, err
	}
	if len(results) >= fuzzyThreshold || len(results) >= limit {
		return results, nil
	}

	fuzzyHits, err := i.searchFuzzy(ctx, text, q.Domain, results, limit-len(results))
	if err != nil {
		// The exact results are still good; an approximate-pass failure
		// only costs the extras.
		i.logger.Warn("fuzzy search pass failed", "error", err)
		return results, nil
	}
	return append(results, fuzzyHits...), nil
}

func (i *Index) searchExact(ctx context.Context, text, domain string, limit int) ([]Result, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT s.path, m.domain, m.project, m.status, m.summary,
		        snippet(vault_search, 6, '', '', ' … ', 16)
		 FROM vault_search s
		 JOIN vault_meta m ON m.path = s.path
		 WHERE vault_search MATCH ?
		   AND (? = '' OR m.domain = ?)
		 ORDER BY rank, s.path
		 LIMIT ?`,
		ftsQuery(text), domain, domain, limit,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{Tier: TierExact}
		if err := rows.Scan(&r.Path, &r.Domain, &r.Project, &r.Status, &r.Summary, &r.Snippet); err != nil {
			return nil, errors.NewInternal(err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery turns free text into an FTS5 MATCH expression: each token
// quoted so user input cannot inject MATCH syntax.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

type fuzzyCandidates struct {
	rows []Result
}

func (c fuzzyCandidates) String(i int) string {
	return c.rows[i].Path + " " + c.rows[i].Summary
}
func (c fuzzyCandidates) Len() int { return len(c.rows) }

func (i *Index) searchFuzzy(ctx context.Context, text, domain string, seen []Result, limit int) ([]Result, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT path, domain, project, status, summary FROM vault_meta
		 WHERE (? = '' OR domain = ?) ORDER BY path`,
		domain, domain,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands fuzzyCandidates
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Path, &r.Domain, &r.Project, &r.Status, &r.Summary); err != nil {
			return nil, err
		}
		cands.rows = append(cands.rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(seen))
	for _, r := range seen {
		taken[r.Path] = true
	}

	var results []Result
	for _, m := range fuzzy.FindFrom(text, cands) {
		if len(results) >= limit {
			break
		}
		r := cands.rows[m.Index]
		if taken[r.Path] {
			continue
		}
		taken[r.Path] = true
		r.Tier = TierFuzzy
		r.Snippet = r.Summary
		results = append(results, r)
	}
	return results, nil
}
