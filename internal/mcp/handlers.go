package mcp

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/gateway"
	"github.com/ehall/attic/internal/index"
	"github.com/ehall/attic/internal/orchestrate"
	"github.com/ehall/attic/internal/session"
	"github.com/ehall/attic/internal/summary"
	"github.com/ehall/attic/internal/vault"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	vault     *vault.Vault
	index     *index.Index
	gateway   *gateway.Gateway
	sessions  *session.Store
	orch      *orchestrate.Orchestrator
	summaries *summary.Cache
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(v *vault.Vault, idx *index.Index, gw *gateway.Gateway, sessions *session.Store, orch *orchestrate.Orchestrator, summaries *summary.Cache) *Handlers {
	return &Handlers{vault: v, index: idx, gateway: gw, sessions: sessions, orch: orch, summaries: summaries}
}

// SearchRequest represents the arguments for attic_search.
type SearchRequest struct {
	Action    string `json:"action"`
	Query     string `json:"query,omitempty"`
	Path      string `json:"path,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Project   string `json:"project,omitempty"`
	Since     string `json:"since,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// recentHistoryEntries bounds the per-project history tail in action=context
// responses.
const recentHistoryEntries = 3

// contextProject is one matched project in an action=context response: the
// snapshot plus the tail of its history.
type contextProject struct {
	*vault.Snapshot
	RecentHistory []vault.HistoryEntry `json:"recent_history,omitempty"`
}

// SnapshotPayload is the snapshot argument of action=sync. Title and Body
// override the derived history entry, which otherwise takes both from the
// commit message.
type SnapshotPayload struct {
	Status        string   `json:"status"`
	Focus         string   `json:"focus"`
	WhyThisMatter string   `json:"why_this_matters,omitempty"`
	NextAction    string   `json:"next_action"`
	OpenQuestions []string `json:"open_questions,omitempty"`
	Blockers      []string `json:"blockers,omitempty"`
	WaitingOn     []string `json:"waiting_on,omitempty"`
	CommitMessage string   `json:"commit_message"`
	Title         string   `json:"title,omitempty"`
	Body          string   `json:"body,omitempty"`
}

// DecisionPayload is the decision argument of action=decide.
type DecisionPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// LessonPayload is the lesson argument of action=lesson.
type LessonPayload struct {
	Title        string `json:"title"`
	WhatHappened string `json:"what_happened,omitempty"`
	RootCause    string `json:"root_cause,omitempty"`
	Prevention   string `json:"prevention,omitempty"`
}

// WriteRequest represents the arguments for attic_write.
type WriteRequest struct {
	Action   string              `json:"action"`
	Domain   string              `json:"domain"`
	Project  string              `json:"project"`
	Source   string              `json:"source,omitempty"`
	Snapshot *SnapshotPayload    `json:"snapshot,omitempty"`
	Decision *DecisionPayload    `json:"decision,omitempty"`
	Entry    *vault.HistoryEntry `json:"entry,omitempty"`
	Lesson   *LessonPayload      `json:"lesson,omitempty"`
}

// HandleSearch handles the attic_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	switch input.Action {
	case "search":
		results, err := h.index.Search(ctx, index.Query{
			Text:   input.Query,
			Domain: input.Domain,
			Limit:  input.Limit,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{
			"results":     results,
			"index_state": h.index.State().String(),
		})

	case "read":
		return h.handleRead(input.Path)

	case "history":
		return h.handleHistory(input)

	case "orchestrate":
		q, err := h.orch.PrioritizedQueue(ctx, input.Domain)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(q)

	case "context":
		return h.handleContext(ctx, input)

	case "retrospective":
		return h.handleRetrospective(input)

	default:
		return errorResult(errors.NewValidation("unknown action '" + input.Action + "'")), nil
	}
}

func (h *Handlers) handleRead(path string) (*mcp.CallToolResult, error) {
	if path == "" {
		return errorResult(errors.NewValidation("'path' is required for action=read")), nil
	}
	abs := h.vault.Abs(path)
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return errorResult(errors.NewNotFound("path '" + path + "'")), nil
		}
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(map[string]any{
		"path":    h.vault.Rel(abs),
		"content": string(data),
	})
}

// historyHit is one project history entry in an action=history response.
type historyHit struct {
	Project string `json:"project"`
	Domain  string `json:"domain"`
	Date    string `json:"date"`
	Title   string `json:"title"`
	Body    string `json:"body,omitempty"`
	Source  string `json:"source,omitempty"`
}

// handleHistory scans project history streams across the vault, filtered
// by an optional substring query and a since date (day precision).
func (h *Handlers) handleHistory(input SearchRequest) (*mcp.CallToolResult, error) {
	since := ""
	if input.Since != "" {
		t, err := time.Parse("2006-01-02", input.Since)
		if err != nil {
			t, err = time.Parse(time.RFC3339, input.Since)
		}
		if err != nil {
			return errorResult(errors.NewValidation("'since' must be YYYY-MM-DD or RFC3339")), nil
		}
		since = t.UTC().Format("2006-01-02")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = index.DefaultLimit
	}
	needle := strings.ToLower(input.Query)

	domains := []string{input.Domain}
	if input.Domain == "" {
		domains = h.vault.Domains()
	}

	var hits []historyHit
	for _, domain := range domains {
		projects := []string{input.Project}
		if input.Project == "" {
			projects = h.vault.Projects(domain)
		}
		for _, project := range projects {
			for _, e := range h.vault.RecentHistory(domain, project, limit*3) {
				if needle != "" &&
					!strings.Contains(strings.ToLower(e.Title+" "+e.Body+" "+e.Focus), needle) {
					continue
				}
				if since != "" && e.Date < since {
					continue
				}
				hits = append(hits, historyHit{
					Project: project,
					Domain:  domain,
					Date:    e.Date,
					Title:   e.Title,
					Body:    e.Body,
					Source:  e.Source,
				})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Date > hits[j].Date })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return successResult(map[string]any{
		"entries":  hits,
		"returned": len(hits),
	})
}

// retrospectiveScan bounds how far back each project's history stream is
// read when assembling a period view.
const retrospectiveScan = 200

// retrospectiveProject summarizes one project's activity in the period.
type retrospectiveProject struct {
	Project    string   `json:"project"`
	Domain     string   `json:"domain"`
	Entries    int      `json:"entries"`
	StatusFlow string   `json:"status_flow"`
	Titles     []string `json:"titles"`
}

// retrospectiveLesson is one post-mortem recorded in the period.
type retrospectiveLesson struct {
	Project      string `json:"project"`
	Date         string `json:"date"`
	Title        string `json:"title"`
	WhatHappened string `json:"what_happened,omitempty"`
	RootCause    string `json:"root_cause,omitempty"`
	Prevention   string `json:"prevention,omitempty"`
}

// handleRetrospective reports what happened across the vault since a date:
// per-project history activity grouped with its status flow, plus every
// lesson recorded in the period.
func (h *Handlers) handleRetrospective(input SearchRequest) (*mcp.CallToolResult, error) {
	if input.Since == "" {
		return errorResult(errors.NewValidation("'since' is required for action=retrospective")), nil
	}
	t, err := time.Parse("2006-01-02", input.Since)
	if err != nil {
		return errorResult(errors.NewValidation("'since' must be YYYY-MM-DD")), nil
	}
	since := t.UTC().Format("2006-01-02")

	domains := []string{input.Domain}
	if input.Domain == "" {
		domains = h.vault.Domains()
	}

	var perProject []retrospectiveProject
	var lessons []retrospectiveLesson
	completed := []string{}
	stillActive := []string{}
	for _, domain := range domains {
		projects := []string{input.Project}
		if input.Project == "" {
			projects = h.vault.Projects(domain)
		}
		for _, project := range projects {
			key := domain + "/" + project

			var inPeriod []vault.HistoryEntry
			for _, e := range h.vault.RecentHistory(domain, project, retrospectiveScan) {
				if e.Date >= since {
					inPeriod = append(inPeriod, e)
				}
			}
			if len(inPeriod) > 0 {
				// RecentHistory returns newest first.
				oldest := inPeriod[len(inPeriod)-1].Status
				newest := inPeriod[0].Status
				flow := newest
				if oldest != newest {
					flow = oldest + " -> " + newest
				}
				titles := make([]string, 0, len(inPeriod))
				for _, e := range inPeriod {
					titles = append(titles, e.Title)
				}
				perProject = append(perProject, retrospectiveProject{
					Project:    key,
					Domain:     domain,
					Entries:    len(inPeriod),
					StatusFlow: flow,
					Titles:     titles,
				})
				if newest == string(vault.StatusCompleted) || newest == string(vault.StatusResolved) {
					completed = append(completed, key)
				} else {
					stillActive = append(stillActive, key)
				}
			}

			lessonsPath := h.vault.LessonsPath(domain, project)
			if vault.IsEmptyOrMissing(lessonsPath) {
				continue
			}
			_, recorded, _, err := vault.ReadJSONL[vault.LessonEntry](lessonsPath)
			if err != nil {
				continue
			}
			for _, l := range recorded {
				day := l.Date
				if len(day) >= 10 {
					day = day[:10]
				}
				if day < since {
					continue
				}
				lessons = append(lessons, retrospectiveLesson{
					Project:      key,
					Date:         day,
					Title:        l.Title,
					WhatHappened: l.WhatHappened,
					RootCause:    l.RootCause,
					Prevention:   l.Prevention,
				})
			}
		}
	}

	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Date > lessons[j].Date })
	return successResult(map[string]any{
		"period":           since + " to " + time.Now().UTC().Format("2006-01-02"),
		"projects_touched": len(perProject),
		"completed":        completed,
		"still_active":     stillActive,
		"per_project":      perProject,
		"lessons":          lessons,
	})
}

func (h *Handlers) handleContext(ctx context.Context, input SearchRequest) (*mcp.CallToolResult, error) {
	path := input.Path
	var sessionInfo map[string]any
	if path == "" && input.SessionID != "" {
		rec, err := h.sessions.Get(ctx, input.SessionID)
		if err != nil {
			return errorResult(err), nil
		}
		path = rec.ProjectPath
		sessionInfo = map[string]any{
			"session_id":    rec.SessionID,
			"started":       rec.FirstAt,
			"message_count": rec.MessageCount,
		}
		if e := h.summaries.Get(rec.SessionID); e != nil {
			sessionInfo["summary"] = e.Text
		}
	}
	if path == "" {
		return errorResult(errors.NewValidation("'path' or 'session_id' is required for action=context")), nil
	}

	m, err := h.orch.ContextFor(ctx, path)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			out := map[string]any{"matched": false}
			if sessionInfo != nil {
				out["session"] = sessionInfo
			}
			return successResult(out)
		}
		return errorResult(err), nil
	}

	projects := make([]contextProject, 0, len(m.Snapshots))
	for _, snap := range m.Snapshots {
		projects = append(projects, contextProject{
			Snapshot:      snap,
			RecentHistory: h.vault.RecentHistory(snap.Domain, snap.Project, recentHistoryEntries),
		})
	}
	out := map[string]any{
		"matched":   true,
		"domain":    m.Domain,
		"snapshots": projects,
	}
	if sessionInfo != nil {
		out["session"] = sessionInfo
	}
	return successResult(out)
}

// HandleWrite handles the attic_write tool call.
func (h *Handlers) HandleWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WriteRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	ref := gateway.Ref{Domain: input.Domain, Project: input.Project}

	switch input.Action {
	case "sync":
		if input.Snapshot == nil {
			return errorResult(errors.NewValidation("'snapshot' is required for action=sync")), nil
		}
		snap := &vault.Snapshot{
			Status:        vault.ParseStatus(input.Snapshot.Status),
			Focus:         input.Snapshot.Focus,
			WhyThisMatter: input.Snapshot.WhyThisMatter,
			NextAction:    input.Snapshot.NextAction,
			OpenQuestions: input.Snapshot.OpenQuestions,
			Blockers:      input.Snapshot.Blockers,
			WaitingOn:     input.Snapshot.WaitingOn,
			CommitMessage: input.Snapshot.CommitMessage,
			Source:        input.Source,
		}
		var override *gateway.HistoryOverride
		if input.Snapshot.Title != "" || input.Snapshot.Body != "" {
			override = &gateway.HistoryOverride{
				Title: input.Snapshot.Title,
				Body:  input.Snapshot.Body,
			}
		}
		res, err := h.gateway.ReplaceSnapshot(ctx, ref, snap, override)
		if err != nil {
			return errorResult(err), nil
		}
		out := map[string]any{
			"written":          true,
			"history_appended": res.HistoryAppended,
		}
		if res.HistoryErr != nil {
			out["history_error"] = res.HistoryErr.Error()
		}
		return successResult(out)

	case "decide":
		if input.Decision == nil {
			return errorResult(errors.NewValidation("'decision' is required for action=decide")), nil
		}
		err := h.gateway.PrependDecision(ctx, ref, gateway.Decision{
			Title:  input.Decision.Title,
			Body:   input.Decision.Body,
			Source: input.Source,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"written": true})

	case "append_history":
		if input.Entry == nil {
			return errorResult(errors.NewValidation("'entry' is required for action=append_history")), nil
		}
		entry := *input.Entry
		if entry.Source == "" {
			entry.Source = input.Source
		}
		if err := h.gateway.AppendHistory(ctx, ref, entry); err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"written": true})

	case "lesson":
		if input.Lesson == nil {
			return errorResult(errors.NewValidation("'lesson' is required for action=lesson")), nil
		}
		err := h.gateway.AppendLesson(ctx, ref, vault.LessonEntry{
			Title:        input.Lesson.Title,
			WhatHappened: input.Lesson.WhatHappened,
			RootCause:    input.Lesson.RootCause,
			Prevention:   input.Lesson.Prevention,
			Source:       input.Source,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"written": true})

	default:
		return errorResult(errors.NewValidation("unknown action '" + input.Action + "'")), nil
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to the client.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if aErr, ok := err.(*errors.AtticError); ok {
		errorObj := map[string]any{
			"code":    aErr.Code,
			"message": aErr.Message,
			"status":  aErr.Status,
		}
		if aErr.Code != errors.ErrInternal && aErr.Details != nil {
			errorObj["details"] = aErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
