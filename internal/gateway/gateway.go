package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

// DefaultLockTimeout bounds how long a mutation waits for a busy file
// before giving up with CONFLICT.
const DefaultLockTimeout = 5 * time.Second

// Lock kinds. Each structured file of a project has its own lock, so a
// slow decision rewrite never blocks a history append.
const (
	kindState     = "state"
	kindDecisions = "decisions"
	kindHistory   = "history"
	kindLessons   = "lessons"
)

// Ref identifies a project inside the vault.
type Ref struct {
	Domain  string
	Project string
}

// Validate rejects refs whose components are empty or would escape the
// vault tree.
func (r Ref) Validate() error {
	if err := vault.ValidateName(r.Domain); err != nil {
		return errors.NewValidation("invalid domain: " + err.Error())
	}
	if err := vault.ValidateName(r.Project); err != nil {
		return errors.NewValidation("invalid project: " + err.Error())
	}
	return nil
}

func (r Ref) String() string {
	return r.Domain + "/" + r.Project
}

func (r Ref) lockKey(kind string) string {
	return r.Domain + "/" + r.Project + "/" + kind
}

// Gateway is the single write path into the vault. All mutations go
// through it so per-file locking and atomic write discipline hold no
// matter which surface (MCP, CLI, session ingestion) initiated the write.
type Gateway struct {
	vault       *vault.Vault
	locks       *lockTable
	autoCreate  bool
	lockTimeout time.Duration
	logger      *slog.Logger
}

// New returns a Gateway over v. When autoCreate is false, writes to a
// project whose directory does not exist fail with NOT_FOUND.
func New(v *vault.Vault, autoCreate bool, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		vault:       v,
		locks:       newLockTable(),
		autoCreate:  autoCreate,
		lockTimeout: DefaultLockTimeout,
		logger:      logger,
	}
}

func (g *Gateway) ensureProject(ref Ref) error {
	if g.vault.ProjectExists(ref.Domain, ref.Project) {
		return nil
	}
	if !g.autoCreate {
		return errors.NewNotFound("project '" + ref.String() + "'")
	}
	g.logger.Info("creating project directory", "project", ref.String())
	return g.vault.EnsureProject(ref.Domain, ref.Project)
}

// SnapshotResult reports the outcome of ReplaceSnapshot. The snapshot
// write either fully succeeded or the call errored; the derived history
// append is best-effort and its failure is reported here instead of
// failing the call. Callers that care retry just the append via
// AppendHistory.
type SnapshotResult struct {
	HistoryAppended bool
	HistoryErr      error
}

// HistoryOverride customizes the history entry derived from a snapshot
// replace. Empty fields keep the default, the commit message.
type HistoryOverride struct {
	Title string
	Body  string
}

// ReplaceSnapshot validates snap, atomically replaces the project's
// current_state.md, and appends a derived history entry. The entry's
// title and body default to the commit message; override, when non-nil,
// substitutes explicit values.
func (g *Gateway) ReplaceSnapshot(ctx context.Context, ref Ref, snap *vault.Snapshot, override *HistoryOverride) (*SnapshotResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := g.ensureProject(ref); err != nil {
		return nil, err
	}

	snap.Domain = ref.Domain
	snap.Project = ref.Project
	if snap.Updated.IsZero() {
		snap.Updated = time.Now()
	}
	content, err := snap.Render()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	release, err := g.locks.acquire(ctx, ref.lockKey(kindState), g.lockTimeout)
	if err != nil {
		return nil, err
	}
	if err := vault.WriteFileAtomic(g.vault.StatePath(ref.Domain, ref.Project), []byte(content)); err != nil {
		release()
		return nil, errors.NewInternal(err)
	}
	release()
	g.logger.Info("snapshot replaced", "project", ref.String(), "status", snap.Status, "source", snap.Source)

	res := &SnapshotResult{}
	title := snap.CommitMessage
	body := snap.CommitMessage
	if override != nil {
		if override.Title != "" {
			title = override.Title
		}
		if override.Body != "" {
			body = override.Body
		}
	}
	entry := vault.HistoryEntry{
		Date:       snap.Updated.Format(time.RFC3339),
		Title:      title,
		Status:     string(snap.Status),
		Focus:      snap.Focus,
		NextAction: snap.NextAction,
		Commit:     snap.CommitMessage,
		Body:       body,
		Source:     snap.Source,
	}
	if err := g.AppendHistory(ctx, ref, entry); err != nil {
		g.logger.Warn("derived history append failed", "project", ref.String(), "error", err)
		res.HistoryErr = err
	} else {
		res.HistoryAppended = true
	}
	return res, nil
}

// AppendHistory appends one event record to the project's history.jsonl.
func (g *Gateway) AppendHistory(ctx context.Context, ref Ref, entry vault.HistoryEntry) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := g.ensureProject(ref); err != nil {
		return err
	}
	if entry.Date == "" {
		entry.Date = time.Now().Format(time.RFC3339)
	}

	release, err := g.locks.acquire(ctx, ref.lockKey(kindHistory), g.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := vault.AppendJSONL(g.vault.HistoryPath(ref.Domain, ref.Project), vault.HistorySchema, entry); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// AppendLesson appends one post-mortem record to the project's
// lessons.jsonl.
func (g *Gateway) AppendLesson(ctx context.Context, ref Ref, entry vault.LessonEntry) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if entry.Title == "" {
		return errors.NewValidation("'title' is required for a lesson")
	}
	if err := g.ensureProject(ref); err != nil {
		return err
	}
	if entry.Date == "" {
		entry.Date = time.Now().Format(time.RFC3339)
	}

	release, err := g.locks.acquire(ctx, ref.lockKey(kindLessons), g.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := vault.AppendJSONL(g.vault.LessonsPath(ref.Domain, ref.Project), vault.LessonsSchema, entry); err != nil {
		return errors.NewInternal(err)
	}
	g.logger.Info("lesson recorded", "project", ref.String(), "title", entry.Title)
	return nil
}
