package orchestrate

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ehall/attic/internal/config"
	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

// recentWindow bounds the completed-recently bucket: projects finished
// longer ago than this stay out of the queue.
const recentWindow = 14 * 24 * time.Hour

// Queue is the prioritized work queue over every project snapshot.
type Queue struct {
	Now               *vault.Snapshot   `json:"now,omitempty"`
	Active            []*vault.Snapshot `json:"active"`
	Blocked           []*vault.Snapshot `json:"blocked"`
	CompletedRecently []*vault.Snapshot `json:"completed_recently"`
}

// Orchestrator is a read-time aggregation over the vault and the
// configured domains. It holds no state of its own.
type Orchestrator struct {
	vault  *vault.Vault
	cfg    *config.Config
	logger *slog.Logger
}

// New returns an orchestrator over v.
func New(v *vault.Vault, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{vault: v, cfg: cfg, logger: logger}
}

// PrioritizedQueue scans every project snapshot and buckets them by
// status, most recently updated first within each bucket. The first active
// project is the "now" pointer. Unreadable or missing snapshots are
// skipped; a broken file in one project never hides the rest.
func (o *Orchestrator) PrioritizedQueue(ctx context.Context, domain string) (*Queue, error) {
	q := &Queue{}
	domains := o.vault.Domains()
	if domain != "" {
		domains = []string{domain}
	}

	for _, d := range domains {
		for _, p := range o.vault.Projects(d) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			snap := o.readSnapshot(d, p)
			if snap == nil {
				continue
			}
			o.bucket(q, snap)
		}
	}

	byUpdated := func(snaps []*vault.Snapshot) {
		sort.SliceStable(snaps, func(i, j int) bool {
			return snaps[i].Updated.After(snaps[j].Updated)
		})
	}
	byUpdated(q.Active)
	byUpdated(q.Blocked)
	byUpdated(q.CompletedRecently)

	if len(q.Active) > 0 {
		q.Now = q.Active[0]
	}
	return q, nil
}

func (o *Orchestrator) readSnapshot(domain, project string) *vault.Snapshot {
	path := o.vault.StatePath(domain, project)
	f, err := vault.ReadFile(o.vault, path)
	if err != nil {
		o.logger.Debug("skipping project without readable snapshot", "project", domain+"/"+project, "error", err)
		return nil
	}
	snap := vault.ParseSnapshot(f)
	snap.Domain, snap.Project = domain, project
	return snap
}

// bucket places snap into the queue. Paused and abandoned projects are
// deliberate exits and stay out entirely, as do empty seeds that carry
// neither a focus nor a next action.
func (o *Orchestrator) bucket(q *Queue, snap *vault.Snapshot) {
	if strings.TrimSpace(snap.Focus) == "" && strings.TrimSpace(snap.NextAction) == "" {
		return
	}
	switch snap.Status {
	case vault.StatusActive:
		q.Active = append(q.Active, snap)
	case vault.StatusBlocked:
		q.Blocked = append(q.Blocked, snap)
	case vault.StatusCompleted, vault.StatusResolved:
		if !snap.Updated.IsZero() && time.Since(snap.Updated) <= recentWindow {
			q.CompletedRecently = append(q.CompletedRecently, snap)
		}
	}
}

// Match is the result of resolving a filesystem path to a domain.
type Match struct {
	Domain    string
	Snapshots []*vault.Snapshot
}

// ContextFor resolves path against the configured domain paths and returns
// the active snapshots of the matched domain. An unmatched path returns
// NOT_FOUND rather than guessing a default.
func (o *Orchestrator) ContextFor(ctx context.Context, path string) (*Match, error) {
	domain := o.cfg.DomainForPath(path)
	if domain == "" {
		return nil, errors.NewNotFound("no domain configured for path '" + path + "'")
	}

	q, err := o.PrioritizedQueue(ctx, domain)
	if err != nil {
		return nil, err
	}
	return &Match{Domain: domain, Snapshots: q.Active}, nil
}
