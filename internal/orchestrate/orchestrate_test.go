package orchestrate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ehall/attic/internal/config"
	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *vault.Vault) {
	t.Helper()
	v := vault.New(t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Domains = []config.DomainConfig{
		{Name: "work", Paths: []string{"/home/e/work/**"}},
		{Name: "personal", Paths: []string{"/home/e/personal/**"}},
	}
	o := New(v, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return o, v
}

func seed(t *testing.T, v *vault.Vault, domain, project string, status vault.Status, focus string, updated time.Time) {
	t.Helper()
	snap := &vault.Snapshot{
		Domain: domain, Project: project,
		Status: status, Focus: focus,
		NextAction: "next step", CommitMessage: "wip",
		Updated: updated,
	}
	content, err := snap.Render()
	if err != nil {
		t.Fatal(err)
	}
	if err := v.EnsureProject(domain, project); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(v.StatePath(domain, project), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPrioritizedQueueBuckets(t *testing.T) {
	o, v := testOrchestrator(t)
	now := time.Now()
	seed(t, v, "work", "alpha", vault.StatusActive, "alpha focus", now.Add(-2*time.Hour))
	seed(t, v, "work", "beta", vault.StatusActive, "beta focus", now.Add(-time.Hour))
	seed(t, v, "work", "gamma", vault.StatusBlocked, "gamma focus", now.Add(-time.Hour))
	seed(t, v, "work", "done", vault.StatusCompleted, "shipped", now.Add(-24*time.Hour))
	seed(t, v, "work", "ancient", vault.StatusResolved, "old news", now.Add(-30*24*time.Hour))
	seed(t, v, "work", "shelved", vault.StatusPaused, "someday", now)
	seed(t, v, "personal", "taxes", vault.StatusActive, "file them", now.Add(-3*time.Hour))

	q, err := o.PrioritizedQueue(context.Background(), "")
	if err != nil {
		t.Fatalf("PrioritizedQueue: %v", err)
	}

	if len(q.Active) != 3 {
		t.Fatalf("active = %d projects, want 3", len(q.Active))
	}
	// Most recently updated first across domains.
	if q.Active[0].Project != "beta" || q.Active[1].Project != "alpha" || q.Active[2].Project != "taxes" {
		t.Errorf("active order: %s, %s, %s", q.Active[0].Project, q.Active[1].Project, q.Active[2].Project)
	}
	if q.Now == nil || q.Now.Project != "beta" {
		t.Errorf("now pointer = %+v, want beta", q.Now)
	}
	if len(q.Blocked) != 1 || q.Blocked[0].Project != "gamma" {
		t.Errorf("blocked = %+v", q.Blocked)
	}
	if len(q.CompletedRecently) != 1 || q.CompletedRecently[0].Project != "done" {
		t.Errorf("completed recently = %+v", q.CompletedRecently)
	}
	for _, s := range q.Active {
		if s.Project == "shelved" {
			t.Error("paused project appeared in the queue")
		}
	}
}

func TestPrioritizedQueueDomainFilter(t *testing.T) {
	o, v := testOrchestrator(t)
	now := time.Now()
	seed(t, v, "work", "alpha", vault.StatusActive, "x", now)
	seed(t, v, "personal", "taxes", vault.StatusActive, "y", now)

	q, err := o.PrioritizedQueue(context.Background(), "personal")
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Active) != 1 || q.Active[0].Project != "taxes" {
		t.Errorf("domain filter: %+v", q.Active)
	}
}

func TestPrioritizedQueueSkipsEmptySeeds(t *testing.T) {
	o, v := testOrchestrator(t)
	if err := v.EnsureProject("work", "seed"); err != nil {
		t.Fatal(err)
	}
	content := "---\ntype: project\nstatus: active\n---\n\n# seed\n"
	if err := os.WriteFile(v.StatePath("work", "seed"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	q, err := o.PrioritizedQueue(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Active) != 0 {
		t.Errorf("empty seed entered the queue: %+v", q.Active)
	}
}

func TestPrioritizedQueueToleratesMissingSnapshot(t *testing.T) {
	o, v := testOrchestrator(t)
	now := time.Now()
	seed(t, v, "work", "alpha", vault.StatusActive, "x", now)
	seed(t, v, "work", "broken", vault.StatusActive, "y", now)
	if err := os.Remove(v.StatePath("work", "broken")); err != nil {
		t.Fatal(err)
	}

	q, err := o.PrioritizedQueue(context.Background(), "")
	if err != nil {
		t.Fatalf("missing snapshot was fatal: %v", err)
	}
	if len(q.Active) != 1 || q.Active[0].Project != "alpha" {
		t.Errorf("queue = %+v", q.Active)
	}
}

func TestContextFor(t *testing.T) {
	o, v := testOrchestrator(t)
	seed(t, v, "work", "alpha", vault.StatusActive, "x", time.Now())

	m, err := o.ContextFor(context.Background(), "/home/e/work/alpha")
	if err != nil {
		t.Fatalf("ContextFor: %v", err)
	}
	if m.Domain != "work" || len(m.Snapshots) != 1 {
		t.Errorf("match = %+v", m)
	}

	_, err = o.ContextFor(context.Background(), "/somewhere/else")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unmatched path: err = %v, want NOT_FOUND", err)
	}
}
