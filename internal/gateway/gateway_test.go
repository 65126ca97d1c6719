package gateway

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

func testGateway(t *testing.T, autoCreate bool) (*Gateway, *vault.Vault) {
	t.Helper()
	v := vault.New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(v, autoCreate, logger), v
}

func testRef() Ref { return Ref{Domain: "coding", Project: "attic"} }

func validSnapshot() *vault.Snapshot {
	return &vault.Snapshot{
		Status:        vault.StatusActive,
		Focus:         "gateway locking",
		NextAction:    "add the decision log path",
		CommitMessage: "gateway: per-file locks",
		Source:        "code",
	}
}

func TestReplaceSnapshotWritesStateAndHistory(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()

	res, err := g.ReplaceSnapshot(context.Background(), ref, validSnapshot(), nil)
	if err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	if !res.HistoryAppended || res.HistoryErr != nil {
		t.Errorf("result = %+v, want history appended", res)
	}

	f, err := vault.ReadFile(v, v.StatePath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	snap := vault.ParseSnapshot(f)
	if snap.Focus != "gateway locking" || snap.Status != vault.StatusActive {
		t.Errorf("round-tripped snapshot = %+v", snap)
	}

	header, entries, _, err := vault.ReadJSONL[vault.HistoryEntry](v.HistoryPath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if header.Schema != vault.HistorySchema {
		t.Errorf("history header = %+v", header)
	}
	if len(entries) != 1 || entries[0].Commit != "gateway: per-file locks" {
		t.Errorf("history entries = %+v", entries)
	}
	if entries[0].Title != "gateway: per-file locks" || entries[0].Body != "gateway: per-file locks" {
		t.Errorf("derived entry should default title and body to the commit message: %+v", entries[0])
	}
}

func TestReplaceSnapshotHistoryOverride(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()

	override := &HistoryOverride{Title: "locking milestone", Body: "per-file locks landed"}
	if _, err := g.ReplaceSnapshot(context.Background(), ref, validSnapshot(), override); err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}

	_, entries, _, err := vault.ReadJSONL[vault.HistoryEntry](v.HistoryPath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d history entries, want 1", len(entries))
	}
	if entries[0].Title != "locking milestone" || entries[0].Body != "per-file locks landed" {
		t.Errorf("override ignored: %+v", entries[0])
	}
	if entries[0].Commit != "gateway: per-file locks" {
		t.Errorf("commit = %q", entries[0].Commit)
	}
}

func TestReplaceSnapshotValidation(t *testing.T) {
	g, _ := testGateway(t, true)
	snap := validSnapshot()
	snap.Focus = ""
	_, err := g.ReplaceSnapshot(context.Background(), testRef(), snap, nil)
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("err = %v, want VALIDATION", err)
	}

	_, err = g.ReplaceSnapshot(context.Background(), Ref{Domain: "../etc", Project: "x"}, validSnapshot(), nil)
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("bad domain: err = %v, want VALIDATION", err)
	}
}

func TestReplaceSnapshotMissingProjectNoAutoCreate(t *testing.T) {
	g, _ := testGateway(t, false)
	_, err := g.ReplaceSnapshot(context.Background(), testRef(), validSnapshot(), nil)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestReplaceSnapshotDegradedWhenHistoryAppendFails(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()
	if err := v.EnsureProject(ref.Domain, ref.Project); err != nil {
		t.Fatal(err)
	}
	// A directory where history.jsonl should be makes the append fail
	// while leaving the snapshot write untouched.
	if err := os.Mkdir(v.HistoryPath(ref.Domain, ref.Project), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := g.ReplaceSnapshot(context.Background(), ref, validSnapshot(), nil)
	if err != nil {
		t.Fatalf("ReplaceSnapshot: %v", err)
	}
	if res.HistoryAppended || res.HistoryErr == nil {
		t.Errorf("result = %+v, want degraded success", res)
	}
	if _, err := os.Stat(v.StatePath(ref.Domain, ref.Project)); err != nil {
		t.Errorf("state file missing after degraded write: %v", err)
	}
}

func TestConcurrentSnapshotsNeverTearFile(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap := validSnapshot()
			snap.Focus = strings.Repeat("x", 200+n)
			if _, err := g.ReplaceSnapshot(context.Background(), ref, snap, nil); err != nil {
				t.Errorf("writer %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	f, err := vault.ReadFile(v, v.StatePath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatal(err)
	}
	snap := vault.ParseSnapshot(f)
	if len(snap.Focus) < 200 || strings.Trim(snap.Focus, "x") != "" {
		t.Errorf("state file torn: focus = %q", snap.Focus)
	}

	_, entries, skipped, err := vault.ReadJSONL[vault.HistoryEntry](v.HistoryPath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 0 || len(entries) != 8 {
		t.Errorf("history has %d entries (%d skipped), want 8 intact", len(entries), skipped)
	}
}

func TestPrependDecisionNewestFirst(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()
	ctx := context.Background()

	first := Decision{Title: "use sqlite for the index", Body: "portable, no server", Date: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)}
	second := Decision{Title: "debounce watcher events", Body: "500ms window", Date: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)}
	if err := g.PrependDecision(ctx, ref, first); err != nil {
		t.Fatal(err)
	}
	if err := g.PrependDecision(ctx, ref, second); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(v.DecisionsPath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# attic Decisions\n") {
		t.Errorf("missing document header: %q", content[:40])
	}
	i1 := strings.Index(content, "use sqlite")
	i2 := strings.Index(content, "debounce watcher")
	if i1 < 0 || i2 < 0 {
		t.Fatalf("entries missing:\n%s", content)
	}
	if i2 > i1 {
		t.Errorf("newest decision is not first:\n%s", content)
	}
	if strings.Count(content, "---") != 2 {
		t.Errorf("want one separator per entry:\n%s", content)
	}
}

func TestPrependDecisionKeepsHandWrittenContent(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()
	if err := v.EnsureProject(ref.Domain, ref.Project); err != nil {
		t.Fatal(err)
	}
	legacy := "some notes without a title line\n"
	if err := os.WriteFile(v.DecisionsPath(ref.Domain, ref.Project), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := g.PrependDecision(context.Background(), ref, Decision{Title: "t", Body: "b"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(v.DecisionsPath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), legacy) {
		t.Errorf("hand-written content lost:\n%s", data)
	}
}

func TestAppendLessonRequiresTitle(t *testing.T) {
	g, _ := testGateway(t, true)
	err := g.AppendLesson(context.Background(), testRef(), vault.LessonEntry{WhatHappened: "x"})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("err = %v, want VALIDATION", err)
	}
}

func TestAppendHistoryCountsMatchCalls(t *testing.T) {
	g, v := testGateway(t, true)
	ref := testRef()
	for i := 0; i < 5; i++ {
		err := g.AppendHistory(context.Background(), ref, vault.HistoryEntry{Title: "tick"})
		if err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(v.HistoryPath(ref.Domain, ref.Project))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Errorf("got %d lines, want header + 5 records", len(lines))
	}
}

func TestLockTimeoutIsConflict(t *testing.T) {
	g, _ := testGateway(t, true)
	g.lockTimeout = 20 * time.Millisecond
	ref := testRef()

	release, err := g.locks.acquire(context.Background(), ref.lockKey(kindState), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = g.ReplaceSnapshot(context.Background(), ref, validSnapshot(), nil)
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestLockAcquireHonorsContext(t *testing.T) {
	lt := newLockTable()
	release, err := lt.acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lt.acquire(ctx, "k", time.Minute); err == nil {
		t.Error("acquire with cancelled context succeeded")
	}
}

func TestDifferentKindsDoNotBlockEachOther(t *testing.T) {
	g, _ := testGateway(t, true)
	g.lockTimeout = 50 * time.Millisecond
	ref := testRef()

	release, err := g.locks.acquire(context.Background(), ref.lockKey(kindDecisions), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if err := g.AppendHistory(context.Background(), ref, vault.HistoryEntry{Title: "t"}); err != nil {
		t.Errorf("history append blocked by decisions lock: %v", err)
	}
}
