package gateway

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehall/attic/internal/config"
	"github.com/ehall/attic/internal/index"
	"github.com/ehall/attic/internal/orchestrate"
	"github.com/ehall/attic/internal/vault"
)

// TestFullWorkflow exercises the complete project lifecycle:
// sync → decide → lesson → rebuild → search → orchestrate → sync again
func TestFullWorkflow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := vault.New(t.TempDir())
	g := New(v, true, logger)
	ctx := context.Background()
	ref := Ref{Domain: "coding", Project: "wardialer"}

	// 1. Sync the first snapshot
	snap := &vault.Snapshot{
		Status:        vault.StatusActive,
		Focus:         "rotary exchange support",
		NextAction:    "test against the museum PBX",
		CommitMessage: "dialer: rotary exchange support",
	}
	res, err := g.ReplaceSnapshot(ctx, ref, snap, nil)
	require.NoError(t, err)
	require.True(t, res.HistoryAppended)

	// 2. Record a decision
	err = g.PrependDecision(ctx, ref, Decision{
		Title: "Pulse dialing over DTMF",
		Body:  "The target exchanges predate tone dialing.",
	})
	require.NoError(t, err)

	// 3. Record a lesson
	err = g.AppendLesson(ctx, ref, vault.LessonEntry{
		Title:        "Carrier detect races the handshake",
		WhatHappened: "Dropped connections at 300 baud.",
		Prevention:   "Wait for two clean carrier windows.",
	})
	require.NoError(t, err)

	// 4. Rebuild the index and search for the project
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), v, nil, logger)
	require.NoError(t, err)
	defer idx.Close()

	stats, err := idx.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Indexed, "state and decisions files are indexed")
	require.Equal(t, index.StateConsistent, idx.State())

	results, err := idx.Search(ctx, index.Query{Text: "rotary exchange"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "wardialer", results[0].Project)
	require.Equal(t, index.TierExact, results[0].Tier)

	// 5. Orchestrate - the project is the one active item
	orch := orchestrate.New(v, config.DefaultConfig(), logger)
	q, err := orch.PrioritizedQueue(ctx, "")
	require.NoError(t, err)
	require.Len(t, q.Active, 1)
	require.NotNil(t, q.Now)
	require.Equal(t, "wardialer", q.Now.Project)

	// 6. Replace the snapshot and verify history accumulated
	snap2 := &vault.Snapshot{
		Status:        vault.StatusCompleted,
		Focus:         "done",
		NextAction:    "archive the notes",
		CommitMessage: "dialer: ship it",
		Updated:       time.Now(),
	}
	_, err = g.ReplaceSnapshot(ctx, ref, snap2, nil)
	require.NoError(t, err)

	header, entries, skipped, err := vault.ReadJSONL[vault.HistoryEntry](v.HistoryPath(ref.Domain, ref.Project))
	require.NoError(t, err)
	require.Equal(t, vault.HistorySchema, header.Schema)
	require.Len(t, entries, 2)
	require.Zero(t, skipped)

	// The completed project moves out of active into completed-recently
	q, err = orch.PrioritizedQueue(ctx, "")
	require.NoError(t, err)
	require.Empty(t, q.Active)
	require.Len(t, q.CompletedRecently, 1)
}
