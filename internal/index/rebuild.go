package index

import (
	"context"
	"database/sql"
	"os"
	"strings"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

type txExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// RebuildStats summarizes a completed rebuild.
type RebuildStats struct {
	Indexed int
	Skipped int
	Removed int
}

// Rebuild replaces the index with a fresh scan of the vault. Only one
// rebuild runs at a time; a second call while one is in flight fails with
// CONFLICT. The scan stages everything in memory and commits in a single
// transaction, re-verifying that each staged file still exists so a file
// deleted mid-scan is not resurrected. Change events arriving while the
// rebuild runs are parked and replayed after commit, so a file created
// after the walk is indexed rather than swept as stale. Cancelling ctx
// discards the staging set and leaves the previous index intact.
func (i *Index) Rebuild(ctx context.Context) (*RebuildStats, error) {
	if !i.rebuilding.CompareAndSwap(false, true) {
		return nil, errors.NewConflict("index rebuild already in progress")
	}
	defer i.replayDeferred()

	prev := i.State()
	i.state.Store(int32(StateRebuilding))
	restore := func() { i.state.Store(int32(prev)) }

	stats := &RebuildStats{}
	var staged []doc
	err := vault.Walk(i.vault, i.excludes, func(f vault.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		staged = append(staged, docFromFile(f))
		return nil
	}, func(path string, err error) {
		stats.Skipped++
		i.logger.Warn("skipping unreadable file during rebuild", "path", path, "error", err)
	})
	if err != nil {
		restore()
		return nil, err
	}

	if err := i.commitStaged(ctx, staged, stats); err != nil {
		restore()
		return nil, err
	}

	i.state.Store(int32(StateConsistent))
	i.logger.Info("index rebuilt", "indexed", stats.Indexed, "removed", stats.Removed, "skipped", stats.Skipped)
	return stats, nil
}

// commitStaged writes the staged documents and sweeps stale rows in one
// transaction, holding the write lock so no incremental update contends
// with it.
func (i *Index) commitStaged(ctx context.Context, staged []doc, stats *RebuildStats) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	valid := make([]string, 0, len(staged))
	for _, d := range staged {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Files can vanish between scan and commit. Dropping them here
		// keeps a concurrent delete from being resurrected.
		if _, statErr := os.Stat(d.absPath); statErr != nil {
			stats.Skipped++
			continue
		}
		if err := upsertTx(tx, d); err != nil {
			return errors.NewInternal(err)
		}
		valid = append(valid, d.path)
		stats.Indexed++
	}

	removed, err := removeStaleTx(tx, valid)
	if err != nil {
		return errors.NewInternal(err)
	}
	stats.Removed = removed

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// replayDeferred clears the rebuilding flag and re-handles the change
// events parked while the rebuild ran. The flag flip and the drain happen
// under the same lock HandleChange parks under, so no event is stranded.
func (i *Index) replayDeferred() {
	i.deferredMu.Lock()
	i.rebuilding.Store(false)
	parked := i.deferred
	i.deferred = nil
	i.deferredMu.Unlock()

	for path := range parked {
		if err := i.HandleChange(path); err != nil {
			i.logger.Warn("replaying parked change failed", "path", path, "error", err)
		}
	}
}

// removeStaleTx deletes rows whose path is not in valid and returns how
// many were dropped.
func removeStaleTx(tx txExecer, valid []string) (int, error) {
	if len(valid) == 0 {
		res, err := tx.Exec(`DELETE FROM vault_meta`)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM vault_search`); err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(valid)), ",")
	args := make([]any, len(valid))
	for i, p := range valid {
		args[i] = p
	}

	res, err := tx.Exec(`DELETE FROM vault_meta WHERE path NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM vault_search WHERE path NOT IN (`+placeholders+`)`, args...); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
