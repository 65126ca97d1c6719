package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

// DefaultDebounce is the quiet window after the last event on a path
// before the index is told about it. Editors save in bursts; one flush per
// burst is enough.
const DefaultDebounce = 500 * time.Millisecond

// maxChangeRetries bounds re-queues of a path whose incremental update
// keeps failing. Past that the path waits for the next rebuild.
const maxChangeRetries = 2

// Watcher feeds filesystem events into the index. fsnotify does not watch
// recursively, so every directory under the vault gets its own watch and
// new directories are added as they appear.
type Watcher struct {
	idx      *Index
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	retries map[string]int
}

// NewWatcher creates a watcher over idx's vault. Call Run to start it.
func NewWatcher(idx *Index, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	w := &Watcher{
		idx:      idx,
		fsw:      fsw,
		debounce: DefaultDebounce,
		logger:   logger,
		pending:  make(map[string]time.Time),
		retries:  make(map[string]int),
	}
	if err := w.watchTree(idx.vault.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// watchTree registers dir and every non-excluded directory below it.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("watch registration skipped", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.idx.vault.Rel(path)
		if path != w.idx.vault.Root && vault.Excluded(rel+"/", w.idx.excludes) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch add failed", "path", path, "error", err)
		}
		return nil
	})
}

// Run pumps events until ctx is cancelled. Each changed path is flushed to
// HandleChange once its debounce window passes with no further events.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn("watching new directory failed", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if ev.Op.Has(fsnotify.Chmod) {
		return
	}

	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

// flush sends every path whose debounce window has expired to the index.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var due []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			due = append(due, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		err := w.idx.HandleChange(path)
		w.mu.Lock()
		if err == nil {
			delete(w.retries, path)
			w.mu.Unlock()
			continue
		}
		// Index inconsistencies are localized: re-queue the path a
		// bounded number of times, then leave it for the next rebuild.
		if w.retries[path] < maxChangeRetries {
			w.retries[path]++
			w.pending[path] = now
			w.mu.Unlock()
			w.logger.Warn("change handling failed, retrying", "path", path, "error", err)
			continue
		}
		delete(w.retries, path)
		w.mu.Unlock()
		w.logger.Warn("change handling failed", "path", path, "error", err)
	}
}
