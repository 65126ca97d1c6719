package index

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/ehall/attic/internal/db"
	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

// State of the index relative to the vault.
type State int32

const (
	// StateCold means no usable index exists yet.
	StateCold State = iota
	// StateRebuilding means a full rebuild is replacing the index.
	StateRebuilding
	// StateConsistent means the index tracks the vault via watcher events.
	StateConsistent
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateRebuilding:
		return "rebuilding"
	case StateConsistent:
		return "consistent"
	default:
		return "unknown"
	}
}

const schemaVersion = 1

// Index maintains the full-text index over vault markdown files. It is
// derived state: deleting index.db loses nothing but searchability.
type Index struct {
	db       *sql.DB
	vault    *vault.Vault
	excludes []glob.Glob
	logger   *slog.Logger

	state      atomic.Int32
	rebuilding atomic.Bool

	// writeMu serializes every index write. SQLite allows one writer at a
	// time; without this, an incremental upsert racing the rebuild
	// transaction fails with SQLITE_BUSY.
	writeMu sync.Mutex

	// deferredMu guards deferred, the paths whose change events arrived
	// while a rebuild was staging. They replay once the rebuild commits.
	deferredMu sync.Mutex
	deferred   map[string]struct{}
}

// Open opens (creating if needed) the index database at dbPath and binds
// it to v. Exclusion globs are applied at index time, not at query time.
func Open(dbPath string, v *vault.Vault, excludes []glob.Glob, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	idx := &Index{db: conn, vault: v, excludes: excludes, logger: logger}
	if err := idx.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	var rows int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM vault_meta`).Scan(&rows); err != nil {
		conn.Close()
		return nil, err
	}
	if rows > 0 {
		idx.state.Store(int32(StateConsistent))
	}
	return idx, nil
}

// Close closes the underlying database.
func (i *Index) Close() error { return i.db.Close() }

// DB exposes the underlying handle for pool configuration.
func (i *Index) DB() *sql.DB { return i.db }

// State reports where the index is in its lifecycle.
func (i *Index) State() State { return State(i.state.Load()) }

func (i *Index) migrate() error {
	version, err := db.GetUserVersion(i.db)
	if err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS vault_search USING fts5(
			path, domain, project, status, summary, tags, body,
			tokenize='porter unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS vault_meta (
			path       TEXT PRIMARY KEY,
			domain     TEXT NOT NULL,
			project    TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT '',
			updated    TEXT NOT NULL DEFAULT '',
			summary    TEXT NOT NULL DEFAULT '',
			tags       TEXT NOT NULL DEFAULT '',
			body_hash  TEXT NOT NULL,
			indexed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_meta_domain ON vault_meta(domain)`,
	}
	for _, stmt := range stmts {
		if _, err := i.db.Exec(stmt); err != nil {
			return fmt.Errorf("index migration: %w", err)
		}
	}
	return db.SetUserVersion(i.db, schemaVersion)
}

// doc is the indexable projection of a vault file.
type doc struct {
	path     string
	absPath  string
	domain   string
	project  string
	status   string
	updated  string
	summary  string
	tags     string
	body     string
	bodyHash string
}

func docFromFile(f vault.File) doc {
	domain, project := f.DomainProject()
	sum := sha256.Sum256([]byte(f.Body))
	return doc{
		path:     f.RelPath,
		absPath:  f.Path,
		domain:   domain,
		project:  project,
		status:   string(vault.ParseStatus(f.Frontmatter.Status)),
		updated:  f.Frontmatter.Updated,
		summary:  f.Frontmatter.Summary,
		tags:     strings.Join(f.Frontmatter.Tags, " "),
		body:     f.Body,
		bodyHash: hex.EncodeToString(sum[:]),
	}
}

// HandleChange reconciles one path with the index: parse and upsert if the
// file exists, remove its rows if it is gone. Safe under at-least-once
// event delivery; re-processing an unchanged file is a no-op.
func (i *Index) HandleChange(path string) error {
	rel := i.vault.Rel(path)
	if !strings.HasSuffix(rel, ".md") || vault.Excluded(rel, i.excludes) {
		return nil
	}
	abs := i.vault.Abs(rel)

	// A write landing mid-rebuild would contend with the rebuild
	// transaction, and the stale sweep would then erase a file the walk
	// never saw. Park the event; the rebuild replays it after commit.
	i.deferredMu.Lock()
	if i.rebuilding.Load() {
		if i.deferred == nil {
			i.deferred = make(map[string]struct{})
		}
		i.deferred[abs] = struct{}{}
		i.deferredMu.Unlock()
		return nil
	}
	i.deferredMu.Unlock()

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return i.remove(rel)
		}
		return errors.NewIndexInconsistency(rel, err.Error())
	}

	f, err := vault.ReadFile(i.vault, abs)
	if err != nil {
		return errors.NewIndexInconsistency(rel, err.Error())
	}
	return i.upsert(docFromFile(f))
}

func (i *Index) upsert(d doc) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	var existing string
	err := i.db.QueryRow(`SELECT body_hash FROM vault_meta WHERE path = ?`, d.path).Scan(&existing)
	if err == nil && existing == d.bodyHash {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return errors.NewIndexInconsistency(d.path, err.Error())
	}

	tx, err := i.db.Begin()
	if err != nil {
		return errors.NewIndexInconsistency(d.path, err.Error())
	}
	defer tx.Rollback()

	if err := upsertTx(tx, d); err != nil {
		return errors.NewIndexInconsistency(d.path, err.Error())
	}
	if err := tx.Commit(); err != nil {
		return errors.NewIndexInconsistency(d.path, err.Error())
	}
	i.logger.Debug("indexed", "path", d.path)
	return nil
}

func upsertTx(tx *sql.Tx, d doc) error {
	if _, err := tx.Exec(`DELETE FROM vault_search WHERE path = ?`, d.path); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO vault_search (path, domain, project, status, summary, tags, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.path, d.domain, d.project, d.status, d.summary, d.tags, d.body,
	); err != nil {
		return err
	}
	_, err := tx.Exec(
		`INSERT INTO vault_meta (path, domain, project, status, updated, summary, tags, body_hash, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			domain = excluded.domain, project = excluded.project,
			status = excluded.status, updated = excluded.updated,
			summary = excluded.summary, tags = excluded.tags,
			body_hash = excluded.body_hash, indexed_at = excluded.indexed_at`,
		d.path, d.domain, d.project, d.status, d.updated, d.summary, d.tags,
		d.bodyHash, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (i *Index) remove(rel string) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	tx, err := i.db.Begin()
	if err != nil {
		return errors.NewIndexInconsistency(rel, err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM vault_search WHERE path = ?`, rel); err != nil {
		return errors.NewIndexInconsistency(rel, err.Error())
	}
	if _, err := tx.Exec(`DELETE FROM vault_meta WHERE path = ?`, rel); err != nil {
		return errors.NewIndexInconsistency(rel, err.Error())
	}
	if err := tx.Commit(); err != nil {
		return errors.NewIndexInconsistency(rel, err.Error())
	}
	i.logger.Debug("removed from index", "path", rel)
	return nil
}
