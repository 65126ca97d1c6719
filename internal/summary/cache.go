package summary

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

// Generator produces a summary for a session's text. It is an external,
// slow, fallible collaborator.
type Generator func(ctx context.Context, text string) (string, error)

// Entry is one cached summary.
type Entry struct {
	SessionID   string
	Fingerprint string
	Text        string
}

const memCacheSize = 128

// Cache stores generated session summaries on disk, keyed by session id
// and invalidated by content fingerprint, with a small memory layer in
// front. Stale entries are kept when regeneration fails.
type Cache struct {
	dir    string
	mem    *lru.Cache[string, Entry]
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache returns a cache rooted at dir, created if needed.
func NewCache(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewInternal(err)
	}
	mem, err := lru.New[string, Entry](memCacheSize)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &Cache{dir: dir, mem: mem, logger: logger}, nil
}

func (c *Cache) path(sessionID string) string {
	return filepath.Join(c.dir, sessionID+".md")
}

// Get returns the cached entry for sessionID regardless of fingerprint,
// or nil when none exists.
func (c *Cache) Get(sessionID string) *Entry {
	if e, ok := c.mem.Get(sessionID); ok {
		return &e
	}
	e, err := c.readDisk(sessionID)
	if err != nil {
		return nil
	}
	c.mem.Add(sessionID, *e)
	return e
}

// GetOrGenerate returns the summary for (sessionID, fingerprint). A cached
// entry with a matching fingerprint is returned as is; otherwise gen runs,
// deduplicated so concurrent callers for the same session share one
// invocation. When gen fails the previous entry, if any, survives and the
// error surfaces as EXTERNAL_TOOL.
func (c *Cache) GetOrGenerate(ctx context.Context, sessionID, fingerprint, text string, gen Generator) (*Entry, error) {
	if e := c.Get(sessionID); e != nil && e.Fingerprint == fingerprint {
		return e, nil
	}

	v, err, _ := c.group.Do(sessionID+"\x00"+fingerprint, func() (any, error) {
		// A concurrent caller may have filled the entry while this one
		// waited on the flight group.
		if e := c.Get(sessionID); e != nil && e.Fingerprint == fingerprint {
			return e, nil
		}
		out, err := gen(ctx, text)
		if err != nil {
			return nil, errors.NewExternalTool(fmt.Errorf("summarizer: %w", err))
		}
		e := &Entry{SessionID: sessionID, Fingerprint: fingerprint, Text: out}
		if err := c.writeDisk(e); err != nil {
			return nil, err
		}
		c.mem.Add(sessionID, *e)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *Cache) writeDisk(e *Entry) error {
	fm, err := vault.RenderFrontmatter(vault.Frontmatter{
		Type:        "summary",
		Name:        e.SessionID,
		Fingerprint: e.Fingerprint,
	})
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := vault.WriteFileAtomic(c.path(e.SessionID), []byte(fm+e.Text+"\n")); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func (c *Cache) readDisk(sessionID string) (*Entry, error) {
	data, err := os.ReadFile(c.path(sessionID))
	if err != nil {
		return nil, err
	}
	fm, body, err := vault.ParseFrontmatter(string(data))
	if err != nil {
		return nil, err
	}
	return &Entry{
		SessionID:   sessionID,
		Fingerprint: fm.Fingerprint,
		Text:        strings.TrimSpace(body),
	}, nil
}
