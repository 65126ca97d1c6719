package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ehall/attic/internal/config"
	"github.com/ehall/attic/internal/db"
	"github.com/ehall/attic/internal/gateway"
	"github.com/ehall/attic/internal/index"
	"github.com/ehall/attic/internal/mcp"
	"github.com/ehall/attic/internal/orchestrate"
	"github.com/ehall/attic/internal/session"
	"github.com/ehall/attic/internal/summary"
	"github.com/ehall/attic/internal/vault"
)

// deps is the wired application: every component over one vault and one
// base directory.
type deps struct {
	baseDir string
	cfg     *config.Config
	logger  *slog.Logger

	vault    *vault.Vault
	index    *index.Index
	sessions *session.Store
	gateway  *gateway.Gateway
	orch     *orchestrate.Orchestrator
	cache    *summary.Cache
}

func openDeps(baseDir string, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	v := vault.New(config.ExpandHome(cfg.VaultPath))

	idx, err := index.Open(filepath.Join(baseDir, "index.db"), v, cfg.CompileExcludes(), logger)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(idx.DB(), cfg)

	sessions, err := session.Open(filepath.Join(baseDir, "sessions.db"), cfg.DomainForPath, logger)
	if err != nil {
		idx.Close()
		return nil, err
	}
	db.ConfigurePool(sessions.DB(), cfg)

	cache, err := summary.NewCache(filepath.Join(baseDir, "summaries"), logger)
	if err != nil {
		idx.Close()
		sessions.Close()
		return nil, err
	}

	return &deps{
		baseDir:  baseDir,
		cfg:      cfg,
		logger:   logger,
		vault:    v,
		index:    idx,
		sessions: sessions,
		gateway:  gateway.New(v, cfg.AutoCreateProjects, logger),
		orch:     orchestrate.New(v, cfg, logger),
		cache:    cache,
	}, nil
}

func (d *deps) Close() {
	if d == nil {
		return
	}
	d.index.Close()
	d.sessions.Close()
}

// serve runs the MCP server over stdio with the watcher and the summary
// runner in the background. It returns when the client disconnects or the
// process is signalled.
func (d *deps) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if d.index.State() == index.StateCold {
		if _, err := d.index.Rebuild(ctx); err != nil {
			d.logger.Warn("initial rebuild failed", "error", err)
		}
	}

	w, err := index.NewWatcher(d.index, d.logger)
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("watcher stopped", "error", err)
		}
	}()

	if d.cfg.SummaryIntervalMinutes > 0 && len(d.cfg.SummaryCommand) > 0 {
		runner := summary.NewRunner(
			d.cache, d.sessions,
			summary.CommandGenerator(d.cfg.SummaryCommand),
			time.Duration(d.cfg.SummaryIntervalMinutes)*time.Minute,
			d.logger,
		)
		go runner.Run(ctx)
	}

	if len(d.cfg.SessionSources) > 0 {
		go func() {
			if _, err := d.sessions.Ingest(ctx, expandAll(d.cfg.SessionSources)); err != nil && ctx.Err() == nil {
				d.logger.Warn("session ingestion failed", "error", err)
			}
		}()
	}

	h := mcp.NewHandlers(d.vault, d.index, d.gateway, d.sessions, d.orch, d.cache)
	return mcp.Run(h, Version)
}

func expandAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, config.ExpandHome(p))
	}
	return out
}
