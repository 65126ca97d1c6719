package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/index"
	"github.com/ehall/attic/internal/inject"
	"github.com/ehall/attic/internal/session"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d *deps) *cli.App {
	app := &cli.App{
		Name:    "attic",
		Usage:   "Personal knowledge daemon over a markdown vault",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(d),
			rebuildCmd(d),
			searchCmd(d),
			ingestCmd(d),
			orchestrateCmd(d),
			injectCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func serveCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server with the watcher and summarizer (stdio transport)",
		Action: func(c *cli.Context) error {
			return d.serve()
		},
	}
}

func rebuildCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Rebuild the full-text index from a clean vault scan",
		Action: func(c *cli.Context) error {
			stats, err := d.index.Rebuild(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(stats)
		},
	}
}

func searchCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the vault index",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "Restrict to one domain"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewValidation("a search query is required"))
			}
			results, err := d.index.Search(c.Context, index.Query{
				Text:   c.Args().First(),
				Domain: c.String("domain"),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"results":     results,
				"index_state": d.index.State().String(),
			})
		},
	}
}

func ingestCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest session logs from the configured sources",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "Override configured source directories"},
		},
		Action: func(c *cli.Context) error {
			sources := c.StringSlice("source")
			if len(sources) == 0 {
				sources = d.cfg.SessionSources
			}
			if len(sources) == 0 {
				return outputError(errors.NewValidation("no session sources configured"))
			}
			stats, err := d.sessions.Ingest(c.Context, expandAll(sources))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(stats)
		},
	}
}

func orchestrateCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "orchestrate",
		Usage: "Show the prioritized project queue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "Restrict to one domain"},
			&cli.StringFlag{Name: "since", Usage: "Also list sessions since this RFC3339 time"},
			&cli.StringFlag{Name: "grep", Usage: "Filter listed sessions by conversation text"},
		},
		Action: func(c *cli.Context) error {
			q, err := d.orch.PrioritizedQueue(c.Context, c.String("domain"))
			if err != nil {
				return outputError(err)
			}
			out := map[string]any{"queue": q}
			if s := c.String("since"); s != "" {
				since, perr := time.Parse(time.RFC3339, s)
				if perr != nil {
					return outputError(errors.NewValidation("'since' must be RFC3339"))
				}
				records, err := d.sessions.QueryHistory(c.Context, session.Filter{
					Query:  c.String("grep"),
					Domain: c.String("domain"),
					Since:  since,
				})
				if err != nil {
					return outputError(err)
				}
				out["sessions"] = records
			}
			return outputJSON(out)
		},
	}
}

func injectCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "inject",
		Usage: "Inject the matched domain's context block into a target file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Required: true, Usage: "File to inject into (e.g. a project CLAUDE.md)"},
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Path to resolve to a domain (default: current directory)"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("path")
			if path == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				path = cwd
			}
			m, err := d.orch.ContextFor(c.Context, path)
			if err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					return outputJSON(map[string]any{"matched": false})
				}
				return outputError(err)
			}
			if err := inject.Inject(c.String("target"), inject.Render(m)); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"matched": true,
				"domain":  m.Domain,
				"target":  c.String("target"),
			})
		},
	}
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if aErr, ok := err.(*errors.AtticError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", aErr.Code, aErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
