package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/vault"
)

// Decision is one dated entry for a project's decisions.md.
type Decision struct {
	Title  string
	Body   string
	Source string
	Date   time.Time
}

func decisionsHeader(project string) string {
	return fmt.Sprintf("# %s Decisions\n\n", project)
}

// PrependDecision inserts d at the top of the project's decision log,
// directly after the document header, so the newest decision always reads
// first. The whole file is rewritten atomically.
func (g *Gateway) PrependDecision(ctx context.Context, ref Ref, d Decision) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(d.Title) == "" {
		return errors.NewValidation("'title' is required for a decision")
	}
	if strings.TrimSpace(d.Body) == "" {
		return errors.NewValidation("'body' is required for a decision")
	}
	if err := g.ensureProject(ref); err != nil {
		return err
	}
	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}

	release, err := g.locks.acquire(ctx, ref.lockKey(kindDecisions), g.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	path := g.vault.DecisionsPath(ref.Domain, ref.Project)
	content := ""
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return errors.NewInternal(err)
	}
	if strings.TrimSpace(content) == "" {
		content = decisionsHeader(ref.Project)
	}

	entry := fmt.Sprintf("## %s — %s\n\n%s\n\n---\n\n", date.Format("2006-01-02"), d.Title, strings.TrimSpace(d.Body))
	updated := insertAfterHeader(content, entry)

	if err := vault.WriteFileAtomic(path, []byte(updated)); err != nil {
		return errors.NewInternal(err)
	}
	g.logger.Info("decision recorded", "project", ref.String(), "title", d.Title, "source", d.Source)
	return nil
}

// insertAfterHeader places entry after the leading "# ..." title line and
// its trailing blank line. Files that never had a title (written by hand)
// get the entry at the very top.
func insertAfterHeader(content, entry string) string {
	if strings.HasPrefix(content, "# ") {
		idx := strings.Index(content, "\n")
		if idx < 0 {
			return content + "\n\n" + entry
		}
		pos := idx + 1
		for pos < len(content) && content[pos] == '\n' {
			pos++
		}
		return content[:pos] + entry + content[pos:]
	}
	return entry + content
}
