package inject

import (
	"fmt"
	"os"
	"strings"

	"github.com/ehall/attic/internal/errors"
	"github.com/ehall/attic/internal/orchestrate"
	"github.com/ehall/attic/internal/vault"
)

// Markers delimit the managed region in the target file. Everything
// outside them belongs to the user and is never touched.
const (
	StartMarker = "<!-- attic:start -->"
	EndMarker   = "<!-- attic:end -->"
)

// Render produces the context block injected at session start: the matched
// domain's active projects, newest first, with their focus and next
// action.
func Render(m *orchestrate.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Current state: %s\n\n", m.Domain)
	if len(m.Snapshots) == 0 {
		b.WriteString("No active projects.\n")
		return b.String()
	}

	for _, s := range m.Snapshots {
		fmt.Fprintf(&b, "### %s", s.Project)
		if !s.Updated.IsZero() {
			fmt.Fprintf(&b, " (updated %s)", s.Updated.Format("2006-01-02"))
		}
		b.WriteString("\n")
		if s.Focus != "" {
			fmt.Fprintf(&b, "- Focus: %s\n", firstLine(s.Focus))
		}
		if s.NextAction != "" {
			fmt.Fprintf(&b, "- Next: %s\n", firstLine(s.NextAction))
		}
		for _, blocker := range s.Blockers {
			fmt.Fprintf(&b, "- Blocked on: %s\n", blocker)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// Inject replaces the marked region of the file at path with block,
// appending a fresh marker pair when none exists. Re-running with the same
// block is a no-op; content outside the markers survives byte for byte.
func Inject(path, block string) error {
	content := ""
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return errors.NewInternal(err)
	}

	region := StartMarker + "\n" + strings.TrimRight(block, "\n") + "\n" + EndMarker
	updated, err := splice(content, region)
	if err != nil {
		return err
	}
	if updated == content {
		return nil
	}
	if err := vault.WriteFileAtomic(path, []byte(updated)); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func splice(content, region string) (string, error) {
	start := strings.Index(content, StartMarker)
	if start < 0 {
		if content == "" {
			return region + "\n", nil
		}
		return strings.TrimRight(content, "\n") + "\n\n" + region + "\n", nil
	}

	end := strings.Index(content[start:], EndMarker)
	if end < 0 {
		return "", errors.NewValidation("start marker present but end marker missing")
	}
	end = start + end + len(EndMarker)
	return content[:start] + region + content[end:], nil
}
