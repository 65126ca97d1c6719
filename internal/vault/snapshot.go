package vault

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehall/attic/internal/errors"
)

// Snapshot is the complete current-state description of a project. Writes
// always supply a full snapshot; the file on disk is replaced wholesale.
type Snapshot struct {
	Domain  string `json:"domain"`
	Project string `json:"project"`

	Status        Status   `json:"status"`
	Focus         string   `json:"focus"`
	WhyThisMatter string   `json:"why_this_matters,omitempty"`
	NextAction    string   `json:"next_action"`
	OpenQuestions []string `json:"open_questions,omitempty"`
	Blockers      []string `json:"blockers,omitempty"`
	WaitingOn     []string `json:"waiting_on,omitempty"`
	CommitMessage string   `json:"commit_message"`

	// Source records where the write originated ("code", "desktop", "manual").
	Source  string    `json:"source,omitempty"`
	Updated time.Time `json:"updated"`
}

// Validate checks the required fields. A snapshot missing any of them is
// rejected before any file mutation.
func (s *Snapshot) Validate() error {
	switch {
	case strings.TrimSpace(string(s.Status)) == "":
		return errors.NewValidation("'status' is required for a snapshot")
	case strings.TrimSpace(s.Focus) == "":
		return errors.NewValidation("'focus' is required for a snapshot")
	case strings.TrimSpace(s.NextAction) == "":
		return errors.NewValidation("'next_action' is required for a snapshot")
	case strings.TrimSpace(s.CommitMessage) == "":
		return errors.NewValidation("'commit_message' is required for a snapshot")
	}
	return nil
}

// Render serializes the snapshot to the current_state.md format:
// frontmatter, title, then the fixed section order.
func (s *Snapshot) Render() (string, error) {
	updated := s.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	source := s.Source
	if source == "" {
		source = "unknown"
	}

	fm := Frontmatter{
		Type:    "project",
		Name:    s.Project,
		Updated: updated.Format("2006-01-02 15:04"),
		Status:  string(s.Status),
		Context: s.Domain,
		Source:  source,
	}
	head, err := RenderFrontmatter(fm)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(head)
	fmt.Fprintf(&b, "# %s\n\n## Focus\n%s\n", s.Project, s.Focus)

	if s.WhyThisMatter != "" {
		fmt.Fprintf(&b, "\n## Why This Matters\n%s\n", s.WhyThisMatter)
	}
	fmt.Fprintf(&b, "\n## Next Action\n%s\n", s.NextAction)

	writeList := func(heading string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n", heading)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	writeList("Open Questions", s.OpenQuestions)
	writeList("Blockers", s.Blockers)
	writeList("Waiting On", s.WaitingOn)

	fmt.Fprintf(&b, "\n## Commit Message\n%s\n", s.CommitMessage)
	return b.String(), nil
}

// ParseSnapshot reconstructs a Snapshot from a parsed current_state.md.
// Missing sections come back empty; the caller decides whether that matters.
func ParseSnapshot(f File) *Snapshot {
	domain, project := f.DomainProject()
	if f.Frontmatter.Context != "" {
		domain = f.Frontmatter.Context
	}
	if f.Frontmatter.Name != "" {
		project = f.Frontmatter.Name
	}

	return &Snapshot{
		Domain:        domain,
		Project:       project,
		Status:        ParseStatus(f.Frontmatter.Status),
		Focus:         ExtractSection(f.Body, "Focus"),
		WhyThisMatter: ExtractSection(f.Body, "Why This Matters"),
		NextAction:    ExtractSection(f.Body, "Next Action"),
		OpenQuestions: listItems(ExtractSection(f.Body, "Open Questions")),
		Blockers:      listItems(ExtractSection(f.Body, "Blockers")),
		WaitingOn:     listItems(ExtractSection(f.Body, "Waiting On")),
		CommitMessage: ExtractSection(f.Body, "Commit Message"),
		Source:        f.Frontmatter.Source,
		Updated:       f.Frontmatter.UpdatedTime(),
	}
}
