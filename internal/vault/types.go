package vault

import (
	"strings"
	"time"
)

// Status of a project, as recorded in current_state.md frontmatter.
// Unknown values normalize to empty rather than erroring, so a hand-edited
// file can never break reads.
type Status string

const (
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusResolved  Status = "resolved"
	StatusPaused    Status = "paused"
	StatusAbandoned Status = "abandoned"
)

// ParseStatus maps a raw frontmatter value to a Status.
// Unknown values return "".
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive, StatusBlocked, StatusCompleted, StatusResolved, StatusPaused, StatusAbandoned:
		return Status(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ""
	}
}

// Frontmatter is the YAML block at the top of a vault markdown file.
// Unknown fields are ignored for forward compatibility.
type Frontmatter struct {
	Type    string `yaml:"type,omitempty"`
	Name    string `yaml:"chat_name,omitempty"`
	Updated string `yaml:"updated,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Context string `yaml:"context,omitempty"`
	Source  string `yaml:"source,omitempty"`
	Summary string `yaml:"summary,omitempty"`
	// Fingerprint ties a generated summary file to the content it was
	// generated from.
	Fingerprint string   `yaml:"fingerprint,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	Related     []string `yaml:"related,omitempty"`
}

// UpdatedTime parses the lenient updated field. Accepts "2026-02-15",
// "2026-02-15 11:00", or any string starting with YYYY-MM-DD. Returns the
// zero time when unparseable.
func (f Frontmatter) UpdatedTime() time.Time {
	s := strings.TrimSpace(f.Updated)
	if len(s) >= 16 {
		if t, err := time.ParseInLocation("2006-01-02 15:04", s[:16], time.Local); err == nil {
			return t
		}
	}
	if len(s) >= 10 {
		if t, err := time.ParseInLocation("2006-01-02", s[:10], time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// File is a parsed vault file: path, frontmatter, and markdown body.
type File struct {
	// Path is the absolute path on disk.
	Path string

	// RelPath is the vault-relative path with forward slashes. Index entries
	// are keyed by it.
	RelPath string

	Frontmatter Frontmatter
	Body        string
}

// DomainProject splits the relative path into its (domain, project) pair.
// Returns empty strings for files at the vault root or directly under a
// domain directory.
func (f File) DomainProject() (string, string) {
	parts := strings.Split(f.RelPath, "/")
	if len(parts) < 3 {
		if len(parts) == 2 {
			return parts[0], ""
		}
		return "", ""
	}
	return parts[0], parts[1]
}
