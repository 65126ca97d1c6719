package vault

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ehall/attic/internal/errors"
)

// Well-known structured file names inside a project directory.
const (
	StateFile     = "current_state.md"
	DecisionsFile = "decisions.md"
	HistoryFile   = "history.jsonl"
	LessonsFile   = "lessons.jsonl"
	IndexFile     = "INDEX.md"
)

// Vault addresses a vault tree on disk. It owns path construction and
// directory-level queries; it never caches, the filesystem is the source of
// truth.
type Vault struct {
	Root string
}

// New returns a Vault rooted at root.
func New(root string) *Vault {
	return &Vault{Root: root}
}

// ValidateName rejects empty names and names that would escape the vault.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.NewValidation("name must not be empty")
	}
	if strings.ContainsAny(trimmed, "/\\") || trimmed == "." || trimmed == ".." {
		return errors.NewValidation("name must not contain path separators")
	}
	return nil
}

// ProjectDir returns the absolute directory of (domain, project).
func (v *Vault) ProjectDir(domain, project string) string {
	return filepath.Join(v.Root, domain, project)
}

// StatePath returns the absolute path of a project's current_state.md.
func (v *Vault) StatePath(domain, project string) string {
	return filepath.Join(v.ProjectDir(domain, project), StateFile)
}

// DecisionsPath returns the absolute path of a project's decisions.md.
func (v *Vault) DecisionsPath(domain, project string) string {
	return filepath.Join(v.ProjectDir(domain, project), DecisionsFile)
}

// HistoryPath returns the absolute path of a project's history.jsonl.
func (v *Vault) HistoryPath(domain, project string) string {
	return filepath.Join(v.ProjectDir(domain, project), HistoryFile)
}

// LessonsPath returns the absolute path of a project's lessons.jsonl.
func (v *Vault) LessonsPath(domain, project string) string {
	return filepath.Join(v.ProjectDir(domain, project), LessonsFile)
}

// Rel converts an absolute path inside the vault to its vault-relative,
// slash-separated form used as index key.
func (v *Vault) Rel(path string) string {
	rel, err := filepath.Rel(v.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Abs resolves a vault-relative path to an absolute one. Absolute inputs
// pass through.
func (v *Vault) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(v.Root, filepath.FromSlash(rel))
}

// ProjectExists reports whether the project directory exists.
func (v *Vault) ProjectExists(domain, project string) bool {
	info, err := os.Stat(v.ProjectDir(domain, project))
	return err == nil && info.IsDir()
}

// EnsureProject creates the project directory if missing.
func (v *Vault) EnsureProject(domain, project string) error {
	return os.MkdirAll(v.ProjectDir(domain, project), 0755)
}

// Domains lists the top-level domain directories, sorted. Hidden
// directories are not domains.
func (v *Vault) Domains() []string {
	return subdirs(v.Root)
}

// Projects lists the project directories of a domain, sorted.
func (v *Vault) Projects(domain string) []string {
	return subdirs(filepath.Join(v.Root, domain))
}

func subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
