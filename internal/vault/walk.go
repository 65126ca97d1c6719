package vault

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ReadFile parses a vault markdown file. Files without frontmatter are
// returned with an empty frontmatter and the full content as body — a plain
// note dropped into the vault must still be indexable.
func ReadFile(v *Vault, path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	content := string(data)

	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		fm = Frontmatter{}
		body = content
	}
	return File{
		Path:        path,
		RelPath:     v.Rel(path),
		Frontmatter: fm,
		Body:        body,
	}, nil
}

// Excluded reports whether a vault-relative path matches any exclusion glob
// or lives under a hidden directory.
func Excluded(rel string, excludes []glob.Glob) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, g := range excludes {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Walk visits every markdown file under the vault root, skipping excluded
// paths, and calls fn with each parsed file. Errors from fn stop the walk;
// unreadable files are passed to onErr and skipped.
func Walk(v *Vault, excludes []glob.Glob, fn func(File) error, onErr func(path string, err error)) error {
	return filepath.WalkDir(v.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if onErr != nil {
				onErr(path, err)
			}
			return nil
		}
		rel := v.Rel(path)
		if d.IsDir() {
			if path != v.Root && Excluded(rel+"/", excludes) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") || Excluded(rel, excludes) {
			return nil
		}

		f, err := ReadFile(v, path)
		if err != nil {
			if onErr != nil {
				onErr(path, err)
			}
			return nil
		}
		return fn(f)
	})
}
