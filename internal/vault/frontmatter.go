package vault

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoFrontmatter is returned when a file does not start with '---'.
var ErrNoFrontmatter = errors.New("no frontmatter found: file must start with '---'")

// ErrUnclosedFrontmatter is returned when the closing '---' is missing.
var ErrUnclosedFrontmatter = errors.New("malformed frontmatter: missing closing '---'")

// ParseFrontmatter splits file content into frontmatter and body.
// Expects '---' delimiters. Unknown fields are ignored; a YAML error is
// returned as-is so the caller can decide whether to index the file anyway.
func ParseFrontmatter(content string) (Frontmatter, string, error) {
	var fm Frontmatter

	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return fm, "", ErrNoFrontmatter
	}

	after := trimmed[3:]
	closing := strings.Index(after, "\n---")
	if closing < 0 {
		return fm, "", ErrUnclosedFrontmatter
	}

	yamlStr := after[:closing]
	body := after[closing+4:]
	body = strings.TrimPrefix(body, "\n")
	// A Windows-edited file leaves a stray \r before the body.
	body = strings.TrimPrefix(body, "\r\n")

	if err := yaml.Unmarshal([]byte(yamlStr), &fm); err != nil {
		return Frontmatter{}, "", err
	}
	return fm, body, nil
}

// RenderFrontmatter serializes a frontmatter block with delimiters and a
// trailing blank line, ready to prepend to a body.
func RenderFrontmatter(fm Frontmatter) (string, error) {
	data, err := yaml.Marshal(fm)
	if err != nil {
		return "", err
	}
	return "---\n" + string(data) + "---\n\n", nil
}
