package vault

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// section is one '## Heading' region of a markdown body.
type section struct {
	name  string
	start int // byte offset of content (line after the heading)
	end   int // byte offset of the next same-or-higher heading, or len(body)
}

var mdParser = goldmark.New()

// parseSections walks the goldmark AST and returns the level-2 sections of
// body in document order. Headings inside fenced code blocks are not ATX
// headings to the parser, so they are ignored for free.
func parseSections(body string) []section {
	src := []byte(body)
	doc := mdParser.Parser().Parse(text.NewReader(src))

	type headingPos struct {
		level int
		name  string
		// end of the heading line, including the newline
		lineEnd int
	}
	var headings []headingPos

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		seg := h.Lines().At(h.Lines().Len() - 1)
		lineEnd := seg.Stop
		for lineEnd < len(src) && src[lineEnd] != '\n' {
			lineEnd++
		}
		if lineEnd < len(src) {
			lineEnd++ // include the newline
		}
		headings = append(headings, headingPos{
			level:   h.Level,
			name:    strings.TrimSpace(string(h.Text(src))),
			lineEnd: lineEnd,
		})
		return ast.WalkSkipChildren, nil
	})

	var sections []section
	for i, h := range headings {
		if h.level != 2 {
			continue
		}
		end := len(body)
		for _, next := range headings[i+1:] {
			if next.level <= 2 {
				// back up to the start of the next heading's line
				lineStart := strings.LastIndexByte(body[:next.lineEnd-1], '\n')
				end = lineStart + 1
				break
			}
		}
		sections = append(sections, section{name: h.name, start: h.lineEnd, end: end})
	}
	return sections
}

// ExtractSection returns the trimmed content under '## heading', or "" when
// the section is absent.
func ExtractSection(body, heading string) string {
	for _, s := range parseSections(body) {
		if strings.EqualFold(s.name, heading) {
			return strings.TrimSpace(body[s.start:s.end])
		}
	}
	return ""
}

// SectionNames returns the level-2 heading names of body in order.
func SectionNames(body string) []string {
	secs := parseSections(body)
	names := make([]string, len(secs))
	for i, s := range secs {
		names[i] = s.name
	}
	return names
}

// listItems parses "- item" bullet lines from a section body.
func listItems(content string) []string {
	var items []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if item, ok := strings.CutPrefix(trimmed, "- "); ok {
			items = append(items, strings.TrimSpace(item))
		}
	}
	return items
}
