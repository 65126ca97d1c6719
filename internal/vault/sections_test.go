package vault

import (
	"reflect"
	"strings"
	"testing"
)

const sectionBody = `# alpha

## Focus
Ship the ingestion pipeline.

## Next Action
Wire the cursor table.

## Open Questions
- keep offsets per file or per source?
- what about rotated logs?

## Commit Message
wired ingestion cursors
`

func TestExtractSection(t *testing.T) {
	if got := ExtractSection(sectionBody, "Focus"); got != "Ship the ingestion pipeline." {
		t.Errorf("Focus = %q", got)
	}
	if got := ExtractSection(sectionBody, "Commit Message"); got != "wired ingestion cursors" {
		t.Errorf("Commit Message = %q", got)
	}
	if got := ExtractSection(sectionBody, "Blockers"); got != "" {
		t.Errorf("missing section should be empty, got %q", got)
	}
}

func TestExtractSectionCaseInsensitive(t *testing.T) {
	if got := ExtractSection(sectionBody, "next action"); got != "Wire the cursor table." {
		t.Errorf("next action = %q", got)
	}
}

func TestSectionNames(t *testing.T) {
	want := []string{"Focus", "Next Action", "Open Questions", "Commit Message"}
	if got := SectionNames(sectionBody); !reflect.DeepEqual(got, want) {
		t.Errorf("SectionNames = %v, want %v", got, want)
	}
}

func TestExtractSectionIgnoresFencedHeadings(t *testing.T) {
	body := "## Focus\nreal content\n\n```\n## Not A Section\nfenced\n```\n\n## Next Action\nnext\n"
	if got := ExtractSection(body, "Not A Section"); got != "" {
		t.Errorf("fenced heading should not be a section, got %q", got)
	}
	got := ExtractSection(body, "Focus")
	if !strings.Contains(got, "real content") || !strings.Contains(got, "fenced") {
		t.Errorf("Focus = %q, want fenced block included in content", got)
	}
}

func TestListItems(t *testing.T) {
	content := ExtractSection(sectionBody, "Open Questions")
	items := listItems(content)
	if len(items) != 2 {
		t.Fatalf("listItems returned %d items, want 2", len(items))
	}
	if items[0] != "keep offsets per file or per source?" {
		t.Errorf("items[0] = %q", items[0])
	}
}

func TestExtractSectionSubheadingsIncluded(t *testing.T) {
	body := "## Focus\nintro\n\n### Detail\nmore\n\n## Next Action\nnext\n"
	got := ExtractSection(body, "Focus")
	if got != "intro\n\n### Detail\nmore" {
		t.Errorf("Focus = %q, want subheading content retained", got)
	}
}
