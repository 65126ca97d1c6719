package vault

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseFrontmatterProject(t *testing.T) {
	content := "---\ntype: project\ncontext: work\nstatus: active\nsummary: Project tracker\n---\n## Summary\nSome body here.\n"
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm.Type != "project" {
		t.Errorf("Type = %q, want project", fm.Type)
	}
	if fm.Context != "work" {
		t.Errorf("Context = %q, want work", fm.Context)
	}
	if ParseStatus(fm.Status) != StatusActive {
		t.Errorf("Status = %q, want active", fm.Status)
	}
	if !strings.Contains(body, "## Summary") {
		t.Errorf("body = %q, want section retained", body)
	}
}

func TestParseFrontmatterUnknownFieldsIgnored(t *testing.T) {
	content := "---\ntype: project\nfuture_field: something\nalso_unknown: 42\n---\nbody\n"
	fm, _, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm.Type != "project" {
		t.Errorf("Type = %q, want project", fm.Type)
	}
}

func TestParseFrontmatterMissing(t *testing.T) {
	_, _, err := ParseFrontmatter("Just some markdown without frontmatter.\n")
	if err != ErrNoFrontmatter {
		t.Errorf("err = %v, want ErrNoFrontmatter", err)
	}
}

func TestParseFrontmatterUnclosed(t *testing.T) {
	_, _, err := ParseFrontmatter("---\ntype: project\nNo closing delimiter\n")
	if err != ErrUnclosedFrontmatter {
		t.Errorf("err = %v, want ErrUnclosedFrontmatter", err)
	}
}

func TestParseStatusUnknownBecomesEmpty(t *testing.T) {
	if s := ParseStatus("draft"); s != "" {
		t.Errorf("ParseStatus(draft) = %q, want empty", s)
	}
	if s := ParseStatus(" Blocked "); s != StatusBlocked {
		t.Errorf("ParseStatus = %q, want blocked", s)
	}
}

func TestUpdatedTimeLenient(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"2026-02-15", "2026-02-15"},
		{"2026-02-15 11:00", "2026-02-15"},
		{"2026-02-15T10:30:00", "2026-02-15"},
		{"not a date", "0001-01-01"},
		{"", "0001-01-01"},
	}
	for _, c := range cases {
		fm := Frontmatter{Updated: c.raw}
		got := fm.UpdatedTime().Format("2006-01-02")
		if got != c.want {
			t.Errorf("UpdatedTime(%q) = %s, want %s", c.raw, got, c.want)
		}
	}
}

func TestRenderFrontmatterRoundTrip(t *testing.T) {
	fm := Frontmatter{
		Type:    "project",
		Name:    "alpha",
		Updated: "2026-02-15 11:00",
		Status:  "active",
		Context: "work",
		Source:  "code",
	}
	head, err := RenderFrontmatter(fm)
	if err != nil {
		t.Fatalf("RenderFrontmatter failed: %v", err)
	}
	parsed, body, err := ParseFrontmatter(head + "body text\n")
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if !reflect.DeepEqual(fmWithoutSlices(parsed), fmWithoutSlices(fm)) {
		t.Errorf("round trip mismatch: %+v vs %+v", parsed, fm)
	}
	if !strings.Contains(body, "body text") {
		t.Errorf("body = %q", body)
	}
}

// fmWithoutSlices zeroes slice fields so structs compare with ==.
func fmWithoutSlices(fm Frontmatter) Frontmatter {
	fm.Tags = nil
	fm.Related = nil
	return fm
}
