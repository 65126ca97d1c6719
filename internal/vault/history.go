package vault

import (
	"os"
	"strings"
)

// RecentHistory returns the newest n history entries for a project.
// history.jsonl is preferred; projects predating the structured stream may
// still carry a hand-maintained history.md with reverse-chronological
// "## YYYY-MM-DD — Title" entries, which is parsed as a fallback. Unreadable
// files yield no entries, never an error.
func (v *Vault) RecentHistory(domain, project string, n int) []HistoryEntry {
	if n <= 0 {
		return nil
	}

	jsonlPath := v.HistoryPath(domain, project)
	if !IsEmptyOrMissing(jsonlPath) {
		_, entries, _, err := ReadJSONL[HistoryEntry](jsonlPath)
		if err != nil || len(entries) == 0 {
			return nil
		}
		// Appends put the newest entry at the bottom.
		out := make([]HistoryEntry, 0, n)
		for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
			e := entries[i]
			e.Date = e.Day()
			out = append(out, e)
		}
		return out
	}

	data, err := os.ReadFile(v.legacyHistoryPath(domain, project))
	if err != nil {
		return nil
	}
	return parseHistoryMarkdown(string(data), n)
}

func (v *Vault) legacyHistoryPath(domain, project string) string {
	return strings.TrimSuffix(v.HistoryPath(domain, project), ".jsonl") + ".md"
}

// parseHistoryMarkdown extracts up to n entries from a legacy history.md.
// Entries are "## <date> — <title>" headings followed by body lines, newest
// first in the file.
func parseHistoryMarkdown(content string, n int) []HistoryEntry {
	var entries []HistoryEntry
	var cur *HistoryEntry
	var body []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
		entries = append(entries, *cur)
		cur = nil
		body = nil
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			if len(entries) >= n {
				return entries
			}
			heading := strings.TrimSpace(line[3:])
			e := HistoryEntry{}
			if len(heading) >= 10 {
				e.Date = heading[:10]
			}
			if _, title, ok := strings.Cut(heading, "—"); ok {
				e.Title = strings.TrimSpace(title)
			} else if len(heading) > 10 {
				e.Title = strings.TrimSpace(heading[10:])
			}
			cur = &e
			continue
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	flush()
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
