package vault

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// SchemaVersion is the version written into new JSONL stream headers.
const SchemaVersion = "1.0"

// Schema names for the structured JSONL streams.
const (
	HistorySchema = "history"
	LessonsSchema = "lessons"
)

// SchemaHeader is the first record of every structured JSONL stream. It
// names the record shape so future versions can migrate readers instead of
// guessing.
type SchemaHeader struct {
	Schema  string `json:"_schema"`
	Version string `json:"_version"`
}

// HistoryEntry is one immutable event record in history.jsonl.
type HistoryEntry struct {
	Date       string `json:"date"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Focus      string `json:"focus"`
	NextAction string `json:"next_action"`
	Commit     string `json:"commit"`
	Body       string `json:"body"`
	Source     string `json:"source"`
}

// Day returns the YYYY-MM-DD part of the entry date.
func (e HistoryEntry) Day() string {
	if len(e.Date) >= 10 {
		return e.Date[:10]
	}
	return e.Date
}

// Time parses the RFC3339 entry date, zero time on failure.
func (e HistoryEntry) Time() time.Time {
	t, err := time.Parse(time.RFC3339, e.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LessonEntry is one immutable post-mortem record in lessons.jsonl.
type LessonEntry struct {
	Date         string `json:"date"`
	Title        string `json:"title"`
	WhatHappened string `json:"what_happened"`
	RootCause    string `json:"root_cause"`
	Prevention   string `json:"prevention"`
	Source       string `json:"source"`
}

// AppendJSONL appends one record to a JSONL stream, writing the schema
// header first when the file is new or empty. The record is marshalled and
// written as a single line.
func AppendJSONL(path, schema string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", schema, err)
	}

	if IsEmptyOrMissing(path) {
		header, err := json.Marshal(SchemaHeader{Schema: schema, Version: SchemaVersion})
		if err != nil {
			return err
		}
		if err := AppendRecord(path, header); err != nil {
			return err
		}
	}
	return AppendRecord(path, data)
}

// ReadJSONL reads a structured JSONL stream, decoding each record line into
// T. The schema header is returned separately. Records that fail to decode
// are skipped and counted — a stream written by a newer version must still
// be readable best-effort.
func ReadJSONL[T any](path string) (header SchemaHeader, records []T, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return header, nil, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.Contains(line, `"_schema"`) {
				if jerr := json.Unmarshal([]byte(line), &header); jerr == nil {
					continue
				}
			}
			// No header means a legacy stream, fall through to record decoding.
		}
		var rec T
		if jerr := json.Unmarshal([]byte(line), &rec); jerr != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return header, records, skipped, sc.Err()
}
