package model

import (
	"time"
)

// UnknownAuthor is used when a commit has no attributable author
const UnknownAuthor = "unknown"

// FileChange is a single file touched by a commit
type FileChange struct {
	Filename     string `json:"filename"`
	LinesChanged int    `json:"lines_changed"`
}

// Record is one translated commit
type Record struct {
	// ID is the commit SHA. Downstream consumers can use it to drop
	// duplicates replayed after a restore.
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	Author       string       `json:"author"`
	FilesChanged []FileChange `json:"files_changed"`
}

// TimestampMillis returns the event time in epoch milliseconds
func (r Record) TimestampMillis() int64 {
	return r.Timestamp.UnixMilli()
}

// LinesChanged returns the total line count over all files
func (r Record) LinesChanged() int {
	total := 0
	for _, f := range r.FilesChanged {
		total += f.LinesChanged
	}
	return total
}

// Filenames returns the names of all changed files in order
func (r Record) Filenames() []string {
	names := make([]string, len(r.FilesChanged))
	for i, f := range r.FilesChanged {
		names[i] = f.Filename
	}
	return names
}

// ToMap converts the record to a map representation
func (r Record) ToMap() map[string]interface{} {
	files := make([]map[string]interface{}, len(r.FilesChanged))
	for i, f := range r.FilesChanged {
		files[i] = map[string]interface{}{
			"filename":      f.Filename,
			"lines_changed": f.LinesChanged,
		}
	}

	return map[string]interface{}{
		"id":            r.ID,
		"timestamp":     r.Timestamp,
		"author":        r.Author,
		"files_changed": files,
	}
}
