// Package history keeps an append-only log of validation and snapshot runs
// as one JSON file per run.
package history

import "time"

// Operation names what a run did.
type Operation string

const (
	OpValidate Operation = "validate"
	OpSnapshot Operation = "snapshot"
)

// Entry is one recorded run.
type Entry struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Operation Operation    `json:"operation"`
	Files     []FileRecord `json:"files"`
	Summary   Summary      `json:"summary"`
}

// FileRecord is the outcome for one document.
type FileRecord struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256,omitempty"`
	Valid    bool   `json:"valid"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`

	// SnapshotID is set for snapshot runs.
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Summary totals a run.
type Summary struct {
	Files    int `json:"files"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

func summarize(files []FileRecord) Summary {
	s := Summary{Files: len(files)}
	for _, f := range files {
		if f.Valid {
			s.Valid++
		} else {
			s.Invalid++
		}
		s.Errors += f.Errors
		s.Warnings += f.Warnings
	}
	return s
}
