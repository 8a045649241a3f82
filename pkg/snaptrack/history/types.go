// Package history keeps a journal of completed publish and retention
// operations as one JSON file per entry.
package history

import "time"

// OperationType represents the type of operation.
type OperationType string

const (
	// OpPublish records a successful publish cycle.
	OpPublish OperationType = "publish"
	// OpSweep records a retention pass that deleted files.
	OpSweep OperationType = "sweep"
)

// Entry represents a single journal entry.
type Entry struct {
	ID        string        `json:"id" yaml:"id"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Operation OperationType `json:"operation" yaml:"operation"`

	// Commit and Message are set for publish entries.
	Commit  string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Branch  string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// Tier is set for sweep entries.
	Tier string `json:"tier,omitempty" yaml:"tier,omitempty"`

	Files   []FileRecord `json:"files" yaml:"files"`
	Summary Summary      `json:"summary" yaml:"summary"`
}

// FileRecord represents a file touched by an operation.
type FileRecord struct {
	Path string `json:"path" yaml:"path"`
	Size int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`
}

// Summary contains operation totals.
type Summary struct {
	TotalFiles int64 `json:"total_files" yaml:"total_files"`
	TotalBytes int64 `json:"total_bytes" yaml:"total_bytes"`
}
