package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown entry ID.
var ErrNotFound = errors.New("history entry not found")

// Journal stores entries under a directory.
type Journal struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// New creates a Journal rooted at dir. The directory is created on first write.
func New(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Journal{dir: dir, now: time.Now}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// RecordPublish appends a publish entry.
func (j *Journal) RecordPublish(commit, message, branch string, files []FileRecord) (*Entry, error) {
	entry := j.newEntry(OpPublish, files)
	entry.Commit = commit
	entry.Message = message
	entry.Branch = branch
	return entry, j.write(entry)
}

// RecordSweep appends a retention entry.
func (j *Journal) RecordSweep(tier string, files []FileRecord) (*Entry, error) {
	entry := j.newEntry(OpSweep, files)
	entry.Tier = tier
	return entry, j.write(entry)
}

func (j *Journal) newEntry(op OperationType, files []FileRecord) *Entry {
	if files == nil {
		files = []FileRecord{}
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.Size
	}

	now := j.now().UTC()
	return &Entry{
		ID:        generateID(op, now),
		Timestamp: now,
		Operation: op,
		Files:     files,
		Summary: Summary{
			TotalFiles: int64(len(files)),
			TotalBytes: totalBytes,
		},
	}
}

func (j *Journal) write(entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	path := filepath.Join(j.dir, entry.ID+".json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// List returns entries newest first. op filters by operation when non-empty;
// limit <= 0 returns everything. Unparsable files are skipped.
func (j *Journal) List(op OperationType, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if op == "" || e.Operation == op {
			filtered = append(filtered, e)
		}
	}

	sort.Slice(filtered, func(a, b int) bool {
		return filtered[a].Timestamp.After(filtered[b].Timestamp)
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// Get retrieves an entry by ID.
func (j *Journal) Get(id string) (*Entry, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := readEntryFile(filepath.Join(j.dir, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Cleanup removes entries older than maxAge and returns how many it removed.
func (j *Journal) Cleanup(maxAge time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read history directory: %w", err)
	}

	cutoff := j.now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(j.dir, f.Name())); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

func (j *Journal) readAll() ([]Entry, error) {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := readEntryFile(filepath.Join(j.dir, f.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func readEntryFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// generateID creates a sortable unique ID like "publish-2024-06-15T10-30-00-1a2b3c4d".
func generateID(op OperationType, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%s", op, ts.Format("2006-01-02T15-04-05"), uuid.NewString()[:8])
}
