package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// ErrLocked is returned by Lock when another process holds the manifest.
var ErrLocked = errors.New("fingerprint manifest is locked by another process")

// Store reads and writes a Manifest as a JSON file.
type Store struct {
	path string
	log  *logging.Logger
}

// NewStore creates a store for the manifest at path. A nil logger discards.
func NewStore(path string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{path: path, log: log}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the manifest. It never fails: a missing, unreadable or corrupt
// file yields an empty manifest, and entries without a usable hash are
// dropped so their paths count as never published.
func (s *Store) Load() Manifest {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Debug("no manifest yet, starting empty", "path", s.path)
		return Manifest{}
	}
	if err != nil {
		s.log.Warn("manifest unreadable, starting empty", "path", s.path, "error", err)
		return Manifest{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Warn("manifest corrupt, starting empty", "path", s.path, "error", err)
		return Manifest{}
	}

	m := make(Manifest, len(raw))
	dropped := 0
	for path, value := range raw {
		var entry struct {
			Hash  *string  `json:"hash"`
			MTime *float64 `json:"mtime"`
		}
		if err := json.Unmarshal(value, &entry); err != nil || entry.Hash == nil || *entry.Hash == "" {
			dropped++
			continue
		}
		r := Record{Hash: *entry.Hash}
		if entry.MTime != nil {
			r.MTime = *entry.MTime
		}
		m[path] = r
	}

	if dropped > 0 {
		s.log.Warn("ignored malformed manifest entries", "path", s.path, "count", dropped)
	}
	s.log.Debug("loaded manifest", "entries", len(m))
	return m
}

// Save replaces the manifest file with m. The new content is written to a
// temporary file in the same directory, synced, then renamed over the
// target, so readers see either the old or the new manifest.
func (s *Store) Save(m Manifest) error {
	if m == nil {
		m = Manifest{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	s.log.Info("saved manifest", "entries", len(m), "path", s.path)
	return nil
}

// Lock takes a non-blocking exclusive advisory lock on <manifest>.lock.
// The caller must Unlock the returned lock. ErrLocked means another
// producer is mid-cycle.
func (s *Store) Lock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	fl := flock.New(s.path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock manifest: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl, nil
}
