// Package detect walks the tracked tree, fingerprints every file and
// compares the result with the last published manifest.
package detect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/fingerprint"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// ErrNotDirectory is returned when the root exists but is not a directory.
var ErrNotDirectory = errors.New("root is not a directory")

// Options configures a Detector.
type Options struct {
	// Exclude holds directory names that are never descended into.
	// Empty means just ".git".
	Exclude []string

	// Workers bounds walk parallelism. Zero lets fastwalk decide.
	Workers int

	Logger *logging.Logger
}

// Detector computes change sets for a tree.
type Detector struct {
	exclude map[string]struct{}
	workers int
	log     *logging.Logger
}

// New creates a Detector.
func New(opts Options) *Detector {
	names := opts.Exclude
	if len(names) == 0 {
		names = []string{".git"}
	}
	exclude := make(map[string]struct{}, len(names))
	for _, n := range names {
		exclude[n] = struct{}{}
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Detector{exclude: exclude, workers: opts.Workers, log: log}
}

// Scan fingerprints every regular file below root and diffs against prior.
// It returns the change set and the candidate manifest: a full rebuild of
// every file that could be hashed. A file whose hash matches its prior
// record is unchanged even if its mtime moved. Files that fail to hash are
// logged and left out of both results.
func (d *Detector) Scan(ctx context.Context, root string, prior fingerprint.Manifest) (*ChangeSet, fingerprint.Manifest, error) {
	absRoot, err := validateRoot(root)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu        sync.Mutex
		candidate = make(fingerprint.Manifest)
		cs        = &ChangeSet{Added: []string{}, Modified: []string{}}
	)

	walkErr := d.walk(ctx, absRoot, func(path string, de fs.DirEntry) {
		rel, ok := relPath(absRoot, path)
		if !ok {
			return
		}

		info, err := de.Info()
		if err != nil {
			d.log.Warn("stat failed, skipping", "path", rel, "error", err)
			mu.Lock()
			cs.Unreadable = append(cs.Unreadable, rel)
			mu.Unlock()
			return
		}

		hash, err := fingerprint.HashFile(path)
		if err != nil {
			d.log.Warn("hash failed, skipping", "path", rel, "error", err)
			mu.Lock()
			cs.Unreadable = append(cs.Unreadable, rel)
			mu.Unlock()
			return
		}

		rec := fingerprint.Record{Hash: hash, MTime: fingerprint.MTimeOf(info.ModTime())}

		mu.Lock()
		defer mu.Unlock()
		candidate[rel] = rec
		old, seen := prior[rel]
		switch {
		case !seen:
			cs.Added = append(cs.Added, rel)
		case old.Hash != hash:
			cs.Modified = append(cs.Modified, rel)
		}
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	cs.sort()
	d.log.Debug("scan complete",
		"root", absRoot,
		"files", len(candidate),
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"unreadable", len(cs.Unreadable))

	return cs, candidate, nil
}

// List returns every regular file below root with its size, skipping
// directories whose name starts with a dot. Entries are unordered.
func (d *Detector) List(ctx context.Context, root string) ([]types.FileEntry, error) {
	absRoot, err := validateRoot(root)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		entries []types.FileEntry
	)

	conf := fastwalk.Config{Follow: false, NumWorkers: d.workers}
	err = fastwalk.Walk(&conf, absRoot, func(path string, de fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			d.log.Debug("walk error", "path", path, "error", err)
			return nil
		}
		if de.IsDir() {
			if path != absRoot && strings.HasPrefix(de.Name(), ".") {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}

		rel, ok := relPath(absRoot, path)
		if !ok {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		entries = append(entries, types.FileEntry{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", absRoot, err)
	}

	return entries, nil
}

// walk calls fn concurrently for every regular file, pruning excluded
// directories. Walk errors on individual entries are logged and skipped.
func (d *Detector) walk(ctx context.Context, root string, fn func(path string, de fs.DirEntry)) error {
	conf := fastwalk.Config{Follow: false, NumWorkers: d.workers}

	err := fastwalk.Walk(&conf, root, func(path string, de fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			d.log.Warn("walk error, skipping", "path", path, "error", err)
			return nil
		}
		if de.IsDir() {
			if _, skip := d.exclude[de.Name()]; skip && path != root {
				return fastwalk.SkipDir
			}
			return nil
		}
		if de.Type().IsRegular() {
			fn(path, de)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return nil
}

func validateRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	return abs, nil
}

func relPath(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
