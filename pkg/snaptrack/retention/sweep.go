// Package retention deletes aged files when storage is under pressure.
//
// A Sweeper removes files older than a cutoff from one directory. An Engine
// maps a storage classification to a tier of per-directory ages and runs
// the three sweeps that tier calls for.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// Target names a directory and the maximum age of files kept in it.
type Target struct {
	Name   string
	Dir    string
	MaxAge time.Duration

	// Exclude holds entry names that are never descended into or removed.
	// ".git" is always excluded.
	Exclude []string
}

// vcsDir is kept out of every sweep; the content directory is a work tree.
const vcsDir = ".git"

func excluded(name string, names []string) bool {
	return name == vcsDir || slices.Contains(names, name)
}

// Decision is the outcome of one sweep. It is logged, never persisted.
type Decision struct {
	Target string        `json:"target" yaml:"target"`
	Dir    string        `json:"dir" yaml:"dir"`
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`
	Cutoff time.Time     `json:"cutoff" yaml:"cutoff"`

	Removed []types.FileEntry `json:"removed" yaml:"removed"`
	Bytes   int64             `json:"bytes" yaml:"bytes"`

	// Failed counts files that were old enough but could not be removed.
	Failed int `json:"failed" yaml:"failed"`

	// Skipped counts files held back by the guard.
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Guard vetoes deletion of individual files.
type Guard interface {
	// Protected reports whether the file at path must be kept.
	Protected(path string) bool
}

// Sweeper removes aged files.
type Sweeper struct {
	now   func() time.Time
	guard Guard
	log   *logging.Logger
}

// NewSweeper creates a Sweeper. guard may be nil.
func NewSweeper(guard Guard, log *logging.Logger) *Sweeper {
	if log == nil {
		log = logging.Nop()
	}
	return &Sweeper{now: time.Now, guard: guard, log: log}
}

// Sweep recursively deletes regular files under target.Dir whose mtime is
// strictly before now minus target.MaxAge. Excluded names are pruned. A
// missing directory is logged and yields an empty decision. Symlinks are
// neither followed nor removed.
func (s *Sweeper) Sweep(ctx context.Context, target Target) (Decision, error) {
	d := s.decision(target)

	if !s.dirExists(target.Dir) {
		return d, nil
	}

	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, target.Dir, func(path string, de fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.log.Warn("sweep: skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if path != target.Dir && excluded(de.Name(), target.Exclude) {
			if de.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}

		info, err := de.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		s.consider(&d, path, info)
		return nil
	})
	if err != nil {
		return d, fmt.Errorf("sweeping %s: %w", target.Dir, err)
	}

	s.report(d)
	return d, nil
}

// SweepEphemeral deletes files directly inside dir whose name ends with
// suffix and whose mtime is older than maxAge. It does not recurse.
func (s *Sweeper) SweepEphemeral(ctx context.Context, dir, suffix string, maxAge time.Duration) (Decision, error) {
	d := s.decision(Target{Name: "ephemeral", Dir: dir, MaxAge: maxAge})
	if suffix == "" {
		return d, errors.New("ephemeral suffix cannot be empty")
	}

	if !s.dirExists(dir) {
		return d, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return d, fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		if !de.Type().IsRegular() || !strings.HasSuffix(de.Name(), suffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		s.consider(&d, filepath.Join(dir, de.Name()), info)
	}

	s.report(d)
	return d, nil
}

func (s *Sweeper) decision(target Target) Decision {
	name := target.Name
	if name == "" {
		name = filepath.Base(target.Dir)
	}
	return Decision{
		Target:  name,
		Dir:     target.Dir,
		MaxAge:  target.MaxAge,
		Cutoff:  s.now().Add(-target.MaxAge),
		Removed: []types.FileEntry{},
	}
}

func (s *Sweeper) dirExists(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		s.log.Warn("sweep directory does not exist", "dir", dir)
		return false
	}
	if !info.IsDir() {
		s.log.Warn("sweep target is not a directory", "dir", dir)
		return false
	}
	return true
}

// consider removes path when it is older than the decision cutoff.
func (s *Sweeper) consider(d *Decision, path string, info fs.FileInfo) {
	if !info.ModTime().Before(d.Cutoff) {
		return
	}
	if s.guard != nil && s.guard.Protected(path) {
		s.log.Debug("keeping unpublished file", "path", path)
		d.Skipped++
		return
	}

	if err := os.Remove(path); err != nil {
		s.log.Error("failed to delete file", "path", path, "error", err)
		d.Failed++
		return
	}

	age := s.now().Sub(info.ModTime())
	s.log.Info("deleted file", "path", path, "age", types.FormatAge(age.Truncate(time.Second)))
	d.Removed = append(d.Removed, types.FileEntry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
	d.Bytes += info.Size()
}

func (s *Sweeper) report(d Decision) {
	if len(d.Removed) == 0 && d.Failed == 0 {
		s.log.Debug("nothing to delete", "target", d.Target, "max_age", types.FormatAge(d.MaxAge))
		return
	}
	s.log.Info("sweep complete",
		"target", d.Target,
		"max_age", types.FormatAge(d.MaxAge),
		"removed", len(d.Removed),
		"freed", types.FormatMB(d.Bytes),
		"failed", d.Failed,
		"skipped", d.Skipped)
}
