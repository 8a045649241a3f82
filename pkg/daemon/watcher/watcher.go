// Package watcher tracks filesystem activity under the download tree so the
// monitor can skip a full hash scan when nothing has been touched.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// Watcher watches directories recursively and records whether anything
// changed since the flag was last taken. A new Watcher starts dirty.
type Watcher struct {
	watcher *fsnotify.Watcher
	paths   map[string]bool
	exclude map[string]struct{}
	mu      sync.RWMutex
	closed  bool
	dirty   atomic.Bool
	events  atomic.Int64
	log     *logging.Logger
}

// New creates a new Watcher. Directories named in exclude are neither
// watched nor counted as activity.
func New(log *logging.Logger, exclude ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logging.Nop()
	}
	if len(exclude) == 0 {
		exclude = []string{".git"}
	}
	names := make(map[string]struct{}, len(exclude))
	for _, n := range exclude {
		names[n] = struct{}{}
	}

	w := &Watcher{
		watcher: fsw,
		paths:   make(map[string]bool),
		exclude: names,
		log:     log,
	}
	w.dirty.Store(true)
	return w, nil
}

// Watch starts watching a path recursively.
// It adds watches to the root directory and all subdirectories.
// Symlinks are not followed to avoid loops.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return nil // Only watch directories
	}

	return w.addTree(absRoot)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}

		// Skip symlinks to avoid loops
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			if _, skip := w.exclude[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return w.addWatch(path)
		}

		return nil
	})
}

// addWatch adds a single directory to the watch list.
func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	// Already watching this path
	if w.paths[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		w.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}

	w.paths[path] = true
	return nil
}

// Dirty reports whether activity was seen since the last TakeDirty.
func (w *Watcher) Dirty() bool {
	return w.dirty.Load()
}

// TakeDirty returns the dirty flag and clears it. Call it before a scan so
// activity during the scan marks the next cycle.
func (w *Watcher) TakeDirty() bool {
	return w.dirty.Swap(false)
}

// MarkDirty forces the next TakeDirty to return true, for example after a
// failed cycle.
func (w *Watcher) MarkDirty() {
	w.dirty.Store(true)
}

// Events returns the number of relevant events observed.
func (w *Watcher) Events() int64 {
	return w.events.Load()
}

// WatchCount returns the number of watched directories.
func (w *Watcher) WatchCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.paths)
}

// Run starts the event loop. It blocks until the context is cancelled.
// onChange, if non-nil, is called for each counted event.
func (w *Watcher) Run(ctx context.Context, onChange func(path string, op fsnotify.Op)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.handleEvent(event, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Overflow means events were lost, so assume the worst.
			w.MarkDirty()
			w.log.Error("watcher error", "error", err)
		}
	}
}

// handleEvent processes a single filesystem event.
func (w *Watcher) handleEvent(event fsnotify.Event, onChange func(path string, op fsnotify.Op)) {
	if w.excluded(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.handleCreate(event.Name)
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		// A rename is a remove here; the new name arrives as a create.
		w.handleRemove(event.Name)
	case event.Op&fsnotify.Write != 0:
	default:
		// Chmod alone never changes content.
		return
	}

	w.dirty.Store(true)
	w.events.Add(1)

	if onChange != nil {
		onChange(event.Name, event.Op)
	}
}

// excluded reports whether any path element is an excluded name.
func (w *Watcher) excluded(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := w.exclude[part]; ok {
			return true
		}
	}
	return false
}

// handleCreate adds watches for new directories, including any
// subdirectories created with them.
func (w *Watcher) handleCreate(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return // File might have been deleted already
	}

	if info.IsDir() && info.Mode()&fs.ModeSymlink == 0 {
		_ = w.addTree(path)
	}
}

// handleRemove drops watches for a removed directory and its children.
func (w *Watcher) handleRemove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.paths[path] {
		_ = w.watcher.Remove(path)
		delete(w.paths, path)
	}

	for childPath := range w.paths {
		if isSubPath(childPath, path) {
			_ = w.watcher.Remove(childPath)
			delete(w.paths, childPath)
		}
	}
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
