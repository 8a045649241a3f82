package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// startRun runs the event loop and returns a function that reports the
// paths seen so far.
func startRun(t *testing.T, w *Watcher) func() []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	var (
		mu     sync.Mutex
		events []string
	)
	go w.Run(ctx, func(path string, _ fsnotify.Op) {
		mu.Lock()
		events = append(events, path)
		mu.Unlock()
	})

	// Give watcher time to start
	time.Sleep(100 * time.Millisecond)

	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), events...)
	}
}

// waitFor polls cond for up to two seconds.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func TestNewStartsDirty(t *testing.T) {
	w := newTestWatcher(t)

	if !w.Dirty() {
		t.Error("New watcher should start dirty")
	}
	if !w.TakeDirty() {
		t.Error("TakeDirty() should return the initial dirty flag")
	}
	if w.TakeDirty() {
		t.Error("TakeDirty() should clear the flag")
	}

	w.MarkDirty()
	if !w.Dirty() {
		t.Error("MarkDirty() should set the flag")
	}
}

func TestWatchRecursive(t *testing.T) {
	w := newTestWatcher(t)

	tmpDir := t.TempDir()
	for _, d := range []string{"alice", "alice/stories", "bob", ".git/objects"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Watch(tmpDir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, d := range []string{"", "alice", "alice/stories", "bob"} {
		if !w.paths[filepath.Join(tmpDir, d)] {
			t.Errorf("Watch() did not track %q", d)
		}
	}
	if w.paths[filepath.Join(tmpDir, ".git")] {
		t.Error("Watch() should skip excluded directories")
	}
}

func TestWatchNonExistent(t *testing.T) {
	w := newTestWatcher(t)

	if err := w.Watch(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Watch() should fail for a missing root")
	}
}

func TestWatchIgnoresSymlinks(t *testing.T) {
	w := newTestWatcher(t)

	tmpDir := t.TempDir()
	target := t.TempDir()
	link := filepath.Join(tmpDir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	if err := w.Watch(tmpDir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if w.WatchCount() != 1 {
		t.Errorf("Expected only the root to be watched, got %d", w.WatchCount())
	}
}

func TestRunMarksDirtyOnCreate(t *testing.T) {
	w := newTestWatcher(t)
	tmpDir := t.TempDir()
	if err := w.Watch(tmpDir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	w.TakeDirty()

	events := startRun(t, w)

	testFile := filepath.Join(tmpDir, "story.mp4")
	if err := os.WriteFile(testFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(w.Dirty) {
		t.Fatal("Run() did not mark the watcher dirty after a create")
	}
	if !waitFor(func() bool { return len(events()) > 0 }) {
		t.Fatal("onChange was not called")
	}
	if events()[0] != testFile {
		t.Errorf("Expected event for %s, got %v", testFile, events())
	}
	if w.Events() == 0 {
		t.Error("Events() should count observed events")
	}
}

func TestRunIgnoresExcludedActivity(t *testing.T) {
	w := newTestWatcher(t)
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(tmpDir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	w.TakeDirty()

	events := startRun(t, w)

	// Writing inside .git creates no watched event; touching the .git
	// directory entry itself must be ignored too.
	if err := os.WriteFile(filepath.Join(gitDir, "index"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(gitDir, time.Now(), time.Now()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if w.Dirty() {
		t.Errorf("Excluded activity should not mark dirty, events: %v", events())
	}
}

func TestNewDirectoryWatchAdded(t *testing.T) {
	w := newTestWatcher(t)
	tmpDir := t.TempDir()
	if err := w.Watch(tmpDir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	startRun(t, w)

	newDir := filepath.Join(tmpDir, "carol")
	if err := os.Mkdir(newDir, 0o755); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(func() bool {
		w.mu.RLock()
		defer w.mu.RUnlock()
		return w.paths[newDir]
	})
	if !ok {
		t.Fatal("new directory was not watched")
	}

	// Activity inside the new directory is seen.
	w.TakeDirty()
	if err := os.WriteFile(filepath.Join(newDir, "1.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(w.Dirty) {
		t.Error("activity in a new directory did not mark dirty")
	}
}

func TestRemoveDropsWatches(t *testing.T) {
	w := newTestWatcher(t)
	tmpDir := t.TempDir()
	sub := filepath.Join(tmpDir, "alice", "stories")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(tmpDir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	startRun(t, w)

	if err := os.RemoveAll(filepath.Join(tmpDir, "alice")); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(func() bool { return w.WatchCount() == 1 })
	if !ok {
		t.Errorf("Expected only root watch to remain, got %d", w.WatchCount())
	}
}

func TestRunContextCancellation(t *testing.T) {
	w := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestClose(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := w.addWatch(t.TempDir()); err != nil {
		t.Errorf("addWatch after Close should be a no-op, got %v", err)
	}
}
