package history

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	j, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, j)

	_, err = New("")
	assert.Error(t, err)
}

func TestRecordPublishAndGet(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "history")
	j, err := New(dir)
	require.NoError(t, err)

	files := []FileRecord{{Path: "a.txt", Size: 2, Hash: "h1"}, {Path: "b.txt", Size: 3, Hash: "h2"}}
	entry, err := j.RecordPublish("abc123", "Incremental update: 2 files at x", "main", files)
	require.NoError(t, err)

	assert.Equal(t, OpPublish, entry.Operation)
	assert.Contains(t, entry.ID, "publish-")
	assert.Equal(t, int64(2), entry.Summary.TotalFiles)
	assert.Equal(t, int64(5), entry.Summary.TotalBytes)

	got, err := j.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Commit)
	assert.Equal(t, "main", got.Branch)
	assert.Len(t, got.Files, 2)

	_, err = j.Get("publish-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = j.Get("../escape")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrderAndFilter(t *testing.T) {
	t.Parallel()

	j, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	step := 0
	j.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	_, err = j.RecordPublish("c1", "first", "main", nil)
	require.NoError(t, err)
	_, err = j.RecordSweep("elevated", []FileRecord{{Path: "old.mp4", Size: 100}})
	require.NoError(t, err)
	_, err = j.RecordPublish("c2", "second", "main", nil)
	require.NoError(t, err)

	all, err := j.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c2", all[0].Commit)
	assert.Equal(t, OpSweep, all[1].Operation)

	publishes, err := j.List(OpPublish, 0)
	require.NoError(t, err)
	require.Len(t, publishes, 2)

	limited, err := j.List("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c2", limited[0].Commit)
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()

	j, err := New(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)

	entries, err := j.List("", 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestListSkipsCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)

	_, err = j.RecordPublish("c1", "m", "main", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	entries, err := j.List("", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)

	old, err := j.RecordPublish("old", "m", "main", nil)
	require.NoError(t, err)
	_, err = j.RecordPublish("new", "m", "main", nil)
	require.NoError(t, err)

	past := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, old.ID+".json"), past, past))

	removed, err := j.Cleanup(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := j.List("", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Commit)
}

func TestConcurrentRecords(t *testing.T) {
	t.Parallel()

	j, err := New(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.RecordSweep("critical", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := j.List(OpSweep, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}
