package detect

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/fingerprint"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanEmptyManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hi")
	writeFile(t, root, "b.txt", "bye")

	cs, candidate, err := New(Options{}).Scan(context.Background(), root, fingerprint.Manifest{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt"}, cs.Added)
	assert.Empty(t, cs.Modified)
	assert.Equal(t, []string{"a.txt", "b.txt"}, cs.Paths())
	assert.Equal(t, fingerprint.HashBytes([]byte("hi")), candidate["a.txt"].Hash)
	assert.Equal(t, fingerprint.HashBytes([]byte("bye")), candidate["b.txt"].Hash)
}

func TestScanChangeSetExactness(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "same.txt", "unchanged")
	writeFile(t, root, "edited.txt", "v2")
	writeFile(t, root, "new/fresh.txt", "new")

	prior := fingerprint.Manifest{
		"same.txt":   {Hash: fingerprint.HashBytes([]byte("unchanged")), MTime: 1},
		"edited.txt": {Hash: fingerprint.HashBytes([]byte("v1")), MTime: 1},
		"gone.txt":   {Hash: fingerprint.HashBytes([]byte("deleted")), MTime: 1},
	}

	cs, candidate, err := New(Options{}).Scan(context.Background(), root, prior)
	require.NoError(t, err)

	want := &ChangeSet{Added: []string{"new/fresh.txt"}, Modified: []string{"edited.txt"}}
	if diff := cmp.Diff(want, cs); diff != "" {
		t.Errorf("change set mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"edited.txt", "new/fresh.txt", "same.txt"}, candidate.Paths())
	assert.NotContains(t, candidate, "gone.txt", "deleted files leave the candidate")
}

func TestScanMTimeOnlyChangeIsNotAChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hi")

	d := New(Options{})
	_, first, err := d.Scan(context.Background(), root, fingerprint.Manifest{})
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), later, later))

	cs, second, err := d.Scan(context.Background(), root, first)
	require.NoError(t, err)
	assert.True(t, cs.IsEmpty())
	assert.NotEqual(t, first["a.txt"].MTime, second["a.txt"].MTime)
}

func TestScanSkipsGitDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")
	writeFile(t, root, "nested/.git/config", "x")
	writeFile(t, root, "story.jpg", "img")

	cs, candidate, err := New(Options{}).Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"story.jpg"}, cs.Added)
	assert.Len(t, candidate, 1)
}

func TestScanCustomExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tmp/partial.part", "x")
	writeFile(t, root, "keep.txt", "y")

	cs, _, err := New(Options{Exclude: []string{".git", "tmp"}}).Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, cs.Added)
}

func TestScanSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real.txt", "data")
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))

	cs, _, err := New(Options{}).Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt"}, cs.Added)
}

func TestScanUnreadableFileIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files regardless of mode")
	}

	root := t.TempDir()
	writeFile(t, root, "ok.txt", "fine")
	writeFile(t, root, "locked.txt", "secret")
	require.NoError(t, os.Chmod(filepath.Join(root, "locked.txt"), 0o000))

	cs, candidate, err := New(Options{}).Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, cs.Added)
	assert.Equal(t, []string{"locked.txt"}, cs.Unreadable)
	assert.NotContains(t, candidate, "locked.txt")
}

func TestScanRootErrors(t *testing.T) {
	d := New(Options{})

	_, _, err := d.Scan(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, _, err = d.Scan(context.Background(), file, nil)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestScanCanceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(Options{}).Scan(ctx, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "12345")
	writeFile(t, root, "user/story.mp4", "1234567890")
	writeFile(t, root, ".cache/skip.bin", "zzz")
	writeFile(t, root, ".hidden-file", "x")

	entries, err := New(Options{}).List(context.Background(), root)
	require.NoError(t, err)

	slices.SortFunc(entries, func(a, b types.FileEntry) int {
		if a.Path < b.Path {
			return -1
		}
		return 1
	})

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{".hidden-file", "a.txt", "user/story.mp4"}, paths)
	assert.Equal(t, int64(16), types.TotalSize(entries))
}

func TestChangeSetNil(t *testing.T) {
	var cs *ChangeSet
	assert.True(t, cs.IsEmpty())
	assert.Zero(t, cs.Len())
	assert.Nil(t, cs.Paths())
}
