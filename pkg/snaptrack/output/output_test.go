package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

func sampleResult() *Result {
	r := &Result{Title: "status"}
	r.Section("storage").
		Add("usage", "120.0 MB").
		Add("level", "normal")
	r.Section("loops").
		Add("monitor", "running").
		Add("janitor", "stopped")
	r.Files = []FileInfo{
		{Path: "alice/story.mp4", Size: 2 * 1024 * 1024, SizeHuman: "2.0 MiB", Note: "new"},
		{Path: "bob/photo.jpg", Size: 512 * 1024, SizeHuman: "512 KiB"},
	}
	r.Warnings = []string{"storage usage still high"}
	return r
}

func format(t *testing.T, name string, r *Result) string {
	t.Helper()
	f, err := Get(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	return buf.String()
}

func TestSectionReusesTitle(t *testing.T) {
	r := &Result{}
	r.Section("a").Add("x", "1")
	r.Section("a").Add("y", "2")
	r.Section("b")

	require.Len(t, r.Sections, 2)
	assert.Equal(t, []Field{{"x", "1"}, {"y", "2"}}, r.Sections[0].Fields)
}

func TestResult_TotalSize(t *testing.T) {
	assert.Equal(t, int64(2*1024*1024+512*1024), sampleResult().TotalSize())
	assert.Zero(t, (&Result{}).TotalSize())
}

func TestFilesFromEntries(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	entries := []types.FileEntry{
		{Path: "alice/a.mp4", Size: 1024, ModTime: now.Add(-2 * time.Hour)},
	}

	files := FilesFromEntries(entries, now, "removed")
	require.Len(t, files, 1)
	assert.Equal(t, "alice/a.mp4", files[0].Path)
	assert.Equal(t, "1.0 KiB", files[0].SizeHuman)
	assert.Equal(t, 2*time.Hour, files[0].Age)
	assert.Equal(t, "removed", files[0].Note)

	assert.Zero(t, FilesFromEntries(entries, time.Time{}, "")[0].Age)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", func() Formatter { return &PlainFormatter{} })
	reg.Register("alpha", func() Formatter { return &PathsFormatter{} })

	assert.Equal(t, []string{"alpha", "zeta"}, reg.Available())

	f, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.IsType(t, &PathsFormatter{}, f)

	_, err = reg.Get("unknown")
	assert.ErrorContains(t, err, "unknown formatter")
}

func TestDefaultRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "paths", "plain", "pretty", "template", "yaml"}, Available())
}

func TestPrettyFormatter(t *testing.T) {
	out := format(t, "pretty", sampleResult())

	for _, want := range []string{"storage", "usage", "120.0 MB", "monitor", "running",
		"SIZE", "PATH", "alice/story.mp4", "new", "2.0 MiB", "Files:", "Warnings:", "storage usage still high"} {
		assert.Contains(t, out, want)
	}
}

func TestPrettyFormatter_Empty(t *testing.T) {
	out := format(t, "pretty", &Result{Title: "history"})
	assert.Contains(t, out, "No files")
}

func TestPrettyFormatter_DataFallback(t *testing.T) {
	out := format(t, "pretty", &Result{Title: "config", Data: map[string]string{"download_dir": "downloads"}})
	assert.Contains(t, out, "config")
	assert.Contains(t, out, "download_dir: downloads")
}

func TestPlainFormatter(t *testing.T) {
	out := format(t, "plain", sampleResult())
	lines := strings.Split(strings.TrimSpace(out), "\n")

	assert.Regexp(t, `^storage\.usage\s+120\.0 MB$`, lines[0])
	assert.Contains(t, out, "loops.janitor")
	assert.Regexp(t, `(?m)^SIZE\s+PATH\s+NOTE`, out)
	assert.Regexp(t, `(?m)^2\.0 MiB\s+alice/story\.mp4\s+new`, out)
	assert.Regexp(t, `(?m)^warning\s+storage usage still high$`, out)
	assert.NotContains(t, out, "\x1b[", "plain output must not contain escape codes")
}

func TestPathsFormatter(t *testing.T) {
	assert.Equal(t, "alice/story.mp4\nbob/photo.jpg\n", format(t, "paths", sampleResult()))
}

func TestJSONFormatter(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		var decoded Result
		require.NoError(t, json.Unmarshal([]byte(format(t, "json", sampleResult())), &decoded))
		assert.Equal(t, "status", decoded.Title)
		require.Len(t, decoded.Sections, 2)
		assert.Equal(t, "monitor", decoded.Sections[1].Fields[0].Label)
		assert.Len(t, decoded.Files, 2)
	})

	t.Run("data", func(t *testing.T) {
		r := sampleResult()
		r.Data = map[string]int{"seen": 12}
		assert.JSONEq(t, `{"seen": 12}`, format(t, "json", r))
	})
}

func TestYAMLFormatter(t *testing.T) {
	r := &Result{Title: "config", Data: struct {
		Branch string `yaml:"branch"`
	}{Branch: "main"}}

	out := format(t, "yaml", r)
	var decoded map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "main", decoded["branch"])
}

func TestTemplateFormatter(t *testing.T) {
	f := NewTemplateFormatter(`{{range .Files}}{{.Path}}={{bytes .Size}};{{end}}{{.TotalSize}}`)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Equal(t, "alice/story.mp4=2.0 MiB;bob/photo.jpg=512 KiB;2621440", buf.String())

	bad := NewTemplateFormatter("{{.Missing")
	assert.Error(t, bad.Format(&buf, sampleResult()))
}

func TestTemplateFormatter_Date(t *testing.T) {
	f := NewTemplateFormatter(`{{range .Files}}{{date .ModTime "2006-01-02"}}|{{end}}`)
	r := &Result{Files: []FileInfo{
		{Path: "a", ModTime: time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)},
		{Path: "b"},
	}}
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	assert.Equal(t, "2024-06-15||", buf.String())
}

func TestTemplateFormatter_FieldAndMB(t *testing.T) {
	r := &Result{}
	r.Section("Storage").Add("Level", "critical")
	f := NewTemplateFormatter(`{{field .Result "Storage" "Level"}} {{field .Result "Storage" "Missing"}}|{{mb 5242880}}`)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	assert.Equal(t, "critical |5.00 MB", buf.String())
}
