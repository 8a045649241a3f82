package monitor

import (
	"fmt"
	"html"
	"path"
	"strings"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/publish"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// maxListed is how many file names a summary shows.
const maxListed = 5

// TimeLayout is the timestamp format used in messages.
const TimeLayout = "02 January 2006 03:04 PM"

// PushState describes what happened to the remote in a cycle.
type PushState int

// Push states.
const (
	PushOK PushState = iota
	PushFailed
	PushDisabled
)

// SummaryMessage formats the new-download notification. files must be
// non-empty; names are shown without directories, HTML-escaped.
func SummaryMessage(files []types.FileEntry, at time.Time, push PushState) string {
	var b strings.Builder

	b.WriteString("📥 New Snapchat story downloaded\n\n")
	fmt.Fprintf(&b, "📁 Files: %d\n", len(files))
	fmt.Fprintf(&b, "📊 Size: %s\n", types.FormatMB(types.TotalSize(files)))
	fmt.Fprintf(&b, "🕒 Time: %s\n\n", at.In(publish.IST).Format(TimeLayout))

	shown := files
	if len(files) > maxListed {
		shown = files[:maxListed]
		fmt.Fprintf(&b, "📋 Files (showing first %d):\n", maxListed)
	} else {
		b.WriteString("📋 Files:\n")
	}
	for i, f := range shown {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• " + html.EscapeString(path.Base(f.Path)))
	}
	if len(files) > maxListed {
		fmt.Fprintf(&b, "\n... and %d more files", len(files)-maxListed)
	}

	switch push {
	case PushOK:
		b.WriteString("\n\n✅ Files pushed to GitHub repository")
	case PushFailed:
		b.WriteString("\n\n⚠️ Push to GitHub failed, retrying next cycle")
	}

	return b.String()
}

// StartupMessage announces that monitoring began.
func StartupMessage(dir string, interval time.Duration) string {
	var b strings.Builder
	b.WriteString("🚀 Snap-Tracker Monitoring Started\n\n")
	fmt.Fprintf(&b, "📂 Watching: %s\n", html.EscapeString(dir))
	fmt.Fprintf(&b, "⏱️ Check interval: %s\n", humanInterval(interval))
	b.WriteString("🔄 Git push: Incremental, one-way\n")
	b.WriteString("📊 Storage optimized: No zip files")
	return b.String()
}

func humanInterval(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
