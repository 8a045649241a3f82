// Package monitor implements the download monitor cycle: publish what
// changed, work out which files are new since the last cycle, and tell
// the chat about them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/notify"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/publish"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// Lister lists the download tree; *detect.Detector satisfies it.
type Lister interface {
	List(ctx context.Context, root string) ([]types.FileEntry, error)
}

// Publisher runs a publish cycle; *publish.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context) (publish.Result, error)
}

// SeenIndex remembers the files already announced; *store.Store
// satisfies it.
type SeenIndex interface {
	Primed() bool
	Diff(current []types.FileEntry) ([]types.FileEntry, error)
	Replace(entries []types.FileEntry) error
}

// ActivityTracker reports filesystem activity; *watcher.Watcher
// satisfies it.
type ActivityTracker interface {
	TakeDirty() bool
	MarkDirty()
}

// Options configures a Monitor.
type Options struct {
	DownloadDir string
	Interval    time.Duration

	Lister Lister
	Seen   SeenIndex

	// Publisher is optional; without it nothing is pushed.
	Publisher Publisher

	// Activity is optional; with it, a cycle after a clean cycle is
	// skipped when no activity was seen.
	Activity ActivityTracker

	Notifier notify.Notifier
	Logger   *logging.Logger
	Now      func() time.Time
}

// Result summarizes one cycle.
type Result struct {
	ID       string            `json:"id" yaml:"id"`
	Idle     bool              `json:"idle" yaml:"idle"`
	Total    int               `json:"total" yaml:"total"`
	Bytes    int64             `json:"bytes" yaml:"bytes"`
	New      []types.FileEntry `json:"new" yaml:"new"`
	Publish  *publish.Result   `json:"publish,omitempty" yaml:"publish,omitempty"`
	Notified bool              `json:"notified" yaml:"notified"`
}

// Monitor runs monitor cycles. It is not safe for concurrent use.
type Monitor struct {
	opts      Options
	log       *logging.Logger
	lastClean bool
}

// New creates a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.DownloadDir == "" {
		return nil, errors.New("download directory cannot be empty")
	}
	if opts.Lister == nil || opts.Seen == nil {
		return nil, errors.New("monitor requires a lister and a seen index")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{opts: opts, log: log}, nil
}

// Prime records the current tree as seen when the index is empty, so the
// first cycle does not announce every existing file.
func (m *Monitor) Prime(ctx context.Context) error {
	if m.opts.Seen.Primed() {
		m.log.Info("seen index already primed")
		return nil
	}

	files, err := m.opts.Lister.List(ctx, m.opts.DownloadDir)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	if err := m.opts.Seen.Replace(files); err != nil {
		return fmt.Errorf("recording initial scan: %w", err)
	}
	m.log.Info("initial scan complete", "files", len(files))
	return nil
}

// Announce sends the startup message.
func (m *Monitor) Announce(ctx context.Context) bool {
	return m.opts.Notifier.SendMessage(ctx, StartupMessage(m.opts.DownloadDir, m.opts.Interval))
}

// Cycle runs one monitor cycle. A publish failure is returned after the
// notification went out so the scheduler retries sooner.
func (m *Monitor) Cycle(ctx context.Context) (Result, error) {
	res := Result{ID: uuid.NewString()[:8], New: []types.FileEntry{}}
	log := m.log.With("cycle", res.ID)

	if m.opts.Activity != nil {
		dirty := m.opts.Activity.TakeDirty()
		if !dirty && m.lastClean {
			log.Debug("no filesystem activity, skipping cycle")
			res.Idle = true
			return res, nil
		}
	}
	m.lastClean = false

	files, err := m.opts.Lister.List(ctx, m.opts.DownloadDir)
	if err != nil {
		m.markDirty()
		return res, fmt.Errorf("scanning downloads: %w", err)
	}
	res.Total = len(files)
	res.Bytes = types.TotalSize(files)
	log.Info("download directory summary", "files", res.Total, "size", types.FormatMB(res.Bytes))

	added, err := m.opts.Seen.Diff(files)
	if err != nil {
		m.markDirty()
		return res, fmt.Errorf("diffing seen files: %w", err)
	}
	res.New = added

	push := PushDisabled
	var pubErr error
	if m.opts.Publisher != nil {
		pr, err := m.opts.Publisher.Publish(ctx)
		if err != nil {
			log.Error("publish failed", "error", err)
			push = PushFailed
			pubErr = err
		} else {
			res.Publish = &pr
			push = PushOK
		}
	}

	if len(added) > 0 {
		log.Info("new files detected", "count", len(added), "size", types.FormatMB(types.TotalSize(added)))
		for _, f := range added {
			log.Info("new file", "path", f.Path)
		}
		msg := SummaryMessage(added, m.opts.Now(), push)
		res.Notified = m.opts.Notifier.SendMessage(ctx, msg)
		if !res.Notified {
			log.Warn("notification not delivered")
		}
	} else {
		log.Debug("no new files")
	}

	if err := m.opts.Seen.Replace(files); err != nil {
		m.markDirty()
		return res, fmt.Errorf("recording seen files: %w", err)
	}

	if pubErr != nil {
		m.markDirty()
		return res, pubErr
	}

	m.lastClean = true
	return res, nil
}

func (m *Monitor) markDirty() {
	if m.opts.Activity != nil {
		m.opts.Activity.MarkDirty()
	}
}
