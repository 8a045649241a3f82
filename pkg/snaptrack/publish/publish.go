// Package publish mirrors new and modified files of the tracked tree to a
// remote git repository and advances the fingerprint manifest only after
// the remote accepted them.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/detect"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/fingerprint"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/gitrepo"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/history"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// Mode selects how the remote branch is updated.
type Mode string

const (
	// ModeOverwrite force-pushes, replacing whatever the remote branch
	// holds. This is the default: one producer owns the remote.
	ModeOverwrite Mode = "overwrite"

	// ModeFastForward pushes without --force and fails when the remote
	// has diverged.
	ModeFastForward Mode = "fast-forward"
)

// ParseMode parses a configured mode. Empty means ModeOverwrite.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeOverwrite:
		return ModeOverwrite, nil
	case ModeFastForward:
		return ModeFastForward, nil
	default:
		return "", fmt.Errorf("unknown publish mode %q", s)
	}
}

// IST is the fixed UTC+05:30 zone commit messages are written in.
var IST = time.FixedZone("IST", 5*3600+30*60)

// CommitMessage formats the commit message for n files at t.
func CommitMessage(n int, t time.Time) string {
	return fmt.Sprintf("Incremental update: %d files at %s", n, t.In(IST).Format("02 January 2006 03:04 PM MST"))
}

// Scanner produces change sets; *detect.Detector satisfies it.
type Scanner interface {
	Scan(ctx context.Context, root string, prior fingerprint.Manifest) (*detect.ChangeSet, fingerprint.Manifest, error)
}

// Recorder journals successful cycles; *history.Journal satisfies it.
type Recorder interface {
	RecordPublish(commit, message, branch string, files []history.FileRecord) (*history.Entry, error)
}

// Options configures a Publisher.
type Options struct {
	// Root is the tracked directory and git work tree.
	Root string

	RemoteURL string
	Branch    string
	Mode      Mode

	Store   *fingerprint.Store
	Scanner Scanner
	Git     gitrepo.Client

	// History is optional.
	History Recorder

	Logger *logging.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a completed cycle.
type Result struct {
	// Skipped is true when nothing changed; no commit or push happened.
	Skipped bool

	// PushedCount is the number of files in the pushed commit.
	PushedCount int

	Changes *detect.ChangeSet

	// Staged lists the paths committed; Failed lists changed paths that
	// could not be staged and were left for the next cycle.
	Staged []string
	Failed []string

	Commit  string
	Message string
	Bytes   int64
}

// Publisher runs publish cycles.
type Publisher struct {
	opts Options
	log  *logging.Logger
}

// New creates a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Root == "" {
		return nil, errors.New("publish root cannot be empty")
	}
	if opts.Store == nil || opts.Scanner == nil || opts.Git == nil {
		return nil, errors.New("publish requires a store, scanner and git client")
	}
	if opts.Branch == "" {
		return nil, errors.New("publish branch cannot be empty")
	}
	if opts.Mode == "" {
		opts.Mode = ModeOverwrite
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Publisher{opts: opts, log: log}, nil
}

// Publish runs one cycle: detect, stage each changed path, commit, push,
// then persist the candidate manifest. A failure anywhere before the save
// leaves the manifest file untouched so the next cycle retries the same
// changes. When a retry finds the changes already committed by a cycle
// that failed to push or save, it pushes that commit again.
func (p *Publisher) Publish(ctx context.Context) (Result, error) {
	lock, err := p.opts.Store.Lock()
	if err != nil {
		return Result{}, fail(StageLock, "manifest busy", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.log.Warn("failed to release manifest lock", "error", err)
		}
	}()

	prior := p.opts.Store.Load()

	changes, candidate, err := p.opts.Scanner.Scan(ctx, p.opts.Root, prior)
	if err != nil {
		return Result{}, fail(StageDetect, "scanning tracked tree", err)
	}

	result := Result{Changes: changes}
	if changes.IsEmpty() {
		p.log.Info("no changes detected, repository up to date", "files", len(candidate))
		result.Skipped = true
		return result, nil
	}

	p.log.Info("changes detected", "added", len(changes.Added), "modified", len(changes.Modified))
	p.logPaths(changes.Paths())

	staged, failed := p.stage(ctx, changes.Paths())
	result.Failed = failed
	for _, path := range failed {
		if old, ok := prior[path]; ok {
			candidate[path] = old
		} else {
			delete(candidate, path)
		}
	}

	if len(staged) == 0 {
		tip, ok := p.unpublishedTip(ctx)
		if !ok {
			return result, fail(StageStage, "nothing staged after adding changed files", ErrNothingStaged)
		}
		// An earlier cycle committed these paths but never finished
		// publishing them. Push that commit instead of making a new one.
		p.log.Warn("nothing staged, resuming unpublished commit", "commit", shortHash(tip.Hash))
		result.Staged = without(changes.Paths(), failed)
		result.Commit = tip.Hash
		result.Message = tip.Subject
	} else {
		result.Staged = staged
		message := CommitMessage(len(staged), p.opts.Now())
		commit, err := p.opts.Git.Commit(ctx, message)
		if err != nil {
			return result, fail(StageCommit, "creating commit", err)
		}
		result.Commit = commit
		result.Message = message
		p.log.Info("created commit", "commit", shortHash(commit), "message", message)
	}

	force := p.opts.Mode == ModeOverwrite
	if err := p.opts.Git.Push(ctx, p.opts.RemoteURL, p.opts.Branch, force); err != nil {
		return result, fail(StagePush, "updating remote "+p.opts.Branch,
			errors.New(gitrepo.Redact(err.Error(), p.opts.RemoteURL)))
	}
	files := p.fileRecords(result.Staged, candidate)
	result.PushedCount = len(result.Staged)
	for _, f := range files {
		result.Bytes += f.Size
	}

	if err := p.opts.Store.Save(candidate); err != nil {
		return result, fail(StageSave, "persisting manifest", err)
	}
	if err := p.opts.Git.MarkPublished(ctx, result.Commit); err != nil {
		p.log.Warn("failed to mark commit as published", "commit", shortHash(result.Commit), "error", err)
	}

	p.log.Info("publish complete",
		"files", result.PushedCount,
		"size", humanize.IBytes(uint64(result.Bytes)),
		"branch", p.opts.Branch,
		"mode", string(p.opts.Mode))

	p.record(result, files)
	return result, nil
}

// unpublishedTip returns HEAD when it differs from the last commit that was
// both pushed and recorded in the manifest.
func (p *Publisher) unpublishedTip(ctx context.Context) (gitrepo.Revision, bool) {
	tip, err := p.opts.Git.Tip(ctx)
	if err != nil {
		if !errors.Is(err, gitrepo.ErrNoCommits) {
			p.log.Error("failed to read branch tip", "error", err)
		}
		return gitrepo.Revision{}, false
	}
	published, err := p.opts.Git.Published(ctx)
	if err != nil {
		p.log.Error("failed to read published commit", "error", err)
		return gitrepo.Revision{}, false
	}
	return tip, tip.Hash != published
}

// stage adds each path on its own and then asks git what actually landed
// in the index.
func (p *Publisher) stage(ctx context.Context, paths []string) (staged, failed []string) {
	for _, path := range paths {
		if err := p.opts.Git.Add(ctx, path); err != nil {
			p.log.Error("failed to stage file", "path", path, "error", err)
			failed = append(failed, path)
		}
	}
	p.log.Info("staged files", "added", len(paths)-len(failed), "requested", len(paths))

	staged, err := p.opts.Git.StagedFiles(ctx)
	if err != nil {
		p.log.Error("failed to list staged files", "error", err)
		return nil, failed
	}
	return staged, failed
}

func (p *Publisher) logPaths(paths []string) {
	const shown = 10
	for i, path := range paths {
		if i == shown {
			p.log.Info("more changed files", "count", len(paths)-shown)
			return
		}
		p.log.Info("changed", "path", path)
	}
}

// fileRecords stats each path once for both the result size and history.
func (p *Publisher) fileRecords(paths []string, candidate fingerprint.Manifest) []history.FileRecord {
	files := make([]history.FileRecord, 0, len(paths))
	for _, path := range paths {
		rec := history.FileRecord{Path: path, Hash: candidate[path].Hash}
		if info, err := os.Stat(filepath.Join(p.opts.Root, filepath.FromSlash(path))); err == nil {
			rec.Size = info.Size()
		}
		files = append(files, rec)
	}
	return files
}

func (p *Publisher) record(result Result, files []history.FileRecord) {
	if p.opts.History == nil {
		return
	}
	if _, err := p.opts.History.RecordPublish(result.Commit, result.Message, p.opts.Branch, files); err != nil {
		p.log.Warn("failed to record publish history", "error", err)
	}
}

func without(paths, drop []string) []string {
	if len(drop) == 0 {
		return paths
	}
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	kept := make([]string, 0, len(paths))
	for _, path := range paths {
		if !skip[path] {
			kept = append(kept, path)
		}
	}
	return kept
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
