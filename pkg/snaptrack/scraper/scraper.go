// Package scraper runs the external story downloader and streams its output
// into a dedicated log.
package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// ErrBinaryNotFound is returned by New when the downloader is not on PATH.
var ErrBinaryNotFound = errors.New("downloader binary not found")

// Options configures a Runner.
type Options struct {
	// Binary is the downloader executable name or path.
	Binary string

	Usernames []string

	// Dir receives downloaded files. It is created if missing.
	Dir string

	// ExtraArgs are appended after the fixed flags.
	ExtraArgs []string

	// Logger receives the downloader's output line by line.
	Logger *logging.Logger

	// WaitDelay bounds how long Run waits for the output pipes to close
	// once the downloader has exited or the context is done. Zero means
	// DefaultWaitDelay.
	WaitDelay time.Duration
}

// DefaultWaitDelay is used when Options.WaitDelay is zero.
const DefaultWaitDelay = 5 * time.Second

// maxLine is the longest output line logged in full. Longer lines are
// truncated and the remainder discarded.
const maxLine = 64 * 1024

// Runner invokes the downloader.
type Runner struct {
	path string
	opts Options
	log  *logging.Logger
}

// New resolves the binary and validates options.
func New(opts Options) (*Runner, error) {
	if len(opts.Usernames) == 0 {
		return nil, errors.New("no usernames configured")
	}
	if opts.Dir == "" {
		return nil, errors.New("download directory cannot be empty")
	}

	path, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, opts.Binary, err)
	}

	if opts.WaitDelay <= 0 {
		opts.WaitDelay = DefaultWaitDelay
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{path: path, opts: opts, log: log}, nil
}

// Args returns the downloader arguments:
// <usernames...> -u -P <dir> -d -s <extra...>.
func (r *Runner) Args() []string {
	args := make([]string, 0, len(r.opts.Usernames)+5+len(r.opts.ExtraArgs))
	args = append(args, r.opts.Usernames...)
	args = append(args, "-u", "-P", r.opts.Dir, "-d", "-s")
	args = append(args, r.opts.ExtraArgs...)
	return args
}

// Run executes one download. Standard output is logged at info level and
// standard error at error level. A non-zero exit is an error.
func (r *Runner) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	args := r.Args()
	r.log.Info("starting download", "usernames", strings.Join(r.opts.Usernames, " "), "dir", r.opts.Dir)
	r.log.Debug("command", "binary", r.path, "args", strings.Join(args, " "))

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.WaitDelay = r.opts.WaitDelay

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", r.opts.Binary, err)
	}

	var g errgroup.Group
	g.Go(func() error { return r.pump(outR, r.log.Info) })
	g.Go(func() error { return r.pump(errR, r.log.Error) })

	waitErr := cmd.Wait()
	_ = outW.Close()
	_ = errW.Close()
	if err := g.Wait(); err != nil {
		r.log.Warn("reading downloader output", "error", err)
	}

	switch {
	case waitErr == nil:
	case errors.Is(waitErr, exec.ErrWaitDelay):
		r.log.Warn("downloader exited but its output stayed open", "wait_delay", r.opts.WaitDelay)
	case ctx.Err() != nil:
		return fmt.Errorf("%s interrupted: %w", r.opts.Binary, ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			r.log.Error("download failed", "exit_code", exitErr.ExitCode())
			return fmt.Errorf("%s exited with status %d: %w", r.opts.Binary, exitErr.ExitCode(), waitErr)
		}
		return fmt.Errorf("waiting for %s: %w", r.opts.Binary, waitErr)
	}

	r.log.Info("download completed")
	return nil
}

// pump logs rd line by line until EOF. It never stops reading early, so
// the downloader cannot block on a full pipe.
func (r *Runner) pump(rd io.Reader, logf func(string, ...interface{})) error {
	br := bufio.NewReaderSize(rd, maxLine)
	skipping := false
	for {
		chunk, err := br.ReadSlice('\n')
		full := errors.Is(err, bufio.ErrBufferFull)
		if !skipping {
			if line := strings.TrimSpace(string(chunk)); line != "" {
				if full {
					logf(line, "truncated", true)
				} else {
					logf(line)
				}
			}
		}

		switch {
		case full:
			skipping = true
		case err == nil:
			skipping = false
		case errors.Is(err, io.EOF):
			return nil
		default:
			_, _ = io.Copy(io.Discard, rd)
			return err
		}
	}
}
