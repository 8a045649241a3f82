// Package gitrepo drives a local git work tree by shelling out to git.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNothingStaged is returned by Commit when the index has no changes.
var ErrNothingStaged = errors.New("nothing staged")

// PublishedRef is the local ref pointing at the last commit whose push and
// manifest save both completed.
const PublishedRef = "refs/snaptrack/published"

// Client is the subset of git the publisher and janitor need.
type Client interface {
	Add(ctx context.Context, path string) error
	StagedFiles(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, url, branch string, force bool) error
	GC(ctx context.Context) error

	// Tip returns HEAD and its subject. An unborn branch yields
	// ErrNoCommits.
	Tip(ctx context.Context) (Revision, error)

	// Published returns the commit recorded by MarkPublished, or "" when
	// none was recorded yet.
	Published(ctx context.Context) (string, error)
	MarkPublished(ctx context.Context, commit string) error
}

// ErrNoCommits is returned by Tip on a branch without commits.
var ErrNoCommits = errors.New("branch has no commits")

// Revision is a commit hash and its subject line.
type Revision struct {
	Hash    string
	Subject string
}

// Repo implements Client for the work tree at Dir.
type Repo struct {
	dir    string
	binary string
	env    []string
}

// Option customises a Repo.
type Option func(*Repo)

// WithBinary overrides the git executable.
func WithBinary(path string) Option {
	return func(r *Repo) { r.binary = path }
}

// WithEnv appends environment variables to every git invocation.
func WithEnv(env ...string) Option {
	return func(r *Repo) { r.env = append(r.env, env...) }
}

// Open returns a Repo for dir. It does not check that dir is a repository.
func Open(dir string, opts ...Option) *Repo {
	r := &Repo{dir: dir, binary: "git"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the work tree directory.
func (r *Repo) Dir() string {
	return r.dir
}

// IsRepo reports whether Dir is the top level of its own git work tree. A
// directory that merely sits inside some parent checkout is not a repo.
func (r *Repo) IsRepo(ctx context.Context) bool {
	out, err := r.output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return false
	}
	top, err := canonical(strings.TrimSpace(out))
	if err != nil {
		return false
	}
	dir, err := canonical(r.dir)
	if err != nil {
		return false
	}
	return top == dir
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Init creates a repository in Dir with the given initial branch.
func (r *Repo) Init(ctx context.Context, branch string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create work tree: %w", err)
	}
	if err := r.run(ctx, "init", "-b", branch); err != nil {
		return fmt.Errorf("git init failed: %w", err)
	}
	return nil
}

// Add stages one path relative to Dir.
func (r *Repo) Add(ctx context.Context, path string) error {
	if err := r.run(ctx, "add", "--", path); err != nil {
		return fmt.Errorf("git add %s failed: %w", path, err)
	}
	return nil
}

// StagedFiles lists the paths staged for the next commit.
func (r *Repo) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := r.output(ctx, "diff", "--cached", "--name-only", "-z")
	if err != nil {
		return nil, fmt.Errorf("git diff --cached failed: %w", err)
	}

	var files []string
	for _, name := range strings.Split(out, "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

// Commit records the index with message and returns the new commit hash.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	staged, err := r.StagedFiles(ctx)
	if err != nil {
		return "", err
	}
	if len(staged) == 0 {
		return "", ErrNothingStaged
	}

	if err := r.run(ctx, "commit", "--quiet", "-m", message); err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}
	return r.Head(ctx)
}

// Head returns the commit hash of HEAD.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Tip returns the hash and subject of HEAD.
func (r *Repo) Tip(ctx context.Context) (Revision, error) {
	if _, err := r.output(ctx, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		return Revision{}, ErrNoCommits
	}
	out, err := r.output(ctx, "log", "-1", "--format=%H%x00%s", "HEAD")
	if err != nil {
		return Revision{}, fmt.Errorf("git log failed: %w", err)
	}
	hash, subject, _ := strings.Cut(strings.TrimSpace(out), "\x00")
	return Revision{Hash: hash, Subject: subject}, nil
}

// Published returns the commit PublishedRef points at, or "" when unset.
func (r *Repo) Published(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--verify", "--quiet", PublishedRef)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", fmt.Errorf("git rev-parse %s failed: %w", PublishedRef, err)
	}
	return strings.TrimSpace(out), nil
}

// MarkPublished points PublishedRef at commit.
func (r *Repo) MarkPublished(ctx context.Context, commit string) error {
	if err := r.run(ctx, "update-ref", PublishedRef, commit); err != nil {
		return fmt.Errorf("git update-ref failed: %w", err)
	}
	return nil
}

// Push publishes branch to url. With force the remote branch is
// overwritten regardless of its history. The url never appears in the
// returned error.
func (r *Repo) Push(ctx context.Context, url, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, url, branch)

	if err := r.run(ctx, args...); err != nil {
		return errors.New(Redact(fmt.Sprintf("git push failed: %v", err), url))
	}
	return nil
}

// GC compacts the repository and drops unreachable objects immediately.
func (r *Repo) GC(ctx context.Context) error {
	if err := r.run(ctx, "gc", "--aggressive", "--prune=now", "--quiet"); err != nil {
		return fmt.Errorf("git gc failed: %w", err)
	}
	return nil
}

func (r *Repo) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.binary, append([]string{"-C", r.dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, r.env...)
	return cmd
}

// run executes git and returns an error carrying its combined output.
func (r *Repo) run(ctx context.Context, args ...string) error {
	output, err := r.command(ctx, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	cmd := r.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
