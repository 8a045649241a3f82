// Package janitor implements the storage maintenance cycles: a periodic
// pressure check that sweeps at the matching tier, and a daily sweep that
// always runs the elevated tier and compacts the repository.
package janitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/retention"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/storage"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// Measurer measures a tree; *storage.Accountant satisfies it.
type Measurer interface {
	Measure(ctx context.Context, root string) (storage.Usage, error)
}

// Sweeper applies retention; *retention.Engine satisfies it.
type Sweeper interface {
	Apply(ctx context.Context, c storage.Classification) retention.Report
	ApplyTier(ctx context.Context, c storage.Classification, tier retention.Tier) retention.Report
	Policy() retention.Policy
}

// Repository compacts the published repository; *gitrepo.Repo satisfies it.
type Repository interface {
	IsRepo(ctx context.Context) bool
	GC(ctx context.Context) error
}

// Options configures a Janitor.
type Options struct {
	// Root is the tree whose size is measured.
	Root       string
	Thresholds storage.Thresholds

	Measurer Measurer
	Sweeper  Sweeper

	// Repo is optional; without it the daily sweep skips compaction.
	Repo Repository

	Logger *logging.Logger
}

// Report describes one janitor run.
type Report struct {
	Before         storage.Usage          `json:"before" yaml:"before"`
	Classification storage.Classification `json:"classification" yaml:"classification"`
	Sweep          *retention.Report      `json:"sweep,omitempty" yaml:"sweep,omitempty"`
	Compacted      bool                   `json:"compacted" yaml:"compacted"`
	After          *storage.Usage         `json:"after,omitempty" yaml:"after,omitempty"`

	// StillHigh is set when usage after a daily sweep remains above the
	// elevated threshold.
	StillHigh bool `json:"still_high" yaml:"still_high"`
}

// Janitor runs maintenance cycles.
type Janitor struct {
	opts Options
	log  *logging.Logger
}

// New creates a Janitor. Thresholds are validated here so a misconfigured
// janitor never starts.
func New(opts Options) (*Janitor, error) {
	if opts.Root == "" {
		return nil, errors.New("storage root cannot be empty")
	}
	if opts.Measurer == nil || opts.Sweeper == nil {
		return nil, errors.New("janitor requires a measurer and a sweeper")
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Janitor{opts: opts, log: log}, nil
}

// Measure reports current usage and its classification.
func (j *Janitor) Measure(ctx context.Context) (storage.Usage, storage.Classification, error) {
	usage, err := j.opts.Measurer.Measure(ctx, j.opts.Root)
	if err != nil {
		return usage, storage.Normal, fmt.Errorf("measuring storage: %w", err)
	}
	return usage, j.opts.Thresholds.Classify(usage.Bytes), nil
}

// CheckStorage measures usage and cleans up accordingly: nothing when
// normal, the daily routine when elevated, the critical tier when critical.
func (j *Janitor) CheckStorage(ctx context.Context) (Report, error) {
	usage, class, err := j.Measure(ctx)
	if err != nil {
		return Report{}, err
	}

	j.log.Info("current storage usage", "size", types.FormatMB(usage.Bytes), "level", class.String())

	switch class {
	case storage.Critical:
		j.log.Warn("storage usage critical, starting emergency cleanup",
			"threshold", types.FormatMB(j.opts.Thresholds.Critical))
		report := j.opts.Sweeper.Apply(ctx, storage.Critical)
		return Report{Before: usage, Classification: class, Sweep: &report}, nil
	case storage.Elevated:
		j.log.Info("storage usage high, starting regular cleanup",
			"threshold", types.FormatMB(j.opts.Thresholds.Elevated))
		return j.daily(ctx, usage, class)
	default:
		j.log.Info("storage usage normal, no cleanup needed")
		return Report{Before: usage, Classification: class}, nil
	}
}

// DailySweep runs the elevated tier regardless of usage, compacts the
// repository, and measures again.
func (j *Janitor) DailySweep(ctx context.Context) (Report, error) {
	j.log.Info("starting daily cleanup")

	usage, class, err := j.Measure(ctx)
	if err != nil {
		return Report{}, err
	}
	j.log.Info("initial total directory size", "size", types.FormatMB(usage.Bytes))

	return j.daily(ctx, usage, class)
}

func (j *Janitor) daily(ctx context.Context, before storage.Usage, class storage.Classification) (Report, error) {
	report := Report{Before: before, Classification: class}

	sweep := j.opts.Sweeper.ApplyTier(ctx, storage.Elevated, j.opts.Sweeper.Policy().Elevated)
	report.Sweep = &sweep

	report.Compacted = j.compact(ctx)

	after, err := j.opts.Measurer.Measure(ctx, j.opts.Root)
	if err != nil {
		return report, fmt.Errorf("measuring storage after cleanup: %w", err)
	}
	report.After = &after

	j.log.Info("final total directory size", "size", types.FormatMB(after.Bytes))
	j.log.Info("cleanup completed", "removed", sweep.Removed, "freed", types.FormatMB(sweep.Bytes))

	if after.Bytes > j.opts.Thresholds.Elevated {
		report.StillHigh = true
		j.log.Warn("storage usage still high",
			"size", types.FormatMB(after.Bytes),
			"threshold", types.FormatMB(j.opts.Thresholds.Elevated))
	}
	return report, nil
}

func (j *Janitor) compact(ctx context.Context) bool {
	if j.opts.Repo == nil {
		return false
	}
	if !j.opts.Repo.IsRepo(ctx) {
		j.log.Warn("no git repository found, skipping compaction")
		return false
	}
	if err := j.opts.Repo.GC(ctx); err != nil {
		j.log.Error("git gc failed", "error", err)
		return false
	}
	j.log.Info("git garbage collection completed")
	return true
}
