package retention

import (
	"context"
	"errors"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/history"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/storage"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// Tier holds the maximum ages applied at one pressure level.
type Tier struct {
	Content   time.Duration
	Logs      time.Duration
	Ephemeral time.Duration
}

// DefaultElevatedTier keeps five days of content, three of logs and a day
// of archives.
var DefaultElevatedTier = Tier{Content: 5 * types.Day, Logs: 3 * types.Day, Ephemeral: 24 * time.Hour}

// DefaultCriticalTier keeps two days of content, one of logs and an hour
// of archives.
var DefaultCriticalTier = Tier{Content: 2 * types.Day, Logs: 1 * types.Day, Ephemeral: time.Hour}

// Policy binds directories to tiers.
type Policy struct {
	ContentDir      string
	LogsDir         string
	EphemeralDir    string
	EphemeralSuffix string

	// ContentExclude names entries of the content tree the sweep leaves
	// alone, matching what the publisher never tracks.
	ContentExclude []string

	Elevated Tier
	Critical Tier
}

// DefaultPolicy returns the policy for the given directories with default
// tiers and the .zip ephemeral suffix.
func DefaultPolicy(contentDir, logsDir, ephemeralDir string) Policy {
	return Policy{
		ContentDir:      contentDir,
		LogsDir:         logsDir,
		EphemeralDir:    ephemeralDir,
		EphemeralSuffix: ".zip",
		ContentExclude:  []string{".git"},
		Elevated:        DefaultElevatedTier,
		Critical:        DefaultCriticalTier,
	}
}

// TierFor returns the tier for a classification. Normal has none.
func (p Policy) TierFor(c storage.Classification) (Tier, bool) {
	switch c {
	case storage.Elevated:
		return p.Elevated, true
	case storage.Critical:
		return p.Critical, true
	default:
		return Tier{}, false
	}
}

// Report aggregates the sweeps of one Apply.
type Report struct {
	Classification storage.Classification `json:"classification" yaml:"classification"`
	Decisions      []Decision             `json:"decisions" yaml:"decisions"`
	Removed        int                    `json:"removed" yaml:"removed"`
	Bytes          int64                  `json:"bytes" yaml:"bytes"`
	Failed         int                    `json:"failed" yaml:"failed"`
	Skipped        int                    `json:"skipped" yaml:"skipped"`
}

func (r *Report) add(d Decision) {
	r.Decisions = append(r.Decisions, d)
	r.Removed += len(d.Removed)
	r.Bytes += d.Bytes
	r.Failed += d.Failed
	r.Skipped += d.Skipped
}

// Recorder journals sweeps that removed files; *history.Journal satisfies it.
type Recorder interface {
	RecordSweep(tier string, files []history.FileRecord) (*history.Entry, error)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Policy Policy

	// Guard, when set, is called at the start of every run and the
	// returned guard vetoes deletions for that run.
	Guard func() (Guard, error)

	History Recorder
	Logger  *logging.Logger
}

// Engine applies a Policy.
type Engine struct {
	opts EngineOptions
	log  *logging.Logger
	now  func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	p := opts.Policy
	if p.ContentDir == "" || p.LogsDir == "" || p.EphemeralDir == "" {
		return nil, errors.New("retention policy requires content, logs and ephemeral directories")
	}
	if p.EphemeralSuffix == "" {
		return nil, errors.New("retention policy requires an ephemeral suffix")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{opts: opts, log: log, now: time.Now}, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.opts.Policy
}

// Apply runs the sweeps for c. Normal does nothing. Errors from individual
// sweeps are logged and the remaining sweeps still run.
func (e *Engine) Apply(ctx context.Context, c storage.Classification) Report {
	tier, ok := e.opts.Policy.TierFor(c)
	if !ok {
		e.log.Info("storage normal, no cleanup needed")
		return Report{Classification: c, Decisions: []Decision{}}
	}
	return e.ApplyTier(ctx, c, tier)
}

// ApplyTier runs the content, logs and ephemeral sweeps with tier's ages.
func (e *Engine) ApplyTier(ctx context.Context, c storage.Classification, tier Tier) Report {
	report := Report{Classification: c, Decisions: []Decision{}}

	var guard Guard
	if e.opts.Guard != nil {
		g, err := e.opts.Guard()
		if err != nil {
			e.log.Error("failed to load publish guard, skipping cleanup", "error", err)
			return report
		}
		guard = g
	}

	sweeper := NewSweeper(guard, e.log)
	sweeper.now = e.now
	p := e.opts.Policy

	e.log.Info("starting cleanup",
		"level", c.String(),
		"content", types.FormatAge(tier.Content),
		"logs", types.FormatAge(tier.Logs),
		"ephemeral", types.FormatAge(tier.Ephemeral))

	for _, target := range []Target{
		{Name: "content", Dir: p.ContentDir, MaxAge: tier.Content, Exclude: p.ContentExclude},
		{Name: "logs", Dir: p.LogsDir, MaxAge: tier.Logs},
	} {
		d, err := sweeper.Sweep(ctx, target)
		if err != nil {
			e.log.Error("sweep failed", "target", target.Name, "error", err)
		}
		report.add(d)
	}

	d, err := sweeper.SweepEphemeral(ctx, p.EphemeralDir, p.EphemeralSuffix, tier.Ephemeral)
	if err != nil {
		e.log.Error("sweep failed", "target", "ephemeral", "error", err)
	}
	report.add(d)

	e.log.Info("cleanup complete",
		"level", c.String(),
		"removed", report.Removed,
		"freed", types.FormatMB(report.Bytes),
		"failed", report.Failed)

	e.record(c, report)
	return report
}

func (e *Engine) record(c storage.Classification, report Report) {
	if e.opts.History == nil || report.Removed == 0 {
		return
	}

	files := make([]history.FileRecord, 0, report.Removed)
	for _, d := range report.Decisions {
		for _, f := range d.Removed {
			files = append(files, history.FileRecord{Path: f.Path, Size: f.Size})
		}
	}
	if _, err := e.opts.History.RecordSweep(c.String(), files); err != nil {
		e.log.Warn("failed to record sweep history", "error", err)
	}
}
