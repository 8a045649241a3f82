package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/daemon"
	"github.com/jamesainslie/snaptrack/pkg/daemon/janitor"
	"github.com/jamesainslie/snaptrack/pkg/daemon/scheduler"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/config"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/output"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Keep disk usage below the configured thresholds",
	Long: `Run the storage loop in the foreground.

Storage is measured at start and every check interval. Above the elevated
threshold the daily cleanup runs early; above the critical threshold the
critical tier is applied. The daily cleanup applies the elevated tier,
compacts the repository and measures again.`,
	Annotations: map[string]string{annotationConsole: "info"},
	RunE:        runJanitor,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one storage check",
	Long: `Measure storage and apply the retention tier that matches it.

--daily runs the daily cleanup regardless of usage.`,
	Annotations: map[string]string{annotationConsole: "warn"},
	RunE:        runCleanup,
}

var cleanupDaily bool

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDaily, "daily", false, "run the daily cleanup")
	rootCmd.AddCommand(janitorCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func runJanitor(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	log := logs.Logger("janitor")

	hour, minute, err := config.ParseClock(cfg.Janitor.DailyAt)
	if err != nil {
		return err
	}
	j, err := newJanitor(cfg)
	if err != nil {
		return err
	}

	inst, err := daemon.Acquire(cfg.Daemon.DataDir, daemon.LoopJanitor, log)
	if err != nil {
		return err
	}
	defer func() { _ = inst.Release() }()

	details := map[string]string{}
	sched := scheduler.New(scheduler.Options{
		Backoff: cfg.Janitor.Backoff,
		Logger:  logs.Logger("scheduler"),
		OnComplete: func(name string, at time.Time, err error) {
			inst.Report(at, err, name+": "+details[name])
		},
	})

	jobs := []scheduler.Job{
		{
			Name:      "storage-check",
			Trigger:   scheduler.Every(cfg.Janitor.CheckInterval),
			Immediate: true,
			Run: func(ctx context.Context) error {
				rep, err := j.CheckStorage(ctx)
				details["storage-check"] = janitorDetail(rep)
				return err
			},
		},
		{
			Name:    "daily-cleanup",
			Trigger: scheduler.DailyAt(hour, minute, time.Local),
			Run: func(ctx context.Context) error {
				rep, err := j.DailySweep(ctx)
				details["daily-cleanup"] = janitorDetail(rep)
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	log.Info("janitor started", "root", cfg.Storage.Root,
		"check_interval", cfg.Janitor.CheckInterval, "daily_at", cfg.Janitor.DailyAt)
	err = sched.Run(ctx)
	log.Info("janitor stopped")
	return ignoreCancel(err)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	j, err := newJanitor(cfg)
	if err != nil {
		return err
	}

	var rep janitor.Report
	if cleanupDaily {
		rep, err = j.DailySweep(ctx)
	} else {
		rep, err = j.CheckStorage(ctx)
	}
	if err != nil {
		return err
	}
	return render(janitorResult(rep, time.Now()))
}

func janitorDetail(rep janitor.Report) string {
	s := fmt.Sprintf("%s at %s", rep.Classification, types.FormatMB(rep.Before.Bytes))
	if rep.Sweep != nil {
		s += fmt.Sprintf(", removed %d (%s)", rep.Sweep.Removed, types.FormatSize(rep.Sweep.Bytes))
	}
	if rep.StillHigh {
		s += ", still above threshold"
	}
	return s
}

// janitorResult builds the display form of a janitor run.
func janitorResult(rep janitor.Report, now time.Time) *output.Result {
	r := &output.Result{Title: "cleanup", Data: rep}

	s := r.Section("Storage")
	s.Add("Root", rep.Before.Root)
	s.Add("Usage", types.FormatMB(rep.Before.Bytes))
	s.Add("Files", fmt.Sprintf("%d", rep.Before.Files))
	s.Add("Level", rep.Classification.String())

	if rep.Sweep == nil {
		return r
	}
	sw := r.Section("Retention")
	sw.Add("Removed", fmt.Sprintf("%d", rep.Sweep.Removed))
	sw.Add("Freed", types.FormatSize(rep.Sweep.Bytes))
	if rep.Sweep.Failed > 0 {
		sw.Add("Failed", fmt.Sprintf("%d", rep.Sweep.Failed))
	}
	if rep.Sweep.Skipped > 0 {
		sw.Add("Skipped", fmt.Sprintf("%d", rep.Sweep.Skipped))
	}
	sw.Add("Compacted", fmt.Sprintf("%t", rep.Compacted))
	if rep.After != nil {
		sw.Add("After", types.FormatMB(rep.After.Bytes))
	}

	for _, d := range rep.Sweep.Decisions {
		r.Files = append(r.Files, output.FilesFromEntries(d.Removed, now, "removed: "+d.Target)...)
	}
	if rep.Sweep.Failed > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d files could not be removed", rep.Sweep.Failed))
	}
	if rep.StillHigh {
		r.Warnings = append(r.Warnings, "usage is still above the elevated threshold")
	}
	return r
}
