package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/daemon"
	"github.com/jamesainslie/snaptrack/pkg/daemon/monitor"
	"github.com/jamesainslie/snaptrack/pkg/daemon/scheduler"
	"github.com/jamesainslie/snaptrack/pkg/daemon/store"
	"github.com/jamesainslie/snaptrack/pkg/daemon/watcher"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Publish and announce new downloads on an interval",
	Long: `Run the monitor loop in the foreground. Every cycle publishes the
download directory and sends a Telegram summary of the files that are
new since the previous cycle.

Only one monitor may run per data directory.`,
	Annotations: map[string]string{annotationConsole: "info"},
	RunE:        runMonitor,
}

var (
	monitorNoPublish bool
	monitorOnce      bool
)

func init() {
	monitorCmd.Flags().BoolVar(&monitorNoPublish, "no-publish", false, "announce new files without pushing")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single cycle and exit")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	log := logs.Logger("monitor")

	inst, err := daemon.Acquire(cfg.Daemon.DataDir, daemon.LoopMonitor, log,
		filepath.Join(cfg.Monitor.SeenDB, "LOCK"))
	if err != nil {
		return err
	}
	defer func() { _ = inst.Release() }()

	seen, err := store.Open(cfg.Monitor.SeenDB)
	if err != nil {
		return fmt.Errorf("opening seen index: %w", err)
	}
	defer func() { _ = seen.Close() }()

	opts := monitor.Options{
		DownloadDir: cfg.DownloadDir,
		Interval:    cfg.Monitor.Interval,
		Lister:      newDetector(cfg),
		Seen:        seen,
		Notifier:    newNotifier(cfg, logs.Logger("notify")),
		Logger:      log,
	}

	if !monitorNoPublish {
		p, err := newPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		opts.Publisher = p
	}

	if cfg.Monitor.Watch && !monitorOnce {
		w, err := startWatcher(ctx, cfg.DownloadDir)
		if err != nil {
			log.Warn("filesystem watch unavailable, running every cycle", "error", err)
		} else {
			defer func() { _ = w.Close() }()
			opts.Activity = w
		}
	}

	m, err := monitor.New(opts)
	if err != nil {
		return err
	}

	if err := m.Prime(ctx); err != nil {
		return err
	}

	if monitorOnce {
		res, err := m.Cycle(ctx)
		inst.Report(time.Now(), err, cycleDetail(res))
		return err
	}

	m.Announce(ctx)
	log.Info("monitor started", "dir", cfg.DownloadDir, "interval", cfg.Monitor.Interval)

	var last monitor.Result
	sched := scheduler.New(scheduler.Options{
		Backoff: scheduler.DefaultBackoff,
		Logger:  logs.Logger("scheduler"),
		OnComplete: func(_ string, at time.Time, err error) {
			inst.Report(at, err, cycleDetail(last))
		},
	})
	if err := sched.Add(scheduler.Job{
		Name:      "monitor",
		Trigger:   scheduler.Every(cfg.Monitor.Interval),
		Immediate: true,
		Run: func(ctx context.Context) error {
			res, err := m.Cycle(ctx)
			last = res
			return err
		},
	}); err != nil {
		return err
	}

	err = sched.Run(ctx)
	log.Info("monitor stopped")
	return ignoreCancel(err)
}

// startWatcher watches dir and logs activity at debug level.
func startWatcher(ctx context.Context, dir string) (*watcher.Watcher, error) {
	log := logs.Logger("watcher")
	w, err := watcher.New(log)
	if err != nil {
		return nil, err
	}
	if err := w.Watch(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	go w.Run(ctx, func(path string, op fsnotify.Op) {
		log.Debug("activity", "path", path, "op", op.String())
	})
	return w, nil
}

func cycleDetail(res monitor.Result) string {
	switch {
	case res.Idle:
		return "idle"
	case res.Publish != nil && !res.Publish.Skipped:
		return fmt.Sprintf("%d new, %d pushed", len(res.New), res.Publish.PushedCount)
	default:
		return fmt.Sprintf("%d new", len(res.New))
	}
}
