package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/daemon"
	"github.com/jamesainslie/snaptrack/pkg/daemon/scheduler"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/scraper"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run the story downloader on an interval",
	Long: `Run the external downloader for every configured username, then
again after each interval. A failed run is retried after the retry
interval. Downloader output is written to its own log file.`,
	Annotations: map[string]string{annotationConsole: "info"},
	RunE:        runScrape,
}

var scrapeOnce bool

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeOnce, "once", false, "run the downloader once and exit")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateScraper(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	log := logs.Logger("scraper")

	// Downloader output goes to a dedicated file, mirrored to the console
	// at the same level as the process log.
	out, err := logging.New(logging.Config{
		Level:        "info",
		Path:         cfg.Scraper.LogPath,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		ConsoleLevel: consoleLevel(cmd),
	})
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	runner, err := scraper.New(scraper.Options{
		Binary:    cfg.Scraper.Binary,
		Usernames: cfg.Scraper.Usernames,
		Dir:       cfg.DownloadDir,
		ExtraArgs: cfg.Scraper.ExtraArgs,
		Logger:    out.Logger("downloader"),
	})
	if err != nil {
		return err
	}

	inst, err := daemon.Acquire(cfg.Daemon.DataDir, daemon.LoopScraper, log)
	if err != nil {
		return err
	}
	defer func() { _ = inst.Release() }()

	if scrapeOnce {
		err := runner.Run(ctx)
		inst.Report(time.Now(), err, "")
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Backoff: cfg.Scraper.RetryInterval,
		Logger:  logs.Logger("scheduler"),
		OnComplete: func(_ string, at time.Time, err error) {
			inst.Report(at, err, "")
		},
	})
	if err := sched.Add(scheduler.Job{
		Name:      "scrape",
		Trigger:   scheduler.Every(cfg.Scraper.Interval),
		Immediate: true,
		Run:       func(ctx context.Context) error { return runner.Run(ctx) },
	}); err != nil {
		return err
	}

	log.Info("scraper started", "usernames", len(cfg.Scraper.Usernames),
		"interval", cfg.Scraper.Interval, "log", out.Path())
	err = sched.Run(ctx)
	log.Info("scraper stopped")
	return ignoreCancel(err)
}
