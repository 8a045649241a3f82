package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/snaptrack/pkg/daemon/janitor"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/config"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/detect"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/fingerprint"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/gitrepo"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/history"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/notify"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/output"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/publish"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/retention"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/storage"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// loadConfig loads configuration using the global flags.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(config.Options{ConfigFile: cfgFile, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return c, nil
}

// parseRotationConfig converts the configured rotation. An empty or
// unparsable size falls back to the writer default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.RotationConfig{
		MaxSize:    logging.DefaultRotationConfig().MaxSize,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
	if size, err := types.ParseSize(rc.MaxSize); err == nil && size > 0 {
		out.MaxSize = size
	}
	return out
}

// consoleLevel picks the console log level for cmd: the flags first, then
// logging.console_level, then the command's own default.
func consoleLevel(cmd *cobra.Command) string {
	switch {
	case getVerbose():
		return "debug"
	case getQuiet():
		return ""
	case cfg != nil && cfg.Logging.ConsoleLevel != "":
		return cfg.Logging.ConsoleLevel
	case cmd != nil:
		return cmd.Annotations[annotationConsole]
	default:
		return ""
	}
}

// initializeLogging loads the configuration and opens the process log.
// It is the root PersistentPreRunE.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	if cmd != nil && cmd.Annotations[annotationNoLog] != "" {
		return nil
	}

	c, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = c

	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	root, err := logging.New(logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: consoleLevel(cmd),
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logs = root
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ignoreCancel drops the error a loop returns when it was stopped by a
// signal.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newNotifier returns the Telegram notifier. Missing credentials disable
// it with an error log rather than failing the command.
func newNotifier(c *config.Config, log *logging.Logger) notify.Notifier {
	if err := c.ValidateNotify(); err != nil {
		log.Error("telegram notifications disabled", "error", err)
	}
	return notify.New(notify.Config{
		BotToken:       c.Notify.BotToken,
		ChatID:         c.Notify.ChatID,
		BaseURL:        c.Notify.BaseURL,
		MessageTimeout: c.Notify.MessageTimeout,
		FileTimeout:    c.Notify.FileTimeout,
	}, log)
}

func newJournal(c *config.Config) (*history.Journal, error) {
	return history.New(c.Publish.HistoryDir)
}

func newDetector(c *config.Config) *detect.Detector {
	return detect.New(detect.Options{
		Exclude: c.Publish.Exclude,
		Logger:  logs.Logger("detect"),
	})
}

// newPublisher wires the publish pipeline, initialising the download
// directory as a repository when needed.
func newPublisher(ctx context.Context, c *config.Config) (*publish.Publisher, error) {
	if err := c.ValidatePublish(); err != nil {
		return nil, err
	}
	mode, err := publish.ParseMode(c.Publish.Mode)
	if err != nil {
		return nil, err
	}

	log := logs.Logger("publisher")

	if err := os.MkdirAll(c.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	repo := gitrepo.Open(c.DownloadDir)
	if !repo.IsRepo(ctx) {
		log.Info("initializing git repository", "dir", c.DownloadDir, "branch", c.Publish.Branch)
		if err := repo.Init(ctx, c.Publish.Branch); err != nil {
			return nil, fmt.Errorf("initializing repository: %w", err)
		}
	}

	journal, err := newJournal(c)
	if err != nil {
		return nil, err
	}

	return publish.New(publish.Options{
		Root:      c.DownloadDir,
		RemoteURL: c.Publish.RemoteURL,
		Branch:    c.Publish.Branch,
		Mode:      mode,
		Store:     fingerprint.NewStore(c.Publish.ManifestPath, log),
		Scanner:   newDetector(c),
		Git:       repo,
		History:   journal,
		Logger:    log,
	})
}

// tier converts configured ages.
func tier(tc config.TierConfig) (retention.Tier, error) {
	d, err := tc.Durations()
	if err != nil {
		return retention.Tier{}, err
	}
	return retention.Tier{Content: d.Content, Logs: d.Logs, Ephemeral: d.Ephemeral}, nil
}

// newEngine wires the retention engine.
func newEngine(c *config.Config) (*retention.Engine, error) {
	elevated, err := tier(c.Retention.Elevated)
	if err != nil {
		return nil, fmt.Errorf("retention.elevated: %w", err)
	}
	critical, err := tier(c.Retention.Critical)
	if err != nil {
		return nil, fmt.Errorf("retention.critical: %w", err)
	}

	policy := retention.DefaultPolicy(c.DownloadDir, c.LogsDir, c.WorkDir)
	policy.EphemeralSuffix = c.Retention.EphemeralSuffix
	if len(c.Publish.Exclude) > 0 {
		policy.ContentExclude = c.Publish.Exclude
	}
	policy.Elevated = elevated
	policy.Critical = critical

	journal, err := newJournal(c)
	if err != nil {
		return nil, err
	}

	opts := retention.EngineOptions{
		Policy:  policy,
		History: journal,
		Logger:  logs.Logger("retention"),
	}
	if c.Retention.RequirePublished {
		store := fingerprint.NewStore(c.Publish.ManifestPath, logs.Logger("retention"))
		root := c.DownloadDir
		opts.Guard = func() (retention.Guard, error) {
			return retention.NewPublishedGuard(root, store.Load())
		}
	}
	return retention.NewEngine(opts)
}

// thresholds parses and validates the storage thresholds.
func thresholds(c *config.Config) (storage.Thresholds, error) {
	elevated, critical, err := c.Thresholds()
	if err != nil {
		return storage.Thresholds{}, err
	}
	t := storage.Thresholds{Elevated: elevated, Critical: critical}
	return t, t.Validate()
}

// newJanitor wires the storage maintenance cycles.
func newJanitor(c *config.Config) (*janitor.Janitor, error) {
	if err := c.ValidateRetention(); err != nil {
		return nil, err
	}
	t, err := thresholds(c)
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(c)
	if err != nil {
		return nil, err
	}
	return janitor.New(janitor.Options{
		Root:       c.Storage.Root,
		Thresholds: t,
		Measurer:   storage.New(0, logs.Logger("storage")),
		Sweeper:    engine,
		Repo:       gitrepo.Open(c.DownloadDir),
		Logger:     logs.Logger("janitor"),
	})
}

// render writes r in the format selected by --output.
func render(r *output.Result) error {
	name := viper.GetString("output")
	var f output.Formatter
	if name == "template" {
		tmpl := viper.GetString("template")
		if tmpl == "" {
			return errors.New("--template is required with -o template")
		}
		f = output.NewTemplateFormatter(tmpl)
	} else {
		var err error
		if f, err = output.Get(name); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}
