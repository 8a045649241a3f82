package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

var (
	// ErrMissing reports a required setting that is empty.
	ErrMissing = errors.New("missing required setting")

	// ErrInvalid reports a setting with an unusable value.
	ErrInvalid = errors.New("invalid setting")
)

func missing(key, legacy string) error {
	if legacy != "" {
		return fmt.Errorf("%w: %s (or %s)", ErrMissing, key, legacy)
	}
	return fmt.Errorf("%w: %s", ErrMissing, key)
}

func invalid(key string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, key, fmt.Sprintf(format, args...))
}

// ValidatePublish checks the settings the publisher needs.
func (c *Config) ValidatePublish() error {
	var errs []error

	if c.DownloadDir == "" {
		errs = append(errs, missing("download_dir", "DOWNLOAD_DIR"))
	}
	if c.Publish.RemoteURL == "" {
		errs = append(errs, missing("publish.remote_url", "REPO_URL_WITH_TOKEN"))
	}
	if c.Publish.Branch == "" {
		errs = append(errs, missing("publish.branch", "REPO_BRANCH"))
	}
	switch c.Publish.Mode {
	case "overwrite", "fast-forward":
	default:
		errs = append(errs, invalid("publish.mode", "%q is not overwrite or fast-forward", c.Publish.Mode))
	}
	if c.Publish.ManifestPath == "" {
		errs = append(errs, missing("publish.manifest_path", ""))
	} else if c.DownloadDir != "" && within(c.DownloadDir, c.Publish.ManifestPath) {
		errs = append(errs, invalid("publish.manifest_path", "must not be inside download_dir %s", c.DownloadDir))
	}

	return errors.Join(errs...)
}

// ValidateNotify checks the Telegram settings.
func (c *Config) ValidateNotify() error {
	var errs []error
	if c.Notify.BotToken == "" {
		errs = append(errs, missing("notify.bot_token", "TELEGRAM_BOT_TOKEN"))
	}
	if c.Notify.ChatID == "" {
		errs = append(errs, missing("notify.chat_id", "TELEGRAM_CHAT_ID"))
	}
	if c.Notify.MessageTimeout <= 0 {
		errs = append(errs, invalid("notify.message_timeout", "must be positive"))
	}
	if c.Notify.FileTimeout <= 0 {
		errs = append(errs, invalid("notify.file_timeout", "must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateRetention checks thresholds, tier ages and janitor cadence.
// Thresholds must satisfy critical > elevated > 0.
func (c *Config) ValidateRetention() error {
	var errs []error

	if _, _, err := c.Thresholds(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Retention.Elevated.Durations(); err != nil {
		errs = append(errs, fmt.Errorf("retention.elevated: %w", err))
	}
	if _, err := c.Retention.Critical.Durations(); err != nil {
		errs = append(errs, fmt.Errorf("retention.critical: %w", err))
	}
	if c.Retention.EphemeralSuffix == "" {
		errs = append(errs, missing("retention.ephemeral_suffix", ""))
	}
	if _, _, err := ParseClock(c.Janitor.DailyAt); err != nil {
		errs = append(errs, fmt.Errorf("janitor.daily_at: %w", err))
	}
	if c.Janitor.CheckInterval <= 0 {
		errs = append(errs, invalid("janitor.check_interval", "must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateScraper checks the downloader settings.
func (c *Config) ValidateScraper() error {
	var errs []error
	if c.Scraper.Binary == "" {
		errs = append(errs, missing("scraper.binary", ""))
	}
	if len(c.Scraper.Usernames) == 0 {
		errs = append(errs, missing("scraper.usernames", "SNAPCHAT_USERNAME"))
	}
	if c.DownloadDir == "" {
		errs = append(errs, missing("download_dir", "DOWNLOAD_DIR"))
	}
	if c.Scraper.Interval <= 0 || c.Scraper.RetryInterval <= 0 {
		errs = append(errs, invalid("scraper.interval", "intervals must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateWeb checks the file browser settings.
func (c *Config) ValidateWeb() error {
	var errs []error
	if c.Web.Addr == "" {
		errs = append(errs, missing("web.addr", ""))
	}
	if c.Web.Username == "" {
		errs = append(errs, missing("web.username", "WEB_USERNAME"))
	}
	if c.Web.Password == "" {
		errs = append(errs, missing("web.password", "WEB_PASSWORD"))
	}
	return errors.Join(errs...)
}

// Thresholds parses the storage thresholds into bytes.
func (c *Config) Thresholds() (elevated, critical int64, err error) {
	elevated, err = types.ParseSize(c.Storage.Elevated)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.elevated: %w", err)
	}
	critical, err = types.ParseSize(c.Storage.Critical)
	if err != nil {
		return 0, 0, fmt.Errorf("storage.critical: %w", err)
	}
	if elevated <= 0 || critical <= elevated {
		return 0, 0, invalid("storage", "thresholds must satisfy critical (%s) > elevated (%s) > 0",
			c.Storage.Critical, c.Storage.Elevated)
	}
	return elevated, critical, nil
}

// TierDurations are the parsed ages of a retention tier.
type TierDurations struct {
	Content   time.Duration
	Logs      time.Duration
	Ephemeral time.Duration
}

// Durations parses the tier ages.
func (t TierConfig) Durations() (TierDurations, error) {
	var d TierDurations
	var err error
	if d.Content, err = types.ParseAge(t.Content); err != nil {
		return TierDurations{}, fmt.Errorf("content: %w", err)
	}
	if d.Logs, err = types.ParseAge(t.Logs); err != nil {
		return TierDurations{}, fmt.Errorf("logs: %w", err)
	}
	if d.Ephemeral, err = types.ParseAge(t.Ephemeral); err != nil {
		return TierDurations{}, fmt.Errorf("ephemeral: %w", err)
	}
	return d, nil
}

// LogMaxSize parses logging.rotation.max_size.
func (c *Config) LogMaxSize() (int64, error) {
	if c.Logging.Rotation.MaxSize == "" {
		return 0, nil
	}
	n, err := types.ParseSize(c.Logging.Rotation.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("logging.rotation.max_size: %w", err)
	}
	return n, nil
}

// ParseClock parses a 24-hour "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, invalid("clock", "%q is not HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// within reports whether path lies inside dir.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return filepath.IsLocal(rel)
}
