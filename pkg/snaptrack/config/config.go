package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// PublishConfig configures the incremental publisher.
type PublishConfig struct {
	RemoteURL    string   `mapstructure:"remote_url" yaml:"remote_url"`
	Branch       string   `mapstructure:"branch" yaml:"branch"`
	Mode         string   `mapstructure:"mode" yaml:"mode"`
	ManifestPath string   `mapstructure:"manifest_path" yaml:"manifest_path"`
	HistoryDir   string   `mapstructure:"history_dir" yaml:"history_dir"`
	Exclude      []string `mapstructure:"exclude" yaml:"exclude"`
}

// NotifyConfig configures the Telegram notifier.
type NotifyConfig struct {
	BotToken       string        `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID         string        `mapstructure:"chat_id" yaml:"chat_id"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	MessageTimeout time.Duration `mapstructure:"message_timeout" yaml:"message_timeout"`
	FileTimeout    time.Duration `mapstructure:"file_timeout" yaml:"file_timeout"`
}

// ScraperConfig configures the external downloader.
type ScraperConfig struct {
	Binary        string        `mapstructure:"binary" yaml:"binary"`
	Usernames     []string      `mapstructure:"usernames" yaml:"usernames"`
	ExtraArgs     []string      `mapstructure:"extra_args" yaml:"extra_args"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	LogPath       string        `mapstructure:"log_path" yaml:"log_path"`
}

// StorageConfig configures the storage accountant.
type StorageConfig struct {
	Root     string `mapstructure:"root" yaml:"root"`
	Elevated string `mapstructure:"elevated" yaml:"elevated"`
	Critical string `mapstructure:"critical" yaml:"critical"`
}

// TierConfig holds the maximum ages of one retention tier.
type TierConfig struct {
	Content   string `mapstructure:"content" yaml:"content"`
	Logs      string `mapstructure:"logs" yaml:"logs"`
	Ephemeral string `mapstructure:"ephemeral" yaml:"ephemeral"`
}

// RetentionConfig configures the retention engine.
type RetentionConfig struct {
	Elevated         TierConfig `mapstructure:"elevated" yaml:"elevated"`
	Critical         TierConfig `mapstructure:"critical" yaml:"critical"`
	EphemeralSuffix  string     `mapstructure:"ephemeral_suffix" yaml:"ephemeral_suffix"`
	RequirePublished bool       `mapstructure:"require_published" yaml:"require_published"`
}

// MonitorConfig configures the publish-and-notify loop.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Watch    bool          `mapstructure:"watch" yaml:"watch"`
	SeenDB   string        `mapstructure:"seen_db" yaml:"seen_db"`
}

// JanitorConfig configures the storage loop.
type JanitorConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	DailyAt       string        `mapstructure:"daily_at" yaml:"daily_at"`
	Backoff       time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// WebConfig configures the file browser.
type WebConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level" yaml:"level"`
	Path         string            `mapstructure:"path" yaml:"path"`
	ConsoleLevel string            `mapstructure:"console_level" yaml:"console_level"`
	Rotation     RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components   map[string]string `mapstructure:"components" yaml:"components"`
}

// DaemonConfig configures where loop processes keep PID and status files.
type DaemonConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// Config represents the application configuration.
type Config struct {
	DownloadDir string          `mapstructure:"download_dir" yaml:"download_dir"`
	LogsDir     string          `mapstructure:"logs_dir" yaml:"logs_dir"`
	WorkDir     string          `mapstructure:"work_dir" yaml:"work_dir"`
	Publish     PublishConfig   `mapstructure:"publish" yaml:"publish"`
	Notify      NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Scraper     ScraperConfig   `mapstructure:"scraper" yaml:"scraper"`
	Storage     StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Retention   RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Monitor     MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Janitor     JanitorConfig   `mapstructure:"janitor" yaml:"janitor"`
	Web         WebConfig       `mapstructure:"web" yaml:"web"`
	Logging     LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Daemon      DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit config file. Empty searches the default
	// locations and tolerates a missing file.
	ConfigFile string

	// EnvFile is a dotenv file whose variables are added to the process
	// environment without overriding variables already set. Empty uses
	// DefaultEnvFile; a missing file is ignored.
	EnvFile string
}

// legacyEnv maps config keys to the unprefixed variable names older
// deployments put in .env.
var legacyEnv = map[string]string{
	"download_dir":       "DOWNLOAD_DIR",
	"publish.branch":     "REPO_BRANCH",
	"publish.remote_url": "REPO_URL_WITH_TOKEN",
	"notify.bot_token":   "TELEGRAM_BOT_TOKEN",
	"notify.chat_id":     "TELEGRAM_CHAT_ID",
	"scraper.usernames":  "SNAPCHAT_USERNAME",
	"web.username":       "WEB_USERNAME",
	"web.password":       "WEB_PASSWORD",
}

// Load loads configuration from the dotenv file, the config file and
// environment variables. Config file locations when none is given:
//   - $XDG_CONFIG_HOME/snaptrack/config.yaml
//   - $HOME/.config/snaptrack/config.yaml
//
// Environment variables are prefixed with SNAPTRACK_ (e.g.
// SNAPTRACK_PUBLISH_BRANCH); the legacy names in legacyEnv are also honoured.
func Load(opts Options) (*Config, error) {
	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("SNAPTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, legacy := range legacyEnv {
		envKey := "SNAPTRACK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Scraper.Usernames = splitList(cfg.Scraper.Usernames)

	manifestPath, err := ExpandPath(cfg.Publish.ManifestPath)
	if err != nil {
		return nil, err
	}
	cfg.Publish.ManifestPath = manifestPath

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download_dir", DefaultDownloadDir)
	v.SetDefault("logs_dir", DefaultLogsDir)
	v.SetDefault("work_dir", DefaultWorkDir)

	v.SetDefault("publish.remote_url", "")
	v.SetDefault("publish.branch", DefaultBranch)
	v.SetDefault("publish.mode", DefaultPublishMode)
	v.SetDefault("publish.manifest_path", DefaultManifestPath())
	v.SetDefault("publish.history_dir", DefaultHistoryDir())
	v.SetDefault("publish.exclude", DefaultExclusions)

	v.SetDefault("notify.bot_token", "")
	v.SetDefault("notify.chat_id", "")
	v.SetDefault("notify.base_url", DefaultTelegramBaseURL)
	v.SetDefault("notify.message_timeout", DefaultMessageTimeout)
	v.SetDefault("notify.file_timeout", DefaultFileTimeout)

	v.SetDefault("scraper.binary", DefaultScraperBinary)
	v.SetDefault("scraper.usernames", []string{})
	v.SetDefault("scraper.extra_args", []string{})
	v.SetDefault("scraper.interval", DefaultScraperInterval)
	v.SetDefault("scraper.retry_interval", DefaultScraperRetryInterval)
	v.SetDefault("scraper.log_path", filepath.Join(DefaultLogsDir, DefaultScraperLogName))

	v.SetDefault("storage.root", DefaultStorageRoot)
	v.SetDefault("storage.elevated", DefaultElevatedThreshold)
	v.SetDefault("storage.critical", DefaultCriticalThreshold)

	v.SetDefault("retention.elevated.content", DefaultElevatedTier.Content)
	v.SetDefault("retention.elevated.logs", DefaultElevatedTier.Logs)
	v.SetDefault("retention.elevated.ephemeral", DefaultElevatedTier.Ephemeral)
	v.SetDefault("retention.critical.content", DefaultCriticalTier.Content)
	v.SetDefault("retention.critical.logs", DefaultCriticalTier.Logs)
	v.SetDefault("retention.critical.ephemeral", DefaultCriticalTier.Ephemeral)
	v.SetDefault("retention.ephemeral_suffix", DefaultEphemeralSuffix)
	v.SetDefault("retention.require_published", false)

	v.SetDefault("monitor.interval", DefaultMonitorInterval)
	v.SetDefault("monitor.watch", true)
	v.SetDefault("monitor.seen_db", DefaultSeenDBPath())

	v.SetDefault("janitor.check_interval", DefaultCheckInterval)
	v.SetDefault("janitor.daily_at", DefaultDailyAt)
	v.SetDefault("janitor.backoff", DefaultBackoff)

	v.SetDefault("web.addr", DefaultWebAddr)
	v.SetDefault("web.username", "")
	v.SetDefault("web.password", "")

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.path", filepath.Join(DefaultLogsDir, DefaultLogName))
	v.SetDefault("logging.console_level", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_backups", DefaultLogMaxBackups)
	v.SetDefault("logging.rotation.daily", false)
	v.SetDefault("logging.components", map[string]string{})

	v.SetDefault("daemon.data_dir", DataDir())
}

// LoadEnvFile adds the variables of a dotenv file to the environment.
// Variables that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("checking env file: %w", err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// splitList flattens entries that hold several whitespace or comma
// separated values, as SNAPCHAT_USERNAME does.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		out = append(out, strings.FieldsFunc(item, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})...)
	}
	return out
}

// Redacted returns a copy with secrets masked, suitable for display.
func (c Config) Redacted() Config {
	const mask = "********"

	out := c
	if out.Publish.RemoteURL != "" {
		if u, err := url.Parse(out.Publish.RemoteURL); err == nil && u.User != nil {
			u.User = url.User(mask)
			out.Publish.RemoteURL = u.String()
		}
	}
	if out.Notify.BotToken != "" {
		out.Notify.BotToken = mask
	}
	if out.Web.Password != "" {
		out.Web.Password = mask
	}
	return out
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "snaptrack"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "snaptrack"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/snaptrack/ for the seen index, history,
// PID and status files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "snaptrack")
}

// StateDir returns $XDG_STATE_HOME/snaptrack/ for the fingerprint manifest.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "snaptrack")
}

// DefaultManifestPath returns the default fingerprint manifest location.
func DefaultManifestPath() string {
	return filepath.Join(StateDir(), DefaultManifestName)
}

// DefaultHistoryDir returns the default publish history directory.
func DefaultHistoryDir() string {
	return filepath.Join(DataDir(), "history")
}

// DefaultSeenDBPath returns the default seen-file index directory.
func DefaultSeenDBPath() string {
	return filepath.Join(DataDir(), "seen")
}

// WriteDefault writes a default config file to path, or to ConfigPath()
// when path is empty. It returns the path written and does nothing when a
// file already exists there.
func WriteDefault(path string) (string, bool, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return "", false, err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigFile()), 0o600); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}

	return path, true, nil
}

func defaultConfigFile() string {
	return fmt.Sprintf(`# snaptrack configuration

# Directory the scraper downloads into; this is the tracked git work tree.
download_dir: %s
logs_dir: %s
# Directory holding ephemeral archives (*%s)
work_dir: %s

publish:
  # Remote URL including credentials (or set REPO_URL_WITH_TOKEN in .env)
  remote_url: ""
  branch: %s
  # overwrite (force push) or fast-forward
  mode: %s
  manifest_path: %s
  history_dir: %s

notify:
  # Or set TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID in .env
  bot_token: ""
  chat_id: ""
  base_url: %s
  message_timeout: %s
  file_timeout: %s

scraper:
  binary: %s
  # Or set SNAPCHAT_USERNAME="alice bob" in .env
  usernames: []
  interval: %s
  retry_interval: %s
  log_path: %s

storage:
  # Directory whose total size drives retention
  root: %s
  elevated: %s
  critical: %s

retention:
  elevated:
    content: %s
    logs: %s
    ephemeral: %s
  critical:
    content: %s
    logs: %s
    ephemeral: %s
  ephemeral_suffix: %s
  # Skip files that have not been published yet
  require_published: false

monitor:
  interval: %s
  # Skip the hash scan when nothing changed on disk since the last clean cycle
  watch: true
  seen_db: %s

janitor:
  check_interval: %s
  daily_at: "%s"
  backoff: %s

web:
  addr: "%s"
  username: ""
  password: ""

logging:
  # debug, info, warn, error
  level: %s
  path: %s
  console_level: ""
  rotation:
    max_size: %s
    max_backups: %d
  components: {}
`,
		DefaultDownloadDir, DefaultLogsDir, DefaultEphemeralSuffix, DefaultWorkDir,
		DefaultBranch, DefaultPublishMode, DefaultManifestPath(), DefaultHistoryDir(),
		DefaultTelegramBaseURL, DefaultMessageTimeout, DefaultFileTimeout,
		DefaultScraperBinary, DefaultScraperInterval, DefaultScraperRetryInterval,
		filepath.Join(DefaultLogsDir, DefaultScraperLogName),
		DefaultStorageRoot, DefaultElevatedThreshold, DefaultCriticalThreshold,
		DefaultElevatedTier.Content, DefaultElevatedTier.Logs, DefaultElevatedTier.Ephemeral,
		DefaultCriticalTier.Content, DefaultCriticalTier.Logs, DefaultCriticalTier.Ephemeral,
		DefaultEphemeralSuffix,
		DefaultMonitorInterval, DefaultSeenDBPath(),
		DefaultCheckInterval, DefaultDailyAt, DefaultBackoff,
		DefaultWebAddr,
		DefaultLogLevel, filepath.Join(DefaultLogsDir, DefaultLogName), DefaultLogMaxSize, DefaultLogMaxBackups,
	)
}
