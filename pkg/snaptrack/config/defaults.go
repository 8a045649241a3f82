// Package config loads snaptrack configuration from a YAML file, a .env
// file and the environment, and validates it per subsystem.
package config

import "time"

// Default configuration values.
const (
	DefaultDownloadDir = "downloads"
	DefaultLogsDir     = "logs"
	DefaultWorkDir     = "."
	DefaultEnvFile     = ".env"

	DefaultBranch       = "main"
	DefaultPublishMode  = "overwrite"
	DefaultManifestName = "fingerprints.json"

	DefaultTelegramBaseURL = "https://api.telegram.org"
	DefaultMessageTimeout  = 30 * time.Second
	DefaultFileTimeout     = 2 * time.Minute

	DefaultScraperBinary        = "snapchat-dl"
	DefaultScraperInterval      = 30 * time.Minute
	DefaultScraperRetryInterval = 10 * time.Minute
	DefaultScraperLogName       = "scraper.log"

	DefaultStorageRoot       = "."
	DefaultElevatedThreshold = "350MB"
	DefaultCriticalThreshold = "450MB"

	DefaultEphemeralSuffix = ".zip"

	DefaultMonitorInterval = 10 * time.Minute
	DefaultCheckInterval   = 6 * time.Hour
	DefaultDailyAt         = "02:00"
	DefaultBackoff         = 60 * time.Second

	DefaultWebAddr = ":5000"

	DefaultLogLevel      = "info"
	DefaultLogName       = "system.log"
	DefaultLogMaxSize    = "10MB"
	DefaultLogMaxBackups = 2
)

// Default retention ages per tier.
var (
	DefaultElevatedTier = TierConfig{Content: "5d", Logs: "3d", Ephemeral: "24h"}
	DefaultCriticalTier = TierConfig{Content: "2d", Logs: "1d", Ephemeral: "1h"}
)

// DefaultExclusions are directory names the change detector never descends into.
var DefaultExclusions = []string{".git"}
