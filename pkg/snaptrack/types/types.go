// Package types holds small value types shared across snaptrack packages,
// along with parsing and formatting helpers for sizes and ages as they
// appear in configuration files and messages.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Day is the unit used for retention ages.
const Day = 24 * time.Hour

// FileEntry describes one regular file below a root. Path is relative to the
// root and slash-separated.
type FileEntry struct {
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// HumanSize returns the entry size formatted with IEC units.
func (f FileEntry) HumanSize() string {
	return FormatSize(f.Size)
}

// TotalSize sums the sizes of entries.
func TotalSize(entries []FileEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}

var (
	sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)
	agePattern  = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*d\s*$`)
)

var (
	// ErrInvalidSize indicates that the size string could not be parsed.
	ErrInvalidSize = errors.New("invalid size format")

	// ErrNegativeSize indicates that a negative size value was provided.
	ErrNegativeSize = errors.New("size cannot be negative")

	// ErrInvalidAge indicates that an age string could not be parsed.
	ErrInvalidAge = errors.New("invalid age format")
)

// ParseSize parses a human-readable size such as "350M", "1.5GiB" or "2048"
// and returns the size in bytes. Units are binary: "M" and "MB" both mean
// MiB. Decimal values are truncated to the nearest byte.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(matches[2])
	unit = strings.TrimSuffix(unit, "IB")
	unit = strings.TrimSuffix(unit, "B")

	var multiplier int64
	switch unit {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string,
// e.g. "350 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatMB renders bytes as mebibytes with two decimals ("12.34 MB"), the
// form used in notification messages.
func FormatMB(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MiB))
}

// ParseAge parses a retention age. It accepts everything time.ParseDuration
// does plus a day suffix ("5d", "1.5d"). Ages must be positive.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAge)
	}

	var d time.Duration
	if m := agePattern.FindStringSubmatch(s); m != nil {
		days, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
		}
		d = time.Duration(days * float64(Day))
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidAge, s)
	}
	return d, nil
}

// FormatAge renders a duration in whole days when it is a multiple of a day
// and with time.Duration formatting otherwise.
func FormatAge(d time.Duration) string {
	if d > 0 && d%Day == 0 {
		return strconv.FormatInt(int64(d/Day), 10) + "d"
	}
	return d.String()
}
