// Package storage measures how much disk the tracked data uses and
// classifies that usage against the configured pressure thresholds.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sys/unix"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// Classification is the storage pressure level.
type Classification int

// Pressure levels in increasing severity.
const (
	Normal Classification = iota
	Elevated
	Critical
)

func (c Classification) String() string {
	switch c {
	case Normal:
		return "normal"
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// ErrThresholdOrder is returned by Validate when the thresholds are not
// strictly increasing and positive.
var ErrThresholdOrder = errors.New("thresholds must satisfy critical > elevated > 0")

// Thresholds holds the two byte limits.
type Thresholds struct {
	Elevated int64
	Critical int64
}

// Validate checks Critical > Elevated > 0.
func (t Thresholds) Validate() error {
	if t.Elevated <= 0 || t.Critical <= t.Elevated {
		return fmt.Errorf("%w (elevated %s, critical %s)",
			ErrThresholdOrder, types.FormatSize(t.Elevated), types.FormatSize(t.Critical))
	}
	return nil
}

// Classify maps a byte count to a pressure level. It is monotonic in bytes:
// more usage never yields a lower level.
func (t Thresholds) Classify(bytes int64) Classification {
	switch {
	case bytes > t.Critical:
		return Critical
	case bytes > t.Elevated:
		return Elevated
	default:
		return Normal
	}
}

// Usage is the result of Measure.
type Usage struct {
	Root  string `json:"root" yaml:"root"`
	Bytes int64  `json:"bytes" yaml:"bytes"`
	Files int64  `json:"files" yaml:"files"`

	// Skipped counts entries that could not be inspected. They contribute
	// zero bytes.
	Skipped int64 `json:"skipped" yaml:"skipped"`
}

// MB returns Bytes in MiB, the unit storage is reported in.
func (u Usage) MB() float64 {
	return float64(u.Bytes) / float64(types.MiB)
}

// Accountant measures directory trees.
type Accountant struct {
	workers int
	log     *logging.Logger
}

// New creates an Accountant. workers bounds walk parallelism; zero lets
// fastwalk decide.
func New(workers int, log *logging.Logger) *Accountant {
	if log == nil {
		log = logging.Nop()
	}
	return &Accountant{workers: workers, log: log}
}

// Measure sums the sizes of every regular file below root. Symlinks are
// not followed. Entries that cannot be read are skipped and counted.
// A missing root measures as zero.
func (a *Accountant) Measure(ctx context.Context, root string) (Usage, error) {
	usage := Usage{Root: root}

	var bytes, files, skipped atomic.Int64

	conf := fastwalk.Config{Follow: false, NumWorkers: a.workers}
	err := fastwalk.Walk(&conf, root, func(path string, de fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return err
			}
			a.log.Debug("measure: skipping unreadable entry", "path", path, "error", err)
			skipped.Add(1)
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}

		info, err := de.Info()
		if err != nil {
			skipped.Add(1)
			return nil
		}
		bytes.Add(info.Size())
		files.Add(1)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.log.Warn("storage root does not exist", "root", root)
			return usage, nil
		}
		return usage, fmt.Errorf("measuring %s: %w", root, err)
	}

	usage.Bytes = bytes.Load()
	usage.Files = files.Load()
	usage.Skipped = skipped.Load()
	return usage, nil
}

// FilesystemUsage describes the filesystem holding a path.
type FilesystemUsage struct {
	Total     uint64 `json:"total" yaml:"total"`
	Free      uint64 `json:"free" yaml:"free"`
	Available uint64 `json:"available" yaml:"available"`
}

// Filesystem reports capacity of the filesystem containing path.
func Filesystem(path string) (FilesystemUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FilesystemUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(st.Bsize)
	return FilesystemUsage{
		Total:     st.Blocks * bsize,
		Free:      st.Bfree * bsize,
		Available: st.Bavail * bsize,
	}, nil
}
