package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/daemon"
	"github.com/jamesainslie/snaptrack/pkg/daemon/store"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/fingerprint"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/output"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/storage"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loops, storage and manifest state",
	Long: `Show which loops are running, current storage usage and its
classification, free space on the filesystem and the size of the
published manifest.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the structured form of the status command.
type statusReport struct {
	Loops          []daemon.LoopStatus      `json:"loops" yaml:"loops"`
	Usage          *storage.Usage           `json:"usage,omitempty" yaml:"usage,omitempty"`
	Classification string                   `json:"classification,omitempty" yaml:"classification,omitempty"`
	Filesystem     *storage.FilesystemUsage `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Published      int                      `json:"published" yaml:"published"`
	Seen           *int                     `json:"seen,omitempty" yaml:"seen,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	log := logs.Logger("status")
	rep := statusReport{Loops: daemon.Statuses(cfg.Daemon.DataDir)}
	var warnings []string

	t, err := thresholds(cfg)
	if err != nil {
		return err
	}
	usage, err := storage.New(0, logs.Logger("storage")).Measure(ctx, cfg.Storage.Root)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("measuring %s: %v", cfg.Storage.Root, err))
	} else {
		rep.Usage = &usage
		rep.Classification = t.Classify(usage.Bytes).String()
	}

	if fs, err := storage.Filesystem(cfg.Storage.Root); err == nil {
		rep.Filesystem = &fs
	} else {
		log.Debug("filesystem usage unavailable", "error", err)
	}

	rep.Published = len(fingerprint.NewStore(cfg.Publish.ManifestPath, log).Load())

	// The seen index is exclusively locked while the monitor runs.
	if !daemon.IsRunning(daemon.PIDPath(cfg.Daemon.DataDir, daemon.LoopMonitor)) {
		if _, err := os.Stat(cfg.Monitor.SeenDB); err == nil {
			if s, err := store.Open(cfg.Monitor.SeenDB); err == nil {
				if n, err := s.Count(); err == nil {
					rep.Seen = &n
				}
				_ = s.Close()
			}
		}
	}

	r := statusResult(rep, t, time.Now())
	r.Warnings = append(r.Warnings, warnings...)
	return render(r)
}

func statusResult(rep statusReport, t storage.Thresholds, now time.Time) *output.Result {
	r := &output.Result{Title: "status", Data: rep}

	loops := r.Section("Loops")
	for _, ls := range rep.Loops {
		loops.Add(ls.Loop, loopState(ls, now))
	}

	s := r.Section("Storage")
	if rep.Usage != nil {
		s.Add("Root", rep.Usage.Root)
		s.Add("Usage", types.FormatMB(rep.Usage.Bytes))
		s.Add("Files", fmt.Sprintf("%d", rep.Usage.Files))
		s.Add("Level", rep.Classification)
	}
	s.Add("Elevated", types.FormatMB(t.Elevated))
	s.Add("Critical", types.FormatMB(t.Critical))
	if rep.Filesystem != nil {
		s.Add("Free", humanize.IBytes(rep.Filesystem.Available)+" of "+humanize.IBytes(rep.Filesystem.Total))
	}

	m := r.Section("Manifest")
	m.Add("Published", fmt.Sprintf("%d files", rep.Published))
	if rep.Seen != nil {
		m.Add("Seen", fmt.Sprintf("%d files", *rep.Seen))
	}
	return r
}

func loopState(ls daemon.LoopStatus, now time.Time) string {
	if !ls.Running {
		return "stopped"
	}
	st := ls.Status
	if st == nil {
		return "running"
	}
	out := fmt.Sprintf("%s (pid %d, up %s)", st.Status, st.PID, strings.TrimSpace(humanize.RelTime(st.Started, now, "", "")))
	if st.LastRun != nil {
		out += ", last run " + humanize.RelTime(*st.LastRun, now, "ago", "from now")
	}
	if st.Error != "" {
		out += ": " + st.Error
	} else if st.Detail != "" {
		out += ": " + st.Detail
	}
	return out
}
