package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/history"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/output"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View publish and sweep history",
	Long: `View the journal of completed operations.

Every successful push and every retention pass that removed files is
recorded with the files it touched.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old history entries",
	RunE:  runHistoryClean,
}

var (
	historyLimit  int
	historyOp     string
	historyMaxAge string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.Flags().StringVar(&historyOp, "op", "", "only show publish or sweep entries")
	historyCleanCmd.Flags().StringVar(&historyMaxAge, "older-than", "30d", "remove entries older than this")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	op := history.OperationType(historyOp)
	if op != "" && op != history.OpPublish && op != history.OpSweep {
		return fmt.Errorf("unknown operation %q (want publish or sweep)", historyOp)
	}

	j, err := newJournal(cfg)
	if err != nil {
		return err
	}
	entries, err := j.List(op, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		return nil
	}
	return render(historyList(entries))
}

func historyList(entries []history.Entry) *output.Result {
	r := &output.Result{Title: "history", Data: entries}
	for _, e := range entries {
		r.Files = append(r.Files, output.FileInfo{
			Path:      e.ID,
			Size:      e.Summary.TotalBytes,
			SizeHuman: types.FormatSize(e.Summary.TotalBytes),
			ModTime:   e.Timestamp,
			Note:      fmt.Sprintf("%s, %d files", describe(e), e.Summary.TotalFiles),
		})
	}
	return r
}

func describe(e history.Entry) string {
	switch e.Operation {
	case history.OpPublish:
		return "publish " + shortCommit(e.Commit)
	case history.OpSweep:
		return "sweep " + e.Tier
	default:
		return string(e.Operation)
	}
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	j, err := newJournal(cfg)
	if err != nil {
		return err
	}
	entry, err := j.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}
	return render(historyEntry(entry))
}

func historyEntry(e *history.Entry) *output.Result {
	r := &output.Result{Title: "history", Data: e}

	s := r.Section("Operation")
	s.Add("ID", e.ID)
	s.Add("Timestamp", e.Timestamp.Format("2006-01-02 15:04:05 MST"))
	s.Add("Operation", string(e.Operation))
	switch e.Operation {
	case history.OpPublish:
		s.Add("Commit", e.Commit)
		s.Add("Message", e.Message)
		s.Add("Branch", e.Branch)
	case history.OpSweep:
		s.Add("Tier", e.Tier)
	}
	s.Add("Files", fmt.Sprintf("%d", e.Summary.TotalFiles))
	s.Add("Total Size", types.FormatSize(e.Summary.TotalBytes))

	for _, f := range e.Files {
		r.Files = append(r.Files, output.FileInfo{
			Path:      f.Path,
			Size:      f.Size,
			SizeHuman: types.FormatSize(f.Size),
			Note:      shortCommit(f.Hash),
		})
	}
	return r
}

func runHistoryClean(cmd *cobra.Command, _ []string) error {
	maxAge, err := types.ParseAge(historyMaxAge)
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}

	j, err := newJournal(cfg)
	if err != nil {
		return err
	}
	removed, err := j.Cleanup(maxAge)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	logs.Logger("history").Info("history cleaned", "removed", removed, "older_than", maxAge)
	printInfo("Removed %d entries older than %s.", removed, types.FormatAge(maxAge))
	return nil
}
