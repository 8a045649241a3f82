package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/output"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/publish"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run one publish cycle",
	Long: `Fingerprint the download directory, commit the files whose content
changed since the last successful push, and push the branch to the remote.

The manifest only advances after a successful push, so a failed cycle is
retried in full by the next one.`,
	Annotations: map[string]string{annotationConsole: "warn"},
	RunE:        runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	p, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := p.Publish(ctx)
	if err != nil {
		return err
	}

	return render(publishResult(res))
}

// publishResult builds the display form of a publish cycle.
func publishResult(res publish.Result) *output.Result {
	r := &output.Result{Title: "publish", Data: res}

	s := r.Section("Publish")
	if res.Skipped {
		s.Add("Result", "no changes")
		return r
	}
	s.Add("Commit", res.Commit)
	s.Add("Message", res.Message)
	s.Add("Files", fmt.Sprintf("%d", res.PushedCount))
	s.Add("Size", types.FormatSize(res.Bytes))
	if res.Changes != nil {
		s.Add("Added", fmt.Sprintf("%d", len(res.Changes.Added)))
		s.Add("Modified", fmt.Sprintf("%d", len(res.Changes.Modified)))
	}

	for _, path := range res.Staged {
		r.Files = append(r.Files, output.FileInfo{Path: path, Note: "pushed"})
	}
	if len(res.Failed) > 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%d files could not be staged and will be retried: %s",
				len(res.Failed), strings.Join(res.Failed, ", ")))
	}
	return r
}
