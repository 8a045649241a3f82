package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// PlainFormatter writes unstyled, tab-aligned text suitable for piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	if len(r.Sections) == 0 && len(r.Files) == 0 && r.Data != nil {
		data, err := yaml.Marshal(r.Data)
		if err != nil {
			return err
		}
		w.Write(data)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	for _, s := range r.Sections {
		for _, field := range s.Fields {
			if _, err := fmt.Fprintf(tw, "%s.%s\t%s\n", s.Title, field.Label, field.Value); err != nil {
				return err
			}
		}
	}

	if len(r.Files) > 0 {
		if _, err := tw.Write([]byte("SIZE\tPATH\tNOTE\n")); err != nil {
			return err
		}
		for _, file := range r.Files {
			if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", file.SizeHuman, file.Path, file.Note); err != nil {
				return err
			}
		}
	}

	for _, warning := range r.Warnings {
		if _, err := fmt.Fprintf(tw, "warning\t%s\n", warning); err != nil {
			return err
		}
	}

	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)

// PathsFormatter writes one file path per line.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		w.WriteString(file.Path)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

var _ Formatter = (*PathsFormatter)(nil)
