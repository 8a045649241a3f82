package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// PrettyFormatter renders boxed sections and a file table with lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	if len(r.Sections) == 0 && len(r.Files) == 0 && r.Data != nil {
		return f.formatData(w, r)
	}

	for _, s := range r.Sections {
		w.WriteString(f.formatSection(s))
		w.WriteString("\n")
	}

	if len(r.Files) > 0 || len(r.Sections) == 0 {
		w.WriteString(f.formatTable(r))
		w.WriteString(f.formatFooter(r))
		w.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

// formatData falls back to YAML inside a box for values without sections.
func (f *PrettyFormatter) formatData(w *bytes.Buffer, r *Result) error {
	data, err := yaml.Marshal(r.Data)
	if err != nil {
		return err
	}
	body := strings.TrimRight(string(data), "\n")
	if r.Title != "" {
		body = TitleStyle.Render(r.Title) + "\n" + body
	}
	w.WriteString(SectionBox.Render(body))
	w.WriteString("\n")
	return nil
}

func (f *PrettyFormatter) formatSection(s Section) string {
	width := 0
	for _, field := range s.Fields {
		width = max(width, lipgloss.Width(field.Label))
	}

	lines := []string{TitleStyle.Render(s.Title)}
	for _, field := range s.Fields {
		label := LabelStyle.Render(padRight(field.Label+":", width+1))
		lines = append(lines, fmt.Sprintf("%s %s", label, valueStyle(field.Value).Render(field.Value)))
	}
	return SectionBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Result) string {
	if len(r.Files) == 0 {
		return MutedStyle.Render("  No files") + "\n"
	}

	var sb strings.Builder

	maxSizeWidth := 8
	for _, file := range r.Files {
		maxSizeWidth = max(maxSizeWidth, len(file.SizeHuman))
	}

	sb.WriteString(fmt.Sprintf("  %s  %s\n",
		TableHeaderStyle.Render(padLeft("SIZE", maxSizeWidth)),
		TableHeaderStyle.Render("PATH")))

	for _, file := range r.Files {
		line := fmt.Sprintf("  %s  %s",
			SizeStyle.Render(padLeft(file.SizeHuman, maxSizeWidth)),
			PathStyle.Render(file.Path))
		if file.Note != "" {
			line += "  " + MutedStyle.Render(file.Note)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Files:"), ValueStyle.Render(fmt.Sprintf("%d", len(r.Files)))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Total:"), SizeStyle.Render(humanize.IBytes(uint64(r.TotalSize())))),
		MutedStyle.Render("Use -o plain for unformatted output"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
