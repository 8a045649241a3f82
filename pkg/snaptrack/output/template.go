package output

import (
	"bytes"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// TemplateFormatter renders a Result through a text/template. The
// template sees the Result's fields plus TotalSize, and .Data holds the
// command's structured value.
type TemplateFormatter struct {
	parse func() (*template.Template, error)
}

type templateData struct {
	*Result
	TotalSize int64
}

// NewTemplateFormatter creates a template formatter. The template is
// parsed on first use.
func NewTemplateFormatter(text string) *TemplateFormatter {
	return &TemplateFormatter{
		parse: sync.OnceValues(func() (*template.Template, error) {
			return template.New("output").Funcs(templateFuncs).Parse(text)
		}),
	}
}

var templateFuncs = template.FuncMap{
	// {{date .ModTime "2006-01-02"}}
	"date": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
	"bytes": func(size int64) string { return humanize.IBytes(uint64(size)) },
	"mb":    types.FormatMB,
	// {{field .Result "Storage" "Level"}}
	"field": func(r *Result, section, label string) string {
		for _, s := range r.Sections {
			if s.Title != section {
				continue
			}
			for _, f := range s.Fields {
				if f.Label == label {
					return f.Value
				}
			}
		}
		return ""
	},
}

// Format implements Formatter.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	tmpl, err := f.parse()
	if err != nil {
		return err
	}
	return tmpl.Execute(w, templateData{Result: r, TotalSize: r.TotalSize()})
}

const defaultTemplate = `{{range .Files}}{{.SizeHuman}}	{{.Path}}
{{end}}`

func init() {
	Register("template", func() Formatter {
		return NewTemplateFormatter(defaultTemplate)
	})
}
