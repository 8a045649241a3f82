package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter writes a single indented JSON document.
type JSONFormatter struct{}

// Format writes Data when set, otherwise the result itself.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload(r))
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)

// payload picks the value the structured formatters encode.
func payload(r *Result) any {
	if r.Data != nil {
		return r.Data
	}
	return r
}
