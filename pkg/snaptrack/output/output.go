// Package output renders command results for the terminal and for scripts
// in several formats (pretty, plain, json, yaml, paths, template).
//
// Formatters are looked up by name from a registry so commands can accept
// an --output flag:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

// FileInfo is one file row of a result.
type FileInfo struct {
	Path      string        `json:"path" yaml:"path"`
	Size      int64         `json:"size" yaml:"size"`
	SizeHuman string        `json:"size_human" yaml:"size_human"`
	ModTime   time.Time     `json:"mod_time,omitempty" yaml:"mod_time,omitempty"`
	Age       time.Duration `json:"age,omitempty" yaml:"age,omitempty"`

	// Note is a short per-file annotation such as "new" or "removed".
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Field is a labelled value.
type Field struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Section groups fields under a title.
type Section struct {
	Title  string  `json:"title" yaml:"title"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Add appends a field and returns the section for chaining.
func (s *Section) Add(label, value string) *Section {
	s.Fields = append(s.Fields, Field{Label: label, Value: value})
	return s
}

// Result is the data handed to a formatter.
type Result struct {
	// Title names what is shown, e.g. "status" or "history".
	Title string `json:"title" yaml:"title"`

	Sections []Section  `json:"sections,omitempty" yaml:"sections,omitempty"`
	Files    []FileInfo `json:"files,omitempty" yaml:"files,omitempty"`
	Warnings []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Data is the structured value behind the result. When set, the json
	// and yaml formatters encode it instead of the sections.
	Data any `json:"-" yaml:"-"`
}

// Section returns the section with the given title, adding it if needed.
func (r *Result) Section(title string) *Section {
	for i := range r.Sections {
		if r.Sections[i].Title == title {
			return &r.Sections[i]
		}
	}
	r.Sections = append(r.Sections, Section{Title: title})
	return &r.Sections[len(r.Sections)-1]
}

// TotalSize returns the sum of all file sizes in the result.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// FilesFromEntries converts entries to rows. A zero now leaves Age unset.
func FilesFromEntries(entries []types.FileEntry, now time.Time, note string) []FileInfo {
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi := FileInfo{
			Path:      e.Path,
			Size:      e.Size,
			SizeHuman: e.HumanSize(),
			ModTime:   e.ModTime,
			Note:      note,
		}
		if !now.IsZero() && !e.ModTime.IsZero() {
			fi.Age = now.Sub(e.ModTime)
		}
		files = append(files, fi)
	}
	return files
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
