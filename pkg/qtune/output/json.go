package output

import (
	"bytes"
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// document is the shape shared by the json and yaml formats.
type document struct {
	Files   []FileResult `json:"files" yaml:"files"`
	Summary Summary      `json:"summary" yaml:"summary"`
	Meta    meta         `json:"meta" yaml:"meta"`
}

type meta struct {
	Source      string   `json:"source" yaml:"source"`
	Duration    string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	DaemonUp    bool     `json:"daemon_up" yaml:"daemon_up"`
	Warnings    []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Interrupted bool     `json:"interrupted" yaml:"interrupted"`
}

func newDocument(r *Result) document {
	files := r.Files
	if files == nil {
		files = []FileResult{}
	}
	return document{
		Files:   files,
		Summary: r.Summary(),
		Meta: meta{
			Source:      r.Source,
			Duration:    durationString(r.Duration),
			DaemonUp:    r.DaemonUp,
			Warnings:    r.Warnings,
			Interrupted: r.Interrupted,
		},
	}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// JSONFormatter writes one indented JSON document.
type JSONFormatter struct{}

// Format writes the document to w.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newDocument(r))
}

// JSONLFormatter writes one compact JSON object per document, for jq and
// other stream tools.
type JSONLFormatter struct{}

// Format writes the objects to w.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		if file.Diagnostics == nil {
			file.Diagnostics = []validate.Diagnostic{}
		}
		data, err := json.Marshal(file)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

// YAMLFormatter writes the json document structure as YAML.
type YAMLFormatter struct{}

// Format writes the document to w.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(newDocument(r)); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("jsonl", func() Formatter { return &JSONLFormatter{} })
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
