package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Severity indicates how serious a diagnostic is. Only errors make a
// document invalid.
type Severity string

// Severity levels.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic codes.
const (
	CodeSyntax             = "syntax"
	CodeUnknownField       = "unknown-field"
	CodeMissingRequired    = "missing-required"
	CodeInvalidEnum        = "invalid-enum"
	CodeOutOfRange         = "out-of-range"
	CodeInvalidType        = "invalid-type"
	CodeMissingCalibration = "missing-calibration"
	CodeConflict           = "conflict"
	CodeUnusedSection      = "unused-section"
	CodeDeviceSupport      = "device-support"
	CodeInvalidPath        = "invalid-path"
	CodeEarlyStop          = "early-stop"
)

// ErrInvalidConfig is wrapped by every ValidationError.
var ErrInvalidConfig = errors.New("invalid tuning configuration")

// Diagnostic is a single validation finding.
type Diagnostic struct {
	Path     string   `json:"path,omitempty" yaml:"path,omitempty"`
	Field    string   `json:"field" yaml:"field"`
	Line     int      `json:"line" yaml:"line"`
	Column   int      `json:"column" yaml:"column"`
	Severity Severity `json:"severity" yaml:"severity"`
	Code     string   `json:"code" yaml:"code"`
	Message  string   `json:"message" yaml:"message"`
}

func (d Diagnostic) String() string {
	loc := d.Path
	if loc == "" {
		loc = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d: %s %s: %s", loc, d.Line, d.Column, d.Severity, d.Code, d.Message)
}

// Report is the outcome of validating one document.
type Report struct {
	Path        string       `json:"path" yaml:"path"`
	SHA256      string       `json:"sha256" yaml:"sha256"`
	Diagnostics []Diagnostic `json:"diagnostics" yaml:"diagnostics"`
}

// Valid reports whether the document has no errors.
func (r *Report) Valid() bool {
	return r.Count(SeverityError) == 0
}

// Count returns the number of diagnostics with severity sev.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Errors returns the error diagnostics.
func (r *Report) Errors() []Diagnostic {
	return r.filter(SeverityError)
}

// Warnings returns the warning diagnostics.
func (r *Report) Warnings() []Diagnostic {
	return r.filter(SeverityWarning)
}

// Has reports whether a diagnostic with code is present.
func (r *Report) Has(code string) bool {
	for _, d := range r.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

func (r *Report) filter(sev Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Err returns nil for a valid document, otherwise a *ValidationError.
func (r *Report) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Path: r.Path, Diagnostics: r.Errors()}
}

func (r *Report) add(d Diagnostic) {
	d.Path = r.Path
	r.Diagnostics = append(r.Diagnostics, d)
}

func (r *Report) sort() {
	sort.SliceStable(r.Diagnostics, func(i, j int) bool {
		a, b := r.Diagnostics[i], r.Diagnostics[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Code < b.Code
	})
}

// ValidationError lists every error found in a document.
type ValidationError struct {
	Path        string
	Diagnostics []Diagnostic
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	path := e.Path
	if path == "" {
		path = "<input>"
	}
	fmt.Fprintf(&b, "%s: %d error(s)", path, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		fmt.Fprintf(&b, "\n  line %d: %s: %s", d.Line, d.Field, d.Message)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
