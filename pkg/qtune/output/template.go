package output

import (
	"bytes"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFormatter renders a user supplied text/template. The template
// sees the Result fields plus .Summary.
type TemplateFormatter struct {
	mu          sync.Mutex
	templateStr string
	template    *template.Template
}

type templateData struct {
	*Result
	Summary Summary
}

// NewTemplateFormatter returns a formatter for templateStr. The template is
// parsed on first use.
func NewTemplateFormatter(templateStr string) *TemplateFormatter {
	return &TemplateFormatter{templateStr: templateStr}
}

// SetTemplate replaces the template.
func (f *TemplateFormatter) SetTemplate(templateStr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templateStr = templateStr
	f.template = nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// {{date .Time "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
		// {{bytes .Size}}
		"bytes": func(size int64) string {
			return humanize.IBytes(uint64(size))
		},
		// {{ago .Time}}
		"ago": humanize.Time,
		// {{comma .Summary.Errors}}
		"comma": func(n int) string {
			return humanize.Comma(int64(n))
		},
		"upper": strings.ToUpper,
		"join":  strings.Join,
	}
}

// Format executes the template into w.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.templateStr)
		if err != nil {
			return err
		}
		f.template = tmpl
	}
	return f.template.Execute(w, templateData{Result: r, Summary: r.Summary()})
}

const defaultTemplate = `{{range .Files}}{{if .Valid}}ok{{else}}FAIL{{end}}	{{.Path}}
{{end}}`

func init() {
	Register("template", func() Formatter { return NewTemplateFormatter(defaultTemplate) })
}

var _ Formatter = (*TemplateFormatter)(nil)
