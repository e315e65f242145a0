package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// PrettyFormatter renders a styled terminal report with lipgloss.
type PrettyFormatter struct{}

// Format writes the report to w.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.header(r))
	w.WriteString("\n")
	w.WriteString(f.files(r))
	w.WriteString(f.footer(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) header(r *Result) string {
	lines := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Source:"), ValueStyle.Render(r.Source)),
	}

	checked := fmt.Sprintf("%s %s", LabelStyle.Render("Checked:"),
		ValueStyle.Render(fmt.Sprintf("%s in %s", plural(len(r.Files), "document"), formatDuration(r.Duration))))
	daemon := MutedStyle.Render("daemon: off")
	if r.DaemonUp {
		daemon = SuccessStyle.Render("daemon: up")
	}
	lines = append(lines, checked+"  "+daemon)

	if r.Interrupted {
		lines = append(lines, WarningStyle.Bold(true).Render("Validation interrupted"))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) files(r *Result) string {
	if len(r.Files) == 0 {
		return MutedStyle.Render("  No tuning documents found\n")
	}

	var sb strings.Builder
	for _, file := range r.Files {
		mark := SuccessStyle.Render("✓")
		if !file.Valid {
			mark = ErrorStyle.Render("✗")
		}
		fmt.Fprintf(&sb, "%s %s\n", mark, PathStyle.Render(file.Path))

		for _, d := range file.Diagnostics {
			sev := string(d.Severity)
			fmt.Fprintf(&sb, "    %s  %s  %s  %s\n",
				MutedStyle.Render(padLeft(fmt.Sprintf("%d:%d", d.Line, d.Column), 6)),
				SeverityStyle(sev).Render(padRight(sev, 7)),
				CodeStyle.Render(padRight(d.Code, 19)),
				d.Message)
		}
	}
	return sb.String()
}

func (f *PrettyFormatter) footer(r *Result) string {
	s := r.Summary()

	valid := SuccessStyle.Render(fmt.Sprintf("%d valid", s.Valid))
	invalid := MutedStyle.Render("0 invalid")
	if s.Invalid > 0 {
		invalid = ErrorStyle.Render(fmt.Sprintf("%d invalid", s.Invalid))
	}

	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Documents:"), ValueStyle.Render(humanize.Comma(int64(s.Files)))),
		valid,
		invalid,
		fmt.Sprintf("%s %s", LabelStyle.Render("Errors:"), ValueStyle.Render(humanize.Comma(int64(s.Errors)))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Warnings:"), ValueStyle.Render(humanize.Comma(int64(s.Warnings)))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Read:"), ValueStyle.Render(humanize.IBytes(uint64(s.Bytes)))),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
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
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

var _ Formatter = (*PrettyFormatter)(nil)
