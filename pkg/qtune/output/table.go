package output

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"text/tabwriter"
)

// columns of the tabular formats. A document without findings gets one row
// with only PATH and STATUS filled.
var columns = []string{"PATH", "STATUS", "LINE", "COLUMN", "SEVERITY", "CODE", "FIELD", "MESSAGE"}

func rows(r *Result) [][]string {
	var out [][]string
	for _, file := range r.Files {
		status := "valid"
		if !file.Valid {
			status = "invalid"
		}
		if len(file.Diagnostics) == 0 {
			out = append(out, []string{file.Path, status, "", "", "", "", "", ""})
			continue
		}
		for _, d := range file.Diagnostics {
			out = append(out, []string{
				file.Path,
				status,
				strconv.Itoa(d.Line),
				strconv.Itoa(d.Column),
				string(d.Severity),
				d.Code,
				d.Field,
				d.Message,
			})
		}
	}
	return out
}

// PlainFormatter writes an aligned, uncoloured table for scripts.
type PlainFormatter struct{}

// Format writes the table to w.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"PATH", "STATUS", "LOCATION", "SEVERITY", "CODE", "MESSAGE"}
	if _, err := tw.Write([]byte(strings.Join(header, "\t") + "\n")); err != nil {
		return err
	}
	for _, row := range rows(r) {
		loc := "-"
		if row[2] != "" {
			loc = row[2] + ":" + row[3]
		}
		line := []string{row[0], row[1], loc, dash(row[4]), dash(row[5]), dash(row[7])}
		if _, err := tw.Write([]byte(strings.Join(line, "\t") + "\n")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// TSVFormatter writes tab-separated values. Tabs and newlines inside a
// message are replaced by spaces.
type TSVFormatter struct{}

// Format writes the values to w.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(strings.Join(columns, "\t"))
	w.WriteByte('\n')
	clean := strings.NewReplacer("\t", " ", "\n", " ")
	for _, row := range rows(r) {
		for i := range row {
			row[i] = clean.Replace(row[i])
		}
		w.WriteString(strings.Join(row, "\t"))
		w.WriteByte('\n')
	}
	return nil
}

// CSVFormatter writes RFC 4180 comma-separated values.
type CSVFormatter struct{}

// Format writes the values to w.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	if err := writer.WriteAll(rows(r)); err != nil {
		return err
	}
	return writer.Error()
}

// MarkdownFormatter writes a GitHub-flavoured Markdown table.
type MarkdownFormatter struct{}

// Format writes the table to w.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	w.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range rows(r) {
		for i := range row {
			row[i] = escapeMarkdownPipe(row[i])
		}
		w.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return nil
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// PathsFormatter prints the path of every invalid document, one per line,
// for piping into other tools.
type PathsFormatter struct{}

// Format writes the paths to w.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		if !file.Valid {
			w.WriteString(file.Path)
			w.WriteByte('\n')
		}
	}
	return nil
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
	Register("tsv", func() Formatter { return &TSVFormatter{} })
	Register("csv", func() Formatter { return &CSVFormatter{} })
	Register("markdown", func() Formatter { return &MarkdownFormatter{} })
	Register("paths", func() Formatter { return &PathsFormatter{} })
}

var (
	_ Formatter = (*PlainFormatter)(nil)
	_ Formatter = (*TSVFormatter)(nil)
	_ Formatter = (*CSVFormatter)(nil)
	_ Formatter = (*MarkdownFormatter)(nil)
	_ Formatter = (*PathsFormatter)(nil)
)
