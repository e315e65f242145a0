// Package validate checks tuning documents against the schema field table
// and the value registry.
//
// Structural checks walk the YAML node tree so every finding carries a
// line and column. Cross-field rules run on the decoded configuration.
package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/config"
	"github.com/jamesainslie/qtune/pkg/qtune/loader"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/registry"
	"github.com/jamesainslie/qtune/pkg/qtune/schema"
)

var logger = logging.Get("validate")

const (
	tagStr   = "!!str"
	tagInt   = "!!int"
	tagFloat = "!!float"
	tagNull  = "!!null"
)

// Validator validates documents against a registry.
type Validator struct {
	Registry *registry.Registry
}

// New returns a validator using reg, or a registry of built-ins when reg
// is nil.
func New(reg *registry.Registry) *Validator {
	if reg == nil {
		reg = registry.New()
	}
	return &Validator{Registry: reg}
}

// ValidateFile reads and validates path. Read failures are returned as
// errors; malformed YAML becomes a syntax diagnostic.
func (v *Validator) ValidateFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v.ValidateBytes(path, data), nil
}

// ValidateBytes parses and validates data. path labels the report.
func (v *Validator) ValidateBytes(path string, data []byte) *Report {
	doc, err := loader.Parse(data)
	if err != nil {
		report := &Report{Path: path, SHA256: Digest(data)}
		var pe *loader.ParseError
		line, col := 1, 1
		msg := err.Error()
		if errors.As(err, &pe) {
			if pe.Line > 0 {
				line = pe.Line
			}
			if pe.Column > 0 {
				col = pe.Column
			}
			msg = pe.Msg
		}
		report.add(Diagnostic{Line: line, Column: col, Severity: SeverityError, Code: CodeSyntax, Message: msg})
		return report
	}
	doc.Path = path
	return v.Validate(doc)
}

// Validate checks a parsed document.
func (v *Validator) Validate(doc *loader.Document) *Report {
	report := &Report{Path: doc.Path, SHA256: Digest(doc.Raw)}
	w := &walker{reg: v.Registry, report: report}

	if doc.Root != nil {
		w.mapping(doc.Root, "", "", nil)
	}
	v.crossField(doc, report)

	report.sort()
	logger.Debug("validated document",
		"path", doc.Path,
		"errors", report.Count(SeverityError),
		"warnings", report.Count(SeverityWarning))
	return report
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type walker struct {
	reg    *registry.Registry
	report *Report
}

func (w *walker) emit(node *yaml.Node, field string, sev Severity, code, format string, args ...any) {
	w.report.add(Diagnostic{
		Field:    field,
		Line:     node.Line,
		Column:   node.Column,
		Severity: sev,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// mapping checks the keys of a mapping node. path is the display path;
// schemaPath uses "*" for user chosen keys. parent is the field owning the
// mapping, nil at the document root.
func (w *walker) mapping(node *yaml.Node, path, schemaPath string, parent *schema.Field) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, val := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		childPath := schema.Child(path, key)

		if parent != nil && parent.Type == schema.TypeMap {
			f, _ := schema.Lookup(schema.Child(schemaPath, "*"))
			w.value(val, childPath, schema.Child(schemaPath, "*"), f)
			continue
		}

		childSchema := schema.Child(schemaPath, key)
		f, ok := schema.Lookup(childSchema)
		if !ok {
			if parent != nil && parent.Type == schema.TypeOpen {
				w.customMetric(keyNode, childPath, key)
				continue
			}
			w.emit(keyNode, childPath, SeverityError, CodeUnknownField, "unknown field %q%s", key, suggest(schemaPath, key))
			continue
		}
		w.value(val, childPath, childSchema, f)
	}
}

func (w *walker) customMetric(keyNode *yaml.Node, path, name string) {
	if !w.reg.Allowed(registry.KindMetric, name) {
		w.emit(keyNode, path, SeverityError, CodeInvalidEnum,
			"unknown metric %q: expected one of %s or a registered metric",
			name, strings.Join(w.reg.Names(registry.KindMetric), ", "))
	}
}

func (w *walker) value(node *yaml.Node, path, schemaPath string, f *schema.Field) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind == yaml.ScalarNode && node.ShortTag() == tagNull {
		return
	}

	switch f.Type {
	case schema.TypeSection, schema.TypeMap, schema.TypeOpen:
		if node.Kind != yaml.MappingNode {
			w.wrongType(node, path, f)
			return
		}
		w.mapping(node, path, schemaPath, f)

	case schema.TypeFramework:
		switch node.Kind {
		case yaml.ScalarNode:
			name, _ := schema.Lookup("framework.name")
			w.value(node, path, "framework.name", name)
		case yaml.MappingNode:
			w.mapping(node, path, schemaPath, f)
		default:
			w.wrongType(node, path, f)
		}

	case schema.TypeString:
		if node.Kind != yaml.ScalarNode || node.ShortTag() != tagStr {
			w.wrongType(node, path, f)
			return
		}
		w.enum(node, path, f, node.Value)

	case schema.TypeInt:
		var n int64
		if node.Kind != yaml.ScalarNode || node.ShortTag() != tagInt || node.Decode(&n) != nil {
			w.wrongType(node, path, f)
			return
		}
		w.bounds(node, path, f, float64(n), strconv.FormatInt(n, 10))

	case schema.TypeFloat:
		var x float64
		tag := node.ShortTag()
		if node.Kind != yaml.ScalarNode || (tag != tagInt && tag != tagFloat) || node.Decode(&x) != nil {
			w.wrongType(node, path, f)
			return
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			w.emit(node, path, SeverityError, CodeOutOfRange, "%s must be a finite number, got %s", path, node.Value)
			return
		}
		w.bounds(node, path, f, x, node.Value)

	case schema.TypeStringList:
		w.stringList(node, path, f)

	case schema.TypeIntList:
		w.intList(node, path, f)
	}
}

func (w *walker) stringList(node *yaml.Node, path string, f *schema.Field) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() != tagStr {
			w.wrongType(node, path, f)
			return
		}
		parts := schema.SplitScalar(node.Value)
		if len(parts) == 0 {
			w.emit(node, path, SeverityError, CodeOutOfRange, "%s must not be empty", path)
		}
		for _, p := range parts {
			w.enum(node, path, f, p)
		}
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			w.emit(node, path, SeverityError, CodeOutOfRange, "%s must not be empty", path)
		}
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode || item.ShortTag() != tagStr {
				w.wrongType(item, path, f)
				continue
			}
			w.enum(item, path, f, item.Value)
		}
	default:
		w.wrongType(node, path, f)
	}
}

func (w *walker) intList(node *yaml.Node, path string, f *schema.Field) {
	check := func(n *yaml.Node, v int) {
		w.bounds(n, path, f, float64(v), strconv.Itoa(v))
	}
	// decode resolves !!int scalars the way the loader does, so hex and
	// octal spellings agree with the decoded value.
	decode := func(n *yaml.Node) {
		var v int
		if err := n.Decode(&v); err != nil {
			w.emit(n, path, SeverityError, CodeInvalidType, "%s expects integers, got %q", path, n.Value)
			return
		}
		check(n, v)
	}

	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case tagInt:
			decode(node)
		case tagStr:
			parts := schema.SplitScalar(node.Value)
			if len(parts) == 0 {
				w.emit(node, path, SeverityError, CodeOutOfRange, "%s must not be empty", path)
			}
			for _, p := range parts {
				v, err := strconv.Atoi(p)
				if err != nil {
					w.emit(node, path, SeverityError, CodeInvalidType, "%s expects integers, got %q", path, p)
					continue
				}
				check(node, v)
			}
		default:
			w.wrongType(node, path, f)
		}
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			w.emit(node, path, SeverityError, CodeOutOfRange, "%s must not be empty", path)
		}
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode || item.ShortTag() != tagInt {
				w.wrongType(item, path, f)
				continue
			}
			decode(item)
		}
	default:
		w.wrongType(node, path, f)
	}
}

func (w *walker) enum(node *yaml.Node, path string, f *schema.Field, value string) {
	if f.Enum == "" || w.reg.Allowed(f.Enum, value) {
		return
	}
	hint := ""
	if registry.Extensible(f.Enum) {
		hint = " or a registered " + string(f.Enum)
	}
	w.emit(node, path, SeverityError, CodeInvalidEnum, "invalid value %q for %s: expected one of %s%s",
		value, path, strings.Join(w.reg.Names(f.Enum), ", "), hint)
}

func (w *walker) bounds(node *yaml.Node, path string, f *schema.Field, x float64, text string) {
	switch {
	case f.Min != nil && x < *f.Min:
		w.emit(node, path, SeverityError, CodeOutOfRange, "%s must be >= %g, got %s", path, *f.Min, text)
	case f.Max != nil && f.MaxExclusive && x >= *f.Max:
		w.emit(node, path, SeverityError, CodeOutOfRange, "%s must be < %g, got %s", path, *f.Max, text)
	case f.Max != nil && !f.MaxExclusive && x > *f.Max:
		w.emit(node, path, SeverityError, CodeOutOfRange, "%s must be <= %g, got %s", path, *f.Max, text)
	}
}

func (w *walker) wrongType(node *yaml.Node, path string, f *schema.Field) {
	got := node.ShortTag()
	switch node.Kind {
	case yaml.MappingNode:
		got = "mapping"
	case yaml.SequenceNode:
		got = "sequence"
	case yaml.ScalarNode:
		got = fmt.Sprintf("%s %q", strings.TrimPrefix(got, "!!"), node.Value)
	}
	w.emit(node, path, SeverityError, CodeInvalidType, "%s expects a %s, got %s", path, f.Type, got)
}

// suggest proposes a known sibling key that shares a prefix with key.
func suggest(schemaPath, key string) string {
	var candidates []string
	if schemaPath == "" {
		candidates = schema.TopLevelKeys()
	} else {
		prefix := schemaPath + "."
		for _, f := range schema.Fields {
			rest, ok := strings.CutPrefix(f.Path, prefix)
			if ok && !strings.Contains(rest, ".") && rest != "*" {
				candidates = append(candidates, rest)
			}
		}
	}
	lower := strings.ToLower(key)
	for _, c := range candidates {
		if c == lower || (len(lower) >= 3 && strings.HasPrefix(c, lower[:3])) {
			return fmt.Sprintf(" (did you mean %q?)", c)
		}
	}
	return ""
}

// expandPath resolves a leading ~ in snapshot paths.
func expandPath(path string) string {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return path
	}
	return expanded
}
