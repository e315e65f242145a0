// Package loader reads tuning documents from YAML, keeping the node tree
// so that later stages can report line and column positions.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/schema"
)

// logger is the package-level logger for loader operations.
var logger = logging.Get("loader")

// ParseError is returned when a document is not well-formed YAML or its
// root is not a mapping.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Document is a parsed tuning document.
type Document struct {
	// Path is the source file, empty for in-memory input.
	Path string

	// Raw is the exact source bytes.
	Raw []byte

	// Root is the top-level mapping node, nil for an empty document.
	Root *yaml.Node

	// Config is the decoded document without defaults.
	Config *schema.TuneConfig

	// TypeErrors holds decode problems for values of the wrong shape.
	// The affected fields are left at their zero value.
	TypeErrors []string
}

// Parse decodes a YAML tuning document. Empty input yields an empty
// document.
func Parse(data []byte) (*Document, error) {
	return parse("", data)
}

// LoadFile reads and parses the document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parse(path, data)
}

// Load parses a document from r. path is used for error messages only.
func Load(path string, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Document, error) {
	doc := &Document{Path: path, Raw: data, Config: &schema.TuneConfig{}}

	var file yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug("empty document", "path", path)
			return doc, nil
		}
		return nil, syntaxError(path, err)
	}
	if err := singleDocument(path, dec); err != nil {
		return nil, err
	}

	if file.Kind != yaml.DocumentNode || len(file.Content) == 0 {
		return doc, nil
	}
	root := file.Content[0]
	if isNull(root) {
		return doc, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:   path,
			Line:   root.Line,
			Column: root.Column,
			Msg:    "document root must be a mapping",
		}
	}
	doc.Root = root

	if err := root.Decode(doc.Config); err != nil {
		var typeErr *yaml.TypeError
		if !errors.As(err, &typeErr) {
			return nil, syntaxError(path, err)
		}
		doc.TypeErrors = typeErr.Errors
		logger.Debug("document has type errors", "path", path, "count", len(typeErr.Errors))
	}
	keepEmptySections(root, doc.Config)

	return doc, nil
}

// keepEmptySections records sections written with no body ("calibration:",
// "tuning:\n  metric:") as present. yaml.v3 leaves the pointer nil for a
// null value, which would drop the key when the document is written back.
func keepEmptySections(root *yaml.Node, cfg *schema.TuneConfig) {
	eachEntry(root, func(key string, val *yaml.Node) {
		switch key {
		case schema.SectionFramework:
			if isNull(val) {
				ensure(&cfg.Framework)
			}
		case schema.SectionCalibration:
			if isNull(val) {
				ensure(&cfg.Calibration)
			}
			if c := cfg.Calibration; c != nil {
				eachEntry(val, func(key string, val *yaml.Node) {
					if key == "algorithm" && isNull(val) {
						ensure(&c.Algorithm)
					}
				})
			}
		case schema.SectionQuantization:
			if isNull(val) {
				ensure(&cfg.Quantization)
			}
			if q := cfg.Quantization; q != nil {
				eachEntry(val, func(key string, val *yaml.Node) {
					switch key {
					case "weight", "activation":
						keepPolicy(key, val, &q.Weight, &q.Activation)
					case "op_wise":
						eachEntry(val, func(name string, val *yaml.Node) {
							op, ok := q.OpWise[name]
							if !ok {
								return
							}
							eachEntry(val, func(key string, val *yaml.Node) {
								keepPolicy(key, val, &op.Weight, &op.Activation)
							})
							q.OpWise[name] = op
						})
					}
				})
			}
		case schema.SectionTuning:
			if isNull(val) {
				ensure(&cfg.Tuning)
			}
			if t := cfg.Tuning; t != nil {
				eachEntry(val, func(key string, val *yaml.Node) {
					switch {
					case key == "metric" && isNull(val):
						ensure(&t.Metric)
					case key == "accuracy_criterion" && isNull(val):
						ensure(&t.AccuracyCriterion)
					}
				})
			}
		case schema.SectionSnapshot:
			if isNull(val) {
				ensure(&cfg.Snapshot)
			}
		}
	})
}

func keepPolicy(key string, val *yaml.Node, weight, activation **schema.TensorPolicy) {
	if !isNull(val) {
		return
	}
	switch key {
	case "weight":
		ensure(weight)
	case "activation":
		ensure(activation)
	}
}

// eachEntry calls fn for every key of a mapping node; other nodes are
// skipped.
func eachEntry(node *yaml.Node, fn func(key string, val *yaml.Node)) {
	if node == nil || node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		fn(node.Content[i].Value, node.Content[i+1])
	}
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null"
}

func ensure[T any](p **T) {
	if *p == nil {
		*p = new(T)
	}
}

var lineRe = regexp.MustCompile(`line (\d+)`)

func syntaxError(path string, err error) *ParseError {
	pe := &ParseError{Path: path, Msg: err.Error(), Err: err}
	if m := lineRe.FindStringSubmatch(err.Error()); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
	}
	return pe
}

// singleDocument rejects a stream that carries a second document after the
// first. An empty trailing document ("---" with nothing after it) is allowed.
func singleDocument(path string, dec *yaml.Decoder) error {
	var next yaml.Node
	err := dec.Decode(&next)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return syntaxError(path, err)
	}
	if len(next.Content) == 0 || isNull(next.Content[0]) {
		return nil
	}
	return &ParseError{
		Path:   path,
		Line:   next.Content[0].Line,
		Column: next.Content[0].Column,
		Msg:    "a tuning document holds a single YAML document; found another after ---",
	}
}

// Effective returns a copy of the configuration with defaults applied.
func (d *Document) Effective() *schema.TuneConfig {
	return schema.ApplyDefaults(d.Config)
}

// Has reports whether the dotted path is present in the source document.
func (d *Document) Has(path string) bool {
	return d.Node(path) != nil
}

// Node returns the value node at the dotted path, or nil. The bare
// framework name form resolves "framework.name" to the framework scalar.
func (d *Document) Node(path string) *yaml.Node {
	if d == nil || d.Root == nil {
		return nil
	}
	node := d.Root
	for _, key := range splitPath(path) {
		if node.Kind == yaml.ScalarNode && node.ShortTag() != "!!null" && key == "name" {
			return node
		}
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return node
}

// Position returns the line and column of the value at path, falling back
// to the nearest present ancestor and finally to the start of the document.
func (d *Document) Position(path string) (line, column int) {
	parts := splitPath(path)
	for n := len(parts); n > 0; n-- {
		if node := d.Node(joinPath(parts[:n])); node != nil {
			return node.Line, node.Column
		}
	}
	if d != nil && d.Root != nil {
		return d.Root.Line, d.Root.Column
	}
	return 1, 1
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func joinPath(parts []string) string {
	return strings.Join(parts, ".")
}
