package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringList is a tuning space of string values. It decodes from a YAML
// sequence, a single scalar, or a comma separated scalar ("minmax, kl").
// Inline records the scalar spelling so that encoding gives it back.
type StringList struct {
	Values []string
	Inline bool
}

// Strings builds a sequence-style list.
func Strings(values ...string) StringList {
	return StringList{Values: values}
}

// IsZero reports whether the list holds no values.
func (l StringList) IsZero() bool {
	return len(l.Values) == 0
}

// Clone returns a deep copy.
func (l StringList) Clone() StringList {
	if l.Values == nil {
		return StringList{Inline: l.Inline}
	}
	return StringList{Values: append([]string(nil), l.Values...), Inline: l.Inline}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		l.Values = splitScalar(node.Value)
		l.Inline = true
		return nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return typeError(item, "expected a scalar list item")
			}
			values = append(values, strings.TrimSpace(item.Value))
		}
		if len(values) > 0 {
			l.Values = values
		}
		l.Inline = false
		return nil
	default:
		return typeError(node, "expected a list or comma separated string")
	}
}

// MarshalYAML implements yaml.Marshaler.
func (l StringList) MarshalYAML() (any, error) {
	if l.Inline {
		return strings.Join(l.Values, ", "), nil
	}
	return l.Values, nil
}

// MarshalJSON implements json.Marshaler. JSON has no comma spelling, so
// the list is always an array.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Values)
}

// UnmarshalJSON implements json.Unmarshaler. A string is split on commas
// like its YAML counterpart.
func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = StringList{Values: splitScalar(s), Inline: true}
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("expected a list or comma separated string: %w", err)
	}
	*l = StringList{}
	if len(values) > 0 {
		l.Values = values
	}
	return nil
}

// IntList is a tuning space of integers, spelled like StringList
// ("iterations: 10, 50").
type IntList struct {
	Values []int
	Inline bool
}

// Ints builds a sequence-style list.
func Ints(values ...int) IntList {
	return IntList{Values: values}
}

// IsZero reports whether the list holds no values.
func (l IntList) IsZero() bool {
	return len(l.Values) == 0
}

// Clone returns a deep copy.
func (l IntList) Clone() IntList {
	if l.Values == nil {
		return IntList{Inline: l.Inline}
	}
	return IntList{Values: append([]int(nil), l.Values...), Inline: l.Inline}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *IntList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!int" {
			var n int
			if err := node.Decode(&n); err != nil {
				return typeError(node, fmt.Sprintf("cannot use %q as an integer", node.Value))
			}
			l.Values = []int{n}
			l.Inline = true
			return nil
		}
		parts := splitScalar(node.Value)
		values := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return typeError(node, fmt.Sprintf("cannot use %q as an integer", p))
			}
			values = append(values, n)
		}
		if len(values) > 0 {
			l.Values = values
		}
		l.Inline = true
		return nil
	case yaml.SequenceNode:
		values := make([]int, 0, len(node.Content))
		for _, item := range node.Content {
			var n int
			if item.Kind != yaml.ScalarNode || item.Decode(&n) != nil {
				return typeError(item, fmt.Sprintf("cannot use %q as an integer", item.Value))
			}
			values = append(values, n)
		}
		if len(values) > 0 {
			l.Values = values
		}
		l.Inline = false
		return nil
	default:
		return typeError(node, "expected a list or comma separated integers")
	}
}

// MarshalYAML implements yaml.Marshaler.
func (l IntList) MarshalYAML() (any, error) {
	if !l.Inline {
		return l.Values, nil
	}
	if len(l.Values) == 1 {
		return l.Values[0], nil
	}
	parts := make([]string, len(l.Values))
	for i, v := range l.Values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", "), nil
}

// MarshalJSON implements json.Marshaler.
func (l IntList) MarshalJSON() ([]byte, error) {
	if l.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Values)
}

// UnmarshalJSON implements json.Unmarshaler. A bare number is a one
// element list.
func (l *IntList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = IntList{Values: []int{n}, Inline: true}
		return nil
	}
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("expected a list of integers: %w", err)
	}
	*l = IntList{}
	if len(values) > 0 {
		l.Values = values
	}
	return nil
}

// SplitScalar splits a comma separated scalar into trimmed, non-empty parts.
func SplitScalar(s string) []string {
	return splitScalar(s)
}

func splitScalar(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// typeError reports a decode problem without aborting the rest of the
// document; yaml.v3 collects *yaml.TypeError values and keeps decoding.
func typeError(node *yaml.Node, msg string) error {
	return &yaml.TypeError{Errors: []string{fmt.Sprintf("line %d: %s", node.Line, msg)}}
}
