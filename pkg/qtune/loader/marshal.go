package loader

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/schema"
)

// Marshal encodes cfg as YAML with a two space indent.
func Marshal(cfg *schema.TuneConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if bytes.Equal(buf.Bytes(), []byte("{}\n")) {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// Normalize returns the canonical form of cfg: enum values lower-cased and
// trimmed, lists sorted with duplicates removed. The list spelling
// (sequence or comma scalar) is kept.
func Normalize(cfg *schema.TuneConfig) *schema.TuneConfig {
	out := cfg.Clone()
	if out == nil {
		return nil
	}

	out.Device = canonical(out.Device)
	if f := out.Framework; f != nil {
		f.Name = canonical(f.Name)
		f.Inputs = trimList(f.Inputs)
		f.Outputs = trimList(f.Outputs)
	}
	if c := out.Calibration; c != nil {
		c.Iterations = normalizeInts(c.Iterations)
		if a := c.Algorithm; a != nil {
			a.Weight = normalizeStrings(a.Weight)
			a.Activation = normalizeStrings(a.Activation)
		}
	}
	if q := out.Quantization; q != nil {
		q.Approach = canonical(q.Approach)
		normalizePolicy(q.Weight)
		normalizePolicy(q.Activation)
		for _, op := range q.OpWise {
			normalizePolicy(op.Weight)
			normalizePolicy(op.Activation)
		}
	}
	if t := out.Tuning; t != nil {
		t.Strategy = canonical(t.Strategy)
		t.Objective = canonical(t.Objective)
	}
	if s := out.Snapshot; s != nil {
		s.Path = strings.TrimSpace(s.Path)
	}
	return out
}

func normalizePolicy(p *schema.TensorPolicy) {
	if p == nil {
		return
	}
	p.Granularity = normalizeStrings(p.Granularity)
	p.Scheme = normalizeStrings(p.Scheme)
	p.Dtype = normalizeStrings(p.Dtype)
	p.Algorithm = normalizeStrings(p.Algorithm)
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// trimList trims names without changing case or order; tensor names are
// case sensitive and positional.
func trimList(l schema.StringList) schema.StringList {
	for i, v := range l.Values {
		l.Values[i] = strings.TrimSpace(v)
	}
	return l
}

func normalizeStrings(l schema.StringList) schema.StringList {
	if l.IsZero() {
		return l
	}
	seen := make(map[string]bool, len(l.Values))
	values := make([]string, 0, len(l.Values))
	for _, v := range l.Values {
		v = canonical(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Strings(values)
	return schema.StringList{Values: values, Inline: l.Inline}
}

func normalizeInts(l schema.IntList) schema.IntList {
	if l.IsZero() {
		return l
	}
	seen := make(map[int]bool, len(l.Values))
	values := make([]int, 0, len(l.Values))
	for _, v := range l.Values {
		if seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Ints(values)
	return schema.IntList{Values: values, Inline: l.Inline}
}
