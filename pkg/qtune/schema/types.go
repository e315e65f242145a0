// Package schema defines the tuning configuration document consumed by a
// quantization tuning engine, its defaults and its field table.
package schema

import (
	"maps"

	"gopkg.in/yaml.v3"
)

// Top-level section keys.
const (
	SectionFramework    = "framework"
	SectionDevice       = "device"
	SectionCalibration  = "calibration"
	SectionQuantization = "quantization"
	SectionTuning       = "tuning"
	SectionSnapshot     = "snapshot"
)

// TuneConfig is a tuning configuration document. Nil sections were absent
// from the source document.
type TuneConfig struct {
	Framework    *Framework    `yaml:"framework,omitempty" json:"framework,omitempty"`
	Device       string        `yaml:"device,omitempty" json:"device,omitempty"`
	Calibration  *Calibration  `yaml:"calibration,omitempty" json:"calibration,omitempty"`
	Quantization *Quantization `yaml:"quantization,omitempty" json:"quantization,omitempty"`
	Tuning       *Tuning       `yaml:"tuning,omitempty" json:"tuning,omitempty"`
	Snapshot     *Snapshot     `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`
}

// Framework selects the model framework. It is written either as a bare
// name ("framework: pytorch") or as a mapping with name, inputs and outputs.
type Framework struct {
	Name    string     `yaml:"name,omitempty" json:"name"`
	Inputs  StringList `yaml:"inputs,omitempty" json:"inputs,omitzero"`
	Outputs StringList `yaml:"outputs,omitempty" json:"outputs,omitzero"`

	// Short is set when the document used the bare name form.
	Short bool `yaml:"-" json:"-"`
}

type frameworkFields Framework

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Framework) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*f = Framework{Name: node.Value, Short: true}
		return nil
	case yaml.MappingNode:
		var fields frameworkFields
		err := node.Decode(&fields)
		*f = Framework(fields)
		f.Short = false
		return err
	default:
		return typeError(node, "framework must be a name or a mapping")
	}
}

// MarshalYAML implements yaml.Marshaler.
func (f Framework) MarshalYAML() (any, error) {
	if f.Short && f.Inputs.IsZero() && f.Outputs.IsZero() {
		return f.Name, nil
	}
	return frameworkFields(f), nil
}

// Calibration controls statistics collection before static quantization.
type Calibration struct {
	Iterations IntList    `yaml:"iterations,omitempty" json:"iterations,omitzero"`
	Algorithm  *Algorithm `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
}

// Algorithm selects calibration algorithms for weights and activations.
type Algorithm struct {
	Weight     StringList `yaml:"weight,omitempty" json:"weight,omitzero"`
	Activation StringList `yaml:"activation,omitempty" json:"activation,omitzero"`
}

// Quantization holds the quantization approach and the tensor policies.
type Quantization struct {
	Approach   string              `yaml:"approach,omitempty" json:"approach,omitempty"`
	Weight     *TensorPolicy       `yaml:"weight,omitempty" json:"weight,omitempty"`
	Activation *TensorPolicy       `yaml:"activation,omitempty" json:"activation,omitempty"`
	OpWise     map[string]OpPolicy `yaml:"op_wise,omitempty" json:"op_wise,omitempty"`
}

// TensorPolicy is the tuning space of one tensor class. Algorithm is only
// meaningful inside an op_wise override.
type TensorPolicy struct {
	Granularity StringList `yaml:"granularity,omitempty" json:"granularity,omitzero"`
	Scheme      StringList `yaml:"scheme,omitempty" json:"scheme,omitzero"`
	Dtype       StringList `yaml:"dtype,omitempty" json:"dtype,omitzero"`
	Algorithm   StringList `yaml:"algorithm,omitempty" json:"algorithm,omitzero"`
}

// OpPolicy overrides the tensor policies of a single named operator.
type OpPolicy struct {
	Weight     *TensorPolicy `yaml:"weight,omitempty" json:"weight,omitempty"`
	Activation *TensorPolicy `yaml:"activation,omitempty" json:"activation,omitempty"`
}

// Tuning configures the accuracy-driven search performed by the engine.
type Tuning struct {
	Strategy          string             `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Metric            *Metric            `yaml:"metric,omitempty" json:"metric,omitempty"`
	AccuracyCriterion *AccuracyCriterion `yaml:"accuracy_criterion,omitempty" json:"accuracy_criterion,omitempty"`
	Objective         string             `yaml:"objective,omitempty" json:"objective,omitempty"`
	Timeout           *int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxTrials         *int               `yaml:"max_trials,omitempty" json:"max_trials,omitempty"`
	RandomSeed        *int64             `yaml:"random_seed,omitempty" json:"random_seed,omitempty"`
}

// Metric names the evaluation metric. TopK is the built-in metric; any
// other key is a user-registered metric with free-form settings.
type Metric struct {
	TopK   *int           `yaml:"topk,omitempty" json:"topk,omitempty"`
	Custom map[string]any `yaml:",inline" json:"custom,omitempty"`
}

// Names returns the metric names the section declares.
func (m *Metric) Names() []string {
	if m == nil {
		return nil
	}
	var names []string
	if m.TopK != nil {
		names = append(names, "topk")
	}
	for k := range m.Custom {
		names = append(names, k)
	}
	return names
}

// AccuracyCriterion is the accuracy loss budget. Relative and Absolute are
// mutually exclusive.
type AccuracyCriterion struct {
	Relative *float64 `yaml:"relative,omitempty" json:"relative,omitempty"`
	Absolute *float64 `yaml:"absolute,omitempty" json:"absolute,omitempty"`
}

// Snapshot configures where tuned output is saved.
type Snapshot struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// FrameworkName returns the framework name or "" when absent.
func (c *TuneConfig) FrameworkName() string {
	if c == nil || c.Framework == nil {
		return ""
	}
	return c.Framework.Name
}

// Approach returns the declared quantization approach or "" when absent.
func (c *TuneConfig) Approach() string {
	if c == nil || c.Quantization == nil {
		return ""
	}
	return c.Quantization.Approach
}

// Clone returns a deep copy of the configuration.
func (c *TuneConfig) Clone() *TuneConfig {
	if c == nil {
		return nil
	}
	out := &TuneConfig{Device: c.Device}
	if c.Framework != nil {
		f := *c.Framework
		f.Inputs = c.Framework.Inputs.Clone()
		f.Outputs = c.Framework.Outputs.Clone()
		out.Framework = &f
	}
	if c.Calibration != nil {
		cal := Calibration{Iterations: c.Calibration.Iterations.Clone()}
		if a := c.Calibration.Algorithm; a != nil {
			cal.Algorithm = &Algorithm{Weight: a.Weight.Clone(), Activation: a.Activation.Clone()}
		}
		out.Calibration = &cal
	}
	if c.Quantization != nil {
		q := Quantization{
			Approach:   c.Quantization.Approach,
			Weight:     c.Quantization.Weight.Clone(),
			Activation: c.Quantization.Activation.Clone(),
		}
		if c.Quantization.OpWise != nil {
			q.OpWise = make(map[string]OpPolicy, len(c.Quantization.OpWise))
			for name, op := range c.Quantization.OpWise {
				q.OpWise[name] = OpPolicy{Weight: op.Weight.Clone(), Activation: op.Activation.Clone()}
			}
		}
		out.Quantization = &q
	}
	if c.Tuning != nil {
		t := Tuning{
			Strategy:   c.Tuning.Strategy,
			Objective:  c.Tuning.Objective,
			Timeout:    clonePtr(c.Tuning.Timeout),
			MaxTrials:  clonePtr(c.Tuning.MaxTrials),
			RandomSeed: clonePtr(c.Tuning.RandomSeed),
		}
		if m := c.Tuning.Metric; m != nil {
			t.Metric = &Metric{TopK: clonePtr(m.TopK)}
			if m.Custom != nil {
				t.Metric.Custom = maps.Clone(m.Custom)
			}
		}
		if a := c.Tuning.AccuracyCriterion; a != nil {
			t.AccuracyCriterion = &AccuracyCriterion{
				Relative: clonePtr(a.Relative),
				Absolute: clonePtr(a.Absolute),
			}
		}
		out.Tuning = &t
	}
	if c.Snapshot != nil {
		s := *c.Snapshot
		out.Snapshot = &s
	}
	return out
}

// Clone returns a deep copy of the policy.
func (p *TensorPolicy) Clone() *TensorPolicy {
	if p == nil {
		return nil
	}
	return &TensorPolicy{
		Granularity: p.Granularity.Clone(),
		Scheme:      p.Scheme.Clone(),
		Dtype:       p.Dtype.Clone(),
		Algorithm:   p.Algorithm.Clone(),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
