package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/registry"
)

func TestStringListDecode(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantValues []string
		wantInline bool
	}{
		{"single scalar", "v: kl", []string{"kl"}, true},
		{"comma scalar", "v: minmax, kl", []string{"minmax", "kl"}, true},
		{"sequence", "v: [minmax, kl]", []string{"minmax", "kl"}, false},
		{"block sequence", "v:\n  - per_channel\n  - per_tensor", []string{"per_channel", "per_tensor"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				V StringList `yaml:"v"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.input), &doc))
			assert.Equal(t, tt.wantValues, doc.V.Values)
			assert.Equal(t, tt.wantInline, doc.V.Inline)
		})
	}
}

func TestIntListDecode(t *testing.T) {
	var doc struct {
		V IntList `yaml:"v"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("v: 10, 50"), &doc))
	assert.Equal(t, []int{10, 50}, doc.V.Values)
	assert.True(t, doc.V.Inline)

	require.NoError(t, yaml.Unmarshal([]byte("v: [1, 2, 3]"), &doc))
	assert.Equal(t, []int{1, 2, 3}, doc.V.Values)
	assert.False(t, doc.V.Inline)

	err := yaml.Unmarshal([]byte("v: ten"), &doc)
	var typeErr *yaml.TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Contains(t, typeErr.Errors[0], "line 1")
}

func TestListEncodeKeepsSpelling(t *testing.T) {
	doc := struct {
		A StringList `yaml:"a"`
		B IntList    `yaml:"b"`
		C IntList    `yaml:"c"`
		D StringList `yaml:"d"`
	}{
		A: StringList{Values: []string{"minmax", "kl"}, Inline: true},
		B: IntList{Values: []int{10, 50}, Inline: true},
		C: IntList{Values: []int{100}, Inline: true},
		D: Strings("asym"),
	}

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, "a: minmax, kl\nb: 10, 50\nc: 100\nd:\n    - asym\n", string(out))
}

func TestIntListYAMLIntForms(t *testing.T) {
	var doc struct {
		V IntList `yaml:"v"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("v: 0x10"), &doc))
	assert.Equal(t, []int{16}, doc.V.Values)

	require.NoError(t, yaml.Unmarshal([]byte("v: [0x10, 8]"), &doc))
	assert.Equal(t, []int{16, 8}, doc.V.Values)
}

func TestListsJSON(t *testing.T) {
	policy := TensorPolicy{
		Granularity: Strings("per_channel"),
		Scheme:      StringList{Values: []string{"asym", "sym"}, Inline: true},
	}
	out, err := json.Marshal(policy)
	require.NoError(t, err)
	assert.JSONEq(t, `{"granularity":["per_channel"],"scheme":["asym","sym"]}`, string(out))

	cal, err := json.Marshal(Calibration{Iterations: IntList{Values: []int{100}, Inline: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"iterations":[100]}`, string(cal))

	fw, err := json.Marshal(Framework{Name: "pytorch"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"pytorch"}`, string(fw))

	var back TensorPolicy
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, []string{"asym", "sym"}, back.Scheme.Values)
	assert.True(t, back.Dtype.IsZero())

	var spelled struct {
		A StringList `json:"a"`
		B IntList    `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"minmax, kl","b":50}`), &spelled))
	assert.Equal(t, []string{"minmax", "kl"}, spelled.A.Values)
	assert.Equal(t, []int{50}, spelled.B.Values)
}

func TestFrameworkForms(t *testing.T) {
	var short TuneConfig
	require.NoError(t, yaml.Unmarshal([]byte("framework: pytorch"), &short))
	require.NotNil(t, short.Framework)
	assert.Equal(t, "pytorch", short.Framework.Name)
	assert.True(t, short.Framework.Short)

	out, err := yaml.Marshal(&short)
	require.NoError(t, err)
	assert.Equal(t, "framework: pytorch\n", string(out))

	var long TuneConfig
	src := "framework:\n    name: tensorflow\n    inputs: input\n    outputs: predict\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &long))
	assert.Equal(t, "tensorflow", long.FrameworkName())
	assert.Equal(t, []string{"input"}, long.Framework.Inputs.Values)
	assert.False(t, long.Framework.Short)

	out, err = yaml.Marshal(&long)
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestMetricCustomKeys(t *testing.T) {
	var cfg TuneConfig
	src := "tuning:\n  metric:\n    f1:\n      threshold: 0.5\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &cfg))

	m := cfg.Tuning.Metric
	require.NotNil(t, m)
	assert.Nil(t, m.TopK)
	assert.Equal(t, []string{"f1"}, m.Names())
}

func TestApplyDefaultsEmpty(t *testing.T) {
	cfg := ApplyDefaults(&TuneConfig{})

	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, DefaultApproach, cfg.Quantization.Approach)
	assert.Equal(t, []string{"per_channel"}, cfg.Quantization.Weight.Granularity.Values)
	assert.Equal(t, []string{"per_tensor"}, cfg.Quantization.Activation.Granularity.Values)
	assert.Equal(t, []string{"asym"}, cfg.Quantization.Activation.Scheme.Values)
	assert.Equal(t, []string{"int8"}, cfg.Quantization.Weight.Dtype.Values)
	require.NotNil(t, cfg.Calibration)
	assert.Equal(t, []int{100}, cfg.Calibration.Iterations.Values)
	assert.Equal(t, []string{"minmax"}, cfg.Calibration.Algorithm.Activation.Values)
	assert.Equal(t, "basic", cfg.Tuning.Strategy)
	assert.Equal(t, 1, *cfg.Tuning.Metric.TopK)
	assert.InDelta(t, 0.01, *cfg.Tuning.AccuracyCriterion.Relative, 1e-9)
	assert.Equal(t, "performance", cfg.Tuning.Objective)
	assert.Equal(t, 0, *cfg.Tuning.Timeout)
	assert.Equal(t, 100, *cfg.Tuning.MaxTrials)
	assert.Equal(t, int64(1978), *cfg.Tuning.RandomSeed)
	assert.Nil(t, cfg.Snapshot)
	assert.Nil(t, cfg.Framework)
}

func TestApplyDefaultsKeepsValues(t *testing.T) {
	in := &TuneConfig{
		Device:       "gpu",
		Quantization: &Quantization{Approach: "post_training_dynamic_quant"},
		Tuning: &Tuning{
			Strategy:          "mse",
			AccuracyCriterion: &AccuracyCriterion{Absolute: Ptr(0.02)},
			Timeout:           Ptr(60),
		},
	}

	cfg := ApplyDefaults(in)

	assert.Equal(t, "gpu", cfg.Device)
	assert.Nil(t, cfg.Calibration, "dynamic approach does not calibrate")
	assert.Equal(t, "mse", cfg.Tuning.Strategy)
	assert.Nil(t, cfg.Tuning.AccuracyCriterion.Relative)
	assert.Equal(t, 60, *cfg.Tuning.Timeout)

	// the input is untouched
	assert.Nil(t, in.Tuning.Metric)
	assert.Nil(t, in.Quantization.Weight)
}

func TestCloneIsDeep(t *testing.T) {
	in := &TuneConfig{
		Framework: &Framework{Name: "tensorflow", Inputs: Strings("x")},
		Quantization: &Quantization{OpWise: map[string]OpPolicy{
			"conv1": {Activation: &TensorPolicy{Dtype: Strings("fp32")}},
		}},
		Tuning: &Tuning{Timeout: Ptr(5)},
	}

	out := in.Clone()
	out.Framework.Inputs.Values[0] = "y"
	out.Quantization.OpWise["conv1"].Activation.Dtype.Values[0] = "int8"
	*out.Tuning.Timeout = 9

	assert.Equal(t, "x", in.Framework.Inputs.Values[0])
	assert.Equal(t, "fp32", in.Quantization.OpWise["conv1"].Activation.Dtype.Values[0])
	assert.Equal(t, 5, *in.Tuning.Timeout)
}

func TestLookup(t *testing.T) {
	f, ok := Lookup("tuning.metric.topk")
	require.True(t, ok)
	assert.Equal(t, TypeInt, f.Type)

	f, ok = Lookup("quantization.op_wise.conv1.activation.dtype")
	require.True(t, ok)
	assert.Equal(t, registry.KindDtype, f.Enum)

	_, ok = Lookup("quantization.weight.algorithm")
	assert.False(t, ok)

	_, ok = Lookup("tuning.bogus")
	assert.False(t, ok)
}

func TestTemplateDecodes(t *testing.T) {
	var cfg TuneConfig
	require.NoError(t, yaml.Unmarshal([]byte(Template), &cfg))
	assert.Equal(t, "tensorflow", cfg.FrameworkName())
	assert.Equal(t, []int{100}, cfg.Calibration.Iterations.Values)
	assert.Equal(t, int64(1978), *cfg.Tuning.RandomSeed)
}
