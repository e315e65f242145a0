package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/qtune/pkg/qtune/schema"
)

const fullDocument = `framework:
  name: tensorflow
  inputs: input
  outputs: [predict, logits]
device: cpu
calibration:
  iterations: 10, 50
  algorithm:
    weight: minmax
    activation: minmax, kl
quantization:
  approach: post_training_static_quant
  weight:
    granularity: per_channel
    scheme: asym, sym
    dtype: int8
  activation:
    granularity: [per_tensor]
    scheme: asym
    dtype: int8
  op_wise:
    conv1:
      activation:
        dtype: fp32
        algorithm: kl
tuning:
  strategy: basic
  metric:
    topk: 1
  accuracy_criterion:
    relative: 0.01
  objective: performance
  timeout: 0
  max_trials: 50
  random_seed: 9527
snapshot:
  path: /tmp/qtune
`

func TestParseFullDocument(t *testing.T) {
	doc, err := Parse([]byte(fullDocument))
	require.NoError(t, err)
	require.Empty(t, doc.TypeErrors)

	cfg := doc.Config
	assert.Equal(t, "tensorflow", cfg.FrameworkName())
	assert.Equal(t, []string{"predict", "logits"}, cfg.Framework.Outputs.Values)
	assert.Equal(t, []int{10, 50}, cfg.Calibration.Iterations.Values)
	assert.Equal(t, []string{"minmax", "kl"}, cfg.Calibration.Algorithm.Activation.Values)
	assert.Equal(t, []string{"asym", "sym"}, cfg.Quantization.Weight.Scheme.Values)
	assert.Equal(t, []string{"fp32"}, cfg.Quantization.OpWise["conv1"].Activation.Dtype.Values)
	assert.Equal(t, 50, *cfg.Tuning.MaxTrials)
	assert.Equal(t, int64(9527), *cfg.Tuning.RandomSeed)
	assert.Equal(t, "/tmp/qtune", cfg.Snapshot.Path)
}

func TestRoundTrip(t *testing.T) {
	docs := map[string]string{
		"full":          fullDocument,
		"empty":         "",
		"short name":    "framework: pytorch\n",
		"empty section": "framework: mxnet\ncalibration:\n",
		"zero timeout":  "framework: pytorch\ntuning:\n  timeout: 0\n",
		"custom metric": "framework: pytorch\ntuning:\n  metric:\n    f1:\n      average: macro\n",
		"absolute":      "framework: pytorch\ntuning:\n  accuracy_criterion:\n    absolute: 0.5\n",
		"empty metric":  "framework: pytorch\ntuning:\n  metric:\n  timeout: 5\n",
		"empty policy":  "quantization:\n  weight:\n  op_wise:\n    conv1:\n      activation:\n",
	}

	for name, src := range docs {
		t.Run(name, func(t *testing.T) {
			first, err := Parse([]byte(src))
			require.NoError(t, err)

			out, err := Marshal(first.Config)
			require.NoError(t, err)

			second, err := Parse(out)
			require.NoError(t, err, string(out))
			assert.Equal(t, first.Config, second.Config, string(out))
		})
	}
}

func TestRoundTripKeepsEmptyNestedSections(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"framework", "framework:\ndevice: cpu\n", []string{"framework:"}},
		{"metric", "framework: pytorch\ntuning:\n  metric:\n  timeout: 5\n", []string{"metric:", "timeout: 5"}},
		{"accuracy criterion", "tuning:\n  accuracy_criterion:\n", []string{"accuracy_criterion:"}},
		{"calibration algorithm", "calibration:\n  algorithm:\n", []string{"algorithm:"}},
		{"tensor policy", "quantization:\n  weight:\n  activation:\n", []string{"weight:", "activation:"}},
		{"op policy", "quantization:\n  op_wise:\n    conv1:\n      weight:\n", []string{"conv1:", "weight:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.src))
			require.NoError(t, err)

			out, err := Marshal(doc.Config)
			require.NoError(t, err)
			for _, key := range tt.want {
				assert.Contains(t, string(out), key)
			}
		})
	}
}

func TestRoundTripKeepsCommaSpelling(t *testing.T) {
	doc, err := Parse([]byte("calibration:\n  iterations: 10, 50\n"))
	require.NoError(t, err)

	out, err := Marshal(doc.Config)
	require.NoError(t, err)
	assert.Equal(t, "calibration:\n  iterations: 10, 50\n", string(out))
}

func TestParseEmpty(t *testing.T) {
	for _, src := range []string{"", "\n", "# only a comment\n", "~\n"} {
		doc, err := Parse([]byte(src))
		require.NoError(t, err, "%q", src)
		assert.Nil(t, doc.Root)
		assert.Equal(t, &schema.TuneConfig{}, doc.Config)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
	}{
		{"syntax", "framework: pytorch\n\tdevice: cpu\n", 2},
		{"list root", "- a\n- b\n", 1},
		{"scalar root", "tensorflow\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantLine, pe.Line)
		})
	}
}

func TestParseRejectsMultipleDocuments(t *testing.T) {
	_, err := Parse([]byte("framework: pytorch\n---\nframework: mxnet\n"))
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Line)
	assert.Contains(t, pe.Msg, "single YAML document")

	for _, src := range []string{"framework: pytorch\n---\n", "---\nframework: pytorch\n...\n"} {
		doc, err := Parse([]byte(src))
		require.NoError(t, err, "%q", src)
		assert.Equal(t, "pytorch", doc.Config.FrameworkName())
	}
}

func TestParseTypeErrorsAreCollected(t *testing.T) {
	doc, err := Parse([]byte("framework: pytorch\ntuning:\n  timeout: soon\n  strategy: mse\n"))
	require.NoError(t, err)

	assert.Len(t, doc.TypeErrors, 1)
	assert.Contains(t, doc.TypeErrors[0], "line 3")
	assert.Equal(t, "mse", doc.Config.Tuning.Strategy)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune.yaml")
	require.NoError(t, os.WriteFile(path, []byte("framework: pytorch\n"), 0o644))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, doc.Path)
	assert.Equal(t, "pytorch", doc.Config.FrameworkName())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNodeAndPosition(t *testing.T) {
	doc, err := Parse([]byte(fullDocument))
	require.NoError(t, err)

	assert.True(t, doc.Has("tuning.metric.topk"))
	assert.False(t, doc.Has("tuning.metric.f1"))

	line, col := doc.Position("tuning.max_trials")
	assert.Equal(t, 34, line)
	assert.Equal(t, 15, col)

	// missing leaf falls back to its parent
	line, _ = doc.Position("snapshot.missing")
	assert.Equal(t, 37, line)

	short, err := Parse([]byte("framework: pytorch\n"))
	require.NoError(t, err)
	assert.True(t, short.Has("framework.name"))
}

func TestEffective(t *testing.T) {
	doc, err := Parse([]byte("framework: pytorch\n"))
	require.NoError(t, err)

	eff := doc.Effective()
	assert.Equal(t, "cpu", eff.Device)
	assert.Equal(t, "basic", eff.Tuning.Strategy)
	assert.Nil(t, doc.Config.Tuning, "Effective must not mutate the parsed config")
}

func TestNormalize(t *testing.T) {
	doc, err := Parse([]byte(`framework:
  name: " TensorFlow "
  inputs: [Input_1]
device: CPU
calibration:
  iterations: [50, 10, 50]
  algorithm:
    activation: KL, minmax, kl
quantization:
  approach: Post_Training_Static_Quant
tuning:
  strategy: MSE
`))
	require.NoError(t, err)

	n := Normalize(doc.Config)
	assert.Equal(t, "tensorflow", n.Framework.Name)
	assert.Equal(t, []string{"Input_1"}, n.Framework.Inputs.Values)
	assert.Equal(t, "cpu", n.Device)
	assert.Equal(t, []int{10, 50}, n.Calibration.Iterations.Values)
	assert.Equal(t, []string{"kl", "minmax"}, n.Calibration.Algorithm.Activation.Values)
	assert.True(t, n.Calibration.Algorithm.Activation.Inline)
	assert.Equal(t, "post_training_static_quant", n.Quantization.Approach)
	assert.Equal(t, "mse", n.Tuning.Strategy)

	assert.Equal(t, "CPU", doc.Config.Device, "Normalize must not mutate its input")
}
