package schema

// Default values substituted for omitted fields.
const (
	// DefaultDevice is the target device.
	DefaultDevice = "cpu"

	// DefaultApproach is the quantization approach.
	DefaultApproach = "post_training_static_quant"

	// DefaultCalibrationIterations is the number of calibration batches.
	DefaultCalibrationIterations = 100

	// DefaultCalibrationAlgorithm is used for weights and activations.
	DefaultCalibrationAlgorithm = "minmax"

	// DefaultWeightGranularity is the weight quantization granularity.
	DefaultWeightGranularity = "per_channel"

	// DefaultActivationGranularity is the activation quantization granularity.
	DefaultActivationGranularity = "per_tensor"

	// DefaultScheme is the quantization scheme for both tensor classes.
	DefaultScheme = "asym"

	// DefaultDtype is the quantized data type for both tensor classes.
	DefaultDtype = "int8"

	// DefaultStrategy is the tuning strategy.
	DefaultStrategy = "basic"

	// DefaultTopK is the rank cutoff of the built-in metric.
	DefaultTopK = 1

	// DefaultRelativeLoss is the relative accuracy loss budget.
	DefaultRelativeLoss = 0.01

	// DefaultObjective is the tuning objective.
	DefaultObjective = "performance"

	// DefaultTimeout is the tuning timeout in seconds; 0 means none.
	DefaultTimeout = 0

	// DefaultMaxTrials bounds the number of tuning trials.
	DefaultMaxTrials = 100

	// DefaultRandomSeed makes tuning runs reproducible.
	DefaultRandomSeed int64 = 1978
)

// Static reports whether approach is the static post-training approach,
// which needs calibration data.
func Static(approach string) bool {
	return approach == DefaultApproach
}

// ApplyDefaults returns a copy of cfg with every omitted optional field
// replaced by its default. Required fields without a default
// (framework.name) stay empty. A calibration section is only synthesized
// for the static approach; the other approaches do not calibrate.
func ApplyDefaults(cfg *TuneConfig) *TuneConfig {
	out := cfg.Clone()
	if out == nil {
		out = &TuneConfig{}
	}

	if out.Device == "" {
		out.Device = DefaultDevice
	}

	if out.Quantization == nil {
		out.Quantization = &Quantization{}
	}
	q := out.Quantization
	if q.Approach == "" {
		q.Approach = DefaultApproach
	}
	q.Weight = defaultPolicy(q.Weight, DefaultWeightGranularity)
	q.Activation = defaultPolicy(q.Activation, DefaultActivationGranularity)

	if out.Calibration == nil && Static(q.Approach) {
		out.Calibration = &Calibration{}
	}
	if c := out.Calibration; c != nil {
		if c.Iterations.IsZero() {
			c.Iterations = Ints(DefaultCalibrationIterations)
		}
		if c.Algorithm == nil {
			c.Algorithm = &Algorithm{}
		}
		if c.Algorithm.Weight.IsZero() {
			c.Algorithm.Weight = Strings(DefaultCalibrationAlgorithm)
		}
		if c.Algorithm.Activation.IsZero() {
			c.Algorithm.Activation = Strings(DefaultCalibrationAlgorithm)
		}
	}

	if out.Tuning == nil {
		out.Tuning = &Tuning{}
	}
	t := out.Tuning
	if t.Strategy == "" {
		t.Strategy = DefaultStrategy
	}
	if t.Metric == nil {
		t.Metric = &Metric{}
	}
	if t.Metric.TopK == nil && len(t.Metric.Custom) == 0 {
		t.Metric.TopK = Ptr(DefaultTopK)
	}
	if t.AccuracyCriterion == nil {
		t.AccuracyCriterion = &AccuracyCriterion{}
	}
	if t.AccuracyCriterion.Relative == nil && t.AccuracyCriterion.Absolute == nil {
		t.AccuracyCriterion.Relative = Ptr(DefaultRelativeLoss)
	}
	if t.Objective == "" {
		t.Objective = DefaultObjective
	}
	if t.Timeout == nil {
		t.Timeout = Ptr(DefaultTimeout)
	}
	if t.MaxTrials == nil {
		t.MaxTrials = Ptr(DefaultMaxTrials)
	}
	if t.RandomSeed == nil {
		t.RandomSeed = Ptr(DefaultRandomSeed)
	}

	return out
}

func defaultPolicy(p *TensorPolicy, granularity string) *TensorPolicy {
	if p == nil {
		p = &TensorPolicy{}
	}
	if p.Granularity.IsZero() {
		p.Granularity = Strings(granularity)
	}
	if p.Scheme.IsZero() {
		p.Scheme = Strings(DefaultScheme)
	}
	if p.Dtype.IsZero() {
		p.Dtype = Strings(DefaultDtype)
	}
	return p
}
