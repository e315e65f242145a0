package schema

import (
	"strings"

	"github.com/jamesainslie/qtune/pkg/qtune/registry"
)

// FieldType is the YAML shape a field accepts.
type FieldType int

// Field shapes.
const (
	TypeSection    FieldType = iota // mapping of known keys
	TypeString                      // scalar string
	TypeInt                         // scalar integer
	TypeFloat                       // scalar number
	TypeStringList                  // sequence or comma separated strings
	TypeIntList                     // sequence or comma separated integers
	TypeFramework                   // bare name or section
	TypeMap                         // mapping of user chosen keys to sections
	TypeOpen                        // section that also accepts unknown keys
)

// String returns a readable name for the type.
func (t FieldType) String() string {
	switch t {
	case TypeSection, TypeMap, TypeOpen:
		return "mapping"
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeStringList:
		return "list of strings"
	case TypeIntList:
		return "list of integers"
	case TypeFramework:
		return "framework name or mapping"
	default:
		return "unknown"
	}
}

// Field describes one key of the document. Paths are dotted; "*" matches
// any single key (operator names under op_wise).
type Field struct {
	Path     string
	Type     FieldType
	Enum     registry.Kind
	Required bool
	Min      *float64
	Max      *float64
	// MaxExclusive makes Max an open bound.
	MaxExclusive bool
	Default      string
	Description  string
}

func bound(v float64) *float64 { return &v }

func tensorFields(prefix, granularity string, withAlgorithm bool) []Field {
	fields := []Field{
		{Path: prefix, Type: TypeSection, Description: "tensor quantization policy"},
		{Path: prefix + ".granularity", Type: TypeStringList, Enum: registry.KindGranularity, Default: granularity, Description: "per_channel or per_tensor"},
		{Path: prefix + ".scheme", Type: TypeStringList, Enum: registry.KindScheme, Default: DefaultScheme, Description: "asym or sym"},
		{Path: prefix + ".dtype", Type: TypeStringList, Enum: registry.KindDtype, Default: DefaultDtype, Description: "quantized data type"},
	}
	if withAlgorithm {
		fields = append(fields, Field{Path: prefix + ".algorithm", Type: TypeStringList, Enum: registry.KindCalibrationAlgorithm, Description: "calibration algorithm for this operator"})
	}
	return fields
}

// Fields is the field table of a tuning document.
var Fields = buildFields()

func buildFields() []Field {
	fields := []Field{
		{Path: "framework", Type: TypeFramework, Required: true, Description: "model framework"},
		{Path: "framework.name", Type: TypeString, Enum: registry.KindFramework, Required: true, Description: "tensorflow, mxnet, pytorch or a registered backend"},
		{Path: "framework.inputs", Type: TypeStringList, Description: "input tensor names, required for tensorflow"},
		{Path: "framework.outputs", Type: TypeStringList, Description: "output tensor names, required for tensorflow"},
		{Path: "device", Type: TypeString, Enum: registry.KindDevice, Default: DefaultDevice, Description: "cpu or gpu"},
		{Path: "calibration", Type: TypeSection, Description: "calibration settings, required for post_training_static_quant"},
		{Path: "calibration.iterations", Type: TypeIntList, Min: bound(1), Default: "100", Description: "calibration batches to try"},
		{Path: "calibration.algorithm", Type: TypeSection, Description: "calibration algorithms"},
		{Path: "calibration.algorithm.weight", Type: TypeStringList, Enum: registry.KindCalibrationAlgorithm, Default: DefaultCalibrationAlgorithm, Description: "minmax or kl"},
		{Path: "calibration.algorithm.activation", Type: TypeStringList, Enum: registry.KindCalibrationAlgorithm, Default: DefaultCalibrationAlgorithm, Description: "minmax or kl"},
		{Path: "quantization", Type: TypeSection, Description: "quantization settings"},
		{Path: "quantization.approach", Type: TypeString, Enum: registry.KindApproach, Default: DefaultApproach, Description: "quantization approach"},
	}
	fields = append(fields, tensorFields("quantization.weight", DefaultWeightGranularity, false)...)
	fields = append(fields, tensorFields("quantization.activation", DefaultActivationGranularity, false)...)
	fields = append(fields,
		Field{Path: "quantization.op_wise", Type: TypeMap, Description: "per operator overrides"},
		Field{Path: "quantization.op_wise.*", Type: TypeSection, Description: "operator override"},
	)
	fields = append(fields, tensorFields("quantization.op_wise.*.weight", "", true)...)
	fields = append(fields, tensorFields("quantization.op_wise.*.activation", "", true)...)
	fields = append(fields,
		Field{Path: "tuning", Type: TypeSection, Description: "tuning settings"},
		Field{Path: "tuning.strategy", Type: TypeString, Enum: registry.KindStrategy, Default: DefaultStrategy, Description: "search strategy"},
		Field{Path: "tuning.metric", Type: TypeOpen, Description: "evaluation metric, topk or a registered metric"},
		Field{Path: "tuning.metric.topk", Type: TypeInt, Min: bound(1), Default: "1", Description: "rank cutoff"},
		Field{Path: "tuning.accuracy_criterion", Type: TypeSection, Description: "accuracy loss budget"},
		Field{Path: "tuning.accuracy_criterion.relative", Type: TypeFloat, Min: bound(0), Max: bound(1), MaxExclusive: true, Default: "0.01", Description: "relative accuracy loss"},
		Field{Path: "tuning.accuracy_criterion.absolute", Type: TypeFloat, Min: bound(0), Description: "absolute accuracy loss"},
		Field{Path: "tuning.objective", Type: TypeString, Enum: registry.KindObjective, Default: DefaultObjective, Description: "performance, modelsize or footprint"},
		Field{Path: "tuning.timeout", Type: TypeInt, Min: bound(0), Default: "0", Description: "seconds, 0 means no timeout"},
		Field{Path: "tuning.max_trials", Type: TypeInt, Min: bound(1), Default: "100", Description: "maximum tuning trials"},
		Field{Path: "tuning.random_seed", Type: TypeInt, Default: "1978", Description: "random seed"},
		Field{Path: "snapshot", Type: TypeSection, Description: "snapshot settings"},
		Field{Path: "snapshot.path", Type: TypeString, Description: "output directory, ~ is expanded"},
	)
	return fields
}

var fieldIndex = func() map[string]*Field {
	idx := make(map[string]*Field, len(Fields))
	for i := range Fields {
		idx[Fields[i].Path] = &Fields[i]
	}
	return idx
}()

// Lookup returns the field at path. Path segments below op_wise may be
// concrete operator names.
func Lookup(path string) (*Field, bool) {
	if f, ok := fieldIndex[path]; ok {
		return f, true
	}
	const opWise = "quantization.op_wise."
	if rest, ok := strings.CutPrefix(path, opWise); ok {
		_, tail, hasTail := strings.Cut(rest, ".")
		generic := opWise + "*"
		if hasTail {
			generic += "." + tail
		}
		f, ok := fieldIndex[generic]
		return f, ok
	}
	return nil, false
}

// Child joins a parent path and a key.
func Child(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// TopLevelKeys lists the keys allowed at the document root.
func TopLevelKeys() []string {
	return []string{SectionFramework, SectionDevice, SectionCalibration, SectionQuantization, SectionTuning, SectionSnapshot}
}
