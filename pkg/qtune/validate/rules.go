package validate

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jamesainslie/qtune/pkg/qtune/loader"
	"github.com/jamesainslie/qtune/pkg/qtune/schema"
)

// crossField applies the rules that span several fields. Values are read
// from the decoded configuration; positions come from the node tree.
func (v *Validator) crossField(doc *loader.Document, report *Report) {
	cfg := doc.Config
	at := func(path string, sev Severity, code, format string, args ...any) {
		line, col := doc.Position(path)
		report.add(Diagnostic{
			Field:    path,
			Line:     line,
			Column:   col,
			Severity: sev,
			Code:     code,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	framework := strings.ToLower(strings.TrimSpace(cfg.FrameworkName()))
	if framework == "" && !hasTypeError(report, "framework") {
		at("framework.name", SeverityError, CodeMissingRequired, "framework.name is required")
	}
	if framework == "tensorflow" {
		if cfg.Framework.Inputs.IsZero() && !doc.Has("framework.inputs") {
			at("framework.inputs", SeverityError, CodeMissingRequired, "framework.inputs is required for tensorflow")
		}
		if cfg.Framework.Outputs.IsZero() && !doc.Has("framework.outputs") {
			at("framework.outputs", SeverityError, CodeMissingRequired, "framework.outputs is required for tensorflow")
		}
	}

	approach := strings.ToLower(strings.TrimSpace(cfg.Approach()))
	if schema.Static(approach) && !doc.Has(schema.SectionCalibration) {
		at("quantization.approach", SeverityError, CodeMissingCalibration,
			"%s requires a calibration section", schema.DefaultApproach)
	}
	if approach == "post_training_dynamic_quant" && doc.Has(schema.SectionCalibration) {
		at(schema.SectionCalibration, SeverityWarning, CodeUnusedSection,
			"calibration is ignored by %s", approach)
	}

	device := strings.ToLower(strings.TrimSpace(cfg.Device))
	if device == "gpu" && framework == "tensorflow" {
		at("device", SeverityWarning, CodeDeviceSupport, "tensorflow quantization runs on cpu only; gpu will be ignored")
	}

	if t := cfg.Tuning; t != nil {
		if a := t.AccuracyCriterion; a != nil && a.Relative != nil && a.Absolute != nil {
			at("tuning.accuracy_criterion", SeverityError, CodeConflict,
				"accuracy_criterion accepts either relative or absolute, not both")
		}
		if names := t.Metric.Names(); len(names) > 1 {
			sort.Strings(names)
			at("tuning.metric", SeverityError, CodeConflict,
				"tuning.metric names %d metrics (%s); choose one", len(names), strings.Join(names, ", "))
		}
	}

	eff := schema.ApplyDefaults(cfg)
	if *eff.Tuning.Timeout == 0 && !doc.Has("tuning.max_trials") {
		at("tuning.timeout", SeverityInfo, CodeEarlyStop,
			"no timeout set; tuning stops after the default %d trials", schema.DefaultMaxTrials)
	}

	if s := cfg.Snapshot; s != nil && s.Path != "" {
		path := expandPath(s.Path)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			at("snapshot.path", SeverityError, CodeInvalidPath, "snapshot.path %s exists and is not a directory", s.Path)
		}
	}
}

func hasTypeError(report *Report, field string) bool {
	for _, d := range report.Diagnostics {
		if d.Field == field && (d.Code == CodeInvalidType || d.Code == CodeInvalidEnum) {
			return true
		}
	}
	return false
}
