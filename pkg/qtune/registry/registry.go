// Package registry holds the value sets of every enumerated field in a
// tuning document.
//
// Built-in values are installed by New. Users extend the extensible kinds
// (custom framework backends, custom metrics, extra data types and so on)
// through Register, the tool configuration's extensions map or the
// --register command line flag.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind names an enumerated field family.
type Kind string

// Enumerated field families.
const (
	KindFramework            Kind = "framework"
	KindDevice               Kind = "device"
	KindCalibrationAlgorithm Kind = "calibration_algorithm"
	KindApproach             Kind = "approach"
	KindGranularity          Kind = "granularity"
	KindScheme               Kind = "scheme"
	KindDtype                Kind = "dtype"
	KindStrategy             Kind = "strategy"
	KindMetric               Kind = "metric"
	KindObjective            Kind = "objective"
)

var (
	// ErrUnknownKind is returned for a kind the registry does not track.
	ErrUnknownKind = errors.New("unknown registry kind")

	// ErrEmptyValue is returned when registering a blank value.
	ErrEmptyValue = errors.New("empty registry value")

	// ErrNotExtensible is returned when registering into a closed kind.
	ErrNotExtensible = errors.New("registry kind does not accept extensions")

	// ErrBuiltin is returned when unregistering a built-in value.
	ErrBuiltin = errors.New("cannot unregister built-in value")

	// ErrNotRegistered is returned when unregistering a value that was never registered.
	ErrNotRegistered = errors.New("value not registered")
)

// builtins lists the values every registry starts with.
var builtins = map[Kind][]string{
	KindFramework:            {"tensorflow", "mxnet", "pytorch"},
	KindDevice:               {"cpu", "gpu"},
	KindCalibrationAlgorithm: {"minmax", "kl"},
	KindApproach:             {"post_training_static_quant", "post_training_dynamic_quant", "quant_aware_training"},
	KindGranularity:          {"per_channel", "per_tensor"},
	KindScheme:               {"asym", "sym"},
	KindDtype:                {"int8", "uint8", "fp32", "bf16"},
	KindStrategy:             {"basic", "random", "exhaustive", "bayesian", "mse"},
	KindMetric:               {"topk"},
	KindObjective:            {"performance", "modelsize", "footprint"},
}

// closed kinds are fixed by the quantization engine and reject extensions.
var closed = map[Kind]bool{
	KindDevice:      true,
	KindApproach:    true,
	KindGranularity: true,
	KindScheme:      true,
}

// Value is a single registered value.
type Value struct {
	Name      string `json:"name" yaml:"name"`
	Extension bool   `json:"extension" yaml:"extension"`
}

// Registry tracks allowed values per kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extensions map[Kind]map[string]struct{}
}

// New creates a registry holding only the built-in values.
func New() *Registry {
	return &Registry{
		extensions: make(map[Kind]map[string]struct{}),
	}
}

// Kinds returns every known kind in sorted order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(builtins))
	for k := range builtins {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := builtins[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Extensible reports whether kind accepts user registrations.
func Extensible(kind Kind) bool {
	_, known := builtins[kind]
	return known && !closed[kind]
}

// Register adds value to kind. Registering a built-in or an already
// registered value is a no-op.
func (r *Registry) Register(kind Kind, value string) error {
	if _, ok := builtins[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	value = canonical(value)
	if value == "" {
		return fmt.Errorf("%w for kind %s", ErrEmptyValue, kind)
	}
	if closed[kind] {
		return fmt.Errorf("%w: %s", ErrNotExtensible, kind)
	}
	if isBuiltin(kind, value) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.extensions[kind]
	if !ok {
		set = make(map[string]struct{})
		r.extensions[kind] = set
	}
	set[value] = struct{}{}
	return nil
}

// Unregister removes a user extension from kind.
func (r *Registry) Unregister(kind Kind, value string) error {
	if _, ok := builtins[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	value = canonical(value)
	if isBuiltin(kind, value) {
		return fmt.Errorf("%w: %s=%s", ErrBuiltin, kind, value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.extensions[kind]
	if _, ok := set[value]; !ok {
		return fmt.Errorf("%w: %s=%s", ErrNotRegistered, kind, value)
	}
	delete(set, value)
	return nil
}

// Allowed reports whether value is a built-in or registered value of kind.
// Comparison ignores case and surrounding whitespace.
func (r *Registry) Allowed(kind Kind, value string) bool {
	value = canonical(value)
	if value == "" {
		return false
	}
	if isBuiltin(kind, value) {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extensions[kind][value]
	return ok
}

// Values returns every value of kind sorted by name, extensions flagged.
func (r *Registry) Values(kind Kind) []Value {
	values := make([]Value, 0, len(builtins[kind]))
	for _, name := range builtins[kind] {
		values = append(values, Value{Name: name})
	}

	r.mu.RLock()
	for name := range r.extensions[kind] {
		values = append(values, Value{Name: name, Extension: true})
	}
	r.mu.RUnlock()

	sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })
	return values
}

// Names returns the value names of kind, sorted.
func (r *Registry) Names(kind Kind) []string {
	values := r.Values(kind)
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.Name
	}
	return names
}

// RegisterSpec registers values from a "kind=value[,value...]" string as
// accepted by the --register flag.
func (r *Registry) RegisterSpec(spec string) error {
	kindStr, valuesStr, ok := strings.Cut(spec, "=")
	if !ok {
		return fmt.Errorf("invalid registration %q: expected kind=value", spec)
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return err
	}
	for _, v := range strings.Split(valuesStr, ",") {
		if err := r.Register(kind, v); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAll registers a kind -> values map, typically read from the
// tool configuration's extensions section.
func (r *Registry) RegisterAll(extensions map[string][]string) error {
	kinds := make([]string, 0, len(extensions))
	for k := range extensions {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, k := range kinds {
		kind, err := ParseKind(k)
		if err != nil {
			return err
		}
		for _, v := range extensions[k] {
			if err := r.Register(kind, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func isBuiltin(kind Kind, value string) bool {
	for _, b := range builtins[kind] {
		if b == value {
			return true
		}
	}
	return false
}

func canonical(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
