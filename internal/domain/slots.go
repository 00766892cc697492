package domain

import (
	"fmt"
	"sort"
	"strings"
)

// RequestedSlot holds the name of the slot a form asks for next. It is added
// automatically (unfeaturized) whenever the domain declares forms.
const RequestedSlot = "requested_slot"

// Slot is a typed slot definition. Slots never hold values themselves; the
// tracker does. A slot only knows how to turn its tracker value into the
// fixed-width feature contribution of the state vector.
type Slot interface {
	Name() string
	TypeName() string
	InitialValue() any
	// AutoFill reports whether recognized entities with this slot's name
	// should fill it automatically.
	AutoFill() bool
	// FeatureDimensionality is the slot's fixed feature width.
	FeatureDimensionality() int
	// Feature encodes a tracker value into FeatureDimensionality floats.
	Feature(value any) []float64
}

// SlotDefinition is the YAML shape of one slot entry.
type SlotDefinition struct {
	Type         string   `yaml:"type"`
	InitialValue any      `yaml:"initial_value,omitempty"`
	AutoFill     *bool    `yaml:"auto_fill,omitempty"`
	Values       []string `yaml:"values,omitempty"`
	MinValue     float64  `yaml:"min_value,omitempty"`
	MaxValue     float64  `yaml:"max_value,omitempty"`
}

type slotFactory func(name string, def SlotDefinition) (Slot, error)

// slotTypes is the closed registry of slot types. Unknown type names fail
// fast with the list of valid names.
var slotTypes = map[string]slotFactory{
	"text":         newTextSlot,
	"bool":         newBoolSlot,
	"categorical":  newCategoricalSlot,
	"float":        newFloatSlot,
	"list":         newListSlot,
	"unfeaturized": newUnfeaturizedSlot,
}

// NewSlot builds a slot from its definition. An empty type defaults to
// "unfeaturized", matching a bare `slot_name:` entry in the domain file.
func NewSlot(name string, def SlotDefinition) (Slot, error) {
	typeName := def.Type
	if typeName == "" {
		typeName = "unfeaturized"
	}
	factory, ok := slotTypes[typeName]
	if !ok {
		names := make([]string, 0, len(slotTypes))
		for n := range slotTypes {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &InvalidDomainError{Message: fmt.Sprintf(
			"unknown slot type %q for slot %q, valid types: %s",
			typeName, name, strings.Join(names, ", "))}
	}
	return factory(name, def)
}

// baseSlot carries the fields common to every slot type.
type baseSlot struct {
	name     string
	typeName string
	initial  any
	autoFill bool
}

func newBase(name, typeName string, def SlotDefinition) baseSlot {
	autoFill := true
	if def.AutoFill != nil {
		autoFill = *def.AutoFill
	}
	return baseSlot{name: name, typeName: typeName, initial: def.InitialValue, autoFill: autoFill}
}

func (b baseSlot) Name() string      { return b.name }
func (b baseSlot) TypeName() string  { return b.typeName }
func (b baseSlot) InitialValue() any { return b.initial }
func (b baseSlot) AutoFill() bool    { return b.autoFill }

type textSlot struct{ baseSlot }

func newTextSlot(name string, def SlotDefinition) (Slot, error) {
	return textSlot{newBase(name, "text", def)}, nil
}

func (textSlot) FeatureDimensionality() int { return 1 }

func (textSlot) Feature(value any) []float64 {
	if value == nil {
		return []float64{0}
	}
	return []float64{1}
}

type boolSlot struct{ baseSlot }

func newBoolSlot(name string, def SlotDefinition) (Slot, error) {
	return boolSlot{newBase(name, "bool", def)}, nil
}

func (boolSlot) FeatureDimensionality() int { return 1 }

func (boolSlot) Feature(value any) []float64 {
	if b, ok := value.(bool); ok && b {
		return []float64{1}
	}
	return []float64{0}
}

type categoricalSlot struct {
	baseSlot
	values []string
}

func newCategoricalSlot(name string, def SlotDefinition) (Slot, error) {
	if len(def.Values) == 0 {
		return nil, &InvalidDomainError{Message: fmt.Sprintf(
			"categorical slot %q needs a non-empty 'values' list", name)}
	}
	return categoricalSlot{baseSlot: newBase(name, "categorical", def), values: def.Values}, nil
}

func (s categoricalSlot) FeatureDimensionality() int { return len(s.values) }

// Feature one-hot encodes the value against the declared categories. An
// unknown category encodes as all zeros.
func (s categoricalSlot) Feature(value any) []float64 {
	features := make([]float64, len(s.values))
	str, ok := value.(string)
	if !ok {
		return features
	}
	for i, v := range s.values {
		if strings.EqualFold(v, str) {
			features[i] = 1
			break
		}
	}
	return features
}

type floatSlot struct {
	baseSlot
	min, max float64
}

func newFloatSlot(name string, def SlotDefinition) (Slot, error) {
	min, max := def.MinValue, def.MaxValue
	if min == 0 && max == 0 {
		max = 1
	}
	if max <= min {
		return nil, &InvalidDomainError{Message: fmt.Sprintf(
			"float slot %q needs max_value > min_value (got %v, %v)", name, min, max)}
	}
	return floatSlot{baseSlot: newBase(name, "float", def), min: min, max: max}, nil
}

func (floatSlot) FeatureDimensionality() int { return 1 }

// Feature clamps the numeric value into [min, max] and scales it to [0, 1].
func (s floatSlot) Feature(value any) []float64 {
	f, ok := toFloat(value)
	if !ok {
		return []float64{0}
	}
	if f < s.min {
		f = s.min
	}
	if f > s.max {
		f = s.max
	}
	return []float64{(f - s.min) / (s.max - s.min)}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

type listSlot struct{ baseSlot }

func newListSlot(name string, def SlotDefinition) (Slot, error) {
	return listSlot{newBase(name, "list", def)}, nil
}

func (listSlot) FeatureDimensionality() int { return 1 }

// Feature signals presence only: a non-empty list is 1, anything else 0.
func (listSlot) Feature(value any) []float64 {
	switch v := value.(type) {
	case []any:
		if len(v) > 0 {
			return []float64{1}
		}
	case []string:
		if len(v) > 0 {
			return []float64{1}
		}
	}
	return []float64{0}
}

type unfeaturizedSlot struct{ baseSlot }

func newUnfeaturizedSlot(name string, def SlotDefinition) (Slot, error) {
	return unfeaturizedSlot{newBase(name, "unfeaturized", def)}, nil
}

func (unfeaturizedSlot) FeatureDimensionality() int { return 0 }

func (unfeaturizedSlot) Feature(any) []float64 { return nil }
