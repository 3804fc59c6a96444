package eventing

import (
	"fmt"
	"regexp"
)

// FieldKind tags one branch of the field-schema union.
type FieldKind int

const (
	KindAny FieldKind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// Field describes the constraints on one payload field. Exactly the branches
// relevant to its Kind are consulted; the rest are ignored.
type Field struct {
	Kind     FieldKind
	Required bool

	// String constraints.
	Pattern *regexp.Regexp
	Enum    []string
	MinLen  int
	MaxLen  int

	// Number constraints.
	Min *float64
	Max *float64

	// Object recursion.
	Fields map[string]Field

	// Array element schema.
	Elem *Field
}

// Schema validates one event type's payload. Check, when set, runs after the
// per-field pass and may inspect composite fields.
type Schema struct {
	Fields map[string]Field
	Check  func(data map[string]any) error
}

// Validate checks data against the schema and returns the first violation.
func (s Schema) Validate(data map[string]any) error {
	for name, field := range s.Fields {
		value, ok := data[name]
		if !ok || value == nil {
			if field.Required {
				return fmt.Errorf("eventing: missing required field %q", name)
			}
			continue
		}
		if err := validateField(name, field, value); err != nil {
			return err
		}
	}
	if s.Check != nil {
		if err := s.Check(data); err != nil {
			return fmt.Errorf("eventing: %w", err)
		}
	}
	return nil
}

func validateField(name string, field Field, value any) error {
	switch field.Kind {
	case KindAny:
		return nil
	case KindString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("eventing: field %q is not a string", name)
		}
		if field.MinLen > 0 && len(str) < field.MinLen {
			return fmt.Errorf("eventing: field %q shorter than %d", name, field.MinLen)
		}
		if field.MaxLen > 0 && len(str) > field.MaxLen {
			return fmt.Errorf("eventing: field %q longer than %d", name, field.MaxLen)
		}
		if field.Pattern != nil && !field.Pattern.MatchString(str) {
			return fmt.Errorf("eventing: field %q does not match %s", name, field.Pattern)
		}
		if len(field.Enum) > 0 {
			for _, allowed := range field.Enum {
				if str == allowed {
					return nil
				}
			}
			return fmt.Errorf("eventing: field %q not in enum", name)
		}
		return nil
	case KindNumber:
		num, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("eventing: field %q is not a number", name)
		}
		if field.Min != nil && num < *field.Min {
			return fmt.Errorf("eventing: field %q below minimum %v", name, *field.Min)
		}
		if field.Max != nil && num > *field.Max {
			return fmt.Errorf("eventing: field %q above maximum %v", name, *field.Max)
		}
		return nil
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("eventing: field %q is not a bool", name)
		}
		return nil
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("eventing: field %q is not an object", name)
		}
		return Schema{Fields: field.Fields}.Validate(obj)
	case KindArray:
		items, ok := asSlice(value)
		if !ok {
			return fmt.Errorf("eventing: field %q is not an array", name)
		}
		if field.Elem == nil {
			return nil
		}
		for i, item := range items {
			if err := validateField(fmt.Sprintf("%s[%d]", name, i), *field.Elem, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("eventing: field %q has unsupported kind %d", name, field.Kind)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func asSlice(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	return nil, false
}

// floatPtr is a schema-literal convenience.
func floatPtr(v float64) *float64 {
	return &v
}
