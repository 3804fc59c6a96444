package eventing

import (
	"errors"
	"regexp"
)

// Event types form a closed vocabulary. Emitting any other type fails.
const (
	TypeRawDataFetched  = "RAW_DATA_FETCHED"
	TypeChangesDetected = "CHANGES_DETECTED"
	TypeDataUpdated     = "DATA_UPDATED"
	TypeError           = "ERROR"
)

// Registry maps event types to their validation schemas. Types registered
// with a nil schema pass validation trivially; that is the intended escape
// hatch for low-risk informational events.
type Registry struct {
	schemas map[string]*Schema
}

// Known reports whether the type belongs to the registry.
func (r *Registry) Known(eventType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.schemas[eventType]
	return ok
}

// SchemaFor returns the schema for a type, or nil when the type passes
// trivially.
func (r *Registry) SchemaFor(eventType string) *Schema {
	if r == nil {
		return nil
	}
	return r.schemas[eventType]
}

var codePattern = regexp.MustCompile(`^[0-9]{1,2}$`)

// DefaultRegistry builds the registry for the status pipeline's vocabulary.
func DefaultRegistry() *Registry {
	changeCheck := func(data map[string]any) error {
		items, ok := data["changes"].([]any)
		if !ok {
			return errors.New("changes is not an array")
		}
		for _, item := range items {
			change, ok := item.(map[string]any)
			if !ok {
				return errors.New("change entry is not an object")
			}
			for _, key := range []string{"id", "type", "from", "to"} {
				if _, ok := change[key]; !ok {
					return errors.New("change entry missing " + key)
				}
			}
		}
		return nil
	}

	return &Registry{schemas: map[string]*Schema{
		TypeRawDataFetched: {
			Fields: map[string]Field{
				"lineCount":    {Kind: KindNumber, Required: true, Min: floatPtr(0)},
				"stationCount": {Kind: KindNumber, Required: true, Min: floatPtr(0)},
				"source":       {Kind: KindString, Required: true, Enum: []string{"upstream", "fallback", "offhours"}},
			},
		},
		TypeChangesDetected: {
			Fields: map[string]Field{
				"changes": {Kind: KindArray, Required: true, Elem: &Field{Kind: KindObject}},
				"runId":   {Kind: KindString, Required: true, MinLen: 1},
				"metadata": {Kind: KindObject, Fields: map[string]Field{
					"severity":   {Kind: KindNumber, Min: floatPtr(0)},
					"isFirstRun": {Kind: KindBool},
				}},
			},
			Check: changeCheck,
		},
		TypeDataUpdated: {
			Fields: map[string]Field{
				"version":       {Kind: KindNumber, Required: true, Min: floatPtr(1)},
				"networkStatus": {Kind: KindString, Required: true, Pattern: codePattern},
			},
		},
		// ERROR stays schema-free on purpose: error payloads are free-form
		// diagnostics and must never be dropped for shape reasons.
		TypeError: nil,
	}}
}
