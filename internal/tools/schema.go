package tools

import (
	"fmt"
	"math"
)

// ValidateArgs checks params against a JSON-Schema-style object schema:
// required keys, primitive types, and enum membership. Unknown keys pass
// through untouched so models can send extra context harmlessly.
func ValidateArgs(schema map[string]any, params map[string]any) error {
	if schema == nil {
		return nil
	}

	required, _ := schema["required"].([]string)
	if required == nil {
		// Schemas decoded from JSON carry []any instead.
		if raw, ok := schema["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, key := range required {
		if _, ok := params[key]; !ok {
			return fmt.Errorf("missing required parameter %q", key)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, value := range params {
		propAny, ok := props[key]
		if !ok {
			continue
		}
		prop, ok := propAny.(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(key, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, prop map[string]any, value any) error {
	typ, _ := prop["type"].(string)
	switch typ {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parameter %q must be a string, got %T", key, value)
		}
	case "number":
		if !isNumber(value) {
			return fmt.Errorf("parameter %q must be a number, got %T", key, value)
		}
	case "integer":
		switch n := value.(type) {
		case int, int64:
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("parameter %q must be an integer, got %v", key, n)
			}
		default:
			return fmt.Errorf("parameter %q must be an integer, got %T", key, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean, got %T", key, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("parameter %q must be an array, got %T", key, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("parameter %q must be an object, got %T", key, value)
		}
	}

	if enum := enumValues(prop); len(enum) > 0 {
		for _, allowed := range enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("parameter %q must be one of %v, got %v", key, enum, value)
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int64, float32, float64:
		return true
	}
	return false
}

func enumValues(prop map[string]any) []any {
	switch e := prop["enum"].(type) {
	case []any:
		return e
	case []string:
		out := make([]any, len(e))
		for i, s := range e {
			out[i] = s
		}
		return out
	}
	return nil
}
