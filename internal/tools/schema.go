// Package tools implements the MCP tool descriptors and executors: the
// schema-validated, cached, retried operations over the backend client
// described in spec.md §4.E.
package tools

import (
	"encoding/json"
	"fmt"
)

// SchemaType mirrors the JSON-Schema primitive types the wire protocol
// describes tool arguments with.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// PropertySchema describes one argument property.
type PropertySchema struct {
	Type        SchemaType `json:"type"`
	Description string     `json:"description,omitempty"`
	Enum        []string   `json:"enum,omitempty"`
	Default     any        `json:"default,omitempty"`
	Minimum     *float64   `json:"minimum,omitempty"`
	Maximum     *float64   `json:"maximum,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
}

// InputSchema is the tool descriptor's input_schema: type=object plus a
// property map and required-name list.
type InputSchema struct {
	Type       SchemaType                `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// ValidationError reports one failed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationResult aggregates every failure found.
type ValidationResult struct {
	Valid  bool
	Errors []*ValidationError
}

func (r *ValidationResult) Error() string {
	if r.Valid {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	out, _ := json.Marshal(msgs)
	return string(out)
}

func (r *ValidationResult) fail(field, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, &ValidationError{Field: field, Message: msg})
}

// Validate enforces spec.md §4.E's base validator: required fields
// present, each property's JSON type matches, and enum membership when
// declared.
func Validate(args map[string]any, schema *InputSchema) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if schema == nil {
		return result
	}

	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			result.fail(name, "required field is missing")
		}
	}

	for name, prop := range schema.Properties {
		value, ok := args[name]
		if !ok {
			continue
		}
		validateProperty(name, value, &prop, result)
	}
	return result
}

func validateProperty(field string, value any, schema *PropertySchema, result *ValidationResult) {
	if value == nil {
		return
	}
	switch schema.Type {
	case TypeString:
		validateString(field, value, schema, result)
	case TypeNumber, TypeInteger:
		validateNumber(field, value, schema, result)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			result.fail(field, fmt.Sprintf("expected boolean, got %T", value))
		}
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			result.fail(field, fmt.Sprintf("expected array, got %T", value))
			return
		}
		if schema.Items != nil {
			for i, item := range arr {
				validateProperty(fmt.Sprintf("%s[%d]", field, i), item, schema.Items, result)
			}
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			result.fail(field, fmt.Sprintf("expected object, got %T", value))
		}
	}
}

func validateString(field string, value any, schema *PropertySchema, result *ValidationResult) {
	str, ok := value.(string)
	if !ok {
		result.fail(field, fmt.Sprintf("expected string, got %T", value))
		return
	}
	if len(schema.Enum) > 0 {
		for _, allowed := range schema.Enum {
			if str == allowed {
				return
			}
		}
		result.fail(field, fmt.Sprintf("value %q is not one of the allowed values", str))
	}
}

func validateNumber(field string, value any, schema *PropertySchema, result *ValidationResult) {
	var num float64
	switch n := value.(type) {
	case float64:
		num = n
	case float32:
		num = float64(n)
	case int:
		num = float64(n)
	case int64:
		num = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			result.fail(field, fmt.Sprintf("invalid number: %v", err))
			return
		}
		num = f
	default:
		result.fail(field, fmt.Sprintf("expected number, got %T", value))
		return
	}
	if schema.Type == TypeInteger && num != float64(int64(num)) {
		result.fail(field, fmt.Sprintf("expected integer, got %v", num))
		return
	}
	if schema.Minimum != nil && num < *schema.Minimum {
		result.fail(field, fmt.Sprintf("value %v is less than minimum %v", num, *schema.Minimum))
	}
	if schema.Maximum != nil && num > *schema.Maximum {
		result.fail(field, fmt.Sprintf("value %v exceeds maximum %v", num, *schema.Maximum))
	}
}
