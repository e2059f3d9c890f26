// Package validation checks entry field values against a content type's
// declared schema. Every violation is collected before reporting so callers
// see the complete list, not just the first failure.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/quarryhq/quarry/pkg/schema"
)

// Error aggregates all schema violations found in one pass.
type Error struct {
	Violations []string `json:"violations"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// Schema checks the schema itself: non-blank unique field ids and, for list
// fields, a known item type. Returns *Error or nil.
func Schema(defs []schema.FieldDefinition) error {
	var violations []string
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		if def.ID == "" {
			violations = append(violations, fmt.Sprintf("field %d: blank id", i))
			continue
		}
		if seen[def.ID] {
			violations = append(violations, fmt.Sprintf("field %q: duplicate id", def.ID))
		}
		seen[def.ID] = true
		if def.Type == "" {
			violations = append(violations, fmt.Sprintf("field %q: missing type", def.ID))
		}
		if def.Type == schema.FieldList && def.Config != nil && def.Config.List != nil {
			if it := def.Config.List.ItemType; it != "" && !it.Known() {
				violations = append(violations, fmt.Sprintf("field %q: unknown list item type %q", def.ID, it))
			}
		}
	}
	if len(violations) > 0 {
		return &Error{Violations: violations}
	}
	return nil
}

// Fields checks an entry's field values against the schema. Field values not
// declared in the schema, missing required fields, and type mismatches are
// all reported together. Returns *Error or nil.
func Fields(defs []schema.FieldDefinition, fields map[string]interface{}) error {
	var violations []string

	byID := make(map[string]schema.FieldDefinition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}

	for _, def := range defs {
		value, present := fields[def.ID]
		if !present || value == nil {
			if def.Required {
				violations = append(violations, fmt.Sprintf("field %q: required", def.ID))
			}
			continue
		}
		if msg := checkType(def, value); msg != "" {
			violations = append(violations, fmt.Sprintf("field %q: %s", def.ID, msg))
		}
	}

	for id := range fields {
		if _, ok := byID[id]; !ok {
			violations = append(violations, fmt.Sprintf("field %q: not declared in schema", id))
		}
	}

	if len(violations) > 0 {
		return &Error{Violations: violations}
	}
	return nil
}

// checkType verifies that a decoded JSON value matches the declared field
// type. Values arrive as the types encoding/json produces: string, float64,
// bool, []interface{}, map[string]interface{}.
func checkType(def schema.FieldDefinition, value interface{}) string {
	switch def.Type {
	case schema.FieldText:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected string, got %T", value)
		}
	case schema.FieldNumber:
		n, ok := value.(float64)
		if !ok {
			return fmt.Sprintf("expected number, got %T", value)
		}
		if def.Config != nil && def.Config.Number != nil && def.Config.Number.Integer && n != float64(int64(n)) {
			return "expected integer"
		}
	case schema.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", value)
		}
	case schema.FieldDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected date string, got %T", value)
		}
		if !validDate(def, s) {
			return fmt.Sprintf("invalid date %q", s)
		}
	case schema.FieldReference:
		switch v := value.(type) {
		case string:
			// single link
		case []interface{}:
			if def.Config == nil || def.Config.Reference == nil || !def.Config.Reference.Many {
				return "multiple links not allowed"
			}
			for _, item := range v {
				if _, ok := item.(string); !ok {
					return fmt.Sprintf("expected link ids, got %T element", item)
				}
			}
		default:
			return fmt.Sprintf("expected link id, got %T", value)
		}
	case schema.FieldMedia:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected media URL, got %T", value)
		}
	case schema.FieldList:
		items, ok := value.([]interface{})
		if !ok {
			return fmt.Sprintf("expected list, got %T", value)
		}
		if def.Config != nil && def.Config.List != nil {
			if max := def.Config.List.MaxItems; max != nil && len(items) > *max {
				return fmt.Sprintf("more than %d items", *max)
			}
		}
	default:
		// Unknown field types accept any value.
	}
	return ""
}

func validDate(def schema.FieldDefinition, s string) bool {
	format := "date"
	if def.Config != nil && def.Config.Date != nil && def.Config.Date.Format != "" {
		format = def.Config.Date.Format
	}
	switch format {
	case "datetime":
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	default:
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	}
}
