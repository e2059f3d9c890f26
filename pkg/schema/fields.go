// Package schema defines the field schema attached to a content type.
//
// A content type's shape is an ordered list of FieldDefinition values. The
// per-field configuration is a tagged union keyed by the field type: known
// types decode into a typed config struct, unknown types keep the raw JSON so
// that future field types round-trip untouched.
package schema

import (
	"encoding/json"
	"fmt"
)

// FieldType enumerates the supported field types.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldNumber    FieldType = "number"
	FieldBoolean   FieldType = "boolean"
	FieldDate      FieldType = "date"
	FieldReference FieldType = "reference"
	FieldMedia     FieldType = "media"
	FieldList      FieldType = "list"
)

// Known reports whether t is one of the built-in field types.
func (t FieldType) Known() bool {
	switch t {
	case FieldText, FieldNumber, FieldBoolean, FieldDate, FieldReference, FieldMedia, FieldList:
		return true
	}
	return false
}

// FieldDefinition describes one field of a content type.
type FieldDefinition struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        FieldType    `json:"type"`
	Required    bool         `json:"required"`
	Localized   bool         `json:"localized"`
	Validations []Validation `json:"validations,omitempty"`
	Config      *FieldConfig `json:"config,omitempty"`
}

// Validation is a single named constraint on a field value, e.g.
// {"size": {"min": 1, "max": 80}}. Constraints beyond required/type are
// carried opaquely for the editing UI; the server does not evaluate them.
type Validation map[string]json.RawMessage

// FieldConfig is the tagged union of per-type configuration. Exactly one of
// the typed variants is set for a known field type; Raw holds the original
// JSON for unknown types.
type FieldConfig struct {
	Text      *TextConfig
	Number    *NumberConfig
	Date      *DateConfig
	Reference *ReferenceConfig
	List      *ListConfig

	Raw json.RawMessage
}

// TextConfig configures text fields.
type TextConfig struct {
	// Appearance is "short" or "long".
	Appearance string `json:"appearance,omitempty"`
	MinLength  *int   `json:"min_length,omitempty"`
	MaxLength  *int   `json:"max_length,omitempty"`
}

// NumberConfig configures number fields.
type NumberConfig struct {
	Integer bool     `json:"integer,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
}

// DateConfig configures date fields.
type DateConfig struct {
	// Format is "date" (yyyy-mm-dd) or "datetime" (RFC 3339).
	Format string `json:"format,omitempty"`
}

// ReferenceConfig configures reference fields.
type ReferenceConfig struct {
	// LinkType names the target content type's api_id; empty allows any.
	LinkType string `json:"link_type,omitempty"`
	Many     bool   `json:"many,omitempty"`
}

// ListConfig configures list fields.
type ListConfig struct {
	// ItemType is the field type of list elements.
	ItemType FieldType `json:"item_type,omitempty"`
	MaxItems *int      `json:"max_items,omitempty"`
}

// decodeConfig picks the typed variant for t. Called from
// FieldDefinition.UnmarshalJSON once the type tag is known.
func decodeConfig(t FieldType, raw json.RawMessage) (*FieldConfig, error) {
	cfg := &FieldConfig{Raw: raw}
	var err error
	switch t {
	case FieldText:
		cfg.Text = &TextConfig{}
		err = json.Unmarshal(raw, cfg.Text)
	case FieldNumber:
		cfg.Number = &NumberConfig{}
		err = json.Unmarshal(raw, cfg.Number)
	case FieldDate:
		cfg.Date = &DateConfig{}
		err = json.Unmarshal(raw, cfg.Date)
	case FieldReference:
		cfg.Reference = &ReferenceConfig{}
		err = json.Unmarshal(raw, cfg.Reference)
	case FieldList:
		cfg.List = &ListConfig{}
		err = json.Unmarshal(raw, cfg.List)
	case FieldBoolean, FieldMedia:
		// No typed configuration; keep raw only.
	default:
		// Unknown type: opaque blob.
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", t, err)
	}
	return cfg, nil
}

// fieldDefinitionWire mirrors FieldDefinition with config left raw so the
// union can be decoded after the type tag is read.
type fieldDefinitionWire struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        FieldType       `json:"type"`
	Required    bool            `json:"required"`
	Localized   bool            `json:"localized"`
	Validations []Validation    `json:"validations,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON decodes a field definition, selecting the typed config
// variant based on the field type.
func (f *FieldDefinition) UnmarshalJSON(data []byte) error {
	var wire fieldDefinitionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	f.ID = wire.ID
	f.Name = wire.Name
	f.Type = wire.Type
	f.Required = wire.Required
	f.Localized = wire.Localized
	f.Validations = wire.Validations
	f.Config = nil
	if len(wire.Config) > 0 && string(wire.Config) != "null" {
		cfg, err := decodeConfig(wire.Type, wire.Config)
		if err != nil {
			return err
		}
		f.Config = cfg
	}
	return nil
}

// MarshalJSON encodes the field definition with the typed config variant
// collapsed back into a single config object.
func (f FieldDefinition) MarshalJSON() ([]byte, error) {
	wire := fieldDefinitionWire{
		ID:          f.ID,
		Name:        f.Name,
		Type:        f.Type,
		Required:    f.Required,
		Localized:   f.Localized,
		Validations: f.Validations,
	}
	if f.Config != nil {
		raw, err := f.Config.marshal(f.Type)
		if err != nil {
			return nil, err
		}
		wire.Config = raw
	}
	return json.Marshal(wire)
}

func (c *FieldConfig) marshal(t FieldType) (json.RawMessage, error) {
	switch t {
	case FieldText:
		if c.Text != nil {
			return json.Marshal(c.Text)
		}
	case FieldNumber:
		if c.Number != nil {
			return json.Marshal(c.Number)
		}
	case FieldDate:
		if c.Date != nil {
			return json.Marshal(c.Date)
		}
	case FieldReference:
		if c.Reference != nil {
			return json.Marshal(c.Reference)
		}
	case FieldList:
		if c.List != nil {
			return json.Marshal(c.List)
		}
	}
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.RawMessage("{}"), nil
}
