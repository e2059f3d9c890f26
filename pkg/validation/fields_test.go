package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryhq/quarry/pkg/schema"
)

func intPtr(n int) *int { return &n }

func TestSchema_Valid(t *testing.T) {
	defs := []schema.FieldDefinition{
		{ID: "title", Name: "Title", Type: schema.FieldText, Required: true},
		{ID: "tags", Name: "Tags", Type: schema.FieldList},
	}
	assert.NoError(t, Schema(defs))
	assert.NoError(t, Schema(nil))
}

func TestSchema_CollectsAllViolations(t *testing.T) {
	defs := []schema.FieldDefinition{
		{ID: "", Name: "Anonymous", Type: schema.FieldText},
		{ID: "dup", Name: "First", Type: schema.FieldText},
		{ID: "dup", Name: "Second", Type: schema.FieldText},
		{ID: "untyped", Name: "Untyped"},
	}

	err := Schema(defs)
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
}

func TestSchema_ListItemType(t *testing.T) {
	defs := []schema.FieldDefinition{
		{
			ID: "tags", Name: "Tags", Type: schema.FieldList,
			Config: &schema.FieldConfig{List: &schema.ListConfig{ItemType: "nonsense"}},
		},
	}
	assert.Error(t, Schema(defs))

	defs[0].Config.List.ItemType = schema.FieldText
	assert.NoError(t, Schema(defs))
}

func TestFields_RequiredAndUndeclared(t *testing.T) {
	defs := []schema.FieldDefinition{
		{ID: "title", Name: "Title", Type: schema.FieldText, Required: true},
	}

	err := Fields(defs, map[string]interface{}{"rogue": "value"})
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
	assert.Contains(t, verr.Violations[0], "required")
}

func TestFields_OptionalMayBeAbsent(t *testing.T) {
	defs := []schema.FieldDefinition{
		{ID: "subtitle", Name: "Subtitle", Type: schema.FieldText},
	}
	assert.NoError(t, Fields(defs, map[string]interface{}{}))
	// Explicit null counts as absent
	assert.NoError(t, Fields(defs, map[string]interface{}{"subtitle": nil}))
}

func TestFields_TypeChecks(t *testing.T) {
	defs := []schema.FieldDefinition{
		{ID: "title", Name: "Title", Type: schema.FieldText},
		{ID: "views", Name: "Views", Type: schema.FieldNumber},
		{ID: "live", Name: "Live", Type: schema.FieldBoolean},
		{ID: "when", Name: "When", Type: schema.FieldDate},
		{ID: "cover", Name: "Cover", Type: schema.FieldMedia},
		{ID: "tags", Name: "Tags", Type: schema.FieldList},
	}

	ok := map[string]interface{}{
		"title": "Hello",
		"views": float64(42),
		"live":  true,
		"when":  "2024-06-01",
		"cover": "/uploads/cover.png",
		"tags":  []interface{}{"a", "b"},
	}
	assert.NoError(t, Fields(defs, ok))

	bad := map[string]interface{}{
		"title": 1,
		"views": "many",
		"live":  "yes",
		"when":  "June first",
		"cover": false,
		"tags":  "a,b",
	}
	err := Fields(defs, bad)
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 6)
}

func TestFields_IntegerConstraint(t *testing.T) {
	defs := []schema.FieldDefinition{
		{
			ID: "count", Name: "Count", Type: schema.FieldNumber,
			Config: &schema.FieldConfig{Number: &schema.NumberConfig{Integer: true}},
		},
	}

	assert.NoError(t, Fields(defs, map[string]interface{}{"count": float64(3)}))
	assert.Error(t, Fields(defs, map[string]interface{}{"count": float64(3.5)}))
}

func TestFields_DateFormats(t *testing.T) {
	dateOnly := []schema.FieldDefinition{
		{ID: "day", Name: "Day", Type: schema.FieldDate},
	}
	assert.NoError(t, Fields(dateOnly, map[string]interface{}{"day": "2024-06-01"}))
	assert.Error(t, Fields(dateOnly, map[string]interface{}{"day": "2024-06-01T10:00:00Z"}))

	datetime := []schema.FieldDefinition{
		{
			ID: "at", Name: "At", Type: schema.FieldDate,
			Config: &schema.FieldConfig{Date: &schema.DateConfig{Format: "datetime"}},
		},
	}
	assert.NoError(t, Fields(datetime, map[string]interface{}{"at": "2024-06-01T10:00:00Z"}))
	assert.Error(t, Fields(datetime, map[string]interface{}{"at": "2024-06-01"}))
}

func TestFields_References(t *testing.T) {
	single := []schema.FieldDefinition{
		{ID: "author", Name: "Author", Type: schema.FieldReference},
	}
	assert.NoError(t, Fields(single, map[string]interface{}{"author": "user-1"}))
	assert.Error(t, Fields(single, map[string]interface{}{"author": []interface{}{"user-1"}}))

	many := []schema.FieldDefinition{
		{
			ID: "authors", Name: "Authors", Type: schema.FieldReference,
			Config: &schema.FieldConfig{Reference: &schema.ReferenceConfig{Many: true}},
		},
	}
	assert.NoError(t, Fields(many, map[string]interface{}{"authors": []interface{}{"u-1", "u-2"}}))
	assert.Error(t, Fields(many, map[string]interface{}{"authors": []interface{}{"u-1", 2}}))
}

func TestFields_ListMaxItems(t *testing.T) {
	defs := []schema.FieldDefinition{
		{
			ID: "tags", Name: "Tags", Type: schema.FieldList,
			Config: &schema.FieldConfig{List: &schema.ListConfig{MaxItems: intPtr(2)}},
		},
	}

	assert.NoError(t, Fields(defs, map[string]interface{}{"tags": []interface{}{"a", "b"}}))
	assert.Error(t, Fields(defs, map[string]interface{}{"tags": []interface{}{"a", "b", "c"}}))
}

func TestError_Message(t *testing.T) {
	err := &Error{Violations: []string{"one", "two"}}
	assert.Contains(t, err.Error(), "one; two")
}
