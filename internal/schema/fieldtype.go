package schema

import (
	"strings"

	"github.com/roach88/uql/internal/dberr"
)

// FieldType is the semantic type of a model field. It drives how values are
// rendered by the relational transpiler and how keys are generated.
type FieldType string

const (
	String  FieldType = "string"
	Text    FieldType = "text"
	Integer FieldType = "integer"
	Decimal FieldType = "decimal"
	Boolean FieldType = "boolean"
	JSON    FieldType = "json"
	Date    FieldType = "date"
	UUID    FieldType = "uuid"
	Array   FieldType = "array"
)

// registry lists every accepted field type in declaration order.
var registry = []FieldType{String, Text, Integer, Decimal, Boolean, JSON, Date, UUID, Array}

// Types returns all registered field types.
func Types() []FieldType {
	out := make([]FieldType, len(registry))
	copy(out, registry)
	return out
}

// Valid reports whether t is a registered field type.
func (t FieldType) Valid() bool {
	for _, r := range registry {
		if r == t {
			return true
		}
	}
	return false
}

// Textual reports whether values of t render as quoted strings.
func (t FieldType) Textual() bool {
	return t == String || t == Text || t == UUID
}

// Numeric reports whether values of t render as bare numbers.
func (t FieldType) Numeric() bool {
	return t == Integer || t == Decimal
}

// ParseFieldType resolves a type tag (case-insensitive) to a FieldType.
func ParseFieldType(tag string) (FieldType, error) {
	t := FieldType(strings.ToLower(strings.TrimSpace(tag)))
	if !t.Valid() {
		return "", dberr.BadInput("unknown field type %q", tag)
	}
	return t, nil
}
