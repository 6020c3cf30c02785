// Package schema defines the normalized schema vocabulary shared by all
// connectors. Every backend translates its native column types into this
// vocabulary on the way in and back out of it on the way to the destination,
// so two connectors never need to know about each other's type systems.
package schema

import (
	"fmt"
	"strings"

	"github.com/hebaghazali/portl/pkg/errors"
)

// Type is a normalized column type tag
type Type string

const (
	TypeInt         Type = "int"
	TypeBigInt      Type = "bigint"
	TypeSmallInt    Type = "smallint"
	TypeDecimal     Type = "decimal"
	TypeFloat       Type = "float"
	TypeDouble      Type = "double"
	TypeVarchar     Type = "varchar"
	TypeChar        Type = "char"
	TypeText        Type = "text"
	TypeBoolean     Type = "boolean"
	TypeDate        Type = "date"
	TypeTimestamp   Type = "timestamp"
	TypeTimestampTZ Type = "timestamptz"
	TypeTime        Type = "time"
	TypeJSON        Type = "json"
	TypeJSONB       Type = "jsonb"
	TypeUUID        Type = "uuid"
)

var validTypes = map[Type]bool{
	TypeInt:         true,
	TypeBigInt:      true,
	TypeSmallInt:    true,
	TypeDecimal:     true,
	TypeFloat:       true,
	TypeDouble:      true,
	TypeVarchar:     true,
	TypeChar:        true,
	TypeText:        true,
	TypeBoolean:     true,
	TypeDate:        true,
	TypeTimestamp:   true,
	TypeTimestampTZ: true,
	TypeTime:        true,
	TypeJSON:        true,
	TypeJSONB:       true,
	TypeUUID:        true,
}

// IsValidType reports whether t belongs to the normalized vocabulary
func IsValidType(t Type) bool {
	return validTypes[t]
}

// Column is a single column in a normalized schema
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// Tag renders the column type with its nullability marker, e.g. "varchar?"
func (c Column) Tag() string {
	if c.Nullable {
		return string(c.Type) + "?"
	}
	return string(c.Type)
}

// ParseTag parses a type tag with an optional trailing "?" nullability marker
func ParseTag(tag string) (Type, bool, error) {
	nullable := strings.HasSuffix(tag, "?")
	t := Type(strings.TrimSuffix(tag, "?"))
	if !IsValidType(t) {
		return "", false, errors.Newf(errors.ErrorTypeSchema,
			"unknown type tag %q", tag)
	}
	return t, nullable, nil
}

// Schema is an ordered set of normalized columns
type Schema struct {
	Columns []Column
}

// New builds a schema from columns, rejecting duplicates and invalid types
func New(columns ...Column) (*Schema, error) {
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if col.Name == "" {
			return nil, errors.New(errors.ErrorTypeSchema, "column name must not be empty")
		}
		if !IsValidType(col.Type) {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"column %s has invalid type %q", col.Name, col.Type)
		}
		if seen[col.Name] {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"duplicate column %s", col.Name)
		}
		seen[col.Name] = true
	}
	return &Schema{Columns: columns}, nil
}

// Empty returns a schema with no columns. Destinations that do not exist yet
// report this from GetSchema.
func Empty() *Schema {
	return &Schema{}
}

// IsEmpty reports whether the schema has no columns
func (s *Schema) IsEmpty() bool {
	return s == nil || len(s.Columns) == 0
}

// ColumnNames returns column names in declaration order
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Column looks up a column by name
func (s *Schema) Column(name string) (Column, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Add appends a column, replacing any existing column of the same name
func (s *Schema) Add(col Column) {
	for i, existing := range s.Columns {
		if existing.Name == col.Name {
			s.Columns[i] = col
			return
		}
	}
	s.Columns = append(s.Columns, col)
}

// Rename returns a copy of the schema with columns renamed per mapping.
// Names absent from the mapping pass through unchanged.
func (s *Schema) Rename(mapping map[string]string) *Schema {
	out := &Schema{Columns: make([]Column, len(s.Columns))}
	copy(out.Columns, s.Columns)
	if len(mapping) == 0 {
		return out
	}
	for i, col := range out.Columns {
		if renamed, ok := mapping[col.Name]; ok {
			out.Columns[i].Name = renamed
		}
	}
	return out
}

// String renders the schema as "name type, name type?, ..."
func (s *Schema) String() string {
	parts := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		parts[i] = fmt.Sprintf("%s %s", col.Name, col.Tag())
	}
	return strings.Join(parts, ", ")
}

// CompatibilityWarnings compares a source schema against a destination schema
// and reports columns the destination is missing and columns whose types
// disagree. An empty destination schema means the target does not exist yet
// and will be created from the source schema, so nothing can mismatch.
// Warnings are advisory and never block a run.
func CompatibilityWarnings(source, destination *Schema) []string {
	if destination.IsEmpty() {
		return nil
	}

	var warnings []string
	for _, srcCol := range source.Columns {
		dstCol, ok := destination.Column(srcCol.Name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf(
				"column %q exists in source but not in destination", srcCol.Name))
			continue
		}
		if srcCol.Type != dstCol.Type {
			warnings = append(warnings, fmt.Sprintf(
				"column %q type mismatch: source is %s, destination is %s",
				srcCol.Name, srcCol.Type, dstCol.Type))
		}
	}
	return warnings
}
