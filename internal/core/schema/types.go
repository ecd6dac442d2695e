// Package schema holds the versioned catalogue of message and struct
// definitions used to decode PDU payloads. Definitions are loaded once
// at startup and are read-only afterwards.
package schema

import "fmt"

// IDField is the name of the discriminant field that selects a struct extension.
const IDField = "id"

// PrimitiveType enumerates the scalar kinds the wire format knows about.
type PrimitiveType int

const (
	NotPrimitive PrimitiveType = iota
	Boolean
	Byte
	Int
	Long
	String
	ZipString
)

var primitiveNames = map[string]PrimitiveType{
	"BOOLEAN":    Boolean,
	"BYTE":       Byte,
	"INT":        Int,
	"LONG":       Long,
	"STRING":     String,
	"ZIP_STRING": ZipString,
}

func (p PrimitiveType) String() string {
	for name, t := range primitiveNames {
		if t == p {
			return name
		}
	}
	return fmt.Sprintf("PrimitiveType(%d)", int(p))
}

// Type is a resolved type definition. A Type is either a primitive, a struct,
// or an array of one of those (Array set, Length > 0 for a fixed length).
type Type struct {
	// Name of the element type, e.g. "INT" or "Building".
	Name string

	Primitive PrimitiveType
	Struct    *StructDefinition

	Array    bool
	Length   int
	Optional bool
}

func (t *Type) IsPrimitive() bool { return t.Primitive != NotPrimitive }
func (t *Type) IsArray() bool     { return t.Array }
func (t *Type) IsOptional() bool  { return t.Optional }

// Element returns the type of a single element of an array type. For
// non-array types it returns the type stripped of its optional flag.
func (t *Type) Element() *Type {
	return &Type{Name: t.Name, Primitive: t.Primitive, Struct: t.Struct}
}

// String renders the type back into the expression syntax used by schema files.
func (t *Type) String() string {
	s := t.Name
	if t.Array {
		if t.Length > 0 {
			s += fmt.Sprintf("[%d]", t.Length)
		} else {
			s += "[]"
		}
	}
	if t.Optional {
		s = "?" + s
	}
	return s
}

// FieldDefinition is a single field of a struct. Anonymous fields have an empty Name.
type FieldDefinition struct {
	Name string
	Type *Type
}

// Extension is the set of fields appended to a struct when its discriminant
// matches ID.
type Extension struct {
	ID     int32
	Fields []FieldDefinition
}

// StructDefinition is an ordered set of fields plus the extensions keyed by
// discriminant. Messages are structs with a non-zero ID.
type StructDefinition struct {
	Name       string
	ID         uint16
	Fields     []FieldDefinition
	Extensions map[int32]*Extension
}

func (s *StructDefinition) HasExtensions() bool {
	return len(s.Extensions) > 0
}

// Extension returns the extension selected by discriminant id, if there is one.
func (s *StructDefinition) Extension(id int32) (*Extension, bool) {
	ext, ok := s.Extensions[id]
	return ext, ok
}

// SchemaError reports an unresolvable or inconsistent definition. These are
// configuration faults and are fatal at startup.
type SchemaError struct {
	Name   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Name, e.Reason)
}
