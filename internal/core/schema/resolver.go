package schema

import (
	"strconv"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// Resolver maps type expressions and message identifiers to definitions. It
// is safe for concurrent use once constructed.
type Resolver struct {
	structs map[string]*StructDefinition
	names   map[uint16]string

	// Parsed type expressions. Entries never expire since the schema is immutable.
	types *gocache.Cache
}

func newResolver() *Resolver {
	return &Resolver{
		structs: make(map[string]*StructDefinition),
		names:   make(map[uint16]string),
		types:   gocache.New(gocache.NoExpiration, 0),
	}
}

// ResolveType parses a type expression such as "INT", "?LONG", "BYTE[24]" or
// "Building[]" and returns its definition.
func (r *Resolver) ResolveType(expr string) (*Type, error) {
	if t, ok := r.types.Get(expr); ok {
		return t.(*Type), nil
	}

	t, err := r.parse(expr)
	if err != nil {
		return nil, err
	}
	r.types.Set(expr, t, gocache.NoExpiration)
	return t, nil
}

func (r *Resolver) parse(expr string) (*Type, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, &SchemaError{Name: expr, Reason: "empty type expression"}
	}

	t := &Type{}
	if strings.HasPrefix(s, "?") {
		t.Optional = true
		s = s[1:]
	}

	if strings.HasSuffix(s, "]") {
		open := strings.LastIndex(s, "[")
		if open < 0 {
			return nil, &SchemaError{Name: expr, Reason: "unbalanced array brackets"}
		}
		t.Array = true
		if lenExpr := s[open+1 : len(s)-1]; lenExpr != "" {
			n, err := strconv.Atoi(lenExpr)
			if err != nil || n < 0 {
				return nil, &SchemaError{Name: expr, Reason: "invalid array length " + lenExpr}
			}
			t.Length = n
		}
		s = s[:open]
	}

	t.Name = s
	if p, ok := primitiveNames[s]; ok {
		t.Primitive = p
		return t, nil
	}

	def, ok := r.structs[s]
	if !ok {
		return nil, &SchemaError{Name: expr, Reason: "unknown type"}
	}
	t.Struct = def
	return t, nil
}

// StructNameForID returns the name of the message with the given PDU
// identifier. Unknown identifiers are reported as absent, not as an error.
func (r *Resolver) StructNameForID(id uint16) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}

// IDForStructName is the inverse of StructNameForID.
func (r *Resolver) IDForStructName(name string) (uint16, bool) {
	def, ok := r.structs[name]
	if !ok || def.ID == 0 {
		return 0, false
	}
	return def.ID, true
}

// Struct returns the named struct definition.
func (r *Resolver) Struct(name string) (*StructDefinition, bool) {
	def, ok := r.structs[name]
	return def, ok
}

// MessageNames lists the names of every definition that has a PDU identifier.
func (r *Resolver) MessageNames() []string {
	names := make([]string, 0, len(r.names))
	for _, n := range r.names {
		names = append(names, n)
	}
	return names
}
