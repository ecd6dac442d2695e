package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Protocol is the on-disk form of a schema. Messages are structs that can
// appear as the payload of a PDU and therefore carry an identifier.
type Protocol struct {
	Messages []StructSpec `yaml:"messages"`
	Structs  []StructSpec `yaml:"structs"`
}

type StructSpec struct {
	Name       string          `yaml:"name"`
	ID         uint16          `yaml:"id"`
	Fields     []FieldSpec     `yaml:"fields"`
	Extensions []ExtensionSpec `yaml:"extensions"`
}

type FieldSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type ExtensionSpec struct {
	ID     int32       `yaml:"id"`
	Fields []FieldSpec `yaml:"fields"`
}

// Load reads a YAML protocol definition from path.
func Load(path string) (*Resolver, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading protocol definition: %w", err)
	}
	return Parse(b)
}

// Parse builds a Resolver from a YAML protocol definition.
func Parse(data []byte) (*Resolver, error) {
	var p Protocol
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return nil, fmt.Errorf("parsing protocol definition: %w", err)
	}
	return New(p)
}

// New validates p and builds a Resolver from it. Struct definitions are
// registered before any field types are resolved so that structs may refer
// to each other (and themselves) regardless of declaration order.
func New(p Protocol) (*Resolver, error) {
	r := newResolver()

	specs := make([]StructSpec, 0, len(p.Messages)+len(p.Structs))
	for _, m := range p.Messages {
		if m.ID == 0 {
			return nil, &SchemaError{Name: m.Name, Reason: "message has no id"}
		}
		specs = append(specs, m)
	}
	specs = append(specs, p.Structs...)

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, &SchemaError{Name: "<unnamed>", Reason: "struct has no name"}
		}
		if _, ok := primitiveNames[spec.Name]; ok {
			return nil, &SchemaError{Name: spec.Name, Reason: "struct name shadows a primitive"}
		}
		if _, ok := r.structs[spec.Name]; ok {
			return nil, &SchemaError{Name: spec.Name, Reason: "duplicate struct name"}
		}
		r.structs[spec.Name] = &StructDefinition{Name: spec.Name, ID: spec.ID}

		if spec.ID != 0 {
			if other, ok := r.names[spec.ID]; ok {
				return nil, &SchemaError{Name: spec.Name, Reason: fmt.Sprintf("message id %d already used by %s", spec.ID, other)}
			}
			r.names[spec.ID] = spec.Name
		}
	}

	for _, spec := range specs {
		def := r.structs[spec.Name]

		fields, err := r.resolveFields(spec.Name, spec.Fields)
		if err != nil {
			return nil, err
		}
		def.Fields = fields

		if len(spec.Extensions) == 0 {
			continue
		}
		if !hasIDField(fields) {
			return nil, &SchemaError{Name: spec.Name, Reason: "struct with extensions has no int id field"}
		}
		def.Extensions = make(map[int32]*Extension, len(spec.Extensions))
		for _, ext := range spec.Extensions {
			if _, ok := def.Extensions[ext.ID]; ok {
				return nil, &SchemaError{Name: spec.Name, Reason: fmt.Sprintf("duplicate extension id %d", ext.ID)}
			}
			extFields, err := r.resolveFields(fmt.Sprintf("%s#%d", spec.Name, ext.ID), ext.Fields)
			if err != nil {
				return nil, err
			}
			def.Extensions[ext.ID] = &Extension{ID: ext.ID, Fields: extFields}
		}
	}

	return r, nil
}

func (r *Resolver) resolveFields(owner string, specs []FieldSpec) ([]FieldDefinition, error) {
	fields := make([]FieldDefinition, 0, len(specs))
	for i, f := range specs {
		t, err := r.ResolveType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %d of %s: %w", i+1, owner, err)
		}
		fields = append(fields, FieldDefinition{Name: f.Name, Type: t})
	}
	return fields, nil
}

func hasIDField(fields []FieldDefinition) bool {
	for _, f := range fields {
		if f.Name == IDField {
			return f.Type.Primitive == Int && !f.Type.Array && !f.Type.Optional
		}
	}
	return false
}
