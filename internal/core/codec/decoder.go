package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/schema"
)

// DefaultMaxArrayLength bounds array lengths read from the stream.
const DefaultMaxArrayLength = 10000

// Decoder reads values of schema types from a BitReader.
type Decoder struct {
	Resolver *schema.Resolver
	Logger   logrus.FieldLogger

	// Largest array length accepted from the stream.
	MaxArrayLength int
	// Keep anonymous fields, named "field<N>" after their 1-based position.
	AllFields bool
}

// DecodeNamed resolves typeName and decodes a value of that type.
func (d *Decoder) DecodeNamed(typeName string, in *BitReader) (interface{}, error) {
	t, err := d.Resolver.ResolveType(typeName)
	if err != nil {
		return nil, err
	}
	return d.Decode(t, in)
}

// Decode reads a value of type t. Absent optional values decode to nil.
func (d *Decoder) Decode(t *schema.Type, in *BitReader) (interface{}, error) {
	if t.IsOptional() {
		present, err := in.ReadBit()
		if err != nil {
			return nil, protocolErrorf(err, "reading presence of %s", t)
		}
		if !present {
			return nil, nil
		}
	}

	switch {
	case t.IsArray():
		return d.decodeArray(t, in)
	case t.IsPrimitive():
		return d.decodePrimitive(t, in)
	default:
		return d.decodeStruct(t, in)
	}
}

func (d *Decoder) maxArrayLength() int {
	if d.MaxArrayLength > 0 {
		return d.MaxArrayLength
	}
	return DefaultMaxArrayLength
}

func (d *Decoder) decodeArray(t *schema.Type, in *BitReader) (interface{}, error) {
	length := t.Length
	if length == 0 {
		n, err := in.ReadInt()
		if err != nil {
			return nil, protocolErrorf(err, "reading length of %s", t)
		}
		length = int(n)
	}
	// Checked before anything is allocated.
	if length < 0 || length > d.maxArrayLength() {
		return nil, protocolErrorf(ErrArrayBounds, "%s: %d", t, length)
	}

	if t.IsPrimitive() {
		return d.decodePrimitiveArray(t, length, in)
	}

	elemType := t.Element()
	elems := make([]*Message, length)
	for i := 0; i < length; i++ {
		v, err := d.decodeStruct(elemType, in)
		if err != nil {
			return nil, protocolErrorf(err, "could not read element %d of %s[]", i, t.Name)
		}
		elems[i] = v.(*Message)
	}
	return elems, nil
}

func (d *Decoder) decodePrimitiveArray(t *schema.Type, length int, in *BitReader) (interface{}, error) {
	switch t.Primitive {
	case schema.Byte:
		b, err := in.ReadBytes(length)
		if err != nil {
			return nil, protocolErrorf(err, "reading %s", t)
		}
		return b, nil

	case schema.Int:
		a := make([]int32, length)
		for i := range a {
			v, err := in.ReadInt()
			if err != nil {
				return nil, protocolErrorf(err, "reading element %d of %s", i, t)
			}
			a[i] = v
		}
		return a, nil

	case schema.Long:
		a := make([]int64, length)
		for i := range a {
			v, err := in.ReadLong()
			if err != nil {
				return nil, protocolErrorf(err, "reading element %d of %s", i, t)
			}
			a[i] = v
		}
		return a, nil

	case schema.String:
		a := make([]*string, length)
		for i := range a {
			v, err := in.ReadString()
			if err != nil {
				return nil, protocolErrorf(err, "reading element %d of %s", i, t)
			}
			a[i] = v
		}
		return a, nil
	}

	return nil, &schema.SchemaError{Name: t.String(), Reason: "arrays of " + t.Primitive.String() + " are not supported"}
}

func (d *Decoder) decodePrimitive(t *schema.Type, in *BitReader) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch t.Primitive {
	case schema.Boolean:
		v, err = in.ReadBit()
	case schema.Byte:
		v, err = in.ReadInt8()
	case schema.Int:
		v, err = in.ReadInt()
	case schema.Long:
		v, err = in.ReadLong()
	case schema.String:
		v, err = in.ReadString()
	case schema.ZipString:
		v, err = in.ReadZipString()
	default:
		return nil, &schema.SchemaError{Name: t.Name, Reason: "unknown primitive type"}
	}
	if err != nil {
		return nil, protocolErrorf(err, "reading %s", t)
	}
	return v, nil
}

func (d *Decoder) decodeStruct(t *schema.Type, in *BitReader) (interface{}, error) {
	def := t.Struct
	msg := NewMessage(def.Name)

	fieldIndex := 0
	readFields := func(fields []schema.FieldDefinition) error {
		for _, field := range fields {
			fieldIndex++
			v, err := d.Decode(field.Type, in)
			if err != nil {
				return protocolErrorf(err, "could not read field %d of %s", fieldIndex, def.Name)
			}
			if name := fieldName(field, fieldIndex); name != "" && (field.Name != "" || d.AllFields) {
				msg.Set(name, v)
			}
		}
		return nil
	}

	if err := readFields(def.Fields); err != nil {
		return nil, err
	}

	if def.HasExtensions() {
		id, ok := msg.Int(schema.IDField)
		if !ok {
			return nil, protocolErrorf(nil, "%s field missing from %s", schema.IDField, def.Name)
		}
		ext, ok := def.Extension(id)
		if !ok {
			d.logger().Warnf("no extension of %s with id %d", def.Name, id)
			return msg, nil
		}
		if err := readFields(ext.Fields); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

func (d *Decoder) logger() logrus.FieldLogger {
	if d.Logger == nil {
		return logrus.StandardLogger()
	}
	return d.Logger
}

// fieldName is the key a field is stored under: its declared name, or
// field<N> for anonymous fields.
func fieldName(field schema.FieldDefinition, index int) string {
	if field.Name != "" {
		return field.Name
	}
	return fmt.Sprintf("field%d", index)
}
