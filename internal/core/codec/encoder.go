package codec

import (
	"fmt"

	"github.com/jankrod/barchomat/internal/core/schema"
)

// Encoder writes values of schema types to a BitWriter. A nil value for a
// field that isn't optional is written as the type's zero value.
type Encoder struct {
	Resolver *schema.Resolver
}

func (e *Encoder) EncodeNamed(typeName string, v interface{}, out *BitWriter) error {
	t, err := e.Resolver.ResolveType(typeName)
	if err != nil {
		return err
	}
	return e.Encode(t, v, out)
}

func (e *Encoder) Encode(t *schema.Type, v interface{}, out *BitWriter) error {
	if t.IsOptional() {
		present := !isAbsent(v)
		if err := out.WriteBit(present); err != nil {
			return err
		}
		if !present {
			return nil
		}
	}

	switch {
	case t.IsArray():
		return e.encodeArray(t, v, out)
	case t.IsPrimitive():
		return e.encodePrimitive(t, v, out)
	default:
		return e.encodeStruct(t, v, out)
	}
}

func (e *Encoder) encodeArray(t *schema.Type, v interface{}, out *BitWriter) error {
	length, err := arrayLength(t, v)
	if err != nil {
		return err
	}
	if t.Length > 0 {
		if length > t.Length {
			return protocolErrorf(ErrArrayBounds, "%s: %d", t, length)
		}
	} else if err := out.WriteInt(int32(length)); err != nil {
		return err
	}
	// Fixed length arrays are padded with zero values.
	size := length
	if t.Length > 0 {
		size = t.Length
	}

	if !t.IsPrimitive() {
		elems, _ := v.([]*Message)
		elemType := t.Element()
		for i := 0; i < size; i++ {
			var elem *Message
			if i < len(elems) {
				elem = elems[i]
			}
			if err := e.encodeStruct(elemType, elem, out); err != nil {
				return protocolErrorf(err, "could not write element %d of %s[]", i, t.Name)
			}
		}
		return nil
	}

	switch t.Primitive {
	case schema.Byte:
		b := make([]byte, size)
		raw, _ := v.([]byte)
		copy(b, raw)
		return out.WriteBytes(b)

	case schema.Int:
		a, _ := v.([]int32)
		for i := 0; i < size; i++ {
			var x int32
			if i < len(a) {
				x = a[i]
			}
			if err := out.WriteInt(x); err != nil {
				return err
			}
		}
		return nil

	case schema.Long:
		a, _ := v.([]int64)
		for i := 0; i < size; i++ {
			var x int64
			if i < len(a) {
				x = a[i]
			}
			if err := out.WriteLong(x); err != nil {
				return err
			}
		}
		return nil

	case schema.String:
		a, _ := v.([]*string)
		for i := 0; i < size; i++ {
			var s *string
			if i < len(a) {
				s = a[i]
			}
			if err := out.WriteString(s); err != nil {
				return err
			}
		}
		return nil
	}

	return &schema.SchemaError{Name: t.String(), Reason: "arrays of " + t.Primitive.String() + " are not supported"}
}

func arrayLength(t *schema.Type, v interface{}) (int, error) {
	switch a := v.(type) {
	case nil:
		return 0, nil
	case []byte:
		return len(a), nil
	case []int32:
		return len(a), nil
	case []int64:
		return len(a), nil
	case []*string:
		return len(a), nil
	case []*Message:
		return len(a), nil
	}
	return 0, fmt.Errorf("cannot write %T as %s", v, t)
}

func (e *Encoder) encodePrimitive(t *schema.Type, v interface{}, out *BitWriter) error {
	switch t.Primitive {
	case schema.Boolean:
		b, ok := v.(bool)
		if !ok && v != nil {
			return typeMismatch(t, v)
		}
		return out.WriteBit(b)

	case schema.Byte:
		switch n := v.(type) {
		case nil:
			return out.WriteInt8(0)
		case int8:
			return out.WriteInt8(n)
		case int:
			return out.WriteInt8(int8(n))
		}

	case schema.Int:
		switch n := v.(type) {
		case nil:
			return out.WriteInt(0)
		case int32:
			return out.WriteInt(n)
		case int:
			return out.WriteInt(int32(n))
		}

	case schema.Long:
		switch n := v.(type) {
		case nil:
			return out.WriteLong(0)
		case int64:
			return out.WriteLong(n)
		case int32:
			return out.WriteLong(int64(n))
		case int:
			return out.WriteLong(int64(n))
		}

	case schema.String, schema.ZipString:
		var s *string
		switch str := v.(type) {
		case nil:
		case *string:
			s = str
		case string:
			s = &str
		default:
			return typeMismatch(t, v)
		}
		if t.Primitive == schema.ZipString {
			return out.WriteZipString(s)
		}
		return out.WriteString(s)

	default:
		return &schema.SchemaError{Name: t.Name, Reason: "unknown primitive type"}
	}

	return typeMismatch(t, v)
}

func (e *Encoder) encodeStruct(t *schema.Type, v interface{}, out *BitWriter) error {
	def := t.Struct
	msg, ok := v.(*Message)
	if !ok && v != nil {
		return typeMismatch(t, v)
	}
	if msg == nil {
		msg = NewMessage(def.Name)
	}

	fieldIndex := 0
	writeFields := func(fields []schema.FieldDefinition) error {
		for _, field := range fields {
			fieldIndex++
			value, _ := msg.Get(fieldName(field, fieldIndex))
			if err := e.Encode(field.Type, value, out); err != nil {
				return protocolErrorf(err, "could not write field %d of %s", fieldIndex, def.Name)
			}
		}
		return nil
	}

	if err := writeFields(def.Fields); err != nil {
		return err
	}

	if def.HasExtensions() {
		// An absent id was written as 0 above.
		id, _ := msg.Int(schema.IDField)
		if ext, ok := def.Extension(id); ok {
			if err := writeFields(ext.Fields); err != nil {
				return err
			}
		}
	}
	return nil
}

func typeMismatch(t *schema.Type, v interface{}) error {
	return protocolErrorf(nil, "cannot write %T as %s", v, t)
}

// isAbsent reports whether v should be written as an absent optional value.
// A nil *string is a present null string and keeps its presence flag.
func isAbsent(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *Message:
		return t == nil
	}
	return false
}
