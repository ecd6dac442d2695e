package codec

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Field is one named value of a Message.
type Field struct {
	Name  string
	Value interface{}
}

// Message is a decoded struct: a type name plus its fields in wire order.
// Setting a field that already exists replaces the value in place so the
// encoding order is preserved; new fields are appended.
//
// Values are bool, int8, int32, int64, *string, []byte, []int32, []int64,
// []*string, *Message, []*Message or nil for an absent optional value.
type Message struct {
	Type string

	fields []Field
	index  map[string]int
}

func NewMessage(typeName string) *Message {
	return &Message{Type: typeName, index: make(map[string]int)}
}

func (m *Message) Set(name string, value interface{}) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[name]; ok {
		m.fields[i].Value = value
		return
	}
	m.index[name] = len(m.fields)
	m.fields = append(m.fields, Field{Name: name, Value: value})
}

func (m *Message) Get(name string) (interface{}, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.fields[i].Value, true
}

func (m *Message) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Fields returns a copy of the fields in order.
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

func (m *Message) Len() int { return len(m.fields) }

// Int returns an INT field. Values set as Go ints are accepted too.
func (m *Message) Int(name string) (int32, bool) {
	v, _ := m.Get(name)
	switch n := v.(type) {
	case int32:
		return n, true
	case int:
		return int32(n), true
	}
	return 0, false
}

// Long returns a LONG field, widening INT values.
func (m *Message) Long(name string) (int64, bool) {
	v, _ := m.Get(name)
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

// Str returns a STRING or ZIP_STRING field. Null strings are reported as absent.
func (m *Message) Str(name string) (string, bool) {
	v, _ := m.Get(name)
	switch s := v.(type) {
	case *string:
		if s == nil {
			return "", false
		}
		return *s, true
	case string:
		return s, true
	}
	return "", false
}

func (m *Message) Bytes(name string) ([]byte, bool) {
	v, _ := m.Get(name)
	b, ok := v.([]byte)
	return b, ok
}

func (m *Message) Message(name string) (*Message, bool) {
	v, _ := m.Get(name)
	sub, ok := v.(*Message)
	return sub, ok && sub != nil
}

func (m *Message) Messages(name string) ([]*Message, bool) {
	v, _ := m.Get(name)
	subs, ok := v.([]*Message)
	return subs, ok
}

// Equal reports whether o has the same type and the same fields in the same
// order with deeply equal values.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Type == o.Type && reflect.DeepEqual(m.fields, o.fields)
}

// Clone returns a deep copy of m, so that a cached message can be handed out
// and modified.
func (m *Message) Clone() *Message {
	c := NewMessage(m.Type)
	for _, f := range m.fields {
		c.Set(f.Name, cloneValue(f.Value))
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *Message:
		if t == nil {
			return t
		}
		return t.Clone()
	case []*Message:
		out := make([]*Message, len(t))
		for i, sub := range t {
			out[i] = sub.Clone()
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	case []int32:
		return append([]int32(nil), t...)
	case []int64:
		return append([]int64(nil), t...)
	case []*string:
		return append([]*string(nil), t...)
	}
	return v
}

// MarshalJSON renders the message as a JSON object with keys in field order.
func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, err := json.Marshal(jsonValue(f.Value))
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Byte arrays are rendered as number lists rather than base64 so that dumps
// stay readable.
func jsonValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		out := make([]int, len(b))
		for i, x := range b {
			out[i] = int(x)
		}
		return out
	}
	return v
}

func (m *Message) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return m.Type + "{?}"
	}
	return m.Type + string(b)
}
