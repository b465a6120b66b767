package wire

import (
	"bytes"
	"fmt"
)

// Message is one decoded or built wire message: a type code plus an ordered
// set of field values. The set of field names is fixed by the variant; the
// values are mutable until Serialize.
type Message struct {
	code   TypeCode
	fields []FieldSpec
	values map[string]interface{}
}

// Code returns the 2-byte type code of the variant.
func (m *Message) Code() TypeCode { return m.code }

// Decode parses a frame body into a typed message by walking the variant's
// field list in order. Each field starts where the previous one ended;
// variable-length fields resolve their length from the already-decoded count
// field that governs them.
func Decode(code TypeCode, body []byte) (*Message, error) {
	spec, ok := SpecFor(code)
	if !ok {
		return nil, &ErrUnknownType{Code: code}
	}

	m := &Message{code: code, fields: spec, values: make(map[string]interface{}, len(spec))}
	offset := 0
	for i := range spec {
		f := &spec[i]
		varLen := 0
		if f.Kind == KindString && f.Length == 0 {
			n, err := m.countValue(f.LengthFrom)
			if err != nil {
				return nil, fmt.Errorf("wire: %s field %q: %w", code, f.Name, err)
			}
			varLen = n
		}
		v, n, err := f.decode(body, offset, varLen)
		if err != nil {
			return nil, err
		}
		m.values[f.Name] = v
		offset += n
	}
	if offset != len(body) {
		return nil, fmt.Errorf("wire: %s body has %d trailing bytes", code, len(body)-offset)
	}
	return m, nil
}

// Build constructs an outbound message from explicit field values. Count
// fields governing a variable-length sibling may be omitted; they are
// derived from the sibling's actual length. A supplied count that disagrees
// with the governed field is an error, never silently patched.
func Build(code TypeCode, values map[string]interface{}) (*Message, error) {
	spec, ok := SpecFor(code)
	if !ok {
		return nil, &ErrUnknownType{Code: code}
	}

	m := &Message{code: code, fields: spec, values: make(map[string]interface{}, len(spec))}
	for i := range spec {
		f := &spec[i]
		v, present := values[f.Name]
		if !present {
			if governed := m.governedBy(f.Name); governed != nil {
				gv, ok := values[governed.Name].([]byte)
				if !ok {
					if s, ok := values[governed.Name].(string); ok {
						gv = []byte(s)
					} else {
						return nil, fmt.Errorf("wire: %s: missing field %q", code, f.Name)
					}
				}
				v = deriveCount(f, len(gv))
			} else {
				return nil, fmt.Errorf("wire: %s: missing field %q", code, f.Name)
			}
		}
		if s, ok := v.(string); ok && f.Kind == KindString {
			v = []byte(s)
		}
		m.values[f.Name] = v
	}

	for i := range spec {
		f := &spec[i]
		if f.Kind != KindString || f.Length != 0 {
			continue
		}
		declared, err := m.countValue(f.LengthFrom)
		if err != nil {
			return nil, err
		}
		actual := len(m.values[f.Name].([]byte))
		if declared != actual {
			return nil, fmt.Errorf("wire: %s: field %q declares length %d but %q holds %d bytes",
				code, f.LengthFrom, declared, f.Name, actual)
		}
	}
	return m, nil
}

// Serialize lays the field values out into a fresh body buffer using the
// same left-to-right offset resolution as Decode.
func (m *Message) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 64)
	var err error
	for i := range m.fields {
		f := &m.fields[i]
		buf, err = f.encode(buf, m.values[f.Name])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Set replaces a field value. Count fields governing the changed field are
// recomputed so the declared length never drifts from the value.
func (m *Message) Set(name string, value interface{}) error {
	f := m.spec(name)
	if f == nil {
		return fmt.Errorf("wire: %s has no field %q", m.code, name)
	}
	if s, ok := value.(string); ok && f.Kind == KindString {
		value = []byte(s)
	}
	m.values[name] = value
	if f.Kind == KindString && f.Length == 0 {
		count := m.spec(f.LengthFrom)
		if count != nil {
			m.values[count.Name] = deriveCount(count, len(value.([]byte)))
		}
	}
	return nil
}

// Has reports whether the variant defines a field with this name.
func (m *Message) Has(name string) bool { return m.spec(name) != nil }

// Byte returns a KindByte field value.
func (m *Message) Byte(name string) byte {
	v, _ := m.values[name].(byte)
	return v
}

// Short returns a KindShort field value.
func (m *Message) Short(name string) uint16 {
	v, _ := m.values[name].(uint16)
	return v
}

// Int returns a KindInt field value.
func (m *Message) Int(name string) uint32 {
	v, _ := m.values[name].(uint32)
	return v
}

// Bytes returns the raw bytes of a KindString field.
func (m *Message) Bytes(name string) []byte {
	v, _ := m.values[name].([]byte)
	return v
}

// String returns a KindString field value as text.
func (m *Message) String(name string) string {
	return string(m.Bytes(name))
}

// Token returns a KindToken or KindAddress field value.
func (m *Message) Token(name string) [16]byte {
	v, _ := m.values[name].([16]byte)
	return v
}

// Equal reports whether two messages carry the same code and field values.
func (m *Message) Equal(o *Message) bool {
	if o == nil || m.code != o.code {
		return false
	}
	for i := range m.fields {
		name := m.fields[i].Name
		a, b := m.values[name], o.values[name]
		if ab, ok := a.([]byte); ok {
			bb, ok := b.([]byte)
			if !ok || !bytes.Equal(ab, bb) {
				return false
			}
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}

func (m *Message) spec(name string) *FieldSpec {
	for i := range m.fields {
		if m.fields[i].Name == name {
			return &m.fields[i]
		}
	}
	return nil
}

// governedBy returns the variable-length field whose length is declared by
// the named count field, if any.
func (m *Message) governedBy(countName string) *FieldSpec {
	for i := range m.fields {
		if m.fields[i].LengthFrom == countName {
			return &m.fields[i]
		}
	}
	return nil
}

func (m *Message) countValue(name string) (int, error) {
	switch v := m.values[name].(type) {
	case byte:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	}
	return 0, fmt.Errorf("count field %q is missing or not numeric", name)
}

func deriveCount(f *FieldSpec, n int) interface{} {
	switch f.Kind {
	case KindByte:
		return byte(n)
	case KindShort:
		return uint16(n)
	default:
		return uint32(n)
	}
}
