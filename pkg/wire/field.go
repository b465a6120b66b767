package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the binary encoding of a single message field.
type Kind int

const (
	// KindByte is a single unsigned byte.
	KindByte Kind = iota
	// KindShort is a 2-byte big-endian unsigned integer.
	KindShort
	// KindInt is a 4-byte big-endian unsigned integer.
	KindInt
	// KindString is a run of raw bytes. The length is either fixed
	// (FieldSpec.Length) or taken from a previously decoded count field
	// (FieldSpec.LengthFrom).
	KindString
	// KindAddress is a 16-byte address slot. IPv4 addresses occupy the
	// first 4 bytes, the rest are zero.
	KindAddress
	// KindToken is a 16-byte opaque identity token (client_ctx, call_ctx).
	KindToken
)

const (
	addressLen = 16
	tokenLen   = 16
)

// FieldSpec describes one slot in a message variant. Fields are evaluated
// strictly left to right; each field's offset is the running total of the
// lengths before it, never stored independently.
type FieldSpec struct {
	Name string
	Kind Kind

	// Length fixes the byte length of a KindString field (e.g. the 20-byte
	// password). Zero means the length comes from LengthFrom.
	Length int

	// LengthFrom names an earlier numeric field whose decoded value is the
	// byte length of this field.
	LengthFrom string
}

// ErrShortBuffer reports a decode that ran past the end of the body, or a
// count field whose declared length does not fit in the remaining buffer.
// It is distinct from an unknown-type error so callers never silently
// truncate.
type ErrShortBuffer struct {
	Field string
	Need  int
	Have  int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("wire: field %q needs %d bytes, %d remain", e.Field, e.Need, e.Have)
}

// fixedLen returns the wire length of a fixed-size kind, or -1 for
// variable-length kinds.
func (f *FieldSpec) fixedLen() int {
	switch f.Kind {
	case KindByte:
		return 1
	case KindShort:
		return 2
	case KindInt:
		return 4
	case KindAddress:
		return addressLen
	case KindToken:
		return tokenLen
	case KindString:
		if f.Length > 0 {
			return f.Length
		}
		return -1
	}
	return -1
}

// decode reads the field value from buf at the given offset and returns the
// value together with the number of bytes consumed. For variable-length
// strings the caller resolves the length from the governing count field and
// passes it in varLen.
func (f *FieldSpec) decode(buf []byte, offset, varLen int) (interface{}, int, error) {
	length := f.fixedLen()
	if length < 0 {
		length = varLen
	}
	if offset+length > len(buf) {
		return nil, 0, &ErrShortBuffer{Field: f.Name, Need: length, Have: len(buf) - offset}
	}

	switch f.Kind {
	case KindByte:
		return buf[offset], length, nil
	case KindShort:
		return binary.BigEndian.Uint16(buf[offset : offset+2]), length, nil
	case KindInt:
		return binary.BigEndian.Uint32(buf[offset : offset+4]), length, nil
	case KindString:
		v := make([]byte, length)
		copy(v, buf[offset:offset+length])
		return v, length, nil
	case KindAddress, KindToken:
		var v [16]byte
		copy(v[:], buf[offset:offset+16])
		return v, length, nil
	}
	return nil, 0, fmt.Errorf("wire: field %q has unknown kind %d", f.Name, f.Kind)
}

// encode appends the field value to buf and returns the extended buffer.
func (f *FieldSpec) encode(buf []byte, value interface{}) ([]byte, error) {
	switch f.Kind {
	case KindByte:
		v, ok := value.(byte)
		if !ok {
			return nil, encodeTypeErr(f, value)
		}
		return append(buf, v), nil
	case KindShort:
		v, ok := value.(uint16)
		if !ok {
			return nil, encodeTypeErr(f, value)
		}
		return binary.BigEndian.AppendUint16(buf, v), nil
	case KindInt:
		v, ok := value.(uint32)
		if !ok {
			return nil, encodeTypeErr(f, value)
		}
		return binary.BigEndian.AppendUint32(buf, v), nil
	case KindString:
		v, ok := value.([]byte)
		if !ok {
			return nil, encodeTypeErr(f, value)
		}
		if f.Length > 0 && len(v) != f.Length {
			return nil, fmt.Errorf("wire: field %q requires exactly %d bytes, got %d", f.Name, f.Length, len(v))
		}
		return append(buf, v...), nil
	case KindAddress, KindToken:
		v, ok := value.([16]byte)
		if !ok {
			return nil, encodeTypeErr(f, value)
		}
		return append(buf, v[:]...), nil
	}
	return nil, fmt.Errorf("wire: field %q has unknown kind %d", f.Name, f.Kind)
}

func encodeTypeErr(f *FieldSpec, value interface{}) error {
	return fmt.Errorf("wire: field %q cannot encode value of type %T", f.Name, value)
}

// Address packs an IPv4 or IPv6 address into a 16-byte wire slot.
// IPv4 addresses occupy the first 4 bytes.
func Address(ip []byte) [16]byte {
	var a [16]byte
	if len(ip) == 4 {
		copy(a[:4], ip)
	} else {
		copy(a[:], ip)
	}
	return a
}
