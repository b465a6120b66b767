package wire

import (
	"encoding/binary"
	"fmt"
)

// Frame envelope:
//
//	BOF(2) | type_code(2) | body_length(2) | body(N) | EOF(2)
//
// All integers big-endian. body_length counts the body bytes only.
const (
	frameBOF uint16 = 0xABCD
	frameEOF uint16 = 0xDCBA

	envelopeLen = 8 // BOF + type + length + EOF
	maxBodyLen  = 0xFFFF
)

// HasBOF reports whether raw starts with the begin-of-frame marker.
func HasBOF(raw []byte) bool {
	return len(raw) >= 2 && binary.BigEndian.Uint16(raw[:2]) == frameBOF
}

// HasEOF reports whether raw ends with the end-of-frame marker.
func HasEOF(raw []byte) bool {
	return len(raw) >= 2 && binary.BigEndian.Uint16(raw[len(raw)-2:]) == frameEOF
}

// Valid reports whether raw is one complete well-formed frame: BOF and EOF
// markers in place, the declared body length matching the actual body
// length, and a registered type code.
func Valid(raw []byte) bool {
	if len(raw) < envelopeLen {
		return false
	}
	if !HasBOF(raw) || !HasEOF(raw) {
		return false
	}
	declared := int(binary.BigEndian.Uint16(raw[4:6]))
	if declared != len(raw)-envelopeLen {
		return false
	}
	return Known(TypeCode(binary.BigEndian.Uint16(raw[2:4])))
}

// Body strips the envelope from a valid frame and returns the type code and
// body bytes. Callers must check Valid first; an invalid frame is an error.
func Body(raw []byte) (TypeCode, []byte, error) {
	if !Valid(raw) {
		return 0, nil, fmt.Errorf("wire: invalid frame of %d bytes", len(raw))
	}
	code := TypeCode(binary.BigEndian.Uint16(raw[2:4]))
	body := make([]byte, len(raw)-envelopeLen)
	copy(body, raw[6:len(raw)-2])
	return code, body, nil
}

// Frame wraps a message body in the wire envelope. It is the exact inverse
// of Body for every registered type.
func Frame(code TypeCode, body []byte) ([]byte, error) {
	if len(body) > maxBodyLen {
		return nil, fmt.Errorf("wire: body of %d bytes exceeds frame limit", len(body))
	}
	raw := make([]byte, 0, len(body)+envelopeLen)
	raw = binary.BigEndian.AppendUint16(raw, frameBOF)
	raw = binary.BigEndian.AppendUint16(raw, uint16(code))
	raw = binary.BigEndian.AppendUint16(raw, uint16(len(body)))
	raw = append(raw, body...)
	raw = binary.BigEndian.AppendUint16(raw, frameEOF)
	return raw, nil
}
