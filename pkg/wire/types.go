package wire

import "fmt"

// TypeCode is the 2-byte message discriminant carried in the frame envelope.
type TypeCode uint16

const (
	TypeShortResponse       TypeCode = 0x0001
	TypeLoginRequest        TypeCode = 0x0002
	TypeLoginReply          TypeCode = 0x0003
	TypeLogout              TypeCode = 0x0005
	TypeKeepAlive           TypeCode = 0x0006
	TypeKeepAliveAck        TypeCode = 0x0007
	TypeClientInvite        TypeCode = 0x0010
	TypeServerRejectInvite  TypeCode = 0x0011
	TypeServerForwardInvite TypeCode = 0x0012
	TypeClientInviteAck     TypeCode = 0x0013
	TypeServerForwardRing   TypeCode = 0x0014
	TypeClientAnswer        TypeCode = 0x0015
	TypeClientRTP           TypeCode = 0x0020
	TypeHangupRequest       TypeCode = 0x0040
	TypeHangupRequestAck    TypeCode = 0x0041
	TypeServerOverloaded    TypeCode = 0x00A0
)

var typeNames = map[TypeCode]string{
	TypeShortResponse:       "ShortResponse",
	TypeLoginRequest:        "LoginRequest",
	TypeLoginReply:          "LoginReply",
	TypeLogout:              "Logout",
	TypeKeepAlive:           "KeepAlive",
	TypeKeepAliveAck:        "KeepAliveAck",
	TypeClientInvite:        "ClientInvite",
	TypeServerRejectInvite:  "ServerRejectInvite",
	TypeServerForwardInvite: "ServerForwardInvite",
	TypeClientInviteAck:     "ClientInviteAck",
	TypeServerForwardRing:   "ServerForwardRing",
	TypeClientAnswer:        "ClientAnswer",
	TypeClientRTP:           "ClientRTP",
	TypeHangupRequest:       "HangupRequest",
	TypeHangupRequestAck:    "HangupRequestAck",
	TypeServerOverloaded:    "ServerOverloaded",
}

func (c TypeCode) String() string {
	if name, ok := typeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("TypeCode(0x%04x)", uint16(c))
}

// ErrUnknownType reports a frame whose type code is not registered. It is a
// different failure than a short or malformed body: the frame was intact,
// the server just does not speak this type.
type ErrUnknownType struct {
	Code TypeCode
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("wire: unknown message type 0x%04x", uint16(e.Code))
}

// PasswordLen is the fixed on-wire length of the password field.
const PasswordLen = 20

// registry holds the field layout of every variant. The ack-invite and
// forward-ring variants share a layout on purpose: the server forwards the
// callee's ack to the caller as a ring notification.
var registry = map[TypeCode][]FieldSpec{
	TypeShortResponse: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "result", Kind: KindShort},
	},
	TypeLoginRequest: {
		{Name: "username_length", Kind: KindByte},
		{Name: "username", Kind: KindString, LengthFrom: "username_length"},
		{Name: "password", Kind: KindString, Length: PasswordLen},
		{Name: "local_ip", Kind: KindAddress},
		{Name: "local_port", Kind: KindInt},
	},
	TypeLoginReply: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "public_ip", Kind: KindAddress},
		{Name: "public_port", Kind: KindInt},
		{Name: "ctx_expire", Kind: KindInt},
		{Name: "num_codecs", Kind: KindByte},
		{Name: "codec_list", Kind: KindString, LengthFrom: "num_codecs"},
	},
	TypeLogout: {
		{Name: "client_ctx", Kind: KindToken},
	},
	TypeKeepAlive: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "public_ip", Kind: KindAddress},
		{Name: "public_port", Kind: KindInt},
	},
	TypeKeepAliveAck: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "expire", Kind: KindInt},
		{Name: "refresh_flag", Kind: KindByte},
	},
	TypeClientInvite: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "callee_name_length", Kind: KindByte},
		{Name: "callee_name", Kind: KindString, LengthFrom: "callee_name_length"},
		{Name: "num_codecs", Kind: KindByte},
		{Name: "codec_list", Kind: KindString, LengthFrom: "num_codecs"},
	},
	TypeServerRejectInvite: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "reason", Kind: KindShort},
	},
	TypeServerForwardInvite: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
		{Name: "call_type", Kind: KindByte},
		{Name: "caller_name_length", Kind: KindByte},
		{Name: "caller_name", Kind: KindString, LengthFrom: "caller_name_length"},
		{Name: "caller_ip", Kind: KindAddress},
		{Name: "caller_port", Kind: KindInt},
		{Name: "num_codecs", Kind: KindByte},
		{Name: "codec_list", Kind: KindString, LengthFrom: "num_codecs"},
	},
	TypeClientInviteAck: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
		{Name: "status", Kind: KindByte},
		{Name: "public_ip", Kind: KindAddress},
		{Name: "public_port", Kind: KindInt},
	},
	TypeServerForwardRing: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
		{Name: "status", Kind: KindByte},
		{Name: "public_ip", Kind: KindAddress},
		{Name: "public_port", Kind: KindInt},
	},
	TypeClientAnswer: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
		{Name: "codec", Kind: KindByte},
	},
	TypeClientRTP: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
		{Name: "sequence", Kind: KindInt},
		{Name: "rtp_length", Kind: KindShort},
		{Name: "rtp_bytes", Kind: KindString, LengthFrom: "rtp_length"},
	},
	TypeHangupRequest: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
	},
	TypeHangupRequestAck: {
		{Name: "client_ctx", Kind: KindToken},
		{Name: "call_ctx", Kind: KindToken},
	},
	TypeServerOverloaded: {
		{Name: "alternate_ip", Kind: KindAddress},
	},
}

// SpecFor returns the field layout of a registered variant.
func SpecFor(code TypeCode) ([]FieldSpec, bool) {
	spec, ok := registry[code]
	return spec, ok
}

// Known reports whether the type code belongs to a registered variant.
func Known(code TypeCode) bool {
	_, ok := registry[code]
	return ok
}

// Codec identifiers carried one byte each in codec lists.
const (
	CodecPCMA  byte = 0x01
	CodecPCMU  byte = 0x02
	CodecG723  byte = 0x03
	CodecILBC  byte = 0x04
	CodecSPEEX byte = 0x05
	CodecSNAP  byte = 0x07
)

var codecNames = map[byte]string{
	CodecPCMA:  "PCMA",
	CodecPCMU:  "PCMU",
	CodecG723:  "G723",
	CodecILBC:  "ILBC",
	CodecSPEEX: "SPEEX",
	CodecSNAP:  "SNAP",
}

// CodecByName resolves a codec identifier from its configuration name.
func CodecByName(name string) (byte, bool) {
	for id, n := range codecNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// CodecName returns the printable name of a codec identifier.
func CodecName(id byte) string {
	if n, ok := codecNames[id]; ok {
		return n
	}
	return fmt.Sprintf("codec(0x%02x)", id)
}

// Result codes carried in ShortResponse and ServerRejectInvite.
const (
	ResultUnknown           uint16 = 0xFF00
	ResultUnknownClient     uint16 = 0xFF01
	ResultServerOverloaded  uint16 = 0xFF02
	ResultLoginFailure      uint16 = 0x0101
	ResultCalleeNotFound    uint16 = 0x0301
	ResultCalleeUnavailable uint16 = 0x0302
	ResultCodecMismatch     uint16 = 0x0303
)

// Client status values.
const (
	StatusUnknown byte = 0xFF
	StatusActive  byte = 0x00
	StatusBusy    byte = 0x01
	StatusRinging byte = 0x02
	StatusAway    byte = 0x03
)

// Call types carried in ServerForwardInvite.
const (
	CallViaProxy byte = 0x01
	CallDirect   byte = 0x02
)
