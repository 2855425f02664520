// Package dcerpc implements connection-oriented DCE/RPC over a named pipe,
// with NTLM and Kerberos packet privacy.
package dcerpc

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// RPC Protocol versions
const (
	RPCVersionMajor = 5
	RPCVersionMinor = 0
)

// PacketType is the PTYPE field of the common header
type PacketType uint8

const (
	PacketTypeRequest          PacketType = 0
	PacketTypeResponse         PacketType = 2
	PacketTypeFault            PacketType = 3
	PacketTypeBind             PacketType = 11
	PacketTypeBindAck          PacketType = 12
	PacketTypeBindNak          PacketType = 13
	PacketTypeAlterContext     PacketType = 14
	PacketTypeAlterContextResp PacketType = 15
	PacketTypeAuth3            PacketType = 16
	PacketTypeShutdown         PacketType = 17
)

// Packet flags
const (
	PacketFlagFirstFrag  uint8 = 0x01
	PacketFlagLastFrag   uint8 = 0x02
	PacketFlagDidNotExec uint8 = 0x20
)

// Authentication services
const (
	AuthTypeNone      uint8 = 0
	AuthTypeNegotiate uint8 = 9
	AuthTypeNTLM      uint8 = 10
)

// AuthLevelPktPrivacy is the only level this package binds at
const AuthLevelPktPrivacy uint8 = 6

// Fixed sizes
const (
	headerSize     = 16
	requestHdrSize = 24 // common header + alloc_hint, p_cont_id, opnum
	trailerSize    = 8  // sec_trailer without auth_value
	defaultFrag    = 4280
)

// CommonHeader represents the common RPC header (16 bytes)
type CommonHeader struct {
	Version            uint8
	VersionMinor       uint8
	PacketType         PacketType
	PacketFlags        uint8
	DataRepresentation uint32 // NDR format (little-endian)
	FragLength         uint16
	AuthLength         uint16
	CallID             uint32
}

// NDR Data Representation (little-endian, ASCII, IEEE float)
const NDRDataRepresentation = 0x00000010

func newHeader(ptype PacketType, callID uint32) CommonHeader {
	return CommonHeader{
		Version:            RPCVersionMajor,
		VersionMinor:       RPCVersionMinor,
		PacketType:         ptype,
		PacketFlags:        PacketFlagFirstFrag | PacketFlagLastFrag,
		DataRepresentation: NDRDataRepresentation,
		CallID:             callID,
	}
}

// Marshal serializes the common header
func (h *CommonHeader) Marshal() []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.Version
	buf[1] = h.VersionMinor
	buf[2] = byte(h.PacketType)
	buf[3] = h.PacketFlags
	encoding.PutUint32LE(buf[4:8], h.DataRepresentation)
	encoding.PutUint16LE(buf[8:10], h.FragLength)
	encoding.PutUint16LE(buf[10:12], h.AuthLength)
	encoding.PutUint32LE(buf[12:16], h.CallID)
	return buf
}

// Unmarshal deserializes a common header
func (h *CommonHeader) Unmarshal(buf []byte) error {
	if len(buf) < headerSize {
		return ErrBufferTooSmall
	}
	h.Version = buf[0]
	h.VersionMinor = buf[1]
	h.PacketType = PacketType(buf[2])
	h.PacketFlags = buf[3]
	h.DataRepresentation = encoding.Uint32LE(buf[4:8])
	h.FragLength = encoding.Uint16LE(buf[8:10])
	h.AuthLength = encoding.Uint16LE(buf[10:12])
	h.CallID = encoding.Uint32LE(buf[12:16])
	return nil
}

// SecTrailer is the sec_trailer that precedes auth_value
type SecTrailer struct {
	AuthType      uint8
	AuthLevel     uint8
	AuthPadLength uint8
	AuthContextID uint32
}

// Marshal serializes the trailer
func (t *SecTrailer) Marshal() []byte {
	buf := make([]byte, trailerSize)
	buf[0] = t.AuthType
	buf[1] = t.AuthLevel
	buf[2] = t.AuthPadLength
	encoding.PutUint32LE(buf[4:8], t.AuthContextID)
	return buf
}

// Unmarshal parses a trailer
func (t *SecTrailer) Unmarshal(buf []byte) error {
	if len(buf) < trailerSize {
		return ErrBufferTooSmall
	}
	t.AuthType = buf[0]
	t.AuthLevel = buf[1]
	t.AuthPadLength = buf[2]
	t.AuthContextID = encoding.Uint32LE(buf[4:8])
	return nil
}

// splitAuth splits a PDU into body (after the type specific header ends at
// bodyOff), sec_trailer and auth_value using frag and auth lengths.
func splitAuth(pdu []byte, h *CommonHeader, bodyOff int) (body []byte, trailer SecTrailer, authValue []byte, err error) {
	if int(h.FragLength) > len(pdu) || int(h.FragLength) < bodyOff {
		return nil, trailer, nil, ErrBufferTooSmall
	}
	pdu = pdu[:h.FragLength]
	if h.AuthLength == 0 {
		return pdu[bodyOff:], trailer, nil, nil
	}
	tstart := len(pdu) - int(h.AuthLength) - trailerSize
	if tstart < bodyOff {
		return nil, trailer, nil, ErrBufferTooSmall
	}
	if err := trailer.Unmarshal(pdu[tstart:]); err != nil {
		return nil, trailer, nil, err
	}
	return pdu[bodyOff:tstart], trailer, pdu[tstart+trailerSize:], nil
}
