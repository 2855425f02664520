package dcerpc

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// BindRequest represents a bind or alter_context PDU with one
// presentation context
type BindRequest struct {
	Header      CommonHeader
	MaxXmitFrag uint16
	MaxRecvFrag uint16
	AssocGroup  uint32
	ContextID   uint16
	Abstract    SyntaxID
	Transfer    SyntaxID

	// Auth is appended as sec_trailer + auth_value when set
	Auth      []byte
	AuthType  uint8
	AuthCtxID uint32
}

// NewBindRequest creates a bind request for an interface
func NewBindRequest(iface UUID, version uint32, callID uint32) *BindRequest {
	return &BindRequest{
		Header:      newHeader(PacketTypeBind, callID),
		MaxXmitFrag: defaultFrag,
		MaxRecvFrag: defaultFrag,
		Abstract:    SyntaxID{UUID: iface, Version: version},
		Transfer:    NDRSyntax,
	}
}

// Marshal serializes the request. The body is padded to four bytes with
// 0xFF before an auth trailer.
func (r *BindRequest) Marshal() []byte {
	buf := make([]byte, 0, 128+len(r.Auth))
	buf = append(buf, make([]byte, headerSize)...)
	buf = encoding.AppendUint16LE(buf, r.MaxXmitFrag)
	buf = encoding.AppendUint16LE(buf, r.MaxRecvFrag)
	buf = encoding.AppendUint32LE(buf, r.AssocGroup)
	buf = append(buf, 1, 0, 0, 0) // n_context_elem + reserved
	buf = encoding.AppendUint16LE(buf, r.ContextID)
	buf = append(buf, 1, 0) // n_transfer_syn + reserved
	buf = append(buf, r.Abstract.Marshal()...)
	buf = append(buf, r.Transfer.Marshal()...)

	if len(r.Auth) > 0 {
		pad := (4 - len(buf)%4) % 4
		for i := 0; i < pad; i++ {
			buf = append(buf, 0xFF)
		}
		t := SecTrailer{
			AuthType:      r.AuthType,
			AuthLevel:     AuthLevelPktPrivacy,
			AuthPadLength: uint8(pad),
			AuthContextID: r.AuthCtxID,
		}
		buf = append(buf, t.Marshal()...)
		buf = append(buf, r.Auth...)
		r.Header.AuthLength = uint16(len(r.Auth))
	}

	r.Header.FragLength = uint16(len(buf))
	copy(buf, r.Header.Marshal())
	return buf
}

// newAuth3 builds the auth3 PDU that finishes a three leg NTLM bind
func newAuth3(callID uint32, authType uint8, ctxID uint32, token []byte) []byte {
	h := newHeader(PacketTypeAuth3, callID)
	buf := make([]byte, headerSize+4, headerSize+4+trailerSize+len(token))
	t := SecTrailer{AuthType: authType, AuthLevel: AuthLevelPktPrivacy, AuthContextID: ctxID}
	buf = append(buf, t.Marshal()...)
	buf = append(buf, token...)
	h.FragLength = uint16(len(buf))
	h.AuthLength = uint16(len(token))
	copy(buf, h.Marshal())
	return buf
}

// BindAckResult represents the result of a context negotiation
type BindAckResult struct {
	Result         uint16
	Reason         uint16
	TransferSyntax SyntaxID
}

// BindAck represents a bind_ack or alter_context_resp PDU
type BindAck struct {
	Header      CommonHeader
	MaxXmitFrag uint16
	MaxRecvFrag uint16
	AssocGroup  uint32
	SecAddr     string
	Results     []BindAckResult
	Trailer     SecTrailer
	AuthValue   []byte
}

// Unmarshal deserializes a bind ack response
func (r *BindAck) Unmarshal(buf []byte) error {
	if err := r.Header.Unmarshal(buf); err != nil {
		return err
	}
	body, trailer, authValue, err := splitAuth(buf, &r.Header, headerSize)
	if err != nil {
		return err
	}
	r.Trailer = trailer
	r.AuthValue = authValue

	if len(body) < 10 {
		return ErrBufferTooSmall
	}
	r.MaxXmitFrag = encoding.Uint16LE(body[0:])
	r.MaxRecvFrag = encoding.Uint16LE(body[2:])
	r.AssocGroup = encoding.Uint32LE(body[4:])
	secAddrLen := int(encoding.Uint16LE(body[8:]))
	offset := 10

	if secAddrLen > 0 && offset+secAddrLen <= len(body) {
		r.SecAddr = string(body[offset : offset+secAddrLen-1]) // -1 for null terminator
	}
	offset += secAddrLen

	// offsets are relative to the PDU, which has a 16 byte header
	if pad := (headerSize + offset) % 4; pad != 0 {
		offset += 4 - pad
	}
	if offset+4 > len(body) {
		return ErrBufferTooSmall
	}
	n := int(body[offset])
	offset += 4

	r.Results = r.Results[:0]
	for i := 0; i < n && offset+24 <= len(body); i++ {
		result := BindAckResult{
			Result: encoding.Uint16LE(body[offset:]),
			Reason: encoding.Uint16LE(body[offset+2:]),
		}
		result.TransferSyntax.Unmarshal(body[offset+4:])
		offset += 24
		r.Results = append(r.Results, result)
	}
	return nil
}

// IsAccepted returns true if the first context was accepted
func (r *BindAck) IsAccepted() bool {
	return len(r.Results) > 0 && r.Results[0].Result == 0
}
