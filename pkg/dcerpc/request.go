package dcerpc

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// authPadByte fills the gap between stub data and sec_trailer
const authPadByte = 0xBB

// Request represents one fragment of a REQUEST PDU
type Request struct {
	Header    CommonHeader
	AllocHint uint32
	ContextID uint16
	Opnum     uint16
	StubData  []byte
}

// NewRequest creates an unfragmented RPC request
func NewRequest(opnum uint16, stubData []byte, callID uint32) *Request {
	return &Request{
		Header:    newHeader(PacketTypeRequest, callID),
		AllocHint: uint32(len(stubData)),
		Opnum:     opnum,
		StubData:  stubData,
	}
}

// Marshal serializes the request without authentication
func (r *Request) Marshal() []byte {
	buf := r.marshalBody(0)
	r.Header.FragLength = uint16(len(buf))
	copy(buf, r.Header.Marshal())
	return buf
}

// marshalBody returns header space, request fields, stub and pad bytes
func (r *Request) marshalBody(pad int) []byte {
	buf := make([]byte, requestHdrSize, requestHdrSize+len(r.StubData)+pad+trailerSize+64)
	encoding.PutUint32LE(buf[16:20], r.AllocHint)
	encoding.PutUint16LE(buf[20:22], r.ContextID)
	encoding.PutUint16LE(buf[22:24], r.Opnum)
	buf = append(buf, r.StubData...)
	for i := 0; i < pad; i++ {
		buf = append(buf, authPadByte)
	}
	return buf
}

// MarshalSealed serializes the request sealed by a. The stub and its pad
// are encrypted in place and the verifier fills auth_value.
func (r *Request) MarshalSealed(a Authenticator, authCtxID uint32) ([]byte, error) {
	align := a.PadAlign()
	pad := (align - len(r.StubData)%align) % align
	buf := r.marshalBody(pad)
	t := SecTrailer{
		AuthType:      a.AuthType(),
		AuthLevel:     AuthLevelPktPrivacy,
		AuthPadLength: uint8(pad),
		AuthContextID: authCtxID,
	}
	buf = append(buf, t.Marshal()...)

	vlen := a.VerifierLen()
	r.Header.FragLength = uint16(len(buf) + vlen)
	r.Header.AuthLength = uint16(vlen)
	copy(buf, r.Header.Marshal())

	payload := buf[requestHdrSize : requestHdrSize+len(r.StubData)+pad]
	verifier, err := a.Seal(buf, payload)
	if err != nil {
		return nil, err
	}
	return append(buf, verifier...), nil
}

// Response represents one fragment of a RESPONSE PDU
type Response struct {
	Header      CommonHeader
	AllocHint   uint32
	ContextID   uint16
	CancelCount uint8
	StubData    []byte
	Trailer     SecTrailer
	AuthValue   []byte
}

// Unmarshal deserializes a response. With auth the stub still includes the
// auth pad and is sealed.
func (r *Response) Unmarshal(buf []byte) error {
	if err := r.Header.Unmarshal(buf); err != nil {
		return err
	}
	if len(buf) < requestHdrSize {
		return ErrBufferTooSmall
	}
	r.AllocHint = encoding.Uint32LE(buf[16:])
	r.ContextID = encoding.Uint16LE(buf[20:])
	r.CancelCount = buf[22]

	body, trailer, authValue, err := splitAuth(buf, &r.Header, requestHdrSize)
	if err != nil {
		return err
	}
	r.StubData = body
	r.Trailer = trailer
	r.AuthValue = authValue
	return nil
}

// Unseal decrypts the stub in place with a and strips the auth pad
func (r *Response) Unseal(pdu []byte, a Authenticator) error {
	msg := pdu[:len(pdu)-len(r.AuthValue)]
	if err := a.Unseal(msg, r.StubData, r.AuthValue); err != nil {
		return err
	}
	pad := int(r.Trailer.AuthPadLength)
	if pad > len(r.StubData) {
		return ErrBufferTooSmall
	}
	r.StubData = r.StubData[:len(r.StubData)-pad]
	return nil
}

// Fault represents an RPC FAULT response
type Fault struct {
	Header      CommonHeader
	AllocHint   uint32
	ContextID   uint16
	CancelCount uint8
	Status      uint32 // NTSTATUS or RPC status
}

// Unmarshal deserializes a fault response
func (r *Fault) Unmarshal(buf []byte) error {
	if len(buf) < 28 {
		return ErrBufferTooSmall
	}
	if err := r.Header.Unmarshal(buf); err != nil {
		return err
	}
	r.AllocHint = encoding.Uint32LE(buf[16:])
	r.ContextID = encoding.Uint16LE(buf[20:])
	r.CancelCount = buf[22]
	r.Status = encoding.Uint32LE(buf[24:])
	return nil
}
