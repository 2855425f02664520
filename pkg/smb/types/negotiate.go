package types

import (
	"errors"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// NegotiateRequest is an SMB2 NEGOTIATE request. No 3.1.1 negotiate
// contexts are sent, so 3.1.1 is never offered by default.
type NegotiateRequest struct {
	SecurityMode SecurityMode
	Capabilities Capabilities
	ClientGUID   [16]byte
	Dialects     []Dialect
}

// NewNegotiateRequest offers SMB 2.0.2 through 3.0.2 with signing enabled
func NewNegotiateRequest() *NegotiateRequest {
	return &NegotiateRequest{
		SecurityMode: NegotiateSigningEnabled,
		Capabilities: GlobalCapDFS | GlobalCapLargeMTU,
		Dialects:     []Dialect{DialectSMB2_0_2, DialectSMB2_1, DialectSMB3_0, DialectSMB3_0_2},
	}
}

// Marshal serializes the request
func (r *NegotiateRequest) Marshal() []byte {
	buf := make([]byte, 0, 36+2*len(r.Dialects))
	buf = encoding.AppendUint16LE(buf, 36)
	buf = encoding.AppendUint16LE(buf, uint16(len(r.Dialects)))
	buf = encoding.AppendUint16LE(buf, uint16(r.SecurityMode))
	buf = encoding.AppendUint16LE(buf, 0)
	buf = encoding.AppendUint32LE(buf, uint32(r.Capabilities))
	buf = append(buf, r.ClientGUID[:]...)
	buf = append(buf, make([]byte, 8)...) // context offset, count, reserved
	for _, d := range r.Dialects {
		buf = encoding.AppendUint16LE(buf, uint16(d))
	}
	return buf
}

// NegotiateResponse holds the server's choice from a NEGOTIATE response
type NegotiateResponse struct {
	SecurityMode    SecurityMode
	DialectRevision Dialect
	ServerGUID      [16]byte
	Capabilities    Capabilities
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	SecurityBuffer  []byte
}

// Unmarshal deserializes a negotiate response
func (r *NegotiateResponse) Unmarshal(buf []byte) error {
	if len(buf) < 64 {
		return ErrBufferTooSmall
	}
	if encoding.Uint16LE(buf[0:2]) != 65 {
		return errors.New("invalid negotiate response structure size")
	}
	r.SecurityMode = SecurityMode(encoding.Uint16LE(buf[2:4]))
	r.DialectRevision = Dialect(encoding.Uint16LE(buf[4:6]))
	copy(r.ServerGUID[:], buf[8:24])
	r.Capabilities = Capabilities(encoding.Uint32LE(buf[24:28]))
	r.MaxTransactSize = encoding.Uint32LE(buf[28:32])
	r.MaxReadSize = encoding.Uint32LE(buf[32:36])
	r.MaxWriteSize = encoding.Uint32LE(buf[36:40])
	// system and server start times are ignored
	r.SecurityBuffer = securityBuffer(buf, encoding.Uint16LE(buf[56:58]), encoding.Uint16LE(buf[58:60]))
	return nil
}

// IsSMB3 reports an SMB 3.x dialect
func (r *NegotiateResponse) IsSMB3() bool {
	return r.DialectRevision >= DialectSMB3_0
}

// RequiresSigning reports whether the server requires signed messages
func (r *NegotiateResponse) RequiresSigning() bool {
	return r.SecurityMode&NegotiateSigningRequired != 0
}

// securityBuffer copies a buffer whose offset counts from the start of the
// SMB2 header out of body. Out of range buffers are dropped.
func securityBuffer(body []byte, offset, length uint16) []byte {
	start := int(offset) - SMB2HeaderSize
	if length == 0 || start < 0 || start+int(length) > len(body) {
		return nil
	}
	return append([]byte(nil), body[start:start+int(length)]...)
}
