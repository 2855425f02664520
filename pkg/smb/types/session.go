package types

import (
	"errors"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// SessionSetupRequest is an SMB2 SESSION_SETUP request carrying one
// authentication token
type SessionSetupRequest struct {
	SecurityMode   SecurityMode
	SecurityBuffer []byte
}

// NewSessionSetupRequest wraps token in a session setup request
func NewSessionSetupRequest(token []byte) *SessionSetupRequest {
	return &SessionSetupRequest{SecurityMode: NegotiateSigningEnabled, SecurityBuffer: token}
}

// Marshal serializes the request. The token follows the 24-byte body.
func (r *SessionSetupRequest) Marshal() []byte {
	buf := make([]byte, 0, 24+len(r.SecurityBuffer))
	buf = encoding.AppendUint16LE(buf, 25)
	buf = append(buf, 0, byte(r.SecurityMode))
	buf = encoding.AppendUint32LE(buf, uint32(GlobalCapDFS))
	buf = encoding.AppendUint32LE(buf, 0) // channel
	buf = encoding.AppendUint16LE(buf, SMB2HeaderSize+24)
	buf = encoding.AppendUint16LE(buf, uint16(len(r.SecurityBuffer)))
	buf = encoding.AppendUint64LE(buf, 0) // previous session
	return append(buf, r.SecurityBuffer...)
}

const sessionFlagIsGuest uint16 = 0x0001

// SessionSetupResponse is an SMB2 SESSION_SETUP response
type SessionSetupResponse struct {
	SessionFlags   uint16
	SecurityBuffer []byte
}

// Unmarshal deserializes a session setup response
func (r *SessionSetupResponse) Unmarshal(buf []byte) error {
	if len(buf) < 8 {
		return ErrBufferTooSmall
	}
	if encoding.Uint16LE(buf[0:2]) != 9 {
		return errors.New("invalid session setup response structure size")
	}
	r.SessionFlags = encoding.Uint16LE(buf[2:4])
	r.SecurityBuffer = securityBuffer(buf, encoding.Uint16LE(buf[4:6]), encoding.Uint16LE(buf[6:8]))
	return nil
}

// IsGuest reports a guest session
func (r *SessionSetupResponse) IsGuest() bool {
	return r.SessionFlags&sessionFlagIsGuest != 0
}

// LogoffRequest is an SMB2 LOGOFF request
type LogoffRequest struct{}

// Marshal serializes the request
func (r *LogoffRequest) Marshal() []byte {
	return []byte{4, 0, 0, 0}
}
