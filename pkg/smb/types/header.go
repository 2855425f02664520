package types

import (
	"errors"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

var errBadProtocolID = errors.New("invalid SMB2 protocol ID")

// Header is the 64-byte sync SMB2 header. Credit charge and credit request
// are always one; the client never compounds.
type Header struct {
	Status    NTStatus
	Command   Command
	Credits   uint16
	Flags     HeaderFlags
	MessageID uint64
	TreeID    uint32
	SessionID uint64
	Signature [16]byte
}

// NewHeader creates a request header for cmd
func NewHeader(cmd Command, messageID uint64) *Header {
	return &Header{Command: cmd, MessageID: messageID, Credits: 1}
}

// Marshal serializes the header
func (h *Header) Marshal() []byte {
	buf := make([]byte, 0, SMB2HeaderSize)
	buf = append(buf, SMB2ProtocolID[:]...)
	buf = encoding.AppendUint16LE(buf, SMB2HeaderSize)
	buf = encoding.AppendUint16LE(buf, 1) // credit charge
	buf = encoding.AppendUint32LE(buf, uint32(h.Status))
	buf = encoding.AppendUint16LE(buf, uint16(h.Command))
	buf = encoding.AppendUint16LE(buf, h.Credits)
	buf = encoding.AppendUint32LE(buf, uint32(h.Flags))
	buf = encoding.AppendUint32LE(buf, 0) // next command
	buf = encoding.AppendUint64LE(buf, h.MessageID)
	buf = encoding.AppendUint32LE(buf, 0) // process ID
	buf = encoding.AppendUint32LE(buf, h.TreeID)
	buf = encoding.AppendUint64LE(buf, h.SessionID)
	return append(buf, h.Signature[:]...)
}

// Unmarshal parses a header from the start of buf
func (h *Header) Unmarshal(buf []byte) error {
	if len(buf) < SMB2HeaderSize {
		return ErrBufferTooSmall
	}
	if [4]byte(buf[0:4]) != SMB2ProtocolID {
		return errBadProtocolID
	}
	h.Status = NTStatus(encoding.Uint32LE(buf[8:12]))
	h.Command = Command(encoding.Uint16LE(buf[12:14]))
	h.Credits = encoding.Uint16LE(buf[14:16])
	h.Flags = HeaderFlags(encoding.Uint32LE(buf[16:20]))
	h.MessageID = encoding.Uint64LE(buf[24:32])
	h.TreeID = encoding.Uint32LE(buf[36:40])
	h.SessionID = encoding.Uint64LE(buf[40:48])
	copy(h.Signature[:], buf[48:64])
	return nil
}
