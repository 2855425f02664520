package auth

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// NegotiateMessage is an NTLMSSP NEGOTIATE_MESSAGE without domain or
// workstation
type NegotiateMessage struct {
	NegotiateFlags uint32
	Version        NTLMVersion
}

// NewNegotiateMessage creates a type 1 message with DefaultNegotiateFlags
func NewNegotiateMessage() *NegotiateMessage {
	return NewNegotiateMessageWithFlags(DefaultNegotiateFlags)
}

// NewNegotiateMessageWithFlags creates a type 1 message requesting flags.
// The Version field is only sent when flags carry NtlmsspNegotiateVersion.
func NewNegotiateMessageWithFlags(flags uint32) *NegotiateMessage {
	return &NegotiateMessage{NegotiateFlags: flags, Version: DefaultVersion()}
}

// Marshal serializes the message
func (m *NegotiateMessage) Marshal() []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, ntlmSignature[:]...)
	buf = encoding.AppendUint32LE(buf, NtLmNegotiate)
	buf = encoding.AppendUint32LE(buf, m.NegotiateFlags)
	buf = append(buf, make([]byte, 16)...) // empty domain and workstation fields
	if m.NegotiateFlags&NtlmsspNegotiateVersion != 0 {
		buf = append(buf, m.Version.Marshal()...)
	}
	return buf
}
