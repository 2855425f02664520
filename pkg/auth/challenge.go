package auth

import (
	"errors"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// ChallengeMessage is a parsed NTLMSSP CHALLENGE_MESSAGE
type ChallengeMessage struct {
	NegotiateFlags  uint32
	ServerChallenge [8]byte
	Version         NTLMVersion
	TargetName      []byte
	TargetInfo      []byte
	AvPairs         []AvPair
}

// ParseChallengeMessage parses a type 2 message. Payload fields pointing
// outside data are left empty.
func ParseChallengeMessage(data []byte) (*ChallengeMessage, error) {
	if len(data) < 32 {
		return nil, errors.New("challenge message too short")
	}
	if [8]byte(data[0:8]) != ntlmSignature {
		return nil, errors.New("invalid NTLMSSP signature")
	}
	if encoding.Uint32LE(data[8:12]) != NtLmChallenge {
		return nil, errors.New("not a challenge message")
	}

	m := &ChallengeMessage{NegotiateFlags: encoding.Uint32LE(data[20:24])}
	copy(m.ServerChallenge[:], data[24:32])
	m.TargetName = payloadField(data, 12)

	if len(data) >= 48 {
		m.TargetInfo = payloadField(data, 40)
		m.AvPairs = ParseAvPairs(m.TargetInfo)
	}
	if len(data) >= 56 && m.NegotiateFlags&NtlmsspNegotiateVersion != 0 {
		m.Version.unmarshal(data[48:56])
	}
	return m, nil
}

// payloadField resolves the Len/MaxLen/Offset triple at data[at:at+8]
func payloadField(data []byte, at int) []byte {
	n := int(encoding.Uint16LE(data[at : at+2]))
	off := int(encoding.Uint32LE(data[at+4 : at+8]))
	if n == 0 || off+n > len(data) {
		return nil
	}
	return append([]byte(nil), data[off:off+n]...)
}

// GetTimestamp returns the server's MsvAvTimestamp value, if sent
func (m *ChallengeMessage) GetTimestamp() []byte {
	if pair := FindAvPair(m.AvPairs, MsvAvTimestamp); pair != nil {
		return pair.Value
	}
	return nil
}

// HostName returns the server's DNS computer name, falling back to the
// NetBIOS name.
func (m *ChallengeMessage) HostName() string {
	for _, id := range []uint16{MsvAvDnsComputerName, MsvAvNbComputerName} {
		if pair := FindAvPair(m.AvPairs, id); pair != nil {
			return encoding.FromUTF16LE(pair.Value)
		}
	}
	return ""
}
