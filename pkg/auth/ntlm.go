package auth

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

var ntlmSignature = [8]byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

// NTLM message types
const (
	NtLmNegotiate    = 0x00000001
	NtLmChallenge    = 0x00000002
	NtLmAuthenticate = 0x00000003
)

// NTLMSSP negotiate flags the client sets or inspects
const (
	NtlmsspNegotiateUnicode                 uint32 = 0x00000001
	NtlmsspRequestTarget                    uint32 = 0x00000004
	NtlmsspNegotiateSign                    uint32 = 0x00000010
	NtlmsspNegotiateSeal                    uint32 = 0x00000020
	NtlmsspNegotiateNTLM                    uint32 = 0x00000200
	NtlmsspNegotiateAlwaysSign              uint32 = 0x00008000
	NtlmsspNegotiateExtendedSessionSecurity uint32 = 0x00080000
	NtlmsspNegotiateTargetInfo              uint32 = 0x00800000
	NtlmsspNegotiateVersion                 uint32 = 0x02000000
	NtlmsspNegotiate128                     uint32 = 0x20000000
	NtlmsspNegotiateKeyExchange             uint32 = 0x40000000
	NtlmsspNegotiate56                      uint32 = 0x80000000
)

// DefaultNegotiateFlags asks for NTLMv2 with a 128-bit exchanged key
var DefaultNegotiateFlags = NtlmsspNegotiateUnicode | NtlmsspRequestTarget |
	NtlmsspNegotiateNTLM | NtlmsspNegotiateAlwaysSign |
	NtlmsspNegotiateExtendedSessionSecurity | NtlmsspNegotiateTargetInfo |
	NtlmsspNegotiateVersion | NtlmsspNegotiate128 |
	NtlmsspNegotiateKeyExchange | NtlmsspNegotiate56

// NTLMVersion is the 8-byte VERSION structure
type NTLMVersion struct {
	Major, Minor uint8
	Build        uint16
	Revision     uint8
}

// DefaultVersion claims Windows 10 2004 with NTLMSSP_REVISION_W2K3
func DefaultVersion() NTLMVersion {
	return NTLMVersion{Major: 10, Build: 19041, Revision: 15}
}

// Marshal serializes the version
func (v *NTLMVersion) Marshal() []byte {
	buf := []byte{v.Major, v.Minor, 0, 0, 0, 0, 0, v.Revision}
	encoding.PutUint16LE(buf[2:4], v.Build)
	return buf
}

func (v *NTLMVersion) unmarshal(buf []byte) {
	v.Major, v.Minor = buf[0], buf[1]
	v.Build = encoding.Uint16LE(buf[2:4])
	v.Revision = buf[7]
}

// AvPair is one AV_PAIR of a TargetInfo block
type AvPair struct {
	AvID  uint16
	Value []byte
}

// AV_PAIR IDs
const (
	MsvAvEOL             uint16 = 0x0000
	MsvAvNbComputerName  uint16 = 0x0001
	MsvAvDnsComputerName uint16 = 0x0003
	MsvAvDnsTreeName     uint16 = 0x0005
	MsvAvTimestamp       uint16 = 0x0007
	MsvAvTargetName      uint16 = 0x0009
)

// ParseAvPairs parses a TargetInfo block up to MsvAvEOL. A truncated
// trailing pair is dropped.
func ParseAvPairs(data []byte) []AvPair {
	var pairs []AvPair
	for len(data) >= 4 {
		id := encoding.Uint16LE(data[0:2])
		n := int(encoding.Uint16LE(data[2:4]))
		data = data[4:]
		if id == MsvAvEOL || n > len(data) {
			break
		}
		pairs = append(pairs, AvPair{AvID: id, Value: data[:n]})
		data = data[n:]
	}
	return pairs
}

// MarshalAvPairs serializes pairs and appends MsvAvEOL
func MarshalAvPairs(pairs []AvPair) []byte {
	var buf []byte
	for _, p := range pairs {
		buf = encoding.AppendUint16LE(buf, p.AvID)
		buf = encoding.AppendUint16LE(buf, uint16(len(p.Value)))
		buf = append(buf, p.Value...)
	}
	return append(buf, 0, 0, 0, 0)
}

// FindAvPair returns the first pair with id, or nil
func FindAvPair(pairs []AvPair, id uint16) *AvPair {
	for i := range pairs {
		if pairs[i].AvID == id {
			return &pairs[i]
		}
	}
	return nil
}
