package dcerpc

import (
	"github.com/google/uuid"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// UUID is an interface or transfer syntax UUID in DCE wire order: the
// first three groups little endian.
type UUID [16]byte

// ParseUUID accepts the canonical or the undashed form
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID{
		u[3], u[2], u[1], u[0],
		u[5], u[4],
		u[7], u[6],
		u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15],
	}, nil
}

// MustParseUUID is ParseUUID for package-level constants
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String formats the UUID in canonical form
func (u UUID) String() string {
	return uuid.UUID{
		u[3], u[2], u[1], u[0],
		u[5], u[4],
		u[7], u[6],
		u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15],
	}.String()
}

// SyntaxID names an interface or transfer syntax and its version
type SyntaxID struct {
	UUID    UUID
	Version uint32
}

// Marshal serializes the syntax ID
func (s *SyntaxID) Marshal() []byte {
	return encoding.AppendUint32LE(append(make([]byte, 0, 20), s.UUID[:]...), s.Version)
}

// Unmarshal deserializes a syntax ID
func (s *SyntaxID) Unmarshal(buf []byte) error {
	if len(buf) < 20 {
		return ErrBufferTooSmall
	}
	copy(s.UUID[:], buf[0:16])
	s.Version = encoding.Uint32LE(buf[16:20])
	return nil
}

// NDRSyntax is the NDR 2.0 transfer syntax
var NDRSyntax = SyntaxID{
	UUID:    MustParseUUID("8a885d04-1ceb-11c9-9fe8-08002b104860"),
	Version: 2,
}
