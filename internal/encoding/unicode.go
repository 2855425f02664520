package encoding

import (
	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ToUTF16LE encodes s without a terminator. Invalid UTF-8 becomes U+FFFD.
func ToUTF16LE(s string) []byte {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return b
}

// FromUTF16LE decodes b, ignoring a dangling odd byte
func FromUTF16LE(b []byte) string {
	b = b[:len(b)&^1]
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// ToUTF16LEWithNull is ToUTF16LE plus a two-byte NUL terminator
func ToUTF16LEWithNull(s string) []byte {
	return append(ToUTF16LE(s), 0, 0)
}
