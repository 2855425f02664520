// Package encoding holds the little-endian and UTF-16LE helpers shared by
// the SMB2, NTLMSSP and DCE/RPC codecs.
package encoding

import "encoding/binary"

var le = binary.LittleEndian

func PutUint16LE(b []byte, v uint16) { le.PutUint16(b, v) }
func PutUint32LE(b []byte, v uint32) { le.PutUint32(b, v) }
func PutUint64LE(b []byte, v uint64) { le.PutUint64(b, v) }

func Uint16LE(b []byte) uint16 { return le.Uint16(b) }
func Uint32LE(b []byte) uint32 { return le.Uint32(b) }
func Uint64LE(b []byte) uint64 { return le.Uint64(b) }

func AppendUint16LE(b []byte, v uint16) []byte { return le.AppendUint16(b, v) }
func AppendUint32LE(b []byte, v uint32) []byte { return le.AppendUint32(b, v) }
func AppendUint64LE(b []byte, v uint64) []byte { return le.AppendUint64(b, v) }
