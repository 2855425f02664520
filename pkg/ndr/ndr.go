// Package ndr provides the subset of Network Data Representation (NDR20)
// needed to marshal MS-TSCH requests and parse their responses.
package ndr

import (
	"errors"
	"fmt"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// ReferentID is the referent written for every non-null unique pointer
const ReferentID uint32 = 0x00020000

// maxStringCount bounds conformant strings read from the wire
const maxStringCount = 1 << 20

// ErrUnderflow is returned when a read runs past the end of the buffer
var ErrUnderflow = errors.New("ndr: buffer underflow")

// Reader provides sequential reading of NDR-encoded data
type Reader struct {
	data   []byte
	offset int
}

// NewReader creates an NDR reader
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns bytes left to read
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Skip advances the offset
func (r *Reader) Skip(n int) error {
	if r.offset+n > len(r.data) {
		return ErrUnderflow
	}
	r.offset += n
	return nil
}

// Align aligns to n-byte boundary
func (r *Reader) Align(n int) {
	if n > 0 && r.offset%n != 0 {
		r.offset += n - (r.offset % n)
	}
}

// ReadUint16 reads a little-endian uint16
func (r *Reader) ReadUint16() (uint16, error) {
	r.Align(2)
	if r.offset+2 > len(r.data) {
		return 0, ErrUnderflow
	}
	v := encoding.Uint16LE(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32
func (r *Reader) ReadUint32() (uint32, error) {
	r.Align(4)
	if r.offset+4 > len(r.data) {
		return 0, ErrUnderflow
	}
	v := encoding.Uint32LE(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

// ReadBytes reads n bytes
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnderflow
	}
	data := make([]byte, n)
	copy(data, r.data[r.offset:r.offset+n])
	r.offset += n
	return data, nil
}

// ReadPointer reads a pointer referent and reports whether it is non-null
func (r *Reader) ReadPointer() (bool, error) {
	ptr, err := r.ReadUint32()
	if err != nil {
		return false, err
	}
	return ptr != 0, nil
}

// ReadConformantString reads a conformant varying UTF-16 string
func (r *Reader) ReadConformantString() (string, error) {
	maxCount, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if _, err := r.ReadUint32(); err != nil { // offset
		return "", err
	}
	actual, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if actual > maxCount || actual > maxStringCount {
		return "", fmt.Errorf("ndr: invalid string count %d (max %d)", actual, maxCount)
	}

	b, err := r.ReadBytes(int(actual) * 2)
	if err != nil {
		return "", err
	}
	r.Align(4)
	return DecodeUTF16LE(b), nil
}

// DecodeUTF16LE decodes UTF-16LE bytes, dropping trailing NULs
func DecodeUTF16LE(b []byte) string {
	for len(b) >= 2 && b[len(b)-2] == 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-2]
	}
	return encoding.FromUTF16LE(b)
}

// Writer provides NDR encoding
type Writer struct {
	data []byte
}

// NewWriter creates an NDR writer
func NewWriter() *Writer {
	return &Writer{data: make([]byte, 0, 256)}
}

// Bytes returns the written data
func (w *Writer) Bytes() []byte {
	return w.data
}

// Align pads to n-byte boundary
func (w *Writer) Align(n int) {
	for len(w.data)%n != 0 {
		w.data = append(w.data, 0)
	}
}

// WriteUint32 writes a little-endian uint32
func (w *Writer) WriteUint32(v uint32) {
	w.Align(4)
	w.data = encoding.AppendUint32LE(w.data, v)
}

// WriteNullPointer writes a null unique pointer
func (w *Writer) WriteNullPointer() {
	w.WriteUint32(0)
}

// WriteWString writes a [string] wchar_t* passed by reference: a
// conformant varying array including the terminating NUL, padded to 4.
func (w *Writer) WriteWString(s string) {
	u := encoding.ToUTF16LEWithNull(s)
	count := uint32(len(u) / 2)
	w.WriteUint32(count) // max count
	w.WriteUint32(0)     // offset
	w.WriteUint32(count) // actual count
	w.data = append(w.data, u...)
	w.Align(4)
}

// WriteLPWString writes a [unique, string] wchar_t*: referent then the
// deferred string, which for top-level parameters follows immediately.
func (w *Writer) WriteLPWString(s string) {
	w.WriteUint32(ReferentID)
	w.WriteWString(s)
}
