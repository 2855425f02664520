package types

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// ReadRequest is an SMB2 READ request
type ReadRequest struct {
	Length uint32
	Offset uint64
	FileID FileID
}

// NewReadRequest creates a READ request
func NewReadRequest(fileID FileID, offset uint64, length uint32) *ReadRequest {
	return &ReadRequest{Length: length, Offset: offset, FileID: fileID}
}

// readDataOffset asks for the data right after the 16-byte response body
const readDataOffset = SMB2HeaderSize + 16

// Marshal serializes the READ request. Minimum count, channel and
// remaining bytes are zero.
func (r *ReadRequest) Marshal() []byte {
	buf := make([]byte, 49)
	encoding.PutUint16LE(buf[0:2], 49)
	buf[2] = readDataOffset
	encoding.PutUint32LE(buf[4:8], r.Length)
	encoding.PutUint64LE(buf[8:16], r.Offset)
	copy(buf[16:32], r.FileID.Marshal())
	return buf
}

// ReadResponse is an SMB2 READ response
type ReadResponse struct {
	DataRemaining uint32
	Data          []byte
}

// Unmarshal deserializes a READ response. DataOffset counts from the start
// of the SMB2 header, buf starts after it.
func (r *ReadResponse) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return ErrBufferTooSmall
	}
	dataOffset := int(buf[2]) - SMB2HeaderSize
	dataLength := int(encoding.Uint32LE(buf[4:8]))
	r.DataRemaining = encoding.Uint32LE(buf[8:12])
	r.Data = nil
	if dataLength == 0 {
		return nil
	}
	if dataOffset < 0 || dataOffset+dataLength > len(buf) {
		return ErrBufferTooSmall
	}
	r.Data = append([]byte(nil), buf[dataOffset:dataOffset+dataLength]...)
	return nil
}

// WriteRequest is an SMB2 WRITE request
type WriteRequest struct {
	Offset uint64
	FileID FileID
	Data   []byte
}

// NewWriteRequest creates a WRITE request
func NewWriteRequest(fileID FileID, offset uint64, data []byte) *WriteRequest {
	return &WriteRequest{Offset: offset, FileID: fileID, Data: data}
}

// writeDataOffset places the data right after the 48-byte fixed part
const writeDataOffset = SMB2HeaderSize + 48

// Marshal serializes the WRITE request
func (r *WriteRequest) Marshal() []byte {
	buf := make([]byte, 48, 48+max(len(r.Data), 1))
	encoding.PutUint16LE(buf[0:2], 49)
	encoding.PutUint16LE(buf[2:4], writeDataOffset)
	encoding.PutUint32LE(buf[4:8], uint32(len(r.Data)))
	encoding.PutUint64LE(buf[8:16], r.Offset)
	copy(buf[16:32], r.FileID.Marshal())
	// channel, remaining bytes, channel info and flags stay zero
	if len(r.Data) == 0 {
		return append(buf, 0)
	}
	return append(buf, r.Data...)
}

// WriteResponse is an SMB2 WRITE response
type WriteResponse struct {
	Count uint32
}

// Unmarshal deserializes a WRITE response
func (r *WriteResponse) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return ErrBufferTooSmall
	}
	r.Count = encoding.Uint32LE(buf[4:8])
	return nil
}
