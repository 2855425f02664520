package types

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// FileID is the 16-byte handle returned by CREATE
type FileID struct {
	Persistent [8]byte
	Volatile   [8]byte
}

// Marshal serializes the FileID
func (f *FileID) Marshal() []byte {
	buf := make([]byte, 16)
	copy(buf[0:8], f.Persistent[:])
	copy(buf[8:16], f.Volatile[:])
	return buf
}

// Unmarshal reads a FileID from the first 16 bytes of buf
func (f *FileID) Unmarshal(buf []byte) {
	if len(buf) >= 16 {
		copy(f.Persistent[:], buf[0:8])
		copy(f.Volatile[:], buf[8:16])
	}
}

// IsZero reports an unset handle
func (f *FileID) IsZero() bool {
	return f.Persistent == [8]byte{} && f.Volatile == [8]byte{}
}

// impersonationImpersonation is the level every open is made at
const impersonationImpersonation uint32 = 2

// CreateRequest is an SMB2 CREATE request without create contexts
type CreateRequest struct {
	DesiredAccess     AccessMask
	FileAttributes    FileAttributes
	ShareAccess       ShareAccess
	CreateDisposition CreateDisposition
	CreateOptions     CreateOptions
	Name              []byte // UTF-16LE
}

// NewCreateRequest opens a file shared for read, write and delete
func NewCreateRequest(name []byte, access AccessMask, disposition CreateDisposition, options CreateOptions) *CreateRequest {
	return &CreateRequest{
		DesiredAccess:     access,
		FileAttributes:    FileAttributeNormal,
		ShareAccess:       FileShareRead | FileShareWrite | FileShareDelete,
		CreateDisposition: disposition,
		CreateOptions:     options,
		Name:              name,
	}
}

// NewCreatePipeRequest opens a named pipe. Pipes take no attributes,
// no options and no delete sharing.
func NewCreatePipeRequest(name []byte, access AccessMask) *CreateRequest {
	return &CreateRequest{
		DesiredAccess:     access,
		ShareAccess:       FileShareRead | FileShareWrite,
		CreateDisposition: FileOpen,
		Name:              name,
	}
}

// NewCreateSharedReadRequest creates a CREATE request that only shares read
// access with other openers. A file still held for writing by another
// process fails with STATUS_SHARING_VIOLATION instead of returning a
// partial read.
func NewCreateSharedReadRequest(name []byte, access AccessMask, disposition CreateDisposition) *CreateRequest {
	return &CreateRequest{
		DesiredAccess:     access,
		FileAttributes:    FileAttributeNormal,
		ShareAccess:       FileShareRead,
		CreateDisposition: disposition,
		CreateOptions:     FileNonDirectoryFile,
		Name:              name,
	}
}

// createFixedSize is the request body before the name buffer
const createFixedSize = 56

// Marshal serializes the CREATE request. The name follows the fixed part
// directly, at offset 0x78 from the start of the SMB2 header.
func (r *CreateRequest) Marshal() []byte {
	buf := make([]byte, 0, createFixedSize+max(len(r.Name), 1))
	buf = encoding.AppendUint16LE(buf, 57)
	buf = append(buf, 0, 0) // security flags, oplock level
	buf = encoding.AppendUint32LE(buf, impersonationImpersonation)
	buf = encoding.AppendUint64LE(buf, 0) // SmbCreateFlags
	buf = encoding.AppendUint64LE(buf, 0)
	buf = encoding.AppendUint32LE(buf, uint32(r.DesiredAccess))
	buf = encoding.AppendUint32LE(buf, uint32(r.FileAttributes))
	buf = encoding.AppendUint32LE(buf, uint32(r.ShareAccess))
	buf = encoding.AppendUint32LE(buf, uint32(r.CreateDisposition))
	buf = encoding.AppendUint32LE(buf, uint32(r.CreateOptions))
	buf = encoding.AppendUint16LE(buf, SMB2HeaderSize+createFixedSize)
	buf = encoding.AppendUint16LE(buf, uint16(len(r.Name)))
	buf = encoding.AppendUint32LE(buf, 0) // create contexts offset
	buf = encoding.AppendUint32LE(buf, 0) // and length
	if len(r.Name) == 0 {
		// the buffer is at least one byte
		return append(buf, 0)
	}
	return append(buf, r.Name...)
}

// CreateResponse holds the fields of an SMB2 CREATE response the client
// uses
type CreateResponse struct {
	CreateAction   uint32
	EndOfFile      uint64
	FileAttributes FileAttributes
	FileID         FileID
}

// Unmarshal deserializes a CREATE response
func (r *CreateResponse) Unmarshal(buf []byte) error {
	if len(buf) < 88 {
		return ErrBufferTooSmall
	}
	r.CreateAction = encoding.Uint32LE(buf[4:8])
	// creation, access, write and change times, allocation size
	r.EndOfFile = encoding.Uint64LE(buf[48:56])
	r.FileAttributes = FileAttributes(encoding.Uint32LE(buf[56:60]))
	r.FileID.Unmarshal(buf[64:80])
	return nil
}

// CloseRequest represents an SMB2 CLOSE request
type CloseRequest struct {
	FileID FileID
}

// NewCloseRequest creates a CLOSE request
func NewCloseRequest(fileID FileID) *CloseRequest {
	return &CloseRequest{FileID: fileID}
}

// Marshal serializes the CLOSE request
func (r *CloseRequest) Marshal() []byte {
	buf := make([]byte, 8, 24)
	encoding.PutUint16LE(buf[0:2], 24)
	// flags and reserved stay zero
	return append(buf, r.FileID.Marshal()...)
}
