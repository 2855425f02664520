package types

import (
	"errors"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// TreeConnectRequest is an SMB2 TREE_CONNECT request for a UNC path
type TreeConnectRequest struct {
	Path []byte // UTF-16LE
}

// NewTreeConnectRequest creates a tree connect request
func NewTreeConnectRequest(path []byte) *TreeConnectRequest {
	return &TreeConnectRequest{Path: path}
}

// Marshal serializes the request with the path right after the 8-byte body
func (r *TreeConnectRequest) Marshal() []byte {
	buf := make([]byte, 0, 8+len(r.Path))
	buf = encoding.AppendUint16LE(buf, 9)
	buf = encoding.AppendUint16LE(buf, 0)
	buf = encoding.AppendUint16LE(buf, SMB2HeaderSize+8)
	buf = encoding.AppendUint16LE(buf, uint16(len(r.Path)))
	return append(buf, r.Path...)
}

// TreeConnectResponse is the part of TREE_CONNECT response the client needs
type TreeConnectResponse struct {
	ShareType     ShareType
	MaximalAccess AccessMask
}

// Unmarshal deserializes a tree connect response
func (r *TreeConnectResponse) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return ErrBufferTooSmall
	}
	if encoding.Uint16LE(buf[0:2]) != 16 {
		return errors.New("invalid tree connect response structure size")
	}
	r.ShareType = ShareType(buf[2])
	r.MaximalAccess = AccessMask(encoding.Uint32LE(buf[12:16]))
	return nil
}

// TreeDisconnectRequest is an SMB2 TREE_DISCONNECT request
type TreeDisconnectRequest struct{}

// NewTreeDisconnectRequest creates a tree disconnect request
func NewTreeDisconnectRequest() *TreeDisconnectRequest {
	return &TreeDisconnectRequest{}
}

// Marshal serializes the request
func (r *TreeDisconnectRequest) Marshal() []byte {
	return []byte{4, 0, 0, 0}
}
