package smb

import (
	"context"
	"fmt"
	"io"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// defaultIOSize is used when the server advertised no read/write limit
const defaultIOSize = 65536

// File represents an open file or named pipe handle
type File struct {
	tree   *Tree
	fileID types.FileID
	name   string
	size   uint64
	offset int64
}

// OpenFile opens a file on the share sharing read access only. A file
// another process still has open for writing fails with a sharing
// violation.
func (t *Tree) OpenFile(ctx context.Context, path string, access types.AccessMask, disposition types.CreateDisposition) (*File, error) {
	return t.create(ctx, path, types.NewCreateSharedReadRequest(encoding.ToUTF16LE(path), access, disposition))
}

// OpenPipe opens a named pipe on the IPC$ share
func (t *Tree) OpenPipe(ctx context.Context, pipeName string, access types.AccessMask) (*File, error) {
	return t.create(ctx, pipeName, types.NewCreatePipeRequest(encoding.ToUTF16LE(pipeName), access))
}

func (t *Tree) create(ctx context.Context, name string, req *types.CreateRequest) (*File, error) {
	_, body, err := t.session.exchange(types.CommandCreate, t.treeID, req.Marshal())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	var createResp types.CreateResponse
	if err := createResp.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}

	return &File{
		tree:   t,
		fileID: createResp.FileID,
		name:   name,
		size:   createResp.EndOfFile,
	}, nil
}

// Delete removes a file by opening it with DELETE_ON_CLOSE and closing it
func (t *Tree) Delete(ctx context.Context, path string) error {
	req := types.NewCreateRequest(encoding.ToUTF16LE(path), types.Delete, types.FileOpen,
		types.FileDeleteOnClose|types.FileNonDirectoryFile)
	f, err := t.create(ctx, path, req)
	if err != nil {
		return err
	}
	return f.Close()
}

// ReadAt reads at most one server read unit at off. Pipe reads that
// overflow return the partial message with a nil error; the caller reads
// again for the rest.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	limit := f.tree.session.maxReadSize
	if limit == 0 {
		limit = defaultIOSize
	}
	readLen := uint32(len(p))
	if readLen > limit {
		readLen = limit
	}

	req := types.NewReadRequest(f.fileID, uint64(off), readLen)
	hdr, body, err := f.tree.session.exchange(types.CommandRead, f.tree.treeID, req.Marshal(), types.StatusEndOfFile)
	if err != nil {
		return 0, fmt.Errorf("read failed: %w", err)
	}
	if hdr.Status == types.StatusEndOfFile {
		return 0, io.EOF
	}

	var readResp types.ReadResponse
	if err := readResp.Unmarshal(body); err != nil {
		return 0, fmt.Errorf("failed to parse read response: %w", err)
	}

	n := copy(p, readResp.Data)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Read reads from the current offset
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// Write writes at the current offset
func (f *File) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// maxPrealloc caps the buffer sized from the server-reported file size
const maxPrealloc = 1 << 20

// ReadAll reads the file from offset zero until end of file
func (f *File) ReadAll() ([]byte, error) {
	out := make([]byte, 0, min(f.size, maxPrealloc))
	buf := make([]byte, defaultIOSize)
	var off int64
	for {
		n, err := f.ReadAt(buf, off)
		out = append(out, buf[:n]...)
		off += int64(n)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// WriteAt writes p at off, splitting it into server-sized chunks
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	maxWrite := f.tree.session.maxWriteSize
	if maxWrite == 0 {
		maxWrite = defaultIOSize
	}

	written := 0
	for len(p) > 0 {
		chunk := p
		if uint32(len(chunk)) > maxWrite {
			chunk = chunk[:maxWrite]
		}

		req := types.NewWriteRequest(f.fileID, uint64(off), chunk)
		_, body, err := f.tree.session.exchange(types.CommandWrite, f.tree.treeID, req.Marshal())
		if err != nil {
			return written, fmt.Errorf("write failed: %w", err)
		}

		var writeResp types.WriteResponse
		if err := writeResp.Unmarshal(body); err != nil {
			return written, fmt.Errorf("failed to parse write response: %w", err)
		}
		if writeResp.Count == 0 {
			return written, io.ErrShortWrite
		}

		written += int(writeResp.Count)
		off += int64(writeResp.Count)
		p = p[writeResp.Count:]
	}
	return written, nil
}

// Close closes the file handle
func (f *File) Close() error {
	if f.fileID.IsZero() {
		return nil
	}
	req := types.NewCloseRequest(f.fileID)
	if _, _, err := f.tree.session.exchange(types.CommandClose, f.tree.treeID, req.Marshal()); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	f.fileID = types.FileID{}
	return nil
}

// Name returns the file name
func (f *File) Name() string {
	return f.name
}

// Size returns the end-of-file reported when the file was opened
func (f *File) Size() int64 {
	return int64(f.size)
}
