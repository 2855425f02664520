// Package pipe provides named pipe transport over an SMB IPC$ tree.
package pipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/ineffectivecoder/tschexec/pkg/smb"
	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// ErrNotIPC is returned when the tree is not a pipe share
var ErrNotIPC = errors.New("tree is not an IPC$ share")

// Pipe is an open named pipe. Reads and writes always use offset zero.
type Pipe struct {
	file *smb.File
	tree *smb.Tree
	name string
	// owned trees are disconnected on Close
	owned bool
}

// Open opens pipeName (e.g. "atsvc") on tree for RPC traffic with
// read/write data access.
func Open(ctx context.Context, tree *smb.Tree, pipeName string) (*Pipe, error) {
	if !tree.IsPipe() {
		return nil, ErrNotIPC
	}
	file, err := tree.OpenPipe(ctx, pipeName, types.FileReadData|types.FileWriteData)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipe %s: %w", pipeName, err)
	}
	return &Pipe{file: file, tree: tree, name: pipeName}, nil
}

// Dial connects a fresh IPC$ tree on client and opens pipeName on it.
// Closing the pipe also disconnects the tree.
func Dial(ctx context.Context, client *smb.Client, pipeName string) (*Pipe, error) {
	tree, err := client.GetIPCTree(ctx)
	if err != nil {
		return nil, err
	}
	p, err := Open(ctx, tree, pipeName)
	if err != nil {
		tree.Disconnect(ctx)
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Read reads the next chunk of the current pipe message. A message larger
// than buf is returned over several reads.
func (p *Pipe) Read(buf []byte) (int, error) {
	return p.file.ReadAt(buf, 0)
}

// Write writes one pipe message
func (p *Pipe) Write(data []byte) (int, error) {
	return p.file.WriteAt(data, 0)
}

// Close closes the pipe handle, and the tree when Dial created it
func (p *Pipe) Close() error {
	err := p.file.Close()
	if p.owned {
		if derr := p.tree.Disconnect(context.Background()); err == nil {
			err = derr
		}
	}
	return err
}

// Name returns the pipe name
func (p *Pipe) Name() string {
	return p.name
}
