package smb

import (
	"context"
	"fmt"

	"github.com/ineffectivecoder/tschexec/internal/encoding"
	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// Tree represents a connected share
type Tree struct {
	session   *Session
	treeID    uint32
	shareType types.ShareType
	shareName string
}

// TreeConnect connects to \\host\shareName
func (s *Session) TreeConnect(ctx context.Context, shareName string) (*Tree, error) {
	if !s.isAuthenticated {
		return nil, ErrNotConnected
	}

	uncPath := fmt.Sprintf("\\\\%s\\%s", s.transport.RemoteHost(), shareName)
	req := types.NewTreeConnectRequest(encoding.ToUTF16LE(uncPath))

	hdr, body, err := s.exchange(types.CommandTreeConnect, 0, req.Marshal())
	if err != nil {
		return nil, fmt.Errorf("tree connect %s: %w", shareName, err)
	}

	var treeResp types.TreeConnectResponse
	if err := treeResp.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("failed to parse tree connect response: %w", err)
	}

	return &Tree{
		session:   s,
		treeID:    hdr.TreeID,
		shareType: treeResp.ShareType,
		shareName: shareName,
	}, nil
}

// TreeDisconnect disconnects from a share
func (s *Session) TreeDisconnect(ctx context.Context, tree *Tree) error {
	if tree == nil {
		return nil
	}
	req := types.NewTreeDisconnectRequest()
	if _, _, err := s.exchange(types.CommandTreeDisconnect, tree.treeID, req.Marshal()); err != nil {
		return fmt.Errorf("tree disconnect failed: %w", err)
	}
	return nil
}

// ShareName returns the share name
func (t *Tree) ShareName() string {
	return t.shareName
}

// IsPipe returns true if this is an IPC$ (named pipe) share
func (t *Tree) IsPipe() bool {
	return t.shareType == types.ShareTypePipe
}

// Disconnect disconnects the tree from its session
func (t *Tree) Disconnect(ctx context.Context) error {
	return t.session.TreeDisconnect(ctx, t)
}
