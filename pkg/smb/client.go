package smb

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// Client is a single SMB connection with at most one authenticated session.
//
//	client := smb.NewClient()
//	if err := client.Connect(ctx, "192.168.1.100", 445); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	creds := auth.NewPasswordCredentials("DOMAIN", "user", "password")
//	if err := client.Authenticate(ctx, creds); err != nil {
//	    return err
//	}
//	data, err := client.ReadFile(ctx, "ADMIN$", `Temp\out.tmp`)
type Client struct {
	config    ClientConfig
	transport *Transport
	session   *Session
	negResult *NegotiateResult
}

// ClientConfig configures client behavior
type ClientConfig struct {
	Timeout   time.Duration
	Socks5URL string // socks5://[user:pass@]host:port
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{Timeout: 30 * time.Second}
}

// NewClient creates a new SMB client with default configuration
func NewClient() *Client {
	return NewClientWithConfig(DefaultClientConfig())
}

// NewClientWithConfig creates a new SMB client with custom configuration
func NewClientWithConfig(config ClientConfig) *Client {
	return &Client{config: config}
}

// Connect dials the server and negotiates a dialect
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	transport, err := DialWithConfig(ctx, host, port, TransportConfig{
		Timeout:   c.config.Timeout,
		Socks5URL: c.config.Socks5URL,
	})
	if err != nil {
		return err
	}

	negResult, err := Negotiate(ctx, transport)
	if err != nil {
		transport.Close()
		return err
	}

	c.transport = transport
	c.negResult = negResult
	return nil
}

// Authenticate sets up a session with creds
func (c *Client) Authenticate(ctx context.Context, creds auth.Credentials) error {
	if c.transport == nil || c.negResult == nil {
		return ErrNotConnected
	}

	s := NewSession(c.transport, c.negResult)
	if err := s.Authenticate(ctx, creds); err != nil {
		if _, ok := Status(err); ok {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return err
	}
	c.session = s
	return nil
}

// TreeConnect connects to a share
func (c *Client) TreeConnect(ctx context.Context, shareName string) (*Tree, error) {
	if c.session == nil || !c.session.IsAuthenticated() {
		return nil, ErrNotConnected
	}
	return c.session.TreeConnect(ctx, shareName)
}

// TreeDisconnect disconnects from a share
func (c *Client) TreeDisconnect(ctx context.Context, tree *Tree) error {
	if c.session == nil {
		return nil
	}
	return c.session.TreeDisconnect(ctx, tree)
}

// GetIPCTree connects a fresh IPC$ tree for named pipe access
func (c *Client) GetIPCTree(ctx context.Context) (*Tree, error) {
	tree, err := c.TreeConnect(ctx, "IPC$")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IPC$: %w", err)
	}
	return tree, nil
}

// ReadFile reads path on share in full. The file is opened sharing read
// access only, so a file the writer still holds fails with an error
// matching ErrSharingViolation.
func (c *Client) ReadFile(ctx context.Context, share, path string) ([]byte, error) {
	return withTree(ctx, c, share, func(tree *Tree) ([]byte, error) {
		f, err := tree.OpenFile(ctx, path, types.FileReadData|types.FileReadAttributes|types.Synchronize, types.FileOpen)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return f.ReadAll()
	})
}

// DeleteFile removes path on share
func (c *Client) DeleteFile(ctx context.Context, share, path string) error {
	_, err := withTree(ctx, c, share, func(tree *Tree) ([]byte, error) {
		return nil, tree.Delete(ctx, path)
	})
	return err
}

func withTree(ctx context.Context, c *Client, share string, fn func(*Tree) ([]byte, error)) ([]byte, error) {
	tree, err := c.TreeConnect(ctx, share)
	if err != nil {
		return nil, err
	}
	defer c.TreeDisconnect(ctx, tree)
	return fn(tree)
}

// LocalAddr returns the local address of the connection, which is the
// address the server sees the caller at.
func (c *Client) LocalAddr() net.Addr {
	if c.transport == nil {
		return nil
	}
	return c.transport.LocalAddr()
}

// RemoteHost returns the host this client connected to
func (c *Client) RemoteHost() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.RemoteHost()
}

// Close logs off and closes the connection
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	if c.transport != nil {
		err := c.transport.Close()
		c.transport = nil
		return err
	}
	return nil
}

// Session returns the current session
func (c *Client) Session() *Session {
	return c.session
}

// IsConnected returns true if connected and authenticated
func (c *Client) IsConnected() bool {
	return c.session != nil && c.session.IsAuthenticated()
}

// DialectName returns the negotiated dialect as a string
func (c *Client) DialectName() string {
	if c.negResult == nil {
		return ""
	}
	return DialectName(c.negResult.Dialect)
}
