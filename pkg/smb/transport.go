// Package smb is a minimal SMB2/SMB3 client: negotiate, NTLM or Kerberos
// session setup, signing and sealing, tree connects, file and named pipe
// I/O.
package smb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultPort is the direct-hosted SMB port
const DefaultPort = 445

// maxFrame bounds a single NetBIOS session message
const maxFrame = 16 * 1024 * 1024

// Transport frames SMB messages over a TCP stream with the 4-byte
// direct-TCP session header.
type Transport struct {
	mu         sync.Mutex
	conn       net.Conn
	timeout    time.Duration
	remoteHost string
}

// TransportConfig configures transport behavior
type TransportConfig struct {
	Timeout   time.Duration
	Socks5URL string // socks5://[user:pass@]host:port
}

// DialWithConfig connects to host:port, directly or through a SOCKS5 proxy
func DialWithConfig(ctx context.Context, host string, port int, config TransportConfig) (*Transport, error) {
	if port <= 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, fmt.Sprint(port))

	var (
		conn net.Conn
		err  error
	)
	if config.Socks5URL != "" {
		conn, err = dialSocks5(ctx, config.Socks5URL, addr, config.Timeout)
	} else {
		d := &net.Dialer{Timeout: config.Timeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, addr, err)
	}

	return NewTransport(conn, host, config.Timeout), nil
}

// NewTransport wraps an established connection
func NewTransport(conn net.Conn, remoteHost string, timeout time.Duration) *Transport {
	return &Transport{conn: conn, remoteHost: remoteHost, timeout: timeout}
}

func dialSocks5(ctx context.Context, proxyURL, target string, timeout time.Duration) (net.Conn, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SOCKS5 URL: %w", err)
	}

	var auth *proxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pass}
	}

	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", target)
	}
	return dialer.Dial("tcp", target)
}

// Send writes one framed message
func (t *Transport) Send(msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}
	if len(msg) > 0x00FFFFFF {
		return errors.New("message too large for direct TCP framing")
	}
	if t.timeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}

	frame := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[4:], msg)
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Recv reads one framed message
func (t *Transport) Recv() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, ErrNotConnected
	}
	if t.timeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	}

	var hdr [4]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	n := int(binary.BigEndian.Uint32(hdr[:]) & 0x00FFFFFF)
	if n == 0 {
		return nil, errors.New("received empty message")
	}
	if n > maxFrame {
		return nil, fmt.Errorf("message too large: %d bytes", n)
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(t.conn, msg); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return msg, nil
}

// SendRecv sends msg and returns the next message
func (t *Transport) SendRecv(msg []byte) ([]byte, error) {
	if err := t.Send(msg); err != nil {
		return nil, err
	}
	return t.Recv()
}

// Close closes the connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// LocalAddr returns the local network address
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteHost returns the host name or address dialed
func (t *Transport) RemoteHost() string {
	return t.remoteHost
}
