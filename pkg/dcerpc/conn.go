package dcerpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// authContextID identifies our security context in every sec_trailer
const authContextID = 79231

// readChunk is the size of a single pipe read
const readChunk = 8192

// minFrag is the smallest fragment size every implementation must accept
const minFrag = 1432

// Conn is a DCE/RPC association over a message mode transport such as a
// named pipe. All calls after Bind are sealed when an Authenticator is set.
//
//	p, _ := pipe.Dial(ctx, client, "atsvc")
//	conn := dcerpc.NewConn(p, dcerpc.NewNTLMAuth(creds))
//	defer conn.Close()
//	if err := conn.Bind(ctx, iface, 1); err != nil {
//	    return err
//	}
//	out, err := conn.Call(ctx, opnum, stub)
type Conn struct {
	rw      io.ReadWriter
	auth    Authenticator
	callID  uint32
	maxXmit uint16
	maxRecv uint16
	bound   bool
	pending []byte
}

// NewConn creates a connection over rw. a may be nil for an
// unauthenticated binding.
func NewConn(rw io.ReadWriter, a Authenticator) *Conn {
	return &Conn{
		rw:      rw,
		auth:    a,
		callID:  1,
		maxXmit: defaultFrag,
		maxRecv: defaultFrag,
	}
}

// Bind binds to an interface, running the security handshake when the
// connection has an Authenticator.
func (c *Conn) Bind(ctx context.Context, iface UUID, version uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	callID := c.nextCallID()
	req := NewBindRequest(iface, version, callID)
	if c.auth != nil {
		token, err := c.auth.Negotiate()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBindFailed, err)
		}
		req.Auth = token
		req.AuthType = c.auth.AuthType()
		req.AuthCtxID = authContextID
	}

	ack, err := c.bindExchange(req.Marshal(), PacketTypeBindAck)
	if err != nil {
		return err
	}
	if !ack.IsAccepted() {
		return fmt.Errorf("%w: context rejected", ErrBindFailed)
	}
	if ack.MaxXmitFrag >= minFrag {
		c.maxXmit = ack.MaxXmitFrag
	}
	if ack.MaxRecvFrag >= minFrag {
		c.maxRecv = ack.MaxRecvFrag
	}

	if c.auth != nil {
		if len(ack.AuthValue) == 0 {
			return fmt.Errorf("%w: no auth data in bind_ack", ErrBindFailed)
		}
		token, err := c.auth.Accept(ack.AuthValue)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBindFailed, err)
		}

		if c.auth.AlterContext() {
			alter := NewBindRequest(iface, version, callID)
			alter.Header.PacketType = PacketTypeAlterContext
			alter.Auth = token
			alter.AuthType = c.auth.AuthType()
			alter.AuthCtxID = authContextID
			alter.AssocGroup = ack.AssocGroup
			if _, err := c.bindExchange(alter.Marshal(), PacketTypeAlterContextResp); err != nil {
				return err
			}
		} else {
			// auth3 has no response
			if _, err := c.rw.Write(newAuth3(callID, c.auth.AuthType(), authContextID, token)); err != nil {
				return fmt.Errorf("auth3 write failed: %w", err)
			}
		}
	}

	c.bound = true
	return nil
}

func (c *Conn) bindExchange(pdu []byte, want PacketType) (*BindAck, error) {
	if _, err := c.rw.Write(pdu); err != nil {
		return nil, fmt.Errorf("bind write failed: %w", err)
	}
	resp, err := c.readPDU()
	if err != nil {
		return nil, fmt.Errorf("bind read failed: %w", err)
	}

	var h CommonHeader
	if err := h.Unmarshal(resp); err != nil {
		return nil, err
	}
	switch h.PacketType {
	case want:
	case PacketTypeBindNak:
		var reason uint16
		if len(resp) >= headerSize+2 {
			reason = binary.LittleEndian.Uint16(resp[headerSize:])
		}
		return nil, &BindNakError{Reason: reason}
	case PacketTypeFault:
		var fault Fault
		if err := fault.Unmarshal(resp); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrBindFailed, &FaultError{Status: fault.Status})
	default:
		return nil, fmt.Errorf("%w: unexpected packet type %d", ErrBindFailed, h.PacketType)
	}

	var ack BindAck
	if err := ack.Unmarshal(resp); err != nil {
		return nil, fmt.Errorf("failed to parse bind ack: %w", err)
	}
	return &ack, nil
}

// Call sends a request, fragmented to the negotiated size, and returns the
// reassembled response stub.
func (c *Conn) Call(ctx context.Context, opnum uint16, stub []byte) ([]byte, error) {
	if !c.bound {
		return nil, ErrNotBound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	callID := c.nextCallID()
	for _, frag := range c.fragment(stub) {
		req := NewRequest(opnum, frag.data, callID)
		req.AllocHint = frag.allocHint
		req.Header.PacketFlags = frag.flags

		var pdu []byte
		if c.auth != nil {
			var err error
			if pdu, err = req.MarshalSealed(c.auth, authContextID); err != nil {
				return nil, err
			}
		} else {
			pdu = req.Marshal()
		}
		if _, err := c.rw.Write(pdu); err != nil {
			return nil, fmt.Errorf("request write failed: %w", err)
		}
	}

	return c.readResponse(callID)
}

type fragment struct {
	data      []byte
	allocHint uint32
	flags     uint8
}

// fragment splits stub so each sealed PDU fits maxXmit. Every fragment
// but the last is a multiple of the auth alignment, so only the last one
// carries auth padding.
func (c *Conn) fragment(stub []byte) []fragment {
	room := int(c.maxXmit) - requestHdrSize
	if c.auth != nil {
		align := c.auth.PadAlign()
		room -= trailerSize + c.auth.VerifierLen() + align - 1
		room -= room % align
	}

	var frags []fragment
	for off := 0; ; {
		n := min(room, len(stub)-off)
		f := fragment{data: stub[off : off+n], allocHint: uint32(len(stub) - off)}
		if off == 0 {
			f.flags |= PacketFlagFirstFrag
		}
		off += n
		if off >= len(stub) {
			f.flags |= PacketFlagLastFrag
			return append(frags, f)
		}
		frags = append(frags, f)
	}
}

func (c *Conn) readResponse(callID uint32) ([]byte, error) {
	var out []byte
	for {
		pdu, err := c.readPDU()
		if err != nil {
			return nil, fmt.Errorf("response read failed: %w", err)
		}

		var h CommonHeader
		if err := h.Unmarshal(pdu); err != nil {
			return nil, err
		}
		if h.PacketType == PacketTypeFault {
			var fault Fault
			if err := fault.Unmarshal(pdu); err != nil {
				return nil, fmt.Errorf("RPC fault (parse error: %w)", err)
			}
			return nil, &FaultError{Status: fault.Status}
		}
		if h.PacketType != PacketTypeResponse {
			return nil, fmt.Errorf("unexpected packet type: %d", h.PacketType)
		}
		if h.CallID != callID {
			return nil, fmt.Errorf("response for call %d, expected %d", h.CallID, callID)
		}

		var resp Response
		if err := resp.Unmarshal(pdu); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if c.auth != nil {
			if h.AuthLength == 0 {
				return nil, fmt.Errorf("%w: unsealed response", ErrBadVerifier)
			}
			if err := resp.Unseal(pdu[:h.FragLength], c.auth); err != nil {
				return nil, err
			}
		}
		out = append(out, resp.StubData...)

		if h.PacketFlags&PacketFlagLastFrag != 0 {
			return out, nil
		}
	}
}

// readPDU returns the next complete PDU. A pipe message larger than one
// read arrives over several reads; frag_length tells when it is complete.
func (c *Conn) readPDU() ([]byte, error) {
	buf := make([]byte, readChunk)
	for {
		if len(c.pending) >= headerSize {
			fragLen := int(binary.LittleEndian.Uint16(c.pending[8:10]))
			if fragLen < headerSize {
				return nil, fmt.Errorf("invalid frag length %d", fragLen)
			}
			if len(c.pending) >= fragLen {
				pdu := make([]byte, fragLen)
				copy(pdu, c.pending)
				c.pending = c.pending[fragLen:]
				return pdu, nil
			}
		}

		n, err := c.rw.Read(buf)
		c.pending = append(c.pending, buf[:n]...)
		if err != nil && !(err == io.EOF && n > 0) {
			return nil, err
		}
		if n == 0 && err == nil {
			return nil, io.ErrUnexpectedEOF
		}
	}
}

// nextCallID returns the next call ID
func (c *Conn) nextCallID() uint32 {
	id := c.callID
	c.callID++
	return id
}

// IsBound returns true if bound to an interface
func (c *Conn) IsBound() bool {
	return c.bound
}

// Close closes the underlying transport when it is closable
func (c *Conn) Close() error {
	c.bound = false
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
