package smb

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"

	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// reply is what the scripted server answers to one request
type reply struct {
	status types.NTStatus
	body   []byte
}

type request struct {
	header types.Header
	body   []byte
}

// newScriptedClient returns an authenticated client whose server answers
// each request with handle. Requests are recorded in order.
func newScriptedClient(t *testing.T, handle func(request) reply) (*Client, *[]request) {
	t.Helper()

	cliConn, srvConn := net.Pipe()
	srv := NewTransport(srvConn, "client", 0)
	var seen []request
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			msg, err := srv.Recv()
			if err != nil {
				return
			}
			var req request
			if err := req.header.Unmarshal(msg[:types.SMB2HeaderSize]); err != nil {
				return
			}
			req.body = msg[types.SMB2HeaderSize:]
			seen = append(seen, req)

			rep := handle(req)
			h := types.NewHeader(req.header.Command, req.header.MessageID)
			h.Flags = types.FlagsServerToRedir
			h.Status = rep.status
			h.SessionID = req.header.SessionID
			h.TreeID = 7
			if rep.body == nil {
				rep.body = errorBody()
			}
			if err := srv.Send(append(h.Marshal(), rep.body...)); err != nil {
				return
			}
		}
	}()

	transport := NewTransport(cliConn, "server", 0)
	c := &Client{
		transport: transport,
		negResult: &NegotiateResult{Dialect: types.DialectSMB2_1},
		session: &Session{
			transport:       transport,
			dialect:         types.DialectSMB2_1,
			messageID:       2,
			sessionID:       0x1122,
			isAuthenticated: true,
		},
	}
	t.Cleanup(func() {
		cliConn.Close()
		srvConn.Close()
		<-done
	})
	return c, &seen
}

func errorBody() []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint16(b, 9)
	return b
}

func treeConnectBody() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint16(b, 16)
	b[2] = byte(types.ShareTypeDisk)
	return b
}

func createBody(size uint64) []byte {
	b := make([]byte, 88)
	binary.LittleEndian.PutUint16(b, 89)
	binary.LittleEndian.PutUint64(b[48:], size)
	b[64] = 0x01 // non-zero file id
	return b
}

func readBody(data []byte) []byte {
	b := make([]byte, 16+len(data))
	binary.LittleEndian.PutUint16(b, 17)
	b[2] = types.SMB2HeaderSize + 16
	binary.LittleEndian.PutUint32(b[4:], uint32(len(data)))
	copy(b[16:], data)
	return b
}

func simpleBody(size uint16) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint16(b, size)
	return b
}

func TestReadFile(t *testing.T) {
	c, seen := newScriptedClient(t, func(r request) reply {
		switch r.header.Command {
		case types.CommandTreeConnect:
			return reply{body: treeConnectBody()}
		case types.CommandCreate:
			return reply{body: createBody(22)}
		case types.CommandRead:
			if binary.LittleEndian.Uint64(r.body[8:16]) == 0 {
				return reply{body: readBody([]byte("NT AUTHORITY\\SYSTEM\r\n"))}
			}
			return reply{status: types.StatusEndOfFile}
		case types.CommandClose:
			return reply{body: simpleBody(60)}
		case types.CommandTreeDisconnect:
			return reply{body: simpleBody(4)}
		}
		return reply{status: types.StatusNotSupported}
	})

	got, err := c.ReadFile(context.Background(), "ADMIN$", `Temp\abc.tmp`)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "NT AUTHORITY\\SYSTEM\r\n" {
		t.Errorf("ReadFile = %q", got)
	}

	var create *request
	for i := range *seen {
		if (*seen)[i].header.Command == types.CommandCreate {
			create = &(*seen)[i]
		}
	}
	if create == nil {
		t.Fatal("no CREATE sent")
	}
	if share := types.ShareAccess(binary.LittleEndian.Uint32(create.body[32:36])); share != types.FileShareRead {
		t.Errorf("ShareAccess = %#x, want read only", share)
	}

	last := (*seen)[len(*seen)-1]
	if last.header.Command != types.CommandTreeDisconnect {
		t.Errorf("last command = %v, want tree disconnect", last.header.Command)
	}
}

func TestReadFileIgnoresReportedSize(t *testing.T) {
	for _, size := range []uint64{0, 1 << 62, ^uint64(0)} {
		c, _ := newScriptedClient(t, func(r request) reply {
			switch r.header.Command {
			case types.CommandTreeConnect:
				return reply{body: treeConnectBody()}
			case types.CommandCreate:
				return reply{body: createBody(size)}
			case types.CommandRead:
				if binary.LittleEndian.Uint64(r.body[8:16]) == 0 {
					return reply{body: readBody([]byte("ok"))}
				}
				return reply{status: types.StatusEndOfFile}
			case types.CommandClose:
				return reply{body: simpleBody(60)}
			case types.CommandTreeDisconnect:
				return reply{body: simpleBody(4)}
			}
			return reply{status: types.StatusNotSupported}
		})

		got, err := c.ReadFile(context.Background(), "ADMIN$", `Temp\abc.tmp`)
		if err != nil {
			t.Fatalf("size %d: ReadFile: %v", size, err)
		}
		if string(got) != "ok" {
			t.Errorf("size %d: ReadFile = %q", size, got)
		}
		if cap(got) > maxPrealloc+defaultIOSize {
			t.Errorf("size %d: cap %d", size, cap(got))
		}
	}
}

func TestReadFileErrors(t *testing.T) {
	tests := []struct {
		name   string
		status types.NTStatus
		want   error
	}{
		{"sharing violation", types.StatusSharingViolation, ErrSharingViolation},
		{"not found", types.StatusObjectNameNotFound, ErrNotFound},
		{"access denied", types.StatusAccessDenied, ErrAccessDenied},
		{"path not found", types.StatusObjectPathNotFound, ErrPathNotFound},
		{"delete pending", types.StatusDeletePending, ErrDeletePending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newScriptedClient(t, func(r request) reply {
				switch r.header.Command {
				case types.CommandTreeConnect:
					return reply{body: treeConnectBody()}
				case types.CommandCreate:
					return reply{status: tt.status}
				}
				return reply{body: simpleBody(4)}
			})

			_, err := c.ReadFile(context.Background(), "ADMIN$", `Temp\abc.tmp`)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if st, ok := Status(err); !ok || st != tt.status {
				t.Errorf("Status(err) = %#x, %v", uint32(st), ok)
			}
			if tt.want != ErrNotFound && errors.Is(err, ErrNotFound) {
				t.Errorf("%v also matches ErrNotFound", err)
			}
		})
	}
}

func TestDeleteFileUsesDeleteOnClose(t *testing.T) {
	var opts types.CreateOptions
	c, seen := newScriptedClient(t, func(r request) reply {
		switch r.header.Command {
		case types.CommandTreeConnect:
			return reply{body: treeConnectBody()}
		case types.CommandCreate:
			opts = types.CreateOptions(binary.LittleEndian.Uint32(r.body[40:44]))
			return reply{body: createBody(0)}
		case types.CommandClose:
			return reply{body: simpleBody(60)}
		}
		return reply{body: simpleBody(4)}
	})

	if err := c.DeleteFile(context.Background(), "ADMIN$", `Temp\abc.tmp`); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if opts&types.FileDeleteOnClose == 0 {
		t.Errorf("CreateOptions = %#x, want DELETE_ON_CLOSE", opts)
	}

	var cmds []types.Command
	for _, r := range *seen {
		cmds = append(cmds, r.header.Command)
	}
	want := []types.Command{types.CommandTreeConnect, types.CommandCreate, types.CommandClose, types.CommandTreeDisconnect}
	if len(cmds) != len(want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("command %d = %v, want %v", i, cmds[i], want[i])
		}
	}
}
