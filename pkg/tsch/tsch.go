package tsch

import (
	"context"
	"fmt"
	"io"

	"github.com/ineffectivecoder/tschexec/pkg/dcerpc"
	"github.com/ineffectivecoder/tschexec/pkg/pipe"
	"github.com/ineffectivecoder/tschexec/pkg/smb"
)

// Caller issues one RPC call on a bound interface. *dcerpc.Conn
// implements it.
type Caller interface {
	Call(ctx context.Context, opnum uint16, stub []byte) ([]byte, error)
}

// Client is a Task Scheduler client on a bound, sealed RPC connection
type Client struct {
	conn Caller
}

// NewClient wraps an already bound connection
func NewClient(conn Caller) *Client {
	return &Client{conn: conn}
}

// Dial opens \pipe\atsvc on client's IPC$ share and binds to the Task
// Scheduler at packet privacy with a. The service refuses lower levels.
func Dial(ctx context.Context, client *smb.Client, a dcerpc.Authenticator) (*Client, error) {
	p, err := pipe.Dial(ctx, client, PipeName)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s pipe: %w", PipeName, err)
	}

	conn := dcerpc.NewConn(p, a)
	if err := conn.Bind(ctx, UUID, Version); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind to task scheduler: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection and its pipe
func (c *Client) Close() error {
	if closer, ok := c.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// call runs opnum and checks the trailing HRESULT
func (c *Client) call(ctx context.Context, op string, opnum uint16, stub []byte) ([]byte, error) {
	resp, err := c.conn.Call(ctx, opnum, stub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hr, err := trailingHResult(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkHResult(op, hr); err != nil {
		return nil, err
	}
	return resp, nil
}

// RegisterTask creates the task at path from its XML definition and
// returns the path the service registered it under.
func (c *Client) RegisterTask(ctx context.Context, path, xml string, flags, logonType uint32) (string, error) {
	resp, err := c.call(ctx, "SchRpcRegisterTask", OpSchRpcRegisterTask, encodeRegisterTask(path, xml, flags, logonType))
	if err != nil {
		return "", err
	}
	actual, err := parseRegisterResponse(resp)
	if err != nil || actual == "" {
		return path, nil
	}
	return actual, nil
}

// Run starts the task now
func (c *Client) Run(ctx context.Context, path string) error {
	_, err := c.call(ctx, "SchRpcRun", OpSchRpcRun, encodeRun(path))
	return err
}

// LastRunInfo returns when the task last ran and its exit code. A task
// that has not run yet has a zero LastRuntime.
func (c *Client) LastRunInfo(ctx context.Context, path string) (LastRunInfo, error) {
	resp, err := c.call(ctx, "SchRpcGetLastRunInfo", OpSchRpcGetLastRunInfo, encodeGetLastRunInfo(path))
	if err != nil {
		return LastRunInfo{}, err
	}
	return parseLastRunInfo(resp)
}

// Delete removes the task
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.call(ctx, "SchRpcDelete", OpSchRpcDelete, encodePathFlags(path, 0))
	return err
}

// EnumTasks lists the tasks in folder, hidden ones included. folder is
// `\` for the root.
func (c *Client) EnumTasks(ctx context.Context, folder string) ([]string, error) {
	var all []string
	var start uint32
	for {
		resp, err := c.call(ctx, "SchRpcEnumTasks", OpSchRpcEnumTasks, encodeEnum(folder, TaskEnumHidden, start, 0xFFFFFFFF))
		if err != nil {
			return all, err
		}
		names, next, err := parseEnumResponse(resp)
		if err != nil {
			return all, fmt.Errorf("SchRpcEnumTasks: %w", err)
		}
		all = append(all, names...)

		// S_FALSE means more names remain from next
		hr, _ := trailingHResult(resp)
		if hr != SFalse || len(names) == 0 || next <= start {
			return all, nil
		}
		start = next
	}
}
