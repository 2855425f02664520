package atexec

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
	"github.com/ineffectivecoder/tschexec/pkg/dcerpc"
	"github.com/ineffectivecoder/tschexec/pkg/smb"
	"github.com/ineffectivecoder/tschexec/pkg/tsch"
)

// Binder opens one channel per execution attempt
type Binder interface {
	Bind(ctx context.Context) (Channel, error)
}

// Channel is an authenticated Task Scheduler binding together with the
// SMB session it runs on. File operations return *ShareError.
type Channel interface {
	RegisterTask(ctx context.Context, path, xml string) error
	Run(ctx context.Context, path string) error
	LastRunInfo(ctx context.Context, path string) (tsch.LastRunInfo, error)
	Delete(ctx context.Context, path string) error
	EnumTasks(ctx context.Context, folder string) ([]string, error)

	ReadFile(ctx context.Context, share, path string) ([]byte, error)
	DeleteFile(ctx context.Context, share, path string) error

	// LocalIP is the address the target sees the caller at
	LocalIP() string
	Close() error
}

// smbBinder dials SMB and binds the Task Scheduler over \pipe\atsvc
type smbBinder struct {
	cfg Config
	log *zap.Logger
}

func (b *smbBinder) Bind(ctx context.Context) (Channel, error) {
	creds, err := b.cfg.credentials()
	if err != nil {
		return nil, &ChannelError{Stage: "authenticate", Err: err}
	}
	release := func() {
		if krb, ok := creds.(*auth.KerberosCredentials); ok {
			krb.Close()
		}
	}

	client := smb.NewClientWithConfig(smb.ClientConfig{Timeout: b.cfg.Timeout, Socks5URL: b.cfg.Socks5URL})
	if err := client.Connect(ctx, b.cfg.Target, b.cfg.Port); err != nil {
		release()
		return nil, &ChannelError{Stage: "connect", Err: err}
	}
	if err := client.Authenticate(ctx, creds); err != nil {
		client.Close()
		release()
		return nil, &ChannelError{Stage: "authenticate", Err: err}
	}
	b.log.Debug("smb session established", zap.String("dialect", client.DialectName()))

	var a dcerpc.Authenticator
	if krb, ok := creds.(*auth.KerberosCredentials); ok {
		a = dcerpc.NewKerberosAuth(krb, "host/"+b.cfg.Target)
	} else {
		a = dcerpc.NewNTLMAuth(creds)
	}
	tasks, err := tsch.Dial(ctx, client, a)
	if err != nil {
		client.Close()
		release()
		return nil, &ChannelError{Stage: "bind", Err: err}
	}
	return &smbChannel{client: client, tasks: tasks, release: release}, nil
}

type smbChannel struct {
	client  *smb.Client
	tasks   *tsch.Client
	release func()
}

func (c *smbChannel) RegisterTask(ctx context.Context, path, xml string) error {
	_, err := c.tasks.RegisterTask(ctx, path, xml, tsch.TaskCreate, tsch.TaskLogonNone)
	return err
}

func (c *smbChannel) Run(ctx context.Context, path string) error {
	return c.tasks.Run(ctx, path)
}

func (c *smbChannel) LastRunInfo(ctx context.Context, path string) (tsch.LastRunInfo, error) {
	return c.tasks.LastRunInfo(ctx, path)
}

func (c *smbChannel) Delete(ctx context.Context, path string) error {
	return c.tasks.Delete(ctx, path)
}

func (c *smbChannel) EnumTasks(ctx context.Context, folder string) ([]string, error) {
	return c.tasks.EnumTasks(ctx, folder)
}

func (c *smbChannel) ReadFile(ctx context.Context, share, path string) ([]byte, error) {
	data, err := c.client.ReadFile(ctx, share, path)
	if err != nil {
		return nil, classifyShareError(err)
	}
	return data, nil
}

func (c *smbChannel) DeleteFile(ctx context.Context, share, path string) error {
	if err := c.client.DeleteFile(ctx, share, path); err != nil {
		return classifyShareError(err)
	}
	return nil
}

func (c *smbChannel) LocalIP() string {
	if addr, ok := c.client.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

func (c *smbChannel) Close() error {
	err := c.tasks.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	c.release()
	return err
}

// classifyShareError maps the NT status sentinels of pkg/smb onto
// ShareErrorKind
func classifyShareError(err error) error {
	kind := ShareOther
	switch {
	case errors.Is(err, smb.ErrSharingViolation):
		kind = ShareSharingViolation
	case errors.Is(err, smb.ErrNotFound):
		kind = ShareNotFound
	}
	return &ShareError{Kind: kind, Err: err}
}
