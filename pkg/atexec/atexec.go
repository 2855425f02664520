// Package atexec runs commands on a Windows host as scheduled tasks
// through the Task Scheduler RPC interface (MS-TSCH).
//
// Each Execute registers a hidden task running cmd.exe as LocalSystem,
// starts it, polls until it has run, deletes it and, when output is
// wanted, reads the redirected output back. Output either goes to
// %windir%\Temp and is read through ADMIN$ (share-back), or is written by
// the target straight to a share the caller serves (fileless).
//
//	cfg := atexec.DefaultConfig()
//	cfg.Target = "10.0.0.5"
//	cfg.Domain, cfg.Username, cfg.Password = "CORP", "admin", "Passw0rd"
//	exec, err := atexec.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	out, err := exec.Execute(ctx, "whoami", true)
package atexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Executor runs commands on one target. It holds no per-call state, so
// concurrent Execute calls are safe.
type Executor struct {
	cfg    Config
	log    *zap.Logger
	binder Binder
	clock  clockwork.Clock
	fs     afero.Fs
	rand   io.Reader

	// fileless is the result of the capability probe done by New
	fileless bool
}

// Option customises an Executor
type Option func(*Executor)

// WithBinder replaces the SMB/RPC binder
func WithBinder(b Binder) Option {
	return func(e *Executor) { e.binder = b }
}

// WithClock sets the clock used for every wait
func WithClock(c clockwork.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithFs sets the filesystem holding LocalShareDir
func WithFs(fs afero.Fs) Option {
	return func(e *Executor) { e.fs = fs }
}

// WithRandom sets the source of task names
func WithRandom(r io.Reader) Option {
	return func(e *Executor) { e.rand = r }
}

// New validates cfg and creates an Executor. log may be nil.
func New(cfg Config, log *zap.Logger, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		cfg:   cfg,
		log:   log.Named("atexec").With(zap.String("target", cfg.Target)),
		clock: clockwork.NewRealClock(),
		fs:    afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.binder == nil {
		e.binder = &smbBinder{cfg: cfg, log: e.log}
	}

	if cfg.PreferFileless {
		if err := e.Probe(); err != nil {
			e.log.Warn("fileless output unavailable, using share-back", zap.Error(err))
		} else {
			e.fileless = true
		}
	}
	return e, nil
}

// Probe checks that output written to the caller's share can be read
// locally: LocalShareDir must be a writable directory.
func (e *Executor) Probe() error {
	info, err := e.fs.Stat(e.cfg.LocalShareDir)
	if err != nil {
		return fmt.Errorf("local share directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local share directory %s is not a directory", e.cfg.LocalShareDir)
	}
	f, err := afero.TempFile(e.fs, e.cfg.LocalShareDir, ".probe")
	if err != nil {
		return fmt.Errorf("local share directory is not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return e.fs.Remove(name)
}

// Execute runs command on the target and returns its combined output when
// wantOutput is set. A failed fileless retrieval is retried once as a
// complete share-back execution under a new task name. When the command
// ran but its task or output file could not be deleted the error is a
// *CleanupError carrying the output.
func (e *Executor) Execute(ctx context.Context, command string, wantOutput bool) ([]byte, error) {
	mode := ModeNone
	if wantOutput {
		mode = ModeShareBack
		if e.fileless {
			mode = ModeFileless
		}
	}

	out, err := e.attempt(ctx, command, mode)
	if mode == ModeFileless && filelessRetrievalFailed(err) {
		e.log.Warn("fileless retrieval failed, falling back to share-back", zap.Error(err))
		out, err = e.attempt(ctx, command, ModeShareBack)
	}
	if err != nil {
		e.log.Error("execution failed", zap.String("command", command), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func filelessRetrievalFailed(err error) bool {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Mode == ModeFileless
	}
	var te *TimedOutError
	return errors.As(err, &te) && te.Stage == StageLocalRead
}

// attempt binds a channel and runs one task under a fresh name
func (e *Executor) attempt(ctx context.Context, command string, mode OutputMode) ([]byte, error) {
	name, err := newTaskName(e.rand, e.cfg.TaskNameLength)
	if err != nil {
		return nil, err
	}
	log := e.log.With(zap.String("task", name), zap.Stringer("mode", mode))

	ch, err := e.binder.Bind(ctx)
	if err != nil {
		var ce *ChannelError
		if !errors.As(err, &ce) {
			err = &ChannelError{Stage: "bind", Err: err}
		}
		return nil, err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			log.Debug("failed to close channel", zap.Error(err))
		}
	}()

	opts := TaskOptions{Mode: mode, TempFile: name + ".tmp", Share: e.cfg.ShareName}
	if mode == ModeFileless {
		if opts.CallerIP = ch.LocalIP(); opts.CallerIP == "" {
			return nil, &RetrievalError{Mode: ModeFileless, Err: errors.New("caller address unknown")}
		}
	}

	lc := newLifecycle(ch, name, e.clock, e.cfg.Poll, log)
	// a task left behind after a completed run still has its output read
	var cleanup *CleanupError
	if err := lc.execute(ctx, BuildTaskXML(command, opts)); err != nil && !errors.As(err, &cleanup) {
		return nil, err
	}
	if e.cfg.VerifyCleanup && lc.state == Deleted {
		e.verifyCleanup(ctx, ch, name, log)
	}

	var r retriever
	switch mode {
	case ModeShareBack:
		r = &shareBackRetriever{clock: e.clock, policy: e.cfg.ShareRead}
	case ModeFileless:
		r = &filelessRetriever{fs: e.fs, dir: e.cfg.LocalShareDir, clock: e.clock, policy: e.cfg.LocalRead}
	}
	var out []byte
	var rerr error
	if r != nil {
		out, rerr = r.retrieve(ctx, ch, opts.TempFile, log)
	}
	if cleanup == nil || (rerr != nil && !errors.As(rerr, new(*CleanupError))) {
		return out, rerr
	}
	cleanup.Output = out
	return nil, cleanup
}

// verifyCleanup warns when the deleted task is still listed
func (e *Executor) verifyCleanup(ctx context.Context, ch Channel, name string, log *zap.Logger) {
	names, err := ch.EnumTasks(ctx, `\`)
	if err != nil {
		log.Warn("could not verify task removal", zap.Error(err))
		return
	}
	// names are backslash paths such as \Folder\Task
	if slices.ContainsFunc(names, func(n string) bool { return n[strings.LastIndexByte(n, '\\')+1:] == name }) {
		log.Warn("task still listed after delete")
		return
	}
	log.Debug("task removal verified")
}
