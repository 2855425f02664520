package atexec

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ineffectivecoder/tschexec/pkg/tsch"
)

var (
	notRun  = tsch.LastRunInfo{}
	hasRun  = tsch.LastRunInfo{LastRuntime: tsch.SystemTime{Year: 2026, Month: 10, Day: 17, Hour: 9}}
	errBoom = errors.New("boom")
)

type readResult struct {
	data []byte
	err  error
}

// fakeChannel records every call in order
type fakeChannel struct {
	calls []string
	xml   []string

	registerErr error
	runErr      error
	deleteErr   error
	fileDelErr  error
	pollErr     error
	polls       []tsch.LastRunInfo // returned in order, then hasRun
	reads       []readResult       // returned in order, the last one repeats
	enum        []string
	ip          string
	onRun       func()
}

func (c *fakeChannel) record(op, arg string) {
	c.calls = append(c.calls, op+" "+arg)
}

func (c *fakeChannel) RegisterTask(_ context.Context, path, xml string) error {
	c.record("register", path)
	c.xml = append(c.xml, xml)
	return c.registerErr
}

func (c *fakeChannel) Run(_ context.Context, path string) error {
	c.record("run", path)
	if c.runErr == nil && c.onRun != nil {
		c.onRun()
	}
	return c.runErr
}

func (c *fakeChannel) LastRunInfo(_ context.Context, path string) (tsch.LastRunInfo, error) {
	c.record("poll", path)
	if c.pollErr != nil {
		return tsch.LastRunInfo{}, c.pollErr
	}
	if len(c.polls) == 0 {
		return hasRun, nil
	}
	info := c.polls[0]
	c.polls = c.polls[1:]
	return info, nil
}

func (c *fakeChannel) Delete(_ context.Context, path string) error {
	c.record("delete", path)
	return c.deleteErr
}

func (c *fakeChannel) EnumTasks(_ context.Context, folder string) ([]string, error) {
	c.record("enum", folder)
	return c.enum, nil
}

func (c *fakeChannel) ReadFile(_ context.Context, share, path string) ([]byte, error) {
	c.record("read", share+`\`+path)
	if len(c.reads) == 0 {
		return nil, &ShareError{Kind: ShareNotFound, Err: errBoom}
	}
	r := c.reads[0]
	if len(c.reads) > 1 {
		c.reads = c.reads[1:]
	}
	return r.data, r.err
}

func (c *fakeChannel) DeleteFile(_ context.Context, share, path string) error {
	c.record("deletefile", share+`\`+path)
	return c.fileDelErr
}

func (c *fakeChannel) LocalIP() string { return c.ip }

func (c *fakeChannel) Close() error {
	c.record("close", "")
	return nil
}

func (c *fakeChannel) count(op string) int {
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, op+" ") {
			n++
		}
	}
	return n
}

type fakeBinder struct {
	channels []*fakeChannel
	err      error
	binds    int
}

func (b *fakeBinder) Bind(context.Context) (Channel, error) {
	b.binds++
	if b.err != nil {
		return nil, b.err
	}
	ch := b.channels[0]
	b.channels = b.channels[1:]
	return ch, nil
}

// autoClock fires every timer as soon as it is created
type autoClock struct {
	clockwork.FakeClock
	sleeps []time.Duration
}

func newAutoClock() *autoClock {
	return &autoClock{FakeClock: clockwork.NewFakeClock()}
}

func (c *autoClock) After(d time.Duration) <-chan time.Time {
	c.sleeps = append(c.sleeps, d)
	ch := c.FakeClock.After(d)
	c.FakeClock.Advance(d)
	return ch
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Target = "10.0.0.5"
	cfg.Username = "admin"
	cfg.Password = "Passw0rd"
	cfg.LocalShareDir = "/srv/hosted"
	cfg.Poll = Policy{Interval: time.Second, MaxAttempts: 5, Timeout: time.Minute}
	cfg.ShareRead = Policy{Interval: 3 * time.Second, MaxAttempts: 5, Timeout: time.Minute}
	cfg.LocalRead = Policy{Interval: 2 * time.Second, MaxAttempts: 2, Timeout: time.Minute}
	return cfg
}

type harness struct {
	exec  *Executor
	clock *autoClock
	fs    afero.Fs
	logs  *observer.ObservedLogs
}

// names yields the task names abcdefgh, then ijklmnop
var names = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

func newHarness(t *testing.T, cfg Config, b Binder, fs afero.Fs) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	clock := newAutoClock()
	exec, err := New(cfg, zap.New(core),
		WithBinder(b),
		WithClock(clock),
		WithFs(fs),
		WithRandom(bytes.NewReader(names)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{exec: exec, clock: clock, fs: fs, logs: logs}
}

func (h *harness) count(level zapcore.Level) int {
	return h.logs.FilterLevelExact(level).Len()
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("calls:\n got %q\nwant %q", got, want)
	}
}

func TestExecuteWhoami(t *testing.T) {
	ch := &fakeChannel{
		polls: []tsch.LastRunInfo{notRun},
		reads: []readResult{{data: []byte("NT AUTHORITY\\SYSTEM\r\n")}},
	}
	h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	out, err := h.exec.Execute(context.Background(), "whoami", true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != "NT AUTHORITY\\SYSTEM\r\n" {
		t.Errorf("output = %q", out)
	}
	equalCalls(t, ch.calls, []string{
		`register \abcdefgh`,
		`run \abcdefgh`,
		`poll \abcdefgh`,
		`poll \abcdefgh`,
		`delete \abcdefgh`,
		`read ADMIN$\Temp\abcdefgh.tmp`,
		`deletefile ADMIN$\Temp\abcdefgh.tmp`,
		"close ",
	})
	want := `<Arguments>/C whoami &gt; %windir%\Temp\abcdefgh.tmp 2&gt;&amp;1</Arguments>`
	if !strings.Contains(ch.xml[0], want) {
		t.Errorf("task XML lacks %s", want)
	}
	if len(h.clock.sleeps) != 1 || h.clock.sleeps[0] != time.Second {
		t.Errorf("sleeps = %v, want [1s]", h.clock.sleeps)
	}
	if n := h.count(zapcore.ErrorLevel); n != 0 {
		t.Errorf("%d error logs", n)
	}
}

func TestExecuteWithoutOutput(t *testing.T) {
	ch := &fakeChannel{}
	h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	out, err := h.exec.Execute(context.Background(), "calc", false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != nil {
		t.Errorf("output = %q, want nil", out)
	}
	equalCalls(t, ch.calls, []string{`register \abcdefgh`, `run \abcdefgh`, `poll \abcdefgh`, `delete \abcdefgh`, "close "})
	if !strings.Contains(ch.xml[0], "<Arguments>/C calc</Arguments>") {
		t.Errorf("unexpected arguments in %s", ch.xml[0])
	}
}

func TestPollCount(t *testing.T) {
	for _, pending := range []int{0, 1, 3} {
		ch := &fakeChannel{}
		for range pending {
			ch.polls = append(ch.polls, notRun)
		}
		h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

		if _, err := h.exec.Execute(context.Background(), "whoami", false); err != nil {
			t.Fatalf("%d pending: %v", pending, err)
		}
		if got := ch.count("poll"); got != pending+1 {
			t.Errorf("%d pending: %d polls", pending, got)
		}
		if got := len(h.clock.sleeps); got != pending {
			t.Errorf("%d pending: %d sleeps", pending, got)
		}
		if got := ch.count("delete"); got != 1 {
			t.Errorf("%d pending: %d deletes", pending, got)
		}
	}
}

func TestRegistrationFailure(t *testing.T) {
	ch := &fakeChannel{registerErr: &tsch.HResultError{Op: "SchRpcRegisterTask", Code: tsch.EAccessDenied}}
	h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	out, err := h.exec.Execute(context.Background(), "whoami", true)
	var re *RegistrationError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want RegistrationError", err)
	}
	if !errors.Is(err, tsch.ErrTaskFailed) {
		t.Errorf("HRESULT not kept in %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output = %q", out)
	}
	equalCalls(t, ch.calls, []string{`register \abcdefgh`, "close "})
	if n := h.count(zapcore.ErrorLevel); n != 1 {
		t.Errorf("%d error logs, want 1", n)
	}
}

func TestRunAndPollFailures(t *testing.T) {
	tests := []struct {
		name   string
		ch     *fakeChannel
		op     string
		polled int
	}{
		{"run", &fakeChannel{runErr: errBoom}, "run", 0},
		{"poll", &fakeChannel{pollErr: errBoom}, "poll", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{tt.ch}}, nil)

			_, err := h.exec.Execute(context.Background(), "whoami", true)
			var re *RunOrPollError
			if !errors.As(err, &re) || re.Op != tt.op {
				t.Fatalf("error = %v, want %s RunOrPollError", err, tt.op)
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("cause lost: %v", err)
			}
			if n := tt.ch.count("delete"); n != 1 {
				t.Errorf("%d deletes", n)
			}
			if n := tt.ch.count("poll"); n != tt.polled {
				t.Errorf("%d polls", n)
			}
			if n := tt.ch.count("read"); n != 0 {
				t.Errorf("%d reads", n)
			}
		})
	}
}

func TestPollTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Poll.MaxAttempts = 3
	ch := &fakeChannel{polls: []tsch.LastRunInfo{notRun, notRun, notRun, notRun}}
	h := newHarness(t, cfg, &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	_, err := h.exec.Execute(context.Background(), "whoami", true)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("error = %v, want ErrTimedOut", err)
	}
	var te *TimedOutError
	if !errors.As(err, &te) || te.Stage != StagePoll || te.Attempts != 3 {
		t.Fatalf("error = %#v", err)
	}
	if te.Elapsed != 2*time.Second {
		t.Errorf("elapsed = %s", te.Elapsed)
	}
	equalCalls(t, ch.calls, []string{
		`register \abcdefgh`, `run \abcdefgh`,
		`poll \abcdefgh`, `poll \abcdefgh`, `poll \abcdefgh`,
		`delete \abcdefgh`, "close ",
	})
}

func TestPollTimeoutBoundsAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Poll = Policy{Interval: 10 * time.Second, MaxAttempts: 100, Timeout: 25 * time.Second}
	ch := &fakeChannel{polls: make([]tsch.LastRunInfo, 10)}
	h := newHarness(t, cfg, &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	_, err := h.exec.Execute(context.Background(), "whoami", false)
	var te *TimedOutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v", err)
	}
	// polls at 0s, 10s and 20s, a fourth sleep would end at 30s
	if te.Attempts != 3 || ch.count("poll") != 3 {
		t.Errorf("attempts = %d, polls = %d", te.Attempts, ch.count("poll"))
	}
}

func TestCancelledPollDeletesTask(t *testing.T) {
	ch := &fakeChannel{polls: []tsch.LastRunInfo{notRun}}
	core, _ := observer.New(zapcore.DebugLevel)
	// timers never fire, so only the context can end the wait
	exec, err := New(testConfig(), zap.New(core),
		WithBinder(&fakeBinder{channels: []*fakeChannel{ch}}),
		WithClock(clockwork.NewFakeClock()),
		WithRandom(bytes.NewReader(names)),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = exec.Execute(ctx, "whoami", true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n := ch.count("delete"); n != 1 {
		t.Errorf("%d deletes", n)
	}
}

func TestDeleteFailureAfterCompletion(t *testing.T) {
	tests := []struct {
		name string
		ch   *fakeChannel
		op   string
		path string
		warn string
	}{
		{
			name: "task",
			ch:   &fakeChannel{deleteErr: errBoom, reads: []readResult{{data: []byte("ok")}}},
			op:   "delete task",
			path: `\abcdefgh`,
			warn: "failed to delete task",
		},
		{
			name: "output file",
			ch:   &fakeChannel{fileDelErr: errBoom, reads: []readResult{{data: []byte("ok")}}},
			op:   "delete output",
			path: `ADMIN$\Temp\abcdefgh.tmp`,
			warn: "failed to delete output file",
		},
		{
			name: "both",
			ch:   &fakeChannel{deleteErr: errBoom, fileDelErr: errBoom, reads: []readResult{{data: []byte("ok")}}},
			op:   "delete task",
			path: `\abcdefgh`,
			warn: "failed to delete output file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{tt.ch}}, nil)

			out, err := h.exec.Execute(context.Background(), "whoami", true)
			var ce *CleanupError
			if !errors.As(err, &ce) || !errors.Is(err, errBoom) {
				t.Fatalf("error = %v, want CleanupError", err)
			}
			if ce.Op != tt.op || ce.Path != tt.path {
				t.Errorf("op %q path %q, want %q %q", ce.Op, ce.Path, tt.op, tt.path)
			}
			if string(ce.Output) != "ok" || out != nil {
				t.Errorf("output = %q, returned %q", ce.Output, out)
			}
			if tt.ch.count("delete") != 1 || tt.ch.count("read") != 1 || tt.ch.count("deletefile") != 1 {
				t.Errorf("calls = %q", tt.ch.calls)
			}
			if n := h.logs.FilterMessage(tt.warn).Len(); n != 1 {
				t.Errorf("%d %q warnings", n, tt.warn)
			}
			if n := h.count(zapcore.ErrorLevel); n != 1 {
				t.Errorf("%d error logs, want 1", n)
			}
		})
	}
}

func TestTaskDeleteFailureWithoutOutput(t *testing.T) {
	ch := &fakeChannel{deleteErr: errBoom}
	h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	_, err := h.exec.Execute(context.Background(), "whoami", false)
	var ce *CleanupError
	if !errors.As(err, &ce) || ce.Op != "delete task" || ce.Output != nil {
		t.Fatalf("error = %v", err)
	}
	equalCalls(t, ch.calls, []string{`register \abcdefgh`, `run \abcdefgh`, `poll \abcdefgh`, `delete \abcdefgh`, "close "})
}

func TestShareBackWaitsForWriter(t *testing.T) {
	violation := &ShareError{Kind: ShareSharingViolation, Err: errBoom}
	ch := &fakeChannel{reads: []readResult{{err: violation}, {err: violation}, {data: []byte("done")}}}
	h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

	out, err := h.exec.Execute(context.Background(), "whoami", true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != "done" {
		t.Errorf("output = %q", out)
	}
	if len(h.clock.sleeps) != 2 || h.clock.sleeps[0] != 3*time.Second || h.clock.sleeps[1] != 3*time.Second {
		t.Errorf("sleeps = %v, want two of 3s", h.clock.sleeps)
	}
	if n := ch.count("read"); n != 3 {
		t.Errorf("%d reads", n)
	}
	if n := ch.count("deletefile"); n != 1 {
		t.Errorf("%d file deletes", n)
	}
}

func TestShareBackFailures(t *testing.T) {
	t.Run("fatal", func(t *testing.T) {
		ch := &fakeChannel{reads: []readResult{{err: &ShareError{Kind: ShareOther, Err: errBoom}}}}
		h := newHarness(t, testConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, nil)

		_, err := h.exec.Execute(context.Background(), "whoami", true)
		var re *RetrievalError
		if !errors.As(err, &re) || re.Mode != ModeShareBack || !re.IsFatal() {
			t.Fatalf("error = %v", err)
		}
		if ch.count("read") != 1 || ch.count("deletefile") != 0 {
			t.Errorf("calls = %q", ch.calls)
		}
		if n := h.count(zapcore.ErrorLevel); n != 1 {
			t.Errorf("%d error logs, want 1", n)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		cfg := testConfig()
		cfg.ShareRead.MaxAttempts = 2
		ch := &fakeChannel{}
		h := newHarness(t, cfg, &fakeBinder{channels: []*fakeChannel{ch}}, nil)

		_, err := h.exec.Execute(context.Background(), "whoami", true)
		var te *TimedOutError
		if !errors.As(err, &te) || te.Stage != StageShareRead {
			t.Fatalf("error = %v", err)
		}
		var se *ShareError
		if !errors.As(err, &se) || se.Kind != ShareNotFound {
			t.Errorf("last error not kept: %v", err)
		}
		if ch.count("read") != 2 || ch.count("deletefile") != 0 {
			t.Errorf("calls = %q", ch.calls)
		}
	})
}

func filelessConfig() Config {
	cfg := testConfig()
	cfg.PreferFileless = true
	cfg.ShareName = "loot"
	return cfg
}

func hostedFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/srv/hosted", 0o755); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestExecuteFileless(t *testing.T) {
	fs := hostedFs(t)
	ch := &fakeChannel{ip: "10.0.0.9"}
	ch.onRun = func() {
		afero.WriteFile(fs, "/srv/hosted/abcdefgh.tmp", []byte("corp\\admin\r\n"), 0o644)
	}
	h := newHarness(t, filelessConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, fs)

	out, err := h.exec.Execute(context.Background(), "whoami", true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != "corp\\admin\r\n" {
		t.Errorf("output = %q", out)
	}
	want := `<Arguments>/C whoami &gt; \\10.0.0.9\loot\abcdefgh.tmp 2&gt;&amp;1</Arguments>`
	if !strings.Contains(ch.xml[0], want) {
		t.Errorf("task XML lacks %s", want)
	}
	if ch.count("read") != 0 || ch.count("deletefile") != 0 {
		t.Errorf("share touched: %q", ch.calls)
	}
}

func TestFilelessFallsBackOnce(t *testing.T) {
	first := &fakeChannel{ip: "10.0.0.9"}
	second := &fakeChannel{ip: "10.0.0.9", reads: []readResult{{data: []byte("out")}}}
	b := &fakeBinder{channels: []*fakeChannel{first, second}}
	h := newHarness(t, filelessConfig(), b, hostedFs(t))

	out, err := h.exec.Execute(context.Background(), "whoami", true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != "out" {
		t.Errorf("output = %q", out)
	}
	if b.binds != 2 {
		t.Errorf("%d binds, want 2", b.binds)
	}
	if first.count("register") != 1 || first.count("delete") != 1 {
		t.Errorf("first attempt calls = %q", first.calls)
	}
	if second.calls[0] != `register \ijklmnop` || second.count("delete") != 1 {
		t.Errorf("fallback calls = %q", second.calls)
	}
	if !strings.Contains(second.xml[0], `%windir%\Temp\ijklmnop.tmp`) {
		t.Errorf("fallback is not share-back: %s", second.xml[0])
	}
	if n := h.logs.FilterMessage("fileless retrieval failed, falling back to share-back").Len(); n != 1 {
		t.Errorf("%d fallback warnings", n)
	}
	if n := h.count(zapcore.ErrorLevel); n != 0 {
		t.Errorf("%d error logs", n)
	}
}

func TestFallbackFailureLogsOnce(t *testing.T) {
	first := &fakeChannel{ip: "10.0.0.9"}
	second := &fakeChannel{registerErr: errBoom}
	b := &fakeBinder{channels: []*fakeChannel{first, second}}
	h := newHarness(t, filelessConfig(), b, hostedFs(t))

	_, err := h.exec.Execute(context.Background(), "whoami", true)
	var re *RegistrationError
	if !errors.As(err, &re) || re.Task != "ijklmnop" {
		t.Fatalf("error = %v", err)
	}
	if b.binds != 2 {
		t.Errorf("%d binds, want 2", b.binds)
	}
	if n := h.count(zapcore.ErrorLevel); n != 1 {
		t.Errorf("%d error logs, want 1", n)
	}
}

func TestFilelessWithoutCallerAddress(t *testing.T) {
	first := &fakeChannel{}
	second := &fakeChannel{reads: []readResult{{data: []byte("out")}}}
	b := &fakeBinder{channels: []*fakeChannel{first, second}}
	h := newHarness(t, filelessConfig(), b, hostedFs(t))

	if _, err := h.exec.Execute(context.Background(), "whoami", true); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	equalCalls(t, first.calls, []string{"close "})
	if second.count("register") != 1 {
		t.Errorf("fallback calls = %q", second.calls)
	}
}

func TestProbeDisablesFileless(t *testing.T) {
	ch := &fakeChannel{ip: "10.0.0.9", reads: []readResult{{data: []byte("out")}}}
	// no /srv/hosted
	h := newHarness(t, filelessConfig(), &fakeBinder{channels: []*fakeChannel{ch}}, afero.NewMemMapFs())

	if _, err := h.exec.Execute(context.Background(), "whoami", true); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(ch.xml[0], `%windir%\Temp\`) {
		t.Errorf("expected share-back: %s", ch.xml[0])
	}
	if n := h.logs.FilterMessage("fileless output unavailable, using share-back").Len(); n != 1 {
		t.Errorf("%d probe warnings", n)
	}
}

func TestProbe(t *testing.T) {
	fs := hostedFs(t)
	afero.WriteFile(fs, "/srv/file", nil, 0o644)

	tests := []struct {
		dir string
		ok  bool
	}{
		{"/srv/hosted", true},
		{"/srv/missing", false},
		{"/srv/file", false},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.LocalShareDir = tt.dir
		exec, err := New(cfg, nil, WithFs(fs), WithBinder(&fakeBinder{}))
		if err != nil {
			t.Fatal(err)
		}
		if err := exec.Probe(); (err == nil) != tt.ok {
			t.Errorf("Probe(%s) = %v", tt.dir, err)
		}
	}
	if files, _ := afero.ReadDir(fs, "/srv/hosted"); len(files) != 0 {
		t.Errorf("probe left %d files behind", len(files))
	}
	ro, err := New(testConfig(), nil, WithFs(afero.NewReadOnlyFs(fs)), WithBinder(&fakeBinder{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := ro.Probe(); err == nil {
		t.Error("Probe succeeded on a read-only filesystem")
	}
}

func TestBindFailure(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		stage string
	}{
		{"typed", &ChannelError{Stage: "authenticate", Err: errBoom}, "authenticate"},
		{"untyped", errBoom, "bind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), &fakeBinder{err: tt.err}, nil)

			_, err := h.exec.Execute(context.Background(), "whoami", true)
			var ce *ChannelError
			if !errors.As(err, &ce) || ce.Stage != tt.stage {
				t.Fatalf("error = %v", err)
			}
			if n := h.count(zapcore.ErrorLevel); n != 1 {
				t.Errorf("%d error logs, want 1", n)
			}
		})
	}
}

func TestVerifyCleanup(t *testing.T) {
	tests := []struct {
		name   string
		listed []string
		warned int
	}{
		{"removed", []string{`\Other`, `\abcdefgh\Other`, `\xabcdefgh`}, 0},
		{"still listed", []string{`\Other`, `\abcdefgh`}, 1},
		{"listed in folder", []string{`\Microsoft\Windows\abcdefgh`}, 1},
		{"bare name", []string{`abcdefgh`}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.VerifyCleanup = true
			ch := &fakeChannel{enum: tt.listed}
			h := newHarness(t, cfg, &fakeBinder{channels: []*fakeChannel{ch}}, nil)

			if _, err := h.exec.Execute(context.Background(), "whoami", false); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if ch.count("enum") != 1 {
				t.Errorf("calls = %q", ch.calls)
			}
			if n := h.logs.FilterMessage("task still listed after delete").Len(); n != tt.warned {
				t.Errorf("%d warnings, want %d", n, tt.warned)
			}
		})
	}
}
