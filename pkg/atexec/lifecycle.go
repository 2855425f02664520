package atexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// LifecycleState is the state of one task on the target
type LifecycleState int

const (
	NotRegistered LifecycleState = iota
	Registered
	Running
	Completed
	Deleted
)

func (s LifecycleState) String() string {
	switch s {
	case Registered:
		return "registered"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Deleted:
		return "deleted"
	}
	return "not registered"
}

// lifecycle drives one task through register, run, poll and delete. The
// task is deleted exactly once whenever registration succeeded.
type lifecycle struct {
	ch    Channel
	name  string
	state LifecycleState
	clock clockwork.Clock
	poll  Policy
	log   *zap.Logger
}

func newLifecycle(ch Channel, name string, clock clockwork.Clock, poll Policy, log *zap.Logger) *lifecycle {
	return &lifecycle{ch: ch, name: name, clock: clock, poll: poll, log: log}
}

func (l *lifecycle) path() string {
	return `\` + l.name
}

func (l *lifecycle) advance(to LifecycleState) {
	if to <= l.state {
		panic(fmt.Sprintf("task state cannot go from %s to %s", l.state, to))
	}
	l.state = to
}

// execute runs the task to completion and deletes it
func (l *lifecycle) execute(ctx context.Context, xml string) error {
	l.log.Debug("task definition", zap.String("xml", xml))
	if err := l.ch.RegisterTask(ctx, l.path(), xml); err != nil {
		return &RegistrationError{Task: l.name, Err: err}
	}
	l.advance(Registered)
	l.log.Info("task registered")

	if err := l.ch.Run(ctx, l.path()); err != nil {
		l.abort(ctx)
		return &RunOrPollError{Task: l.name, Op: "run", Err: err}
	}
	l.advance(Running)
	l.log.Info("task started")

	if err := l.wait(ctx); err != nil {
		l.abort(ctx)
		var timeout *TimedOutError
		if errors.As(err, &timeout) {
			return err
		}
		return &RunOrPollError{Task: l.name, Op: "poll", Err: err}
	}
	l.advance(Completed)

	if err := l.ch.Delete(ctx, l.path()); err != nil {
		l.log.Warn("failed to delete task", zap.Error(err))
		return &CleanupError{Task: l.name, Op: "delete task", Path: l.path(), Err: err}
	}
	l.advance(Deleted)
	l.log.Info("task deleted")
	return nil
}

// wait polls the last run time until the task has run once
func (l *lifecycle) wait(ctx context.Context) error {
	return retry(ctx, l.clock, l.poll, StagePoll, func(attempt int) (bool, error) {
		info, err := l.ch.LastRunInfo(ctx, l.path())
		if err != nil {
			return false, err
		}
		l.log.Debug("polled task", zap.Int("attempt", attempt), zap.Stringer("last_run", info.LastRuntime))
		return info.Completed(), nil
	})
}

// abort deletes a task that did not complete. Failure is logged with the
// task name since the task stays on the target.
func (l *lifecycle) abort(ctx context.Context) {
	// the caller's context may be what failed
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := l.ch.Delete(ctx, l.path()); err != nil {
		l.log.Warn("failed to delete task, it is left on the target", zap.String("path", l.path()), zap.Error(err))
		return
	}
	l.state = Deleted
	l.log.Info("task deleted")
}

// retry calls fn until it reports done or fails. Between attempts it
// sleeps p.Interval on clock. It gives up with a *TimedOutError after
// p.MaxAttempts tries or when the next sleep would pass p.Timeout.
func retry(ctx context.Context, clock clockwork.Clock, p Policy, stage string, fn func(attempt int) (bool, error)) error {
	start := clock.Now()
	var last error
	for attempt := 1; ; attempt++ {
		done, err := fn(attempt)
		if err != nil {
			var transient interface{ Transient() bool }
			if !errors.As(err, &transient) || !transient.Transient() {
				return err
			}
			last = err
		} else if done {
			return nil
		}

		elapsed := clock.Since(start)
		if attempt >= p.MaxAttempts || elapsed+p.Interval > p.Timeout {
			return &TimedOutError{Stage: stage, Attempts: attempt, Elapsed: elapsed, Last: last}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", stage, ctx.Err())
		case <-clock.After(p.Interval):
		}
	}
}
