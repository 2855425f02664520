package atexec

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimedOut is matched by every bounded wait that ran out
	ErrTimedOut = errors.New("timed out")
	// ErrNoCredentials is returned by Validate when no secret was given
	// and AllowEmptySecret is off
	ErrNoCredentials = errors.New("no password, hash, AES key or ccache supplied")
)

// ChannelError means no authenticated Task Scheduler channel could be
// established. Nothing was created on the target.
type ChannelError struct {
	Stage string // connect, authenticate or bind
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s failed: %v", e.Stage, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// RegistrationError means the service refused to create the task
type RegistrationError struct {
	Task string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register task %s: %v", e.Task, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// RunOrPollError is a failed run or status query. A delete of the task
// was attempted before it was returned.
type RunOrPollError struct {
	Task string
	Op   string // run or poll
	Err  error
}

func (e *RunOrPollError) Error() string {
	return fmt.Sprintf("%s task %s: %v", e.Op, e.Task, e.Err)
}

func (e *RunOrPollError) Unwrap() error { return e.Err }

// RetrievalError is a fatal failure reading the command output. The
// output file is left in place. Transient share errors never produce one,
// they are retried and surface only through a TimedOutError.
type RetrievalError struct {
	Mode OutputMode
	Path string
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s output %s: %v", e.Mode, e.Path, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsFatal reports whether the error aborted retrieval. Always true.
func (e *RetrievalError) IsFatal() bool { return true }

// CleanupError means the command ran but the task or the output file
// could not be deleted and is left on the target. Output holds whatever
// was retrieved.
type CleanupError struct {
	Task   string
	Op     string // delete task or delete output
	Path   string
	Output []byte
	Err    error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%s %s left on target: %v", e.Op, e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// Stages of a bounded wait
const (
	StagePoll      = "poll"
	StageShareRead = "share read"
	StageLocalRead = "local read"
)

// TimedOutError is a bounded wait that ran out of attempts or time
type TimedOutError struct {
	Stage    string
	Attempts int
	Elapsed  time.Duration
	// Last is the error of the final attempt, if any
	Last error
}

func (e *TimedOutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %d attempts in %s", e.Stage, e.Attempts, e.Elapsed)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *TimedOutError) Is(target error) bool { return target == ErrTimedOut }

func (e *TimedOutError) Unwrap() error { return e.Last }

// ShareErrorKind classifies a failed file share operation
type ShareErrorKind int

const (
	ShareOther ShareErrorKind = iota
	ShareSharingViolation
	ShareNotFound
)

func (k ShareErrorKind) String() string {
	switch k {
	case ShareSharingViolation:
		return "sharing violation"
	case ShareNotFound:
		return "not found"
	}
	return "other"
}

// ShareError is a file share failure returned by a Channel
type ShareError struct {
	Kind ShareErrorKind
	Err  error
}

func (e *ShareError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ShareError) Unwrap() error { return e.Err }

// Transient reports whether the read may succeed later: the writer still
// holds the file, or has not created it yet.
func (e *ShareError) Transient() bool {
	return e.Kind == ShareSharingViolation || e.Kind == ShareNotFound
}
