package smb

import (
	"errors"
	"fmt"

	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// Common SMB errors
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNotFound         = errors.New("object not found")
	ErrPathNotFound     = errors.New("path not found")
	ErrDeletePending    = errors.New("delete pending")
	ErrAlreadyExists    = errors.New("object already exists")
	ErrSharingViolation = errors.New("sharing violation")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotConnected     = errors.New("not connected")
	ErrSessionExpired   = errors.New("session expired")
	ErrBadNetworkName   = errors.New("bad network name")
	ErrNotSupported     = errors.New("operation not supported")
)

var statusNames = map[types.NTStatus]string{
	types.StatusSuccess:               "STATUS_SUCCESS",
	types.StatusMoreProcessingReq:     "STATUS_MORE_PROCESSING_REQUIRED",
	types.StatusInvalidParameter:      "STATUS_INVALID_PARAMETER",
	types.StatusNoSuchFile:            "STATUS_NO_SUCH_FILE",
	types.StatusEndOfFile:             "STATUS_END_OF_FILE",
	types.StatusAccessDenied:          "STATUS_ACCESS_DENIED",
	types.StatusObjectNameNotFound:    "STATUS_OBJECT_NAME_NOT_FOUND",
	types.StatusObjectNameCollision:   "STATUS_OBJECT_NAME_COLLISION",
	types.StatusObjectPathNotFound:    "STATUS_OBJECT_PATH_NOT_FOUND",
	types.StatusSharingViolation:      "STATUS_SHARING_VIOLATION",
	types.StatusDeletePending:         "STATUS_DELETE_PENDING",
	types.StatusLogonFailure:          "STATUS_LOGON_FAILURE",
	types.StatusAccountDisabled:       "STATUS_ACCOUNT_DISABLED",
	types.StatusPasswordExpired:       "STATUS_PASSWORD_EXPIRED",
	types.StatusBadNetworkName:        "STATUS_BAD_NETWORK_NAME",
	types.StatusNotSupported:          "STATUS_NOT_SUPPORTED",
	types.StatusPipeBroken:            "STATUS_PIPE_BROKEN",
	types.StatusNetworkSessionExpired: "STATUS_NETWORK_SESSION_EXPIRED",
	types.StatusNoMoreFiles:           "STATUS_NO_MORE_FILES",
}

// NTStatusError carries the raw NT status of a failed request. Err is the
// package sentinel the status maps to, if any, so callers can match with
// errors.Is and still recover the code with errors.As.
type NTStatusError struct {
	Status types.NTStatus
	Err    error
}

// Error implements the error interface
func (e *NTStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (0x%08X %s)", e.Err, uint32(e.Status), e.StatusName())
	}
	return fmt.Sprintf("NT status error: 0x%08X (%s)", uint32(e.Status), e.StatusName())
}

// Unwrap returns the mapped sentinel
func (e *NTStatusError) Unwrap() error {
	return e.Err
}

// StatusName returns a human-readable name for the status
func (e *NTStatusError) StatusName() string {
	if name, ok := statusNames[e.Status]; ok {
		return name
	}
	return "UNKNOWN"
}

// NewNTStatusError creates a new NTStatusError
func NewNTStatusError(status types.NTStatus) *NTStatusError {
	return &NTStatusError{Status: status, Err: sentinelFor(status)}
}

func sentinelFor(status types.NTStatus) error {
	switch status {
	case types.StatusAccessDenied:
		return ErrAccessDenied
	case types.StatusObjectNameNotFound:
		return ErrNotFound
	case types.StatusObjectPathNotFound:
		return ErrPathNotFound
	case types.StatusSharingViolation:
		return ErrSharingViolation
	case types.StatusDeletePending:
		return ErrDeletePending
	case types.StatusObjectNameCollision:
		return ErrAlreadyExists
	case types.StatusLogonFailure, types.StatusAccountDisabled, types.StatusPasswordExpired:
		return ErrAuthFailed
	case types.StatusBadNetworkName:
		return ErrBadNetworkName
	case types.StatusNetworkSessionExpired:
		return ErrSessionExpired
	case types.StatusNotSupported:
		return ErrNotSupported
	case types.StatusInvalidParameter:
		return ErrInvalidParameter
	}
	return nil
}

// StatusToError converts an NT status to an error. The result matches the
// corresponding sentinel with errors.Is and is always an *NTStatusError.
func StatusToError(status types.NTStatus) error {
	if status.IsSuccess() {
		return nil
	}
	return NewNTStatusError(status)
}

// Status extracts the NT status from err, if it carries one.
func Status(err error) (types.NTStatus, bool) {
	var se *NTStatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}
