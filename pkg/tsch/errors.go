package tsch

import (
	"errors"
	"fmt"
)

// ErrTaskFailed is matched by every HRESULT failure returned by the service
var ErrTaskFailed = errors.New("task scheduler call failed")

// HRESULT values the service commonly returns
const (
	SOK                   uint32 = 0x00000000
	SFalse                uint32 = 0x00000001
	SchedSTaskHasNotRun   uint32 = 0x00041303
	EAccessDenied         uint32 = 0x80070005
	EFileNotFound         uint32 = 0x80070002
	EAlreadyExists        uint32 = 0x800700B7
	EInvalidArg           uint32 = 0x80070057
	SchedETaskNotRunning  uint32 = 0x8004130B
	SchedEMalformedXML    uint32 = 0x8004131A
	SchedEServiceNotAvail uint32 = 0x80041315
)

var hresultNames = map[uint32]string{
	EAccessDenied:         "E_ACCESSDENIED",
	EFileNotFound:         "ERROR_FILE_NOT_FOUND",
	EAlreadyExists:        "ERROR_ALREADY_EXISTS",
	EInvalidArg:           "E_INVALIDARG",
	SchedETaskNotRunning:  "SCHED_E_TASK_NOT_RUNNING",
	SchedEMalformedXML:    "SCHED_E_MALFORMEDXML",
	SchedEServiceNotAvail: "SCHED_E_SERVICE_NOT_AVAILABLE",
}

// HResultError is a failed HRESULT returned by an operation
type HResultError struct {
	Op   string
	Code uint32
}

func (e *HResultError) Error() string {
	if name, ok := hresultNames[e.Code]; ok {
		return fmt.Sprintf("%s returned %s (0x%08X)", e.Op, name, e.Code)
	}
	return fmt.Sprintf("%s returned 0x%08X", e.Op, e.Code)
}

func (e *HResultError) Unwrap() error {
	return ErrTaskFailed
}

// failed reports whether hr has the severity bit set. Success codes such
// as S_FALSE and SCHED_S_TASK_HAS_NOT_RUN are not failures.
func failed(hr uint32) bool {
	return hr&0x80000000 != 0
}

func checkHResult(op string, hr uint32) error {
	if failed(hr) {
		return &HResultError{Op: op, Code: hr}
	}
	return nil
}
