// Package tsch implements the parts of MS-TSCH (Task Scheduler Service
// Remoting Protocol, ITaskSchedulerService) needed to run a command as a
// scheduled task and clean it up again.
package tsch

import (
	"fmt"
	"time"

	"github.com/ineffectivecoder/tschexec/pkg/dcerpc"
)

// UUID is the ITaskSchedulerService interface, version 1.0
var UUID = dcerpc.MustParseUUID("86d35949-83c9-4044-b424-db363231fd0c")

// Version is the interface major version
const Version = 1

// PipeName is the endpoint the service listens on
const PipeName = "atsvc"

// Opnums (ITaskSchedulerService)
const (
	OpSchRpcHighestVersion = 0
	OpSchRpcRegisterTask   = 1
	OpSchRpcRetrieveTask   = 2
	OpSchRpcEnumFolders    = 6
	OpSchRpcEnumTasks      = 7
	OpSchRpcRun            = 12
	OpSchRpcDelete         = 13
	OpSchRpcGetLastRunInfo = 16
)

// Task registration flags
const (
	TaskValidateOnly   = 1
	TaskCreate         = 2
	TaskUpdate         = 4
	TaskCreateOrUpdate = 6
	TaskDisable        = 8
)

// Task logon types
const (
	TaskLogonNone                  = 0
	TaskLogonPassword              = 1
	TaskLogonS4U                   = 2
	TaskLogonInteractiveToken      = 3
	TaskLogonGroup                 = 4
	TaskLogonServiceAccount        = 5
	TaskLogonInteractiveOrPassword = 6
)

// TaskEnumHidden includes hidden tasks in enumerations
const TaskEnumHidden = 1

// SystemTime is a Windows SYSTEMTIME
type SystemTime struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// IsZero reports whether the time is unset. The service reports a task
// that has not finished a run with a zero year.
func (t SystemTime) IsZero() bool {
	return t.Year == 0
}

// Time converts to time.Time in UTC
func (t SystemTime) Time() time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day),
		int(t.Hour), int(t.Minute), int(t.Second), int(t.Milliseconds)*int(time.Millisecond), time.UTC)
}

func (t SystemTime) String() string {
	if t.IsZero() {
		return "never"
	}
	return t.Time().Format(time.RFC3339)
}

// LastRunInfo is the result of SchRpcGetLastRunInfo
type LastRunInfo struct {
	LastRuntime    SystemTime
	LastReturnCode uint32
}

// Completed reports whether the task has finished at least one run
func (i LastRunInfo) Completed() bool {
	return !i.LastRuntime.IsZero()
}

func (i LastRunInfo) String() string {
	return fmt.Sprintf("last run %s, exit code 0x%08X", i.LastRuntime, i.LastReturnCode)
}
