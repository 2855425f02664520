package atexec

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// OutputMode selects where the command's output goes
type OutputMode int

const (
	// ModeNone discards output
	ModeNone OutputMode = iota
	// ModeShareBack redirects into %windir%\Temp, read back over ADMIN$
	ModeShareBack
	// ModeFileless redirects to a share the caller serves
	ModeFileless
)

func (m OutputMode) String() string {
	switch m {
	case ModeShareBack:
		return "share-back"
	case ModeFileless:
		return "fileless"
	}
	return "none"
}

// TaskOptions are the inputs of a task definition besides the command
type TaskOptions struct {
	Mode     OutputMode
	TempFile string
	// CallerIP and Share are only used in fileless mode
	CallerIP string
	Share    string
}

// redirect returns the output redirection appended to the command
func (o TaskOptions) redirect() string {
	switch o.Mode {
	case ModeShareBack:
		return ` > %windir%\Temp\` + o.TempFile + " 2>&1"
	case ModeFileless:
		return ` > \\` + o.CallerIP + `\` + o.Share + `\` + o.TempFile + " 2>&1"
	}
	return ""
}

// Arguments returns the cmd.exe argument string
func Arguments(command string, o TaskOptions) string {
	return "/C " + command + o.redirect()
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// BuildTaskXML returns the task definition. The redirection is escaped for
// XML, the command is inserted as is and must not break the document.
func BuildTaskXML(command string, o TaskOptions) string {
	return fmt.Sprintf(taskTemplate, "/C "+command+xmlEscaper.Replace(o.redirect()))
}

// taskTemplate is a hidden daily task with a start boundary in the past,
// run as LocalSystem with the highest privileges.
const taskTemplate = `<?xml version="1.0" encoding="UTF-16"?>
<Task version="1.2" xmlns="http://schemas.microsoft.com/windows/2004/02/mit/task">
  <Triggers>
    <CalendarTrigger>
      <StartBoundary>2015-07-15T20:35:13.2757294</StartBoundary>
      <Enabled>true</Enabled>
      <ScheduleByDay>
        <DaysInterval>1</DaysInterval>
      </ScheduleByDay>
    </CalendarTrigger>
  </Triggers>
  <Principals>
    <Principal id="LocalSystem">
      <UserId>S-1-5-18</UserId>
      <RunLevel>HighestAvailable</RunLevel>
    </Principal>
  </Principals>
  <Settings>
    <MultipleInstancesPolicy>IgnoreNew</MultipleInstancesPolicy>
    <DisallowStartIfOnBatteries>false</DisallowStartIfOnBatteries>
    <StopIfGoingOnBatteries>false</StopIfGoingOnBatteries>
    <AllowHardTerminate>true</AllowHardTerminate>
    <RunOnlyIfNetworkAvailable>false</RunOnlyIfNetworkAvailable>
    <IdleSettings>
      <StopOnIdleEnd>true</StopOnIdleEnd>
      <RestartOnIdle>false</RestartOnIdle>
    </IdleSettings>
    <AllowStartOnDemand>true</AllowStartOnDemand>
    <Enabled>true</Enabled>
    <Hidden>true</Hidden>
    <RunOnlyIfIdle>false</RunOnlyIfIdle>
    <WakeToRun>false</WakeToRun>
    <ExecutionTimeLimit>P3D</ExecutionTimeLimit>
    <Priority>7</Priority>
  </Settings>
  <Actions Context="LocalSystem">
    <Exec>
      <Command>cmd.exe</Command>
      <Arguments>%s</Arguments>
    </Exec>
  </Actions>
</Task>
`

const nameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newTaskName returns n random letters from r
func newTaskName(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	// 208 is the largest multiple of 52 below 256
	const limit = 256 - 256%len(nameAlphabet)

	name := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(name) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to generate task name: %w", err)
		}
		for _, b := range buf {
			if int(b) < limit && len(name) < n {
				name = append(name, nameAlphabet[int(b)%len(nameAlphabet)])
			}
		}
	}
	return string(name), nil
}
