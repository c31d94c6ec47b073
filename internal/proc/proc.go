// Package proc inspects live processes for ownership checks.
//
// Pid files and in-flight claims outlive the processes that wrote them, and
// pids get reused. Before honoring a recorded pid, callers verify the live
// process is recognizably ours.
package proc

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ownTokens mark a command line as an ampa process regardless of where it
// was started from.
var ownTokens = []string{"ampa.daemon", "ampa.scheduler"}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Cmdline returns the target's full command line, or "" when the process is
// gone or unreadable.
func Cmdline(pid int) string {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	line, err := p.Cmdline()
	if err != nil {
		return ""
	}
	return line
}

// Owned reports whether pid is alive and recognizably ours: its command
// line contains the project root or one of the ampa tokens, or it runs the
// same executable as this process. The executable match is what identifies
// a foreground daemon, whose argv carries no --project flag. An unreadable
// process counts as not owned.
func Owned(pid int, projectRoot string) bool {
	if !Alive(pid) {
		return false
	}
	line := Cmdline(pid)
	if line != "" {
		if projectRoot != "" && strings.Contains(line, projectRoot) {
			return true
		}
		for _, token := range ownTokens {
			if strings.Contains(line, token) {
				return true
			}
		}
	}
	return sameExecutable(pid)
}

// sameExecutable reports whether pid resolves to the binary this process is
// running from.
func sameExecutable(pid int) bool {
	self, err := os.Executable()
	if err != nil {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	exe, err := p.Exe()
	if err != nil {
		return false
	}
	return exe == self
}
