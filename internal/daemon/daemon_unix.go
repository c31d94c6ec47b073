//go:build unix

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the background child in its own session so it survives the
// parent CLI exiting and terminal hangups.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func reloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}
