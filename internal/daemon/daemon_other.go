//go:build !unix

package daemon

import (
	"os"
	"os/exec"
)

func detach(*exec.Cmd) {}

func terminate(p *os.Process) error {
	return p.Kill()
}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// reloadSignals is empty where SIGHUP does not exist; hot reload is a
// restart there.
func reloadSignals() []os.Signal {
	return nil
}
