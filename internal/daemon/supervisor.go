package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/metalagman/ampa/internal/config"
	"github.com/metalagman/ampa/internal/proc"
	"github.com/rs/zerolog/log"
)

// DefaultName is the supervisor instance name when none is given.
const DefaultName = "default"

const (
	stopWait     = 10 * time.Second
	killWait     = 2 * time.Second
	pollInterval = 200 * time.Millisecond
)

// Supervisor manages one named daemon instance for a project.
type Supervisor struct {
	cfg  *config.Config
	name string
}

// New builds a supervisor for the named instance. An empty name selects the
// default instance.
func New(cfg *config.Config, name string) *Supervisor {
	if name == "" {
		name = DefaultName
	}
	return &Supervisor{cfg: cfg, name: name}
}

// Name returns the instance name.
func (s *Supervisor) Name() string { return s.name }

// PidFile returns the instance pid file path.
func (s *Supervisor) PidFile() string { return s.cfg.PidFile(s.name) }

// LogFile returns the instance log file path.
func (s *Supervisor) LogFile() string { return s.cfg.LogFile(s.name) }

// Start launches the daemon in the background by re-executing the current
// binary with --foreground. It reports the running pid, which is the
// already-running owner's when one exists.
func (s *Supervisor) Start(debug bool) (int, error) {
	if pid, running, err := LivePid(s.PidFile(), s.cfg.ProjectRoot); err != nil {
		return 0, err
	} else if running {
		log.Info().Int("pid", pid).Msg("daemon already running")
		return pid, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve own executable: %w", err)
	}
	if err := os.MkdirAll(s.cfg.RunDir(s.name), 0o755); err != nil {
		return 0, fmt.Errorf("create daemon dir: %w", err)
	}
	logf, err := os.OpenFile(s.LogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open daemon log: %w", err)
	}
	defer func() { _ = logf.Close() }()

	// The project root in the argv is what the ownership predicate matches
	// on later.
	args := []string{"start", "--foreground", "--name", s.name, "--project", s.cfg.ProjectRoot}
	if debug {
		args = append(args, "--debug")
	}
	cmd := exec.Command(exe, args...)
	cmd.Dir = s.cfg.ProjectRoot
	cmd.Stdin = nil
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Env = append(os.Environ(), "AMPA_RUN_SCHEDULER=1")
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := WritePidFile(s.PidFile(), pid); err != nil {
		return 0, err
	}
	if err := cmd.Process.Release(); err != nil {
		log.Warn().Err(err).Msg("release daemon process handle failed")
	}
	log.Info().Int("pid", pid).Str("log", s.LogFile()).Msg("daemon started")
	return pid, nil
}

// RunForeground runs the scheduler loop in this process: the path the
// background child takes, and what --foreground gives operators directly.
func (s *Supervisor) RunForeground(ctx context.Context) error {
	if err := WritePidFile(s.PidFile(), os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := RemovePidFile(s.PidFile()); err != nil {
			log.Warn().Err(err).Msg("remove pid file failed")
		}
	}()
	return s.runLoop(ctx)
}

// Stop terminates the running daemon: a polite signal first, escalating to a
// forced kill after the stop window. Stopping an already stopped daemon is
// not an error.
func (s *Supervisor) Stop() error {
	pid, running, err := LivePid(s.PidFile(), s.cfg.ProjectRoot)
	if err != nil {
		return err
	}
	if !running {
		log.Info().Msg("daemon already stopped")
		return nil
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	log.Info().Int("pid", pid).Msg("stopping daemon")
	if err := terminate(p); err != nil {
		return fmt.Errorf("signal daemon %d: %w", pid, err)
	}
	if waitGone(pid, stopWait) {
		return RemovePidFile(s.PidFile())
	}

	log.Warn().Int("pid", pid).Msg("daemon did not stop in time, killing")
	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill daemon %d: %w", pid, err)
	}
	if !waitGone(pid, killWait) {
		return fmt.Errorf("daemon %d survived kill", pid)
	}
	return RemovePidFile(s.PidFile())
}

// Status reports whether the daemon is running and, when stopped, the tail
// of its log for the last-error excerpt.
type Status struct {
	Running bool     `json:"running"`
	PID     int      `json:"pid,omitempty"`
	LogTail []string `json:"log_tail,omitempty"`
}

// Status inspects the pid file and log.
func (s *Supervisor) Status() (Status, error) {
	pid, running, err := LivePid(s.PidFile(), s.cfg.ProjectRoot)
	if err != nil {
		return Status{}, err
	}
	if running {
		return Status{Running: true, PID: pid}, nil
	}
	return Status{LogTail: tailLines(s.LogFile(), 20)}, nil
}

func waitGone(pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !proc.Alive(pid) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return !proc.Alive(pid)
}

// tailLines returns up to n trailing non-empty lines of the file, or nil
// when the file is missing or empty.
func tailLines(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var out []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
