// Package daemon supervises the long-running scheduler process: pid file
// lifecycle, ownership validation, start/stop/status, and the signal-driven
// loop wiring.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/metalagman/ampa/internal/proc"
	"github.com/rs/zerolog/log"
)

// WritePidFile records pid at path, creating parent directories as needed.
func WritePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPidFile parses the recorded pid. A missing file reports ok=false
// without error.
func ReadPidFile(path string) (int, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false, fmt.Errorf("pid file %s: malformed contents %q", path, strings.TrimSpace(string(data)))
	}
	return pid, true, nil
}

// RemovePidFile deletes the pid file, tolerating absence.
func RemovePidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// LivePid returns the pid recorded at path when it belongs to a live process
// owned by this project. A recorded pid that fails the ownership check is
// stale; the file is removed so a fresh daemon can start.
func LivePid(path, projectRoot string) (int, bool, error) {
	pid, ok, err := ReadPidFile(path)
	if err != nil {
		// A file we cannot parse cannot be honored either.
		log.Warn().Err(err).Str("path", path).Msg("removing malformed pid file")
		return 0, false, RemovePidFile(path)
	}
	if !ok {
		return 0, false, nil
	}
	if proc.Owned(pid, projectRoot) {
		return pid, true, nil
	}
	log.Warn().Int("pid", pid).Str("path", path).Msg("removing stale pid file")
	return 0, false, RemovePidFile(path)
}
