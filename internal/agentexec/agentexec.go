// Package agentexec spawns the external AI-agent CLI. The child is a black
// box: the caller supplies an argv, and gets back captured output and an
// exit code, or just a pid for fire-and-forget dispatch.
package agentexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// IDPlaceholder is substituted with the work-item id in argv templates.
const IDPlaceholder = "{id}"

// ExpandArgv substitutes the id placeholder in each template argument.
func ExpandArgv(template []string, id string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, IDPlaceholder, id)
	}
	return out
}

// Tail returns the last limit bytes of s. The cut lands on a UTF-8 rune
// boundary; failures live at the end of output, so the tail is what run
// records keep.
func Tail(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[len(s)-limit:]
	i := 0
	for i < len(cut) && i < utf8.UTFMax && !utf8.RuneStart(cut[i]) {
		i++
	}
	return cut[i:]
}

// CaptureResult is the outcome of a waited agent run.
type CaptureResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Combined interleaves stdout and stderr in arrival order; the audit
	// report extraction scans this.
	Combined string
	Started  time.Time
	Finished time.Time
}

// Runner is the capability seam through which the audit runner and the
// delegation engine reach the agent CLI.
type Runner interface {
	// Run spawns argv and waits. A non-zero exit is reported in the result,
	// not as an error; the error covers spawn failures only.
	Run(ctx context.Context, argv []string) (CaptureResult, error)
	// Start spawns argv without waiting and returns the child pid. The
	// child stays in the daemon's process group so termination signals
	// reach it.
	Start(ctx context.Context, argv []string) (int, error)
}

// CLI runs agent commands via os/exec in a fixed working directory.
type CLI struct {
	// Dir is the working directory for spawned agents, normally the
	// project root.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
}

// New builds a CLI runner rooted at dir.
func New(dir string) *CLI {
	return &CLI{Dir: dir}
}

// Run executes argv and waits for completion, capturing output.
func (c *CLI) Run(ctx context.Context, argv []string) (CaptureResult, error) {
	if len(argv) == 0 {
		return CaptureResult{}, fmt.Errorf("agent run: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	var stdout, stderr, combined bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, &combined)
	cmd.Stderr = io.MultiWriter(&stderr, &combined)

	started := time.Now()
	log.Debug().Strs("argv", argv).Str("dir", c.Dir).Msg("running agent")
	err := cmd.Run()
	result := CaptureResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: combined.String(),
		Started:  started,
		Finished: time.Now(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run agent %v: %w", argv, err)
	}
	return result, nil
}

// Start executes argv without waiting. A goroutine reaps the child and logs
// its exit so no zombie is left behind.
func (c *CLI) Start(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("agent start: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start agent %v: %w", argv, err)
	}
	pid := cmd.Process.Pid
	log.Info().Strs("argv", argv).Int("pid", pid).Msg("agent dispatched")

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		log.Info().Int("pid", pid).Int("exit_code", code).Msg("agent exited")
	}()

	return pid, nil
}
