package scheduler

import (
	"context"

	"github.com/metalagman/ampa/internal/agentexec"
	"github.com/metalagman/ampa/internal/store"
)

// excerptLimit bounds the stdout/stderr excerpts kept per run record.
const excerptLimit = 2048

// CustomHandler runs a command's stored invocation argv as-is. Custom
// commands carry no post-processing; the run record is the whole outcome.
type CustomHandler struct {
	Runner agentexec.Runner
}

// Handle implements Handler.
func (h *CustomHandler) Handle(ctx context.Context, cmd store.Command) store.CommandRun {
	if len(cmd.Invocation) == 0 {
		return store.CommandRun{ExitCode: 1, Note: "no invocation configured"}
	}
	res, err := h.Runner.Run(ctx, cmd.Invocation)
	if err != nil {
		return store.CommandRun{ExitCode: 1, Note: err.Error()}
	}
	return store.CommandRun{
		ExitCode:      res.ExitCode,
		StartedAt:     store.At(res.Started),
		FinishedAt:    store.At(res.Finished),
		StdoutExcerpt: agentexec.Tail(res.Stdout, excerptLimit),
		StderrExcerpt: agentexec.Tail(res.Stderr, excerptLimit),
	}
}
