package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/metalagman/ampa/internal/agentexec"
	"github.com/metalagman/ampa/internal/audit"
	"github.com/metalagman/ampa/internal/delegate"
	"github.com/metalagman/ampa/internal/gh"
	"github.com/metalagman/ampa/internal/notify"
	"github.com/metalagman/ampa/internal/proc"
	"github.com/metalagman/ampa/internal/scheduler"
	"github.com/metalagman/ampa/internal/store"
	"github.com/metalagman/ampa/internal/workflow"
	"github.com/metalagman/ampa/internal/worklog"
	"github.com/rs/zerolog/log"
)

// Build validates the workflow descriptor and wires the full scheduler:
// store, worklog client, notifier, agent runner, audit pipeline, delegation
// engine. Descriptor validation errors refuse the build.
func (s *Supervisor) Build() (*scheduler.Scheduler, *atomic.Pointer[workflow.Descriptor], error) {
	cfg := s.cfg

	desc, result, err := workflow.ValidateFile(cfg.DescriptorPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load workflow descriptor: %w", err)
	}
	for _, f := range result.Warnings() {
		log.Warn().Str("code", f.Code).Msg(f.Message)
	}
	if errs := result.Errors(); len(errs) > 0 {
		for _, f := range errs {
			log.Error().Str("code", f.Code).Msg(f.Message)
		}
		return nil, nil, fmt.Errorf("workflow descriptor %s has %d validation error(s)", cfg.DescriptorPath, len(errs))
	}

	var descRef atomic.Pointer[workflow.Descriptor]
	descRef.Store(desc)

	st := store.New(cfg.StorePath)
	wl := worklog.NewClient(cfg.WorklogBin, cfg.ProjectRoot)
	notifier := notify.New(cfg.DiscordWebhookURL, cfg.DiscordBotToken, cfg.DiscordChannelID, notify.NewMasker())
	agent := agentexec.New(cfg.ProjectRoot)

	engine := &delegate.Engine{
		WL:         wl,
		Agent:      agent,
		Notifier:   notifier,
		Descriptor: descRef.Load,
		AgentBin:   cfg.AgentBin,
	}
	runner := &audit.Runner{
		WL:            wl,
		Agent:         agent,
		Notifier:      notifier,
		Verifier:      gh.New(cfg.ProjectRoot),
		AgentBin:      cfg.AgentBin,
		GithubRepo:    cfg.GitHubRepo,
		VerifyDefault: cfg.VerifyPRWithGH,
	}
	var sched *scheduler.Scheduler
	poller := &audit.Poller{
		WL:       wl,
		Store:    st,
		Notifier: notifier,
		Runner:   runner,
		// An audit often frees the single concurrency slot, so a delegation
		// pass follows unless the command says audit_only.
		PostAudit: func(ctx context.Context) {
			postAuditPass(ctx, sched, "delegation")
		},
	}

	sched = scheduler.New(st,
		scheduler.WithTick(cfg.TickInterval),
		scheduler.WithHandler(store.TypeTriageAudit, poller),
		scheduler.WithHandler(store.TypeDelegation, engine),
		scheduler.WithHandler(store.TypeCustom, &scheduler.CustomHandler{Runner: agent}),
		scheduler.WithOwnership(func(pid int) bool { return proc.Owned(pid, cfg.ProjectRoot) }),
	)
	return sched, &descRef, nil
}

// postAuditPass runs one delegation dispatch after an audit. Going through
// ForceRun takes the command's in-flight claim, so a concurrent `ampa run
// delegation` (or the scheduled run itself) cannot double-dispatch; a held
// claim or a missing command skips the pass.
func postAuditPass(ctx context.Context, sched *scheduler.Scheduler, commandID string) {
	run, err := sched.ForceRun(ctx, commandID)
	if err != nil {
		log.Debug().Err(err).Str("command_id", commandID).Msg("post-audit delegation pass skipped")
		return
	}
	log.Info().Str("note", run.Note).Msg("post-audit delegation pass")
}

// runLoop owns the scheduler loop for the life of the foreground process.
// Termination signals cancel the loop with a grace window for the running
// handler; SIGHUP revalidates and hot-swaps the descriptor.
func (s *Supervisor) runLoop(ctx context.Context) error {
	sched, descRef, err := s.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()
	go s.watchReload(ctx, descRef)

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("grace", s.cfg.GraceWindow).Msg("shutdown requested, draining")
	select {
	case err := <-done:
		return err
	case <-time.After(s.cfg.GraceWindow):
		log.Error().Msg("grace window elapsed with a handler still running, exiting")
		return fmt.Errorf("shutdown grace window of %s elapsed", s.cfg.GraceWindow)
	}
}

// watchReload swaps in a revalidated descriptor on each reload signal. A
// descriptor that fails validation is rejected and the old one stays active.
func (s *Supervisor) watchReload(ctx context.Context, descRef *atomic.Pointer[workflow.Descriptor]) {
	signals := reloadSignals()
	if len(signals) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
		desc, result, err := workflow.ValidateFile(s.cfg.DescriptorPath)
		if err != nil {
			log.Error().Err(err).Msg("descriptor reload failed, keeping current descriptor")
			continue
		}
		if errs := result.Errors(); len(errs) > 0 {
			for _, f := range errs {
				log.Error().Str("code", f.Code).Msg(f.Message)
			}
			log.Error().Int("errors", len(errs)).Msg("reloaded descriptor is invalid, keeping current descriptor")
			continue
		}
		descRef.Store(desc)
		log.Info().Str("path", s.cfg.DescriptorPath).Msg("workflow descriptor reloaded")
	}
}
