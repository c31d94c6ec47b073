// Package scheduler drives scheduled commands from the store on a fixed
// tick.
//
// The loop is single-threaded and cooperative: each tick loads a fresh
// store snapshot, picks at most one due command, and runs its handler to
// completion. The tick is the fault boundary; a panicking handler becomes a
// failed run record, never a crashed daemon.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/metalagman/ampa/internal/proc"
	"github.com/metalagman/ampa/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultTick is the dispatch interval when none is configured.
const DefaultTick = 15 * time.Second

// Handler executes one run of a scheduled command. Failures are reported in
// the returned run record, not as errors.
type Handler interface {
	Handle(ctx context.Context, cmd store.Command) store.CommandRun
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd store.Command) store.CommandRun

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd store.Command) store.CommandRun {
	return f(ctx, cmd)
}

// Scheduler owns the dispatch loop.
type Scheduler struct {
	store    *store.Store
	handlers map[store.CommandType]Handler
	tick     time.Duration
	now      func() time.Time
	pid      int
	owned    func(pid int) bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick overrides the dispatch interval.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithNow injects the time source.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithHandler routes a command type to a handler.
func WithHandler(t store.CommandType, h Handler) Option {
	return func(s *Scheduler) { s.handlers[t] = h }
}

// WithOwnership injects the predicate deciding whether a recorded in-flight
// pid still belongs to this project. The default keeps claims of any live
// process.
func WithOwnership(fn func(pid int) bool) Option {
	return func(s *Scheduler) { s.owned = fn }
}

// New builds a scheduler over the store.
func New(st *store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		handlers: make(map[store.CommandType]Handler),
		tick:     DefaultTick,
		now:      time.Now,
		pid:      os.Getpid(),
		owned:    proc.Alive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run enters the tick loop until ctx is done. Stale claims are cleared and
// the global start stamp persisted on entry.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.RecoverStale(); err != nil {
		log.Error().Err(err).Msg("stale claim recovery failed")
	}
	if _, err := s.store.Mutate(func(doc *store.Document) error {
		ts := store.At(s.now())
		doc.LastGlobalStart = &ts
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("persist global start failed")
	}

	log.Info().Dur("tick", s.tick).Msg("scheduler loop started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler loop stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// RecoverStale drops in-flight claims left behind by a previous process:
// entries whose pid is dead or, after pid reuse, no longer ours.
func (s *Scheduler) RecoverStale() error {
	_, err := s.store.Mutate(func(doc *store.Document) error {
		changed := false
		for id, claim := range doc.State.InFlight {
			if s.owned(claim.PID) {
				continue
			}
			log.Warn().Str("command_id", id).Int("pid", claim.PID).Msg("clearing stale in-flight claim")
			doc.Release(id)
			changed = true
		}
		if !changed {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover stale claims: %w", err)
	}
	return nil
}

// Tick runs one dispatch pass.
func (s *Scheduler) Tick(ctx context.Context) {
	doc, err := s.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("load scheduler store")
		return
	}
	due := Eligible(doc, s.now())
	if len(due) == 0 {
		return
	}
	// One start per tick keeps run ordering simple.
	s.dispatch(ctx, due[0])
}

// Eligible returns the commands due at now, ordered by type priority then
// id. A command is due when its interval has elapsed since last_run_at (or
// it never ran) and no in-flight claim exists.
func Eligible(doc *store.Document, now time.Time) []store.Command {
	var due []store.Command
	for _, cmd := range doc.Commands {
		if _, busy := doc.State.InFlight[cmd.CommandID]; busy {
			continue
		}
		if last, ok := doc.LastRun(cmd.CommandID); ok && now.Sub(last) < cmd.Interval.Std() {
			continue
		}
		due = append(due, cmd)
	}
	sort.Slice(due, func(i, j int) bool {
		if pi, pj := due[i].Type.Priority(), due[j].Type.Priority(); pi != pj {
			return pi < pj
		}
		return due[i].CommandID < due[j].CommandID
	})
	return due
}

// ForceRun executes commandID once in the foreground, bypassing the
// interval but honoring the in-flight exclusion. last_run_at is left
// untouched.
func (s *Scheduler) ForceRun(ctx context.Context, commandID string) (store.CommandRun, error) {
	doc, err := s.store.Load()
	if err != nil {
		return store.CommandRun{}, err
	}
	cmd, ok := doc.Commands[commandID]
	if !ok {
		return store.CommandRun{}, fmt.Errorf("unknown command %q", commandID)
	}
	claimed, err := s.claim(commandID, false)
	if err != nil {
		return store.CommandRun{}, err
	}
	if !claimed {
		return store.CommandRun{}, fmt.Errorf("command %q is already in flight", commandID)
	}
	run := s.execute(ctx, cmd)
	s.finish(run)
	return run, nil
}

func (s *Scheduler) dispatch(ctx context.Context, cmd store.Command) {
	claimed, err := s.claim(cmd.CommandID, true)
	if err != nil {
		log.Error().Err(err).Str("command_id", cmd.CommandID).Msg("claim failed")
		return
	}
	if !claimed {
		log.Debug().Str("command_id", cmd.CommandID).Msg("command already in flight")
		return
	}
	run := s.execute(ctx, cmd)
	s.finish(run)
}

// claim takes the in-flight slot and, for scheduled runs, advances
// last_run_at in the same write. Advancing before the handler runs means a
// crash mid-handler still consumes the interval.
func (s *Scheduler) claim(commandID string, advance bool) (bool, error) {
	claimed := false
	now := s.now()
	_, err := s.store.Mutate(func(doc *store.Document) error {
		if !doc.Claim(commandID, s.pid, now) {
			return store.ErrNoChange
		}
		claimed = true
		if advance {
			doc.SetLastRun(commandID, now)
		}
		return nil
	})
	return claimed, err
}

func (s *Scheduler) execute(ctx context.Context, cmd store.Command) (run store.CommandRun) {
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("command_id", cmd.CommandID).Interface("panic", r).Msg("handler panicked")
			run = store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("panic: %v", r)}
		}
		run.CommandID = cmd.CommandID
		if run.StartedAt.IsZero() {
			run.StartedAt = store.At(started)
		}
		if run.FinishedAt.IsZero() {
			run.FinishedAt = store.At(s.now())
		}
	}()

	handler, ok := s.handlers[cmd.Type]
	if !ok {
		return store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("no handler registered for type %q", cmd.Type)}
	}
	log.Info().Str("command_id", cmd.CommandID).Str("type", string(cmd.Type)).Msg("running command")
	return handler.Handle(ctx, cmd)
}

func (s *Scheduler) finish(run store.CommandRun) {
	if err := s.store.RecordRun(run); err != nil {
		log.Error().Err(err).Str("command_id", run.CommandID).Msg("record run failed")
	}
	if err := s.store.ReleaseInFlight(run.CommandID); err != nil {
		log.Error().Err(err).Str("command_id", run.CommandID).Msg("release in-flight failed")
	}
}
