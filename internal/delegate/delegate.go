// Package delegate implements the delegation engine: it picks the best
// backlog candidate, gates it against the delegate command's invariants, and
// hands it to the coding agent without blocking the scheduler tick.
package delegate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/ampa/internal/agentexec"
	"github.com/metalagman/ampa/internal/invariant"
	"github.com/metalagman/ampa/internal/notify"
	"github.com/metalagman/ampa/internal/store"
	"github.com/metalagman/ampa/internal/workflow"
	"github.com/metalagman/ampa/internal/worklog"
	"github.com/rs/zerolog/log"
)

// AuthorName is the comment author delegations post as.
const AuthorName = "ampa"

// candidateCount is how many prioritized candidates `wl next` is asked for.
const candidateCount = 3

// Actions an accepted candidate is advanced with, keyed by current stage.
const (
	ActionIntake    = "intake"
	ActionPlan      = "plan"
	ActionImplement = "implement"
)

var actionByStage = map[string]string{
	worklog.StageIdea:           ActionIntake,
	worklog.StageIntakeComplete: ActionPlan,
	worklog.StagePlanComplete:   ActionImplement,
}

// defaultPre is the delegate gate used when the descriptor lacks a delegate
// command. The validator flags that descriptor, but a force-run should still
// behave sensibly.
var defaultPre = []string{
	"requires_work_item_context",
	"requires_acceptance_criteria",
	"requires_stage_for_delegation",
	"not_do_not_delegate",
	"no_in_progress_items",
}

// rejection records why one candidate failed admission.
type rejection struct {
	item    worklog.WorkItem
	reasons []string
}

// Engine runs one delegation cycle per scheduled invocation.
type Engine struct {
	WL       worklog.Worklog
	Agent    agentexec.Runner
	Notifier notify.Notifier
	// Descriptor returns the current workflow document; SIGHUP reload swaps
	// the value behind it.
	Descriptor func() *workflow.Descriptor
	// AgentBin overrides the default opencode binary in built-in argv
	// templates.
	AgentBin string
	// Now is the time source; nil means time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) agentBin() string {
	if e.AgentBin != "" {
		return e.AgentBin
	}
	return "opencode"
}

func (e *Engine) descriptor() *workflow.Descriptor {
	if e.Descriptor == nil {
		return nil
	}
	return e.Descriptor()
}

// Handle runs one delegation cycle. It satisfies the scheduler's handler
// contract: failures come back as run records, and the agent dispatch is
// fire-and-forget so the tick never waits on agent completion.
func (e *Engine) Handle(ctx context.Context, cmd store.Command) store.CommandRun {
	settings, err := DecodeSettings(cmd.Metadata)
	if err != nil {
		log.Warn().Err(err).Str("command_id", cmd.CommandID).Msg("bad command metadata, using defaults")
	}

	busy, err := e.WL.InProgress(ctx)
	if err != nil {
		log.Error().Err(err).Msg("in-progress query failed")
		return store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("in-progress query: %v", err)}
	}
	if len(busy) > 0 {
		e.notifyBusy(ctx, busy)
		return store.CommandRun{Note: fmt.Sprintf("idle: %d item(s) already in progress", len(busy))}
	}

	candidates, err := e.WL.Next(ctx, candidateCount)
	if err != nil {
		log.Error().Err(err).Msg("candidate query failed")
		return store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("candidate query: %v", err)}
	}
	if len(candidates) == 0 {
		e.notifyIdle(ctx, nil)
		return store.CommandRun{Note: "idle: no candidates"}
	}

	desc := e.descriptor()
	eval := invariant.New(desc)
	pre := e.preInvariants(desc)

	var rejected []rejection
	for _, item := range candidates {
		verdicts := eval.EvaluateAll(pre, invariant.Context{
			Item:       &item,
			Backlog:    busy,
			Descriptor: desc,
		})
		if verdicts.OK() {
			return e.dispatch(ctx, cmd, item, settings, desc)
		}
		log.Debug().Str("item", item.ID).Strs("reasons", verdicts.Reasons()).Msg("candidate rejected")
		rejected = append(rejected, rejection{item: item, reasons: verdicts.Reasons()})
	}

	e.notifyIdle(ctx, rejected)
	return store.CommandRun{Note: fmt.Sprintf("idle: %d candidate(s) rejected", len(rejected))}
}

// preInvariants returns the delegate command's pre list from the descriptor,
// falling back to the built-in gate when the command is missing.
func (e *Engine) preInvariants(desc *workflow.Descriptor) []string {
	if desc != nil {
		if cmd, ok := desc.Command("delegate"); ok && len(cmd.Pre) > 0 {
			return cmd.Pre
		}
	}
	log.Warn().Msg("descriptor has no delegate command, using built-in pre invariants")
	return defaultPre
}

// dispatch spawns the agent for the accepted candidate, then records the
// claim on the work item itself and announces the delegation.
func (e *Engine) dispatch(ctx context.Context, cmd store.Command, item worklog.WorkItem, settings Settings, desc *workflow.Descriptor) store.CommandRun {
	action, ok := actionByStage[item.Stage]
	if !ok {
		// requires_stage_for_delegation passed, so this means the stage
		// table and the invariant disagree.
		return store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("no action for stage %q", item.Stage)}
	}

	argv := e.argvFor(cmd, settings, action)
	argv = agentexec.ExpandArgv(argv, item.ID)

	pid, err := e.Agent.Start(ctx, argv)
	if err != nil {
		log.Error().Err(err).Str("item", item.ID).Msg("agent dispatch failed")
		return store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("dispatch %s: %v", item.ID, err)}
	}
	log.Info().Str("item", item.ID).Str("action", action).Int("pid", pid).Msg("delegated")

	e.notifyDelegated(ctx, item, action)

	if err := e.record(ctx, item, action, argv, desc); err != nil {
		log.Error().Err(err).Str("item", item.ID).Msg("record delegation failed")
		return store.CommandRun{ExitCode: 1, Note: fmt.Sprintf("delegated %s (%s) but recording failed: %v", item.ID, action, err)}
	}
	return store.CommandRun{Note: fmt.Sprintf("delegated %s (%s) to pid %d", item.ID, action, pid)}
}

// argvFor picks the invocation template: per-action metadata override first,
// then the command's stored invocation, then the built-in template.
func (e *Engine) argvFor(cmd store.Command, settings Settings, action string) []string {
	if argv := settings.Invocation(action); len(argv) > 0 {
		return argv
	}
	if len(cmd.Invocation) > 0 {
		return cmd.Invocation
	}
	prompt := fmt.Sprintf("work on %s using the %s skill", agentexec.IDPlaceholder, action)
	return []string{e.agentBin(), "run", prompt}
}

// record applies the delegate command's effects through the worklog CLI and
// leaves an audit trail comment on the item.
func (e *Engine) record(ctx context.Context, item worklog.WorkItem, action string, argv []string, desc *workflow.Descriptor) error {
	assignee := "Patch"
	addTags := []string{"delegated"}
	if desc != nil {
		if cmd, ok := desc.Command("delegate"); ok {
			if cmd.Effects.SetAssignee != "" {
				assignee = cmd.Effects.SetAssignee
			}
			if len(cmd.Effects.AddTags) > 0 {
				addTags = cmd.Effects.AddTags
			}
		}
	}

	fields := worklog.UpdateFields{
		Status:   worklog.StatusInProgress,
		Stage:    worklog.StageDelegated,
		Assignee: assignee,
		AddTags:  addTags,
	}
	if err := e.WL.Update(ctx, item.ID, fields); err != nil {
		return fmt.Errorf("update %s: %w", item.ID, err)
	}

	body := fmt.Sprintf(
		"# AMPA Delegation\n\nCommand: delegate\nAction: %s\nActor: PM\nAgent: %s\nDispatched: %s\nPrompt: %s",
		action, assignee, e.now().UTC().Format(time.RFC3339), strings.Join(argv, " "))
	if err := e.WL.AddComment(ctx, item.ID, body, AuthorName); err != nil {
		return fmt.Errorf("add delegation comment: %w", err)
	}
	return nil
}

func (e *Engine) notifyDelegated(ctx context.Context, item worklog.WorkItem, action string) {
	if e.Notifier == nil {
		return
	}
	n := notify.Notification{
		Title:    "Delegation",
		Body:     fmt.Sprintf("Delegating '%s' task for '%s' (%s)", action, item.Title, item.ID),
		Fields:   []notify.Field{{Name: "Item", Value: item.ID, Inline: true}, {Name: "Action", Value: action, Inline: true}},
		Severity: notify.SeverityInfo,
	}
	if err := e.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Msg("delegation notification failed")
	}
}

func (e *Engine) notifyBusy(ctx context.Context, busy []worklog.WorkItem) {
	if e.Notifier == nil {
		return
	}
	ids := make([]string, 0, len(busy))
	for _, item := range busy {
		ids = append(ids, item.ID)
	}
	n := notify.Notification{
		Title:    "Delegation idle",
		Body:     fmt.Sprintf("%d item(s) already in progress: %s", len(busy), strings.Join(ids, ", ")),
		Severity: notify.SeverityInfo,
	}
	if err := e.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Msg("idle notification failed")
	}
}

// notifyIdle summarizes why this cycle produced no delegation: one line per
// rejected candidate, or a bare no-candidates message.
func (e *Engine) notifyIdle(ctx context.Context, rejected []rejection) {
	if e.Notifier == nil {
		return
	}
	n := notify.Notification{
		Title:    "Delegation idle",
		Severity: notify.SeverityInfo,
	}
	if len(rejected) == 0 {
		n.Body = "No delegation candidates in the backlog."
	} else {
		var lines []string
		for _, r := range rejected {
			lines = append(lines, fmt.Sprintf("%s '%s': %s", r.item.ID, r.item.Title, strings.Join(r.reasons, "; ")))
		}
		n.Body = "No candidate passed admission:\n" + strings.Join(lines, "\n")
	}
	if err := e.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Msg("idle notification failed")
	}
}
