// Package audit implements the triage-audit pipeline: each cycle selects at
// most one work item waiting in review and runs a structured audit on it.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/metalagman/ampa/internal/notify"
	"github.com/metalagman/ampa/internal/store"
	"github.com/metalagman/ampa/internal/worklog"
	"github.com/rs/zerolog/log"
)

// Poller picks the audit candidate and hands it to the Runner.
type Poller struct {
	WL       worklog.Worklog
	Store    *store.Store
	Notifier notify.Notifier
	Runner   *Runner
	// PostAudit, when set, runs after a finished audit unless the command
	// metadata says audit_only.
	PostAudit func(ctx context.Context)
	// Now is the time source; nil means time.Now.
	Now func() time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Handle runs one triage-audit cycle. It satisfies the scheduler's handler
// contract: failures come back as run records.
func (p *Poller) Handle(ctx context.Context, cmd store.Command) store.CommandRun {
	settings, err := DecodeSettings(cmd.Metadata)
	if err != nil {
		log.Warn().Err(err).Str("command_id", cmd.CommandID).Msg("bad command metadata, using defaults")
	}

	item, skip, err := p.pick(ctx, settings)
	if err != nil {
		log.Error().Err(err).Str("command_id", cmd.CommandID).Msg("audit poll failed")
		return store.CommandRun{ExitCode: 1, Note: err.Error()}
	}
	if skip != "" {
		return store.CommandRun{Note: skip}
	}

	run := p.Runner.Audit(ctx, item, cmd, settings)
	if p.PostAudit != nil && !settings.AuditOnly {
		p.PostAudit(ctx)
	}
	return run
}

// pick returns the least recently updated review item outside its cooldown
// window. The hand-off stamp is persisted before returning, so a crash
// mid-audit cannot cause an immediate re-audit after restart. A non-empty
// skip reason means nothing was selected.
func (p *Poller) pick(ctx context.Context, settings Settings) (worklog.WorkItem, string, error) {
	items, err := p.WL.List(ctx, worklog.ListOptions{Stage: worklog.StageInReview})
	if err != nil {
		return worklog.WorkItem{}, "", fmt.Errorf("list review candidates: %w", err)
	}
	if len(items) == 0 {
		p.notifyIdle(ctx)
		return worklog.WorkItem{}, "no work items in review", nil
	}

	doc, err := p.Store.Load()
	if err != nil {
		return worklog.WorkItem{}, "", err
	}
	now := p.now()
	cooldown := settings.Cooldown()
	var eligible []worklog.WorkItem
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if last, ok := doc.LastAudit(item.ID); ok && now.Sub(last) < cooldown {
			log.Debug().Str("item", item.ID).Time("last_audit", last).Msg("audit cooldown active")
			continue
		}
		eligible = append(eligible, item)
	}
	if len(eligible) == 0 {
		log.Debug().Int("in_review", len(items)).Msg("every review item is cooling down")
		return worklog.WorkItem{}, "all review items cooling down", nil
	}

	sortByStaleness(eligible)
	selected := eligible[0]

	if err := p.Store.SetLastAudit(selected.ID, now); err != nil {
		return worklog.WorkItem{}, "", fmt.Errorf("persist audit stamp: %w", err)
	}
	log.Info().Str("item", selected.ID).Msg("audit candidate selected")
	return selected, "", nil
}

// sortByStaleness orders candidates by updated_at ascending with missing or
// unparsable timestamps first; the id breaks ties so selection is
// deterministic.
func sortByStaleness(items []worklog.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, iok := items[i].UpdatedTime()
		tj, jok := items[j].UpdatedTime()
		switch {
		case !iok && !jok:
			return items[i].ID < items[j].ID
		case !iok:
			return true
		case !jok:
			return false
		case ti.Equal(tj):
			return items[i].ID < items[j].ID
		default:
			return ti.Before(tj)
		}
	})
}

func (p *Poller) notifyIdle(ctx context.Context) {
	if p.Notifier == nil {
		return
	}
	n := notify.Notification{
		Title:    "Audit idle",
		Body:     "No work items are waiting in review.",
		Severity: notify.SeverityInfo,
	}
	if err := p.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Msg("idle notification failed")
	}
}
