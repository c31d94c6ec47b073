package audit

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/metalagman/ampa/internal/agentexec"
	"github.com/metalagman/ampa/internal/invariant"
	"github.com/metalagman/ampa/internal/notify"
	"github.com/metalagman/ampa/internal/report"
	"github.com/metalagman/ampa/internal/store"
	"github.com/metalagman/ampa/internal/worklog"
	"github.com/rs/zerolog/log"
)

// AuthorName is the comment author audits post as.
const AuthorName = "ampa"

// excerptLimit bounds the output excerpts kept in run records.
const excerptLimit = 2048

// prMergedRe matches the raw-output token that can stand in for an explicit
// closure recommendation.
var prMergedRe = regexp.MustCompile(`(?i)\bPR merged\b`)

// PRVerifier checks pull-request state through an external tool.
type PRVerifier interface {
	Available() bool
	PRMerged(ctx context.Context, url string) (bool, error)
}

// Runner executes one audit: spawn the agent, parse its report, notify,
// post the report comment, and apply the auto-completion gate. All state
// changes go through the worklog CLI.
type Runner struct {
	WL       worklog.Worklog
	Agent    agentexec.Runner
	Notifier notify.Notifier
	// Verifier may be nil when no gh binary exists anywhere.
	Verifier PRVerifier
	// AgentBin overrides the default opencode binary in the built-in
	// invocation.
	AgentBin string
	// GithubRepo ("owner/name") builds issue links in notifications.
	GithubRepo string
	// VerifyDefault applies when the command metadata does not set
	// verify_pr_with_gh.
	VerifyDefault bool
	// TmpDir receives oversized report bodies; empty means the system
	// temp dir.
	TmpDir string
}

func (r *Runner) agentBin() string {
	if r.AgentBin != "" {
		return r.AgentBin
	}
	return "opencode"
}

// Audit runs the agent against item and processes the outcome.
func (r *Runner) Audit(ctx context.Context, item worklog.WorkItem, cmd store.Command, settings Settings) store.CommandRun {
	argv := cmd.Invocation
	if len(argv) == 0 {
		argv = []string{r.agentBin(), "run", "/audit " + agentexec.IDPlaceholder}
	}
	argv = agentexec.ExpandArgv(argv, item.ID)

	res, err := r.Agent.Run(ctx, argv)
	if err != nil {
		log.Error().Err(err).Str("item", item.ID).Msg("audit agent failed to start")
		return store.CommandRun{ExitCode: 1, Note: err.Error()}
	}

	rep := report.Parse(res.Combined)
	if !rep.HasDelimiters {
		log.Warn().Str("item", item.ID).Msg("audit output missing report delimiters, using raw text")
	}

	r.notifyReport(ctx, item, rep, res.ExitCode)

	if err := r.postComment(ctx, item.ID, rep.Body, settings.Truncate()); err != nil {
		log.Error().Err(err).Str("item", item.ID).Msg("post audit comment failed")
	}

	note := "audited " + item.ID
	if r.shouldComplete(ctx, item, rep, res.Combined, settings) {
		if err := r.complete(ctx, item); err != nil {
			log.Error().Err(err).Str("item", item.ID).Msg("auto-completion failed")
		} else {
			note += " (auto-completed)"
		}
	}

	return store.CommandRun{
		ExitCode:      res.ExitCode,
		StartedAt:     store.At(res.Started),
		FinishedAt:    store.At(res.Finished),
		StdoutExcerpt: agentexec.Tail(res.Stdout, excerptLimit),
		StderrExcerpt: agentexec.Tail(res.Stderr, excerptLimit),
		Note:          note,
	}
}

func (r *Runner) notifyReport(ctx context.Context, item worklog.WorkItem, rep *report.Report, exitCode int) {
	if r.Notifier == nil {
		return
	}
	summary := report.FirstParagraph(rep.Summary)
	if summary == "" {
		summary = report.FirstParagraph(rep.Body)
	}
	if summary == "" {
		summary = fmt.Sprintf("audit exited with code %d", exitCode)
	}

	fields := []notify.Field{{Name: "Item", Value: item.ID, Inline: true}}
	if rep.PRURL != "" {
		fields = append(fields, notify.Field{Name: "PR", Value: rep.PRURL, Inline: true})
	}
	if r.GithubRepo != "" && item.GithubIssueNumber > 0 {
		fields = append(fields, notify.Field{
			Name:   "Issue",
			Value:  fmt.Sprintf("https://github.com/%s/issues/%d", r.GithubRepo, item.GithubIssueNumber),
			Inline: true,
		})
	}

	severity := notify.SeverityInfo
	switch {
	case rep.ClosesItem:
		severity = notify.SeveritySuccess
	case exitCode != 0:
		severity = notify.SeverityWarning
	}

	n := notify.Notification{
		Title:    fmt.Sprintf("Audit report for %s", item.Title),
		Body:     summary,
		Fields:   fields,
		Severity: severity,
	}
	if err := r.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("item", item.ID).Msg("audit notification failed")
	}
}

// postComment adds the structured report under the audit heading. Oversized
// bodies go to a temp file referenced by a short comment; the file is
// removed once the comment posts.
func (r *Runner) postComment(ctx context.Context, itemID, body string, truncateChars int) error {
	if len(body) <= truncateChars {
		return r.WL.AddComment(ctx, itemID, invariant.AuditHeading+"\n\n"+body, AuthorName)
	}

	tmp, err := os.CreateTemp(r.TmpDir, "ampa-audit-*.md")
	if err != nil {
		return fmt.Errorf("create audit overflow file: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.WriteString(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write audit overflow file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close audit overflow file: %w", err)
	}

	short := fmt.Sprintf("%s\n\nReport body is %d bytes, over the %d byte comment limit; full text written to %s.",
		invariant.AuditHeading, len(body), truncateChars, path)
	if err := r.WL.AddComment(ctx, itemID, short, AuthorName); err != nil {
		// Keep the file; it holds the only surviving copy of the report.
		return err
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("remove audit overflow file failed")
	}
	return nil
}

// shouldComplete applies the auto-completion gate: a closure recommendation
// (or PR-merged token), no open children, and a merged PR when verification
// is on.
func (r *Runner) shouldComplete(ctx context.Context, item worklog.WorkItem, rep *report.Report, raw string, settings Settings) bool {
	if !rep.ClosesItem && !prMergedRe.MatchString(raw) {
		return false
	}
	if !r.childrenClosed(ctx, item) {
		log.Info().Str("item", item.ID).Msg("auto-completion blocked by open children")
		return false
	}
	if rep.PRURL != "" && settings.Verify(r.VerifyDefault) {
		if r.Verifier == nil || !r.Verifier.Available() {
			log.Warn().Str("item", item.ID).Msg("gh unavailable, skipping PR merge verification")
			return true
		}
		merged, err := r.Verifier.PRMerged(ctx, rep.PRURL)
		if err != nil {
			log.Error().Err(err).Str("item", item.ID).Str("pr", rep.PRURL).Msg("PR merge verification failed")
			return false
		}
		if !merged {
			log.Info().Str("item", item.ID).Str("pr", rep.PRURL).Msg("PR not merged, auto-completion blocked")
			return false
		}
	}
	return true
}

func (r *Runner) childrenClosed(ctx context.Context, item worklog.WorkItem) bool {
	for _, childID := range item.Children {
		child, err := r.WL.Show(ctx, childID)
		if err != nil {
			log.Warn().Err(err).Str("child", childID).Msg("child lookup failed, treating as open")
			return false
		}
		if !worklog.TerminalStatus(child.Status) {
			return false
		}
	}
	return true
}

func (r *Runner) complete(ctx context.Context, item worklog.WorkItem) error {
	yes := true
	fields := worklog.UpdateFields{
		Status:              worklog.StatusCompleted,
		Stage:               worklog.StageInReview,
		NeedsProducerReview: &yes,
	}
	if err := r.WL.Update(ctx, item.ID, fields); err != nil {
		return fmt.Errorf("update %s: %w", item.ID, err)
	}
	body := fmt.Sprintf("# AMPA Auto-close\n\nAudit recommends closure; %s is marked completed pending producer review.", item.ID)
	if err := r.WL.AddComment(ctx, item.ID, body, AuthorName); err != nil {
		return fmt.Errorf("add auto-close comment: %w", err)
	}
	log.Info().Str("item", item.ID).Msg("item auto-completed")
	return nil
}
