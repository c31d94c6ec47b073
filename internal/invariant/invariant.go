// Package invariant evaluates the named predicates that gate workflow
// commands. Each predicate is pure: it inspects a work-item snapshot plus
// backlog context and returns a verdict with a human-readable detail.
package invariant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/metalagman/ampa/internal/workflow"
	"github.com/metalagman/ampa/internal/worklog"
)

// AuditHeading marks a worklog comment as an audit result.
const AuditHeading = "# AMPA Audit Result"

var (
	acceptanceRe  = regexp.MustCompile(`(?i)acceptance criteria|- \[[ xX]\]`)
	approvalRe    = regexp.MustCompile(`(?m)^Approved by \w+`)
	closureYesRe  = regexp.MustCompile(`(?i)can this item be closed\?\s*yes`)
	closureNoRe   = regexp.MustCompile(`(?i)can this item be closed\?\s*no`)
	testHeadingRe = regexp.MustCompile(`(?im)^#{2,}\s*(testing|tests|test plan)\b`)
	testLinkRe    = regexp.MustCompile(`(?i)https?://\S*test\S*`)
)

// Delegatable stages: items further along are owned by the review flow.
var delegatableStages = []string{
	worklog.StageIdea,
	worklog.StageIntakeComplete,
	worklog.StagePlanComplete,
}

var doNotDelegateTags = []string{"do-not-delegate", "do_not_delegate"}
var doNotDelegateFlags = []string{"do_not_delegate", "no_delegation"}

// Context carries the inputs predicates evaluate against. Backlog is the
// caller's snapshot of currently in-progress items; it may include the item
// itself, which the concurrency predicate excludes by id.
type Context struct {
	Item       *worklog.WorkItem
	Backlog    []worklog.WorkItem
	Descriptor *workflow.Descriptor
}

// Verdict is the outcome of one predicate.
type Verdict struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Verdicts is an evaluation batch.
type Verdicts []Verdict

// OK reports whether every verdict passed.
func (v Verdicts) OK() bool {
	for _, verdict := range v {
		if !verdict.OK {
			return false
		}
	}
	return true
}

// Failures returns the failing subset.
func (v Verdicts) Failures() Verdicts {
	var out Verdicts
	for _, verdict := range v {
		if !verdict.OK {
			out = append(out, verdict)
		}
	}
	return out
}

// Reasons renders the failing subset as "name: detail" lines.
func (v Verdicts) Reasons() []string {
	var out []string
	for _, verdict := range v.Failures() {
		out = append(out, fmt.Sprintf("%s: %s", verdict.Name, verdict.Detail))
	}
	return out
}

type predicate func(ctx Context) (bool, string)

var builtins = map[string]predicate{
	"requires_work_item_context":       requiresWorkItemContext,
	"requires_acceptance_criteria":     requiresAcceptanceCriteria,
	"requires_stage_for_delegation":    requiresStageForDelegation,
	"not_do_not_delegate":              notDoNotDelegate,
	"no_in_progress_items":             noInProgressItems,
	"requires_audit_result":            requiresAuditResult,
	"audit_recommends_closure":         auditRecommendsClosure,
	"audit_does_not_recommend_closure": auditDoesNotRecommendClosure,
	"requires_approvals":               requiresApprovals,
	"requires_tests":                   requiresTests,
}

// Evaluator resolves invariant names to predicates via the workflow
// descriptor's expression references.
type Evaluator struct {
	desc *workflow.Descriptor
}

// New builds an evaluator. A nil descriptor falls back to resolving names
// directly against the built-in predicate set.
func New(desc *workflow.Descriptor) *Evaluator {
	return &Evaluator{desc: desc}
}

// Evaluate runs a single named invariant.
func (e *Evaluator) Evaluate(name string, ctx Context) Verdict {
	key := name
	if e.desc != nil {
		if inv, ok := e.desc.InvariantByName(name); ok {
			key = strings.TrimPrefix(inv.Expression, "builtin:")
		}
	}
	pred, ok := builtins[key]
	if !ok {
		return Verdict{Name: name, OK: false, Detail: fmt.Sprintf("unknown predicate %q", key)}
	}
	ok, detail := pred(ctx)
	return Verdict{Name: name, OK: ok, Detail: detail}
}

// EvaluateAll runs every named invariant and returns all verdicts, passing
// and failing alike. It never stops at the first failure so callers can
// surface the complete rejection picture.
func (e *Evaluator) EvaluateAll(names []string, ctx Context) Verdicts {
	out := make(Verdicts, 0, len(names))
	for _, name := range names {
		out = append(out, e.Evaluate(name, ctx))
	}
	return out
}

func requiresWorkItemContext(ctx Context) (bool, string) {
	n := ctx.Item.DescLen()
	if n > 100 {
		return true, fmt.Sprintf("description length %d", n)
	}
	return false, fmt.Sprintf("description length %d, need more than 100", n)
}

func requiresAcceptanceCriteria(ctx Context) (bool, string) {
	if acceptanceRe.MatchString(ctx.Item.Description) {
		return true, "acceptance criteria present"
	}
	return false, "no acceptance criteria heading or checkboxes in description"
}

func requiresStageForDelegation(ctx Context) (bool, string) {
	for _, stage := range delegatableStages {
		if ctx.Item.Stage == stage {
			return true, fmt.Sprintf("stage %q is delegatable", ctx.Item.Stage)
		}
	}
	return false, fmt.Sprintf("stage %q is not delegatable", ctx.Item.Stage)
}

func notDoNotDelegate(ctx Context) (bool, string) {
	for _, tag := range doNotDelegateTags {
		if ctx.Item.HasTag(tag) {
			return false, fmt.Sprintf("tagged %s", tag)
		}
	}
	for _, flag := range doNotDelegateFlags {
		if ctx.Item.MetadataFlag(flag) {
			return false, fmt.Sprintf("metadata flag %s is set", flag)
		}
	}
	return true, "delegation not blocked"
}

func noInProgressItems(ctx Context) (bool, string) {
	var busy []string
	for _, other := range ctx.Backlog {
		if other.ID == ctx.Item.ID {
			continue
		}
		if other.Status == worklog.StatusInProgress {
			busy = append(busy, other.ID)
		}
	}
	if len(busy) == 0 {
		return true, "no other item in progress"
	}
	return false, fmt.Sprintf("%d other item(s) already in progress (%s)", len(busy), strings.Join(busy, ", "))
}

func requiresAuditResult(ctx Context) (bool, string) {
	latest := ctx.Item.LatestComment()
	if latest == nil {
		return false, "item has no comments"
	}
	if strings.Contains(latest.Body, AuditHeading) {
		return true, "latest comment is an audit result"
	}
	return false, "latest comment is not an audit result"
}

func auditRecommendsClosure(ctx Context) (bool, string) {
	body, ok := latestAuditBody(ctx.Item)
	if !ok {
		return false, "no audit result comment found"
	}
	if closureYesRe.MatchString(body) {
		return true, "audit recommends closure"
	}
	return false, "latest audit does not recommend closure"
}

func auditDoesNotRecommendClosure(ctx Context) (bool, string) {
	body, ok := latestAuditBody(ctx.Item)
	if !ok {
		return false, "no audit result comment found"
	}
	if closureNoRe.MatchString(body) {
		return true, "audit recommends keeping the item open"
	}
	return false, "latest audit does not argue against closure"
}

func requiresApprovals(ctx Context) (bool, string) {
	for _, c := range ctx.Item.Comments {
		if approvalRe.MatchString(c.Body) {
			return true, "approval comment found"
		}
	}
	return false, "no approval comment found"
}

func requiresTests(ctx Context) (bool, string) {
	if testHeadingRe.MatchString(ctx.Item.Description) {
		return true, "testing section present"
	}
	if testLinkRe.MatchString(ctx.Item.Description) {
		return true, "test plan link present"
	}
	return false, "no test plan reference in description"
}

// latestAuditBody finds the newest comment carrying the audit heading.
func latestAuditBody(item *worklog.WorkItem) (string, bool) {
	for i := len(item.Comments) - 1; i >= 0; i-- {
		if strings.Contains(item.Comments[i].Body, AuditHeading) {
			return item.Comments[i].Body, true
		}
	}
	return "", false
}
