package invariant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/ampa/internal/workflow"
	"github.com/metalagman/ampa/internal/worklog"
)

func evaluator(t *testing.T) *Evaluator {
	t.Helper()
	desc, err := workflow.Canonical()
	require.NoError(t, err)
	return New(desc)
}

func itemCtx(item worklog.WorkItem, backlog ...worklog.WorkItem) Context {
	return Context{Item: &item, Backlog: backlog}
}

func TestEvaluateAllCollectsEveryFailure(t *testing.T) {
	e := evaluator(t)
	item := worklog.WorkItem{
		ID:          "WL-Q",
		Title:       "quarantined",
		Description: "",
		Stage:       worklog.StageIdea,
		Tags:        []string{"do-not-delegate"},
	}

	verdicts := e.EvaluateAll([]string{
		"requires_work_item_context",
		"requires_acceptance_criteria",
		"not_do_not_delegate",
	}, itemCtx(item))

	require.Len(t, verdicts, 3)
	assert.False(t, verdicts.OK())
	failures := verdicts.Failures()
	require.Len(t, failures, 3)

	reasons := strings.Join(verdicts.Reasons(), "\n")
	assert.Contains(t, reasons, "requires_work_item_context")
	assert.Contains(t, reasons, "requires_acceptance_criteria")
	assert.Contains(t, reasons, "not_do_not_delegate")
}

func TestRequiresWorkItemContextBoundary(t *testing.T) {
	e := evaluator(t)

	short := worklog.WorkItem{Description: strings.Repeat("x", 100)}
	assert.False(t, e.Evaluate("requires_work_item_context", itemCtx(short)).OK)

	long := worklog.WorkItem{Description: strings.Repeat("x", 101)}
	assert.True(t, e.Evaluate("requires_work_item_context", itemCtx(long)).OK)

	// A reported length wins over the inline description.
	reported := worklog.WorkItem{Description: "short", DescriptionLength: 500}
	assert.True(t, e.Evaluate("requires_work_item_context", itemCtx(reported)).OK)
}

func TestRequiresAcceptanceCriteria(t *testing.T) {
	e := evaluator(t)

	for _, desc := range []string{
		"Some intro.\n\nAcceptance Criteria:\n- works",
		"## ACCEPTANCE CRITERIA\ndetails",
		"todo:\n- [ ] first\n- [x] second",
		"- [X] capital checkbox",
	} {
		v := e.Evaluate("requires_acceptance_criteria", itemCtx(worklog.WorkItem{Description: desc}))
		assert.True(t, v.OK, "expected pass for %q", desc)
	}

	v := e.Evaluate("requires_acceptance_criteria", itemCtx(worklog.WorkItem{Description: "just prose"}))
	assert.False(t, v.OK)
}

func TestRequiresStageForDelegation(t *testing.T) {
	e := evaluator(t)

	for _, stage := range []string{worklog.StageIdea, worklog.StageIntakeComplete, worklog.StagePlanComplete} {
		v := e.Evaluate("requires_stage_for_delegation", itemCtx(worklog.WorkItem{Stage: stage}))
		assert.True(t, v.OK, "stage %s", stage)
	}

	v := e.Evaluate("requires_stage_for_delegation", itemCtx(worklog.WorkItem{Stage: worklog.StageInReview}))
	assert.False(t, v.OK)
	assert.Contains(t, v.Detail, "in_review")
}

func TestNotDoNotDelegate(t *testing.T) {
	e := evaluator(t)

	assert.True(t, e.Evaluate("not_do_not_delegate", itemCtx(worklog.WorkItem{Tags: []string{"urgent"}})).OK)

	tagged := e.Evaluate("not_do_not_delegate", itemCtx(worklog.WorkItem{Tags: []string{"DO-NOT-DELEGATE"}}))
	assert.False(t, tagged.OK)

	underscored := e.Evaluate("not_do_not_delegate", itemCtx(worklog.WorkItem{Tags: []string{"do_not_delegate"}}))
	assert.False(t, underscored.OK)

	flagged := e.Evaluate("not_do_not_delegate", itemCtx(worklog.WorkItem{
		Metadata: map[string]any{"no_delegation": "yes"},
	}))
	assert.False(t, flagged.OK)
	assert.Contains(t, flagged.Detail, "no_delegation")
}

func TestNoInProgressItems(t *testing.T) {
	e := evaluator(t)
	item := worklog.WorkItem{ID: "WL-A", Status: worklog.StatusOpen}

	assert.True(t, e.Evaluate("no_in_progress_items", itemCtx(item)).OK)

	// The item itself being in the snapshot does not count against it.
	self := worklog.WorkItem{ID: "WL-A", Status: worklog.StatusInProgress}
	assert.True(t, e.Evaluate("no_in_progress_items", itemCtx(self, self)).OK)

	busy := worklog.WorkItem{ID: "WL-B", Status: worklog.StatusInProgress}
	v := e.Evaluate("no_in_progress_items", itemCtx(item, busy))
	assert.False(t, v.OK)
	assert.Contains(t, v.Detail, "WL-B")
}

func TestRequiresAuditResult(t *testing.T) {
	e := evaluator(t)

	none := worklog.WorkItem{}
	assert.False(t, e.Evaluate("requires_audit_result", itemCtx(none)).OK)

	stale := worklog.WorkItem{Comments: []worklog.Comment{
		{Body: AuditHeading + "\nall good"},
		{Body: "unrelated follow-up"},
	}}
	assert.False(t, e.Evaluate("requires_audit_result", itemCtx(stale)).OK)

	fresh := worklog.WorkItem{Comments: []worklog.Comment{
		{Body: "earlier chatter"},
		{Body: AuditHeading + "\nall good"},
	}}
	assert.True(t, e.Evaluate("requires_audit_result", itemCtx(fresh)).OK)
}

func TestAuditClosureRecommendation(t *testing.T) {
	e := evaluator(t)

	yes := worklog.WorkItem{Comments: []worklog.Comment{
		{Body: AuditHeading + "\n## Recommendation\nCan this item be closed? Yes"},
		{Body: "post-audit chatter"},
	}}
	assert.True(t, e.Evaluate("audit_recommends_closure", itemCtx(yes)).OK)
	assert.False(t, e.Evaluate("audit_does_not_recommend_closure", itemCtx(yes)).OK)

	no := worklog.WorkItem{Comments: []worklog.Comment{
		{Body: AuditHeading + "\nCan this item be closed? No, criteria unmet"},
	}}
	assert.False(t, e.Evaluate("audit_recommends_closure", itemCtx(no)).OK)
	assert.True(t, e.Evaluate("audit_does_not_recommend_closure", itemCtx(no)).OK)

	silent := worklog.WorkItem{Comments: []worklog.Comment{{Body: "nothing here"}}}
	assert.False(t, e.Evaluate("audit_recommends_closure", itemCtx(silent)).OK)
}

func TestRequiresApprovals(t *testing.T) {
	e := evaluator(t)

	approved := worklog.WorkItem{Comments: []worklog.Comment{
		{Body: "looks good\nApproved by Producer"},
	}}
	assert.True(t, e.Evaluate("requires_approvals", itemCtx(approved)).OK)

	lowercase := worklog.WorkItem{Comments: []worklog.Comment{
		{Body: "approved by somebody"},
	}}
	assert.False(t, e.Evaluate("requires_approvals", itemCtx(lowercase)).OK)
}

func TestRequiresTests(t *testing.T) {
	e := evaluator(t)

	for _, desc := range []string{
		"Plan.\n\n## Testing\n- run the suite",
		"### Tests\ncovered",
		"see https://ci.example.com/test-plan/12 for coverage",
	} {
		v := e.Evaluate("requires_tests", itemCtx(worklog.WorkItem{Description: desc}))
		assert.True(t, v.OK, "expected pass for %q", desc)
	}

	v := e.Evaluate("requires_tests", itemCtx(worklog.WorkItem{Description: "no mention"}))
	assert.False(t, v.OK)
}

func TestDescriptorExpressionResolution(t *testing.T) {
	desc := &workflow.Descriptor{
		Invariants: []workflow.Invariant{
			{Name: "needs_context", When: workflow.WhenPre, Expression: "builtin:requires_work_item_context"},
			{Name: "mystery", When: workflow.WhenPre, Expression: "builtin:not_a_predicate"},
		},
	}
	e := New(desc)

	item := worklog.WorkItem{Description: strings.Repeat("x", 200)}
	assert.True(t, e.Evaluate("needs_context", itemCtx(item)).OK)

	unknown := e.Evaluate("mystery", itemCtx(item))
	assert.False(t, unknown.OK)
	assert.Contains(t, unknown.Detail, "unknown predicate")

	// Undeclared names fall back to the built-in set directly.
	fallback := New(nil).Evaluate("requires_work_item_context", itemCtx(item))
	assert.True(t, fallback.OK)
}
