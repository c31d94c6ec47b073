package delegate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/metalagman/ampa/internal/store"
	"github.com/metalagman/ampa/internal/workflow"
	"github.com/metalagman/ampa/internal/worklog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dispatchBase = time.Date(2026, 3, 10, 0, 5, 1, 0, time.UTC)

const goodDescription = `Implement the importer.

## Acceptance Criteria
- [ ] importer reads the feed
- [ ] importer is idempotent

Plenty of surrounding context so the description clears the length gate.`

func testEngine(t *testing.T, wl *fakeWorklog) (*Engine, *fakeAgent, *fakeNotifier) {
	t.Helper()
	desc, err := workflow.Canonical()
	require.NoError(t, err)
	agent := &fakeAgent{}
	notifier := &fakeNotifier{}
	e := &Engine{
		WL:         wl,
		Agent:      agent,
		Notifier:   notifier,
		Descriptor: func() *workflow.Descriptor { return desc },
		Now:        func() time.Time { return dispatchBase },
	}
	return e, agent, notifier
}

func delegationCmd(meta map[string]any) store.Command {
	return store.Command{CommandID: "delegation", Type: store.TypeDelegation, Metadata: meta}
}

func TestHappyPathDelegation(t *testing.T) {
	wl := &fakeWorklog{next: []worklog.WorkItem{{
		ID:          "WL-X",
		Title:       "Feed importer",
		Stage:       worklog.StagePlanComplete,
		Description: goodDescription,
	}}}
	e, agent, notifier := testEngine(t, wl)

	run := e.Handle(context.Background(), delegationCmd(nil))

	assert.Equal(t, 0, run.ExitCode)
	require.Len(t, agent.starts, 1)
	assert.Equal(t, []string{"opencode", "run", "work on WL-X using the implement skill"}, agent.starts[0])

	require.Len(t, wl.updates, 1)
	assert.Equal(t, "WL-X", wl.updates[0].id)
	assert.Equal(t, worklog.StatusInProgress, wl.updates[0].fields.Status)
	assert.Equal(t, worklog.StageDelegated, wl.updates[0].fields.Stage)
	assert.Equal(t, "Patch", wl.updates[0].fields.Assignee)
	assert.Equal(t, []string{"delegated"}, wl.updates[0].fields.AddTags)

	require.Len(t, wl.comments, 1)
	assert.Equal(t, "WL-X", wl.comments[0].id)
	assert.Equal(t, AuthorName, wl.comments[0].author)
	assert.Contains(t, wl.comments[0].body, "# AMPA Delegation")
	assert.Contains(t, wl.comments[0].body, "Action: implement")

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Delegating 'implement' task for 'Feed importer' (WL-X)", notifier.sent[0].Body)
}

func TestActionFollowsStage(t *testing.T) {
	for stage, action := range map[string]string{
		worklog.StageIdea:           ActionIntake,
		worklog.StageIntakeComplete: ActionPlan,
		worklog.StagePlanComplete:   ActionImplement,
	} {
		t.Run(stage, func(t *testing.T) {
			wl := &fakeWorklog{next: []worklog.WorkItem{{
				ID:          "WL-1",
				Title:       "Item",
				Stage:       stage,
				Description: goodDescription,
			}}}
			e, agent, _ := testEngine(t, wl)

			e.Handle(context.Background(), delegationCmd(nil))

			require.Len(t, agent.starts, 1)
			assert.Equal(t, fmt.Sprintf("work on WL-1 using the %s skill", action), agent.starts[0][2])
		})
	}
}

func TestConcurrencyGateStopsBeforeCandidates(t *testing.T) {
	wl := &fakeWorklog{
		inProgress: []worklog.WorkItem{{ID: "WL-BUSY", Status: worklog.StatusInProgress}},
		next:       []worklog.WorkItem{{ID: "WL-X", Stage: worklog.StagePlanComplete, Description: goodDescription}},
	}
	e, agent, notifier := testEngine(t, wl)

	run := e.Handle(context.Background(), delegationCmd(nil))

	assert.Empty(t, agent.starts)
	assert.Empty(t, wl.updates)
	assert.Contains(t, run.Note, "already in progress")
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0].Body, "WL-BUSY")
}

func TestNoCandidatesIsIdle(t *testing.T) {
	wl := &fakeWorklog{}
	e, agent, notifier := testEngine(t, wl)

	run := e.Handle(context.Background(), delegationCmd(nil))

	assert.Empty(t, agent.starts)
	assert.Equal(t, "idle: no candidates", run.Note)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "No delegation candidates in the backlog.", notifier.sent[0].Body)
}

func TestRejectionCollectsEveryFailedInvariant(t *testing.T) {
	wl := &fakeWorklog{next: []worklog.WorkItem{{
		ID:    "WL-Q",
		Title: "Underspecified",
		Stage: worklog.StageIdea,
		Tags:  []string{"do-not-delegate"},
	}}}
	e, agent, notifier := testEngine(t, wl)

	run := e.Handle(context.Background(), delegationCmd(nil))

	assert.Empty(t, agent.starts)
	assert.Contains(t, run.Note, "1 candidate(s) rejected")
	require.Len(t, notifier.sent, 1)
	body := notifier.sent[0].Body
	assert.Contains(t, body, "WL-Q")
	assert.Contains(t, body, "requires_work_item_context")
	assert.Contains(t, body, "requires_acceptance_criteria")
	assert.Contains(t, body, "not_do_not_delegate")
}

func TestSecondCandidateAcceptedWhenFirstFails(t *testing.T) {
	wl := &fakeWorklog{next: []worklog.WorkItem{
		{ID: "WL-BAD", Title: "Thin", Stage: worklog.StageIdea},
		{ID: "WL-OK", Title: "Ready", Stage: worklog.StagePlanComplete, Description: goodDescription},
	}}
	e, agent, _ := testEngine(t, wl)

	run := e.Handle(context.Background(), delegationCmd(nil))

	require.Len(t, agent.starts, 1)
	assert.Contains(t, agent.starts[0][2], "WL-OK")
	assert.Contains(t, run.Note, "delegated WL-OK")
}

func TestInvocationOverrides(t *testing.T) {
	wl := &fakeWorklog{next: []worklog.WorkItem{{
		ID:          "WL-X",
		Title:       "Feed importer",
		Stage:       worklog.StagePlanComplete,
		Description: goodDescription,
	}}}
	e, agent, _ := testEngine(t, wl)

	meta := map[string]any{
		"invocation_implement": []any{"claude", "-p", "implement {id}"},
	}
	e.Handle(context.Background(), delegationCmd(meta))

	require.Len(t, agent.starts, 1)
	assert.Equal(t, []string{"claude", "-p", "implement WL-X"}, agent.starts[0])
}

func TestStoredInvocationUsedWhenNoOverride(t *testing.T) {
	wl := &fakeWorklog{next: []worklog.WorkItem{{
		ID:          "WL-X",
		Title:       "Feed importer",
		Stage:       worklog.StagePlanComplete,
		Description: goodDescription,
	}}}
	e, agent, _ := testEngine(t, wl)

	cmd := delegationCmd(nil)
	cmd.Invocation = []string{"opencode", "run", "/delegate {id}"}
	e.Handle(context.Background(), cmd)

	require.Len(t, agent.starts, 1)
	assert.Equal(t, []string{"opencode", "run", "/delegate WL-X"}, agent.starts[0])
}

func TestDispatchFailureIsAFailedRun(t *testing.T) {
	wl := &fakeWorklog{next: []worklog.WorkItem{{
		ID:          "WL-X",
		Title:       "Feed importer",
		Stage:       worklog.StagePlanComplete,
		Description: goodDescription,
	}}}
	e, agent, _ := testEngine(t, wl)
	agent.startErr = fmt.Errorf("opencode: not found")

	run := e.Handle(context.Background(), delegationCmd(nil))

	assert.Equal(t, 1, run.ExitCode)
	assert.Empty(t, wl.updates, "no state change on failed dispatch")
}

func TestWorklogFailureAbortsWithoutStateChange(t *testing.T) {
	wl := &fakeWorklog{nextErr: fmt.Errorf("wl: exit 1")}
	e, agent, _ := testEngine(t, wl)

	run := e.Handle(context.Background(), delegationCmd(nil))

	assert.Equal(t, 1, run.ExitCode)
	assert.Empty(t, agent.starts)
	assert.True(t, strings.HasPrefix(run.Note, "candidate query:"))
}
