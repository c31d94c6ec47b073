package delegate

import (
	"context"
	"fmt"

	"github.com/metalagman/ampa/internal/agentexec"
	"github.com/metalagman/ampa/internal/notify"
	"github.com/metalagman/ampa/internal/worklog"
)

type updateCall struct {
	id     string
	fields worklog.UpdateFields
}

type commentCall struct {
	id     string
	body   string
	author string
}

type fakeWorklog struct {
	next       []worklog.WorkItem
	nextErr    error
	inProgress []worklog.WorkItem
	inProgErr  error

	updates    []updateCall
	updateErr  error
	comments   []commentCall
	commentErr error
}

func (f *fakeWorklog) Show(_ context.Context, id string) (worklog.WorkItem, error) {
	return worklog.WorkItem{}, fmt.Errorf("show %s: not found", id)
}

func (f *fakeWorklog) List(_ context.Context, _ worklog.ListOptions) ([]worklog.WorkItem, error) {
	return nil, nil
}

func (f *fakeWorklog) Next(_ context.Context, _ int) ([]worklog.WorkItem, error) {
	return f.next, f.nextErr
}

func (f *fakeWorklog) InProgress(_ context.Context) ([]worklog.WorkItem, error) {
	return f.inProgress, f.inProgErr
}

func (f *fakeWorklog) Recent(_ context.Context, _ int, _ bool) ([]worklog.WorkItem, error) {
	return nil, nil
}

func (f *fakeWorklog) Create(_ context.Context, _ worklog.CreateOptions) (worklog.WorkItem, error) {
	return worklog.WorkItem{}, nil
}

func (f *fakeWorklog) Update(_ context.Context, id string, fields worklog.UpdateFields) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updateCall{id: id, fields: fields})
	return nil
}

func (f *fakeWorklog) AddComment(_ context.Context, id, body, author string) error {
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, commentCall{id: id, body: body, author: author})
	return nil
}

func (f *fakeWorklog) Comments(_ context.Context, _ string) ([]worklog.Comment, error) {
	return nil, nil
}

func (f *fakeWorklog) Close(_ context.Context, _ []string, _ string) error { return nil }

func (f *fakeWorklog) AddDependency(_ context.Context, _, _ string) error { return nil }

func (f *fakeWorklog) Sync(_ context.Context) error { return nil }

type fakeAgent struct {
	starts   [][]string
	pid      int
	startErr error
}

func (f *fakeAgent) Run(_ context.Context, _ []string) (agentexec.CaptureResult, error) {
	return agentexec.CaptureResult{}, fmt.Errorf("delegation must not wait on the agent")
}

func (f *fakeAgent) Start(_ context.Context, argv []string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.starts = append(f.starts, argv)
	if f.pid == 0 {
		f.pid = 4242
	}
	return f.pid, nil
}

type fakeNotifier struct {
	sent []notify.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}
