package worklog

import (
	"context"
)

// ListOptions filters a `wl list` query. Zero values are omitted from the
// command line.
type ListOptions struct {
	Status   string
	Stage    string
	Tags     []string
	Assignee string
	Parent   string
	Limit    int
}

// CreateOptions describes a new work item.
type CreateOptions struct {
	Title       string
	Description string
	Parent      string
	IssueType   string
	Priority    int
	Tags        []string
}

// UpdateFields carries the mutable fields of `wl update`. Empty strings and
// nil pointers are omitted; AddTags/RemoveTags adjust the tag set.
type UpdateFields struct {
	Status              string
	Stage               string
	Assignee            string
	Priority            *int
	Description         string
	NeedsProducerReview *bool
	AddTags             []string
	RemoveTags          []string
}

// Worklog is the capability seam over the worklog CLI. Engines and pollers
// accept this interface; tests substitute deterministic fakes.
type Worklog interface {
	Show(ctx context.Context, id string) (WorkItem, error)
	List(ctx context.Context, opts ListOptions) ([]WorkItem, error)
	Next(ctx context.Context, n int) ([]WorkItem, error)
	InProgress(ctx context.Context) ([]WorkItem, error)
	Recent(ctx context.Context, n int, children bool) ([]WorkItem, error)
	Create(ctx context.Context, opts CreateOptions) (WorkItem, error)
	Update(ctx context.Context, id string, fields UpdateFields) error
	AddComment(ctx context.Context, id, body, author string) error
	Comments(ctx context.Context, id string) ([]Comment, error)
	Close(ctx context.Context, ids []string, reason string) error
	AddDependency(ctx context.Context, id, dependsOn string) error
	Sync(ctx context.Context) error
}
