package worklog

import (
	"strings"
	"time"
)

// Statuses declared by the backlog. The workflow descriptor re-declares these;
// the constants exist so engine code does not scatter string literals.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusCompleted  = "completed"
	StatusClosed     = "closed"
)

// Stages declared by the backlog.
const (
	StageIdea           = "idea"
	StageIntakeComplete = "intake_complete"
	StagePlanComplete   = "plan_complete"
	StageInProgress     = "in_progress"
	StageInReview       = "in_review"
	StageDelegated      = "delegated"
	StageEscalated      = "escalated"
	StageAuditFailed    = "audit_failed"
	StageAuditPassed    = "audit_passed"
	StageDone           = "done"
)

// Comment is a single worklog comment, ordered oldest first in WorkItem.Comments.
type Comment struct {
	ID        string `json:"id,omitempty"`
	Author    string `json:"author,omitempty"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at,omitempty"`
}

// WorkItem is the backlog record as the worklog CLI reports it. The daemon
// never writes the backing file; every mutation goes back through the CLI.
type WorkItem struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Status            string         `json:"status"`
	Stage             string         `json:"stage"`
	Assignee          string         `json:"assignee,omitempty"`
	Priority          int            `json:"priority,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	UpdatedAt         string         `json:"updated_at,omitempty"`
	DescriptionLength int            `json:"description_length,omitempty"`
	Comments          []Comment      `json:"comments,omitempty"`
	Children          []string       `json:"children,omitempty"`
	IssueType         string         `json:"issueType,omitempty"`
	GithubIssueNumber int            `json:"githubIssueNumber,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// DescLen returns the declared description length, falling back to the
// description itself when the CLI omitted the field.
func (w WorkItem) DescLen() int {
	if w.DescriptionLength > 0 {
		return w.DescriptionLength
	}
	return len(w.Description)
}

// HasTag reports whether the item carries the tag, case-insensitively.
func (w WorkItem) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range w.Tags {
		if strings.ToLower(strings.TrimSpace(t)) == tag {
			return true
		}
	}
	return false
}

// LatestComment returns the most recent comment, or nil when there are none.
func (w WorkItem) LatestComment() *Comment {
	if len(w.Comments) == 0 {
		return nil
	}
	return &w.Comments[len(w.Comments)-1]
}

// MetadataFlag reports whether a free-form metadata flag is truthy.
func (w WorkItem) MetadataFlag(name string) bool {
	if w.Metadata == nil {
		return false
	}
	v, ok := w.Metadata[name]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "1" || s == "true" || s == "yes"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

// UpdatedTime parses updated_at, reporting false when missing or malformed.
func (w WorkItem) UpdatedTime() (time.Time, bool) {
	value := strings.TrimSpace(w.UpdatedAt)
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TerminalStatus reports whether a status is terminal for child gating: a
// parent auto-completes only when every child is completed or closed.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusClosed
}
