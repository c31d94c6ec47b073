// Package worklog wraps the external work-item CLI (`wl`). The daemon treats
// the backlog as CLI-owned state: it never touches the backing file.
package worklog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Client implements Worklog by invoking the `wl` binary.
type Client struct {
	// BinPath is the wl executable. Empty means "wl" from PATH.
	BinPath string
	// Dir is the working directory for wl invocations (the project root;
	// wl resolves its backlog from the cwd).
	Dir string
}

// NewClient creates a worklog client rooted at dir.
func NewClient(binPath, dir string) *Client {
	if binPath == "" {
		binPath = "wl"
	}
	if dir == "" {
		dir = "."
	}
	return &Client{BinPath: binPath, Dir: dir}
}

// Show fetches a single work item.
func (c *Client) Show(ctx context.Context, id string) (WorkItem, error) {
	out, err := c.exec(ctx, "show", id, "--json")
	if err != nil {
		return WorkItem{}, fmt.Errorf("wl show: %w", err)
	}
	items, err := decodeItems(out)
	if err != nil {
		return WorkItem{}, fmt.Errorf("parse wl show: %w", err)
	}
	if len(items) == 0 {
		return WorkItem{}, fmt.Errorf("work item %s not found", id)
	}
	return items[0], nil
}

// List queries work items with the given filters.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]WorkItem, error) {
	args := []string{"list"}
	if opts.Status != "" {
		args = append(args, "--status", opts.Status)
	}
	if opts.Stage != "" {
		args = append(args, "--stage", opts.Stage)
	}
	if len(opts.Tags) > 0 {
		args = append(args, "--tags", strings.Join(opts.Tags, ","))
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee", opts.Assignee)
	}
	if opts.Parent != "" {
		args = append(args, "--parent", opts.Parent)
	}
	if opts.Limit > 0 {
		args = append(args, "-n", strconv.Itoa(opts.Limit))
	}
	args = append(args, "--json")

	out, err := c.exec(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("wl list: %w", err)
	}
	items, err := decodeItems(out)
	if err != nil {
		return nil, fmt.Errorf("parse wl list: %w", err)
	}
	return items, nil
}

// Next returns the prioritized candidate list.
func (c *Client) Next(ctx context.Context, n int) ([]WorkItem, error) {
	args := []string{"next"}
	if n > 0 {
		args = append(args, "-n", strconv.Itoa(n))
	}
	args = append(args, "--json")

	out, err := c.exec(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("wl next: %w", err)
	}
	items, err := decodeItems(out)
	if err != nil {
		return nil, fmt.Errorf("parse wl next: %w", err)
	}
	return items, nil
}

// InProgress lists items with status in_progress.
func (c *Client) InProgress(ctx context.Context) ([]WorkItem, error) {
	out, err := c.exec(ctx, "in_progress", "--json")
	if err != nil {
		return nil, fmt.Errorf("wl in_progress: %w", err)
	}
	items, err := decodeItems(out)
	if err != nil {
		return nil, fmt.Errorf("parse wl in_progress: %w", err)
	}
	return items, nil
}

// Recent lists recently updated items.
func (c *Client) Recent(ctx context.Context, n int, children bool) ([]WorkItem, error) {
	args := []string{"recent", "--json"}
	if n > 0 {
		args = append(args, "--number", strconv.Itoa(n))
	}
	if children {
		args = append(args, "--children")
	}
	out, err := c.exec(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("wl recent: %w", err)
	}
	items, err := decodeItems(out)
	if err != nil {
		return nil, fmt.Errorf("parse wl recent: %w", err)
	}
	return items, nil
}

// Create makes a new work item and returns the created record.
func (c *Client) Create(ctx context.Context, opts CreateOptions) (WorkItem, error) {
	args := []string{"create", "--title", opts.Title, "--description", opts.Description}
	if opts.Parent != "" {
		args = append(args, "--parent", opts.Parent)
	}
	if opts.IssueType != "" {
		args = append(args, "--issue-type", opts.IssueType)
	}
	if opts.Priority > 0 {
		args = append(args, "--priority", strconv.Itoa(opts.Priority))
	}
	if len(opts.Tags) > 0 {
		args = append(args, "--tags", strings.Join(opts.Tags, ","))
	}
	args = append(args, "--json")

	out, err := c.exec(ctx, args...)
	if err != nil {
		return WorkItem{}, fmt.Errorf("wl create: %w", err)
	}
	items, err := decodeItems(out)
	if err != nil {
		return WorkItem{}, fmt.Errorf("parse wl create: %w", err)
	}
	if len(items) == 0 {
		return WorkItem{}, fmt.Errorf("wl create returned no item")
	}
	return items[0], nil
}

// Update applies the non-empty fields to an item.
func (c *Client) Update(ctx context.Context, id string, fields UpdateFields) error {
	args := []string{"update", id}
	if fields.Status != "" {
		args = append(args, "--status", fields.Status)
	}
	if fields.Stage != "" {
		args = append(args, "--stage", fields.Stage)
	}
	if fields.Assignee != "" {
		args = append(args, "--assignee", fields.Assignee)
	}
	if fields.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(*fields.Priority))
	}
	if fields.Description != "" {
		args = append(args, "--description", fields.Description)
	}
	if fields.NeedsProducerReview != nil {
		args = append(args, "--needs-producer-review", strconv.FormatBool(*fields.NeedsProducerReview))
	}
	for _, tag := range fields.AddTags {
		args = append(args, "--add-tag", tag)
	}
	for _, tag := range fields.RemoveTags {
		args = append(args, "--remove-tag", tag)
	}
	args = append(args, "--json")

	if _, err := c.exec(ctx, args...); err != nil {
		return fmt.Errorf("wl update: %w", err)
	}
	return nil
}

// AddComment posts a comment on an item.
func (c *Client) AddComment(ctx context.Context, id, body, author string) error {
	args := []string{"comment", "add", id, "--comment", body}
	if author != "" {
		args = append(args, "--author", author)
	}
	args = append(args, "--json")
	if _, err := c.exec(ctx, args...); err != nil {
		return fmt.Errorf("wl comment add: %w", err)
	}
	return nil
}

// Comments lists comments on an item, oldest first.
func (c *Client) Comments(ctx context.Context, id string) ([]Comment, error) {
	out, err := c.exec(ctx, "comment", "list", id, "--json")
	if err != nil {
		return nil, fmt.Errorf("wl comment list: %w", err)
	}
	var comments []Comment
	if len(bytes.TrimSpace(out)) > 0 {
		if err := json.Unmarshal(out, &comments); err != nil {
			return nil, fmt.Errorf("parse wl comment list: %w", err)
		}
	}
	return comments, nil
}

// Close closes one or more items with a reason.
func (c *Client) Close(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one id is required")
	}
	args := append([]string{"close"}, ids...)
	args = append(args, "--reason", reason, "--json")
	if _, err := c.exec(ctx, args...); err != nil {
		return fmt.Errorf("wl close: %w", err)
	}
	return nil
}

// AddDependency records that id depends on dependsOn.
func (c *Client) AddDependency(ctx context.Context, id, dependsOn string) error {
	if _, err := c.exec(ctx, "dep", "add", id, dependsOn, "--json"); err != nil {
		return fmt.Errorf("wl dep add: %w", err)
	}
	return nil
}

// Sync flushes pending worklog state.
func (c *Client) Sync(ctx context.Context) error {
	if _, err := c.exec(ctx, "sync"); err != nil {
		return fmt.Errorf("wl sync: %w", err)
	}
	return nil
}

func (c *Client) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	cmd.Dir = c.Dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exec %s %v: %w (stderr: %s)", c.BinPath, args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// decodeItems normalizes the wl JSON shapes: a bare list, an {"items": [...]}
// envelope, or a single object. Items are deduplicated by id, first
// occurrence wins.
func decodeItems(data []byte) ([]WorkItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var items []WorkItem
	if err := json.Unmarshal(data, &items); err == nil {
		return dedupItems(items), nil
	}

	var envelope struct {
		Items []WorkItem `json:"items"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Items != nil {
		return dedupItems(envelope.Items), nil
	}

	var single WorkItem
	if err := json.Unmarshal(data, &single); err == nil && single.ID != "" {
		return []WorkItem{single}, nil
	}

	return nil, fmt.Errorf("unrecognized worklog response shape")
}

func dedupItems(items []WorkItem) []WorkItem {
	seen := make(map[string]bool, len(items))
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}
