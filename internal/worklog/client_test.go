package worklog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWL installs a shell script standing in for the wl binary and returns a
// client rooted at the script's directory.
func stubWL(t *testing.T, script string) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "wl")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return NewClient(bin, dir), dir
}

// recordedArgs reads back the argv a stub wrote with `printf '%s\n' "$@"`.
func recordedArgs(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestDecodeItemsShapes(t *testing.T) {
	for name, tc := range map[string]struct {
		input string
		ids   []string
	}{
		"bare list":       {`[{"id":"T-1","title":"one"},{"id":"T-2","title":"two"}]`, []string{"T-1", "T-2"}},
		"items envelope":  {`{"items":[{"id":"T-3","title":"three"}]}`, []string{"T-3"}},
		"single object":   {`{"id":"T-4","title":"four"}`, []string{"T-4"}},
		"empty list":      {`[]`, nil},
		"empty envelope":  {`{"items":[]}`, nil},
		"empty output":    {``, nil},
		"whitespace only": {"\n  \n", nil},
	} {
		t.Run(name, func(t *testing.T) {
			items, err := decodeItems([]byte(tc.input))
			require.NoError(t, err)
			got := make([]string, 0, len(items))
			for _, item := range items {
				got = append(got, item.ID)
			}
			if tc.ids == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tc.ids, got)
			}
		})
	}
}

func TestDecodeItemsDeduplicatesById(t *testing.T) {
	input := `[{"id":"T-1","title":"first"},{"id":"T-2","title":"other"},{"id":"T-1","title":"dup"},{"id":""}]`
	items, err := decodeItems([]byte(input))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "T-1", items[0].ID)
	assert.Equal(t, "first", items[0].Title, "first occurrence wins")
	assert.Equal(t, "T-2", items[1].ID)
}

func TestDecodeItemsRejectsUnknownShape(t *testing.T) {
	_, err := decodeItems([]byte(`"just a string"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized")
}

func TestListFlagAssembly(t *testing.T) {
	c, dir := stubWL(t, `printf '%s\n' "$@" > args.txt
echo '[]'`)

	items, err := c.List(context.Background(), ListOptions{
		Status:   "open",
		Stage:    "idea",
		Tags:     []string{"bug", "urgent"},
		Assignee: "ampa",
		Parent:   "T-9",
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, []string{
		"list",
		"--status", "open",
		"--stage", "idea",
		"--tags", "bug,urgent",
		"--assignee", "ampa",
		"--parent", "T-9",
		"-n", "5",
		"--json",
	}, recordedArgs(t, dir))
}

func TestListOmitsZeroValueFilters(t *testing.T) {
	c, dir := stubWL(t, `printf '%s\n' "$@" > args.txt
echo '[]'`)

	_, err := c.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "--json"}, recordedArgs(t, dir))
}

func TestUpdateFlagAssembly(t *testing.T) {
	c, dir := stubWL(t, `printf '%s\n' "$@" > args.txt
echo '{}'`)

	err := c.Update(context.Background(), "T-1", UpdateFields{
		Status:     "in_progress",
		Stage:      "delegated",
		Assignee:   "agent",
		AddTags:    []string{"delegated"},
		RemoveTags: []string{"stale"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"update", "T-1",
		"--status", "in_progress",
		"--stage", "delegated",
		"--assignee", "agent",
		"--add-tag", "delegated",
		"--remove-tag", "stale",
		"--json",
	}, recordedArgs(t, dir))
}

func TestShowReturnsSingleObject(t *testing.T) {
	c, _ := stubWL(t, `echo '{"id":"T-1","title":"one","status":"open","stage":"idea"}'`)

	item, err := c.Show(context.Background(), "T-1")
	require.NoError(t, err)
	assert.Equal(t, "T-1", item.ID)
	assert.Equal(t, "one", item.Title)
}

func TestShowMissingItem(t *testing.T) {
	c, _ := stubWL(t, `echo '[]'`)

	_, err := c.Show(context.Background(), "T-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecFailureCarriesStderr(t *testing.T) {
	c, _ := stubWL(t, `echo "backlog is locked" 1>&2
exit 3`)

	_, err := c.List(context.Background(), ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backlog is locked")
}
