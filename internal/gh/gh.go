// Package gh shells out to the GitHub CLI for pull-request state checks.
package gh

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// StateMerged is the pull-request state reported by gh for merged PRs.
const StateMerged = "MERGED"

// Client wraps the gh binary. Bin is overridable for tests.
type Client struct {
	Bin string
	Dir string
}

// New builds a client running gh from dir.
func New(dir string) *Client {
	return &Client{Bin: "gh", Dir: dir}
}

// Available reports whether the gh binary can be found.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.Bin)
	return err == nil
}

// PRState asks gh for the state of the pull request at url. States are
// OPEN, CLOSED or MERGED.
func (c *Client) PRState(ctx context.Context, url string) (string, error) {
	log.Debug().Str("url", url).Msg("querying pull request state")
	cmd := exec.CommandContext(ctx, c.Bin, "pr", "view", url, "--json", "state")
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gh pr view %s: %w: %s", url, err, strings.TrimSpace(string(out)))
	}
	var payload struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return "", fmt.Errorf("parse gh pr view output: %w", err)
	}
	if payload.State == "" {
		return "", fmt.Errorf("gh pr view %s: empty state", url)
	}
	return payload.State, nil
}

// PRMerged reports whether the pull request at url is merged.
func (c *Client) PRMerged(ctx context.Context, url string) (bool, error) {
	state, err := c.PRState(ctx, url)
	if err != nil {
		return false, err
	}
	return state == StateMerged, nil
}
