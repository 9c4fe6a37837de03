// Package gitops invokes version-control and pull-request side effects via
// the git and gh CLIs.
//
// The coordinator calls these at fixed points in the pipeline; their
// internals are deliberately thin. Failures surface in the run summary but
// never corrupt coordinator state.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"swarm/pkg/logx"
)

// CheckStatus is the outcome of polling CI checks on a PR.
type CheckStatus string

const (
	ChecksPass    CheckStatus = "pass"
	ChecksFail    CheckStatus = "fail"
	ChecksTimeout CheckStatus = "timeout"
)

// checkPollInterval is how often PollChecks re-queries CI status.
const checkPollInterval = 15 * time.Second

// Client is the PR side-effect surface the pipeline consumes.
type Client interface {
	CreateBranch(ctx context.Context, workDir, name string) error
	Push(ctx context.Context, workDir, branch string) error
	CreateDraftPR(ctx context.Context, workDir, branch, title, body string) (string, error)
	MarkReady(ctx context.Context, prURL string) error
	PollChecks(ctx context.Context, prURL string, timeout time.Duration) (CheckStatus, error)
	Merge(ctx context.Context, prURL, strategy string) error
}

// CLIClient implements Client with the git and gh command-line tools, the
// same way the rest of the system shells out for VCS work.
type CLIClient struct {
	logger  *logx.Logger
	timeout time.Duration
}

// NewCLIClient creates a gh-backed client.
func NewCLIClient() *CLIClient {
	return &CLIClient{
		logger:  logx.NewLogger("gitops"),
		timeout: 60 * time.Second,
	}
}

func (c *CLIClient) run(ctx context.Context, workDir string, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w\nOutput: %s", name, strings.Join(args, " "), err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// CreateBranch creates and checks out a branch in the given working tree.
func (c *CLIClient) CreateBranch(ctx context.Context, workDir, name string) error {
	if _, err := c.run(ctx, workDir, "git", "checkout", "-b", name); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	c.logger.Info("Created branch %s", name)
	return nil
}

// Push pushes the branch to origin.
func (c *CLIClient) Push(ctx context.Context, workDir, branch string) error {
	if _, err := c.run(ctx, workDir, "git", "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	return nil
}

// CreateDraftPR opens a draft pull request and returns its URL.
func (c *CLIClient) CreateDraftPR(ctx context.Context, workDir, branch, title, body string) (string, error) {
	url, err := c.run(ctx, workDir, "gh", "pr", "create",
		"--draft", "--head", branch, "--title", title, "--body", body)
	if err != nil {
		return "", fmt.Errorf("failed to create draft PR for %s: %w", branch, err)
	}
	c.logger.Info("Opened draft PR %s", url)
	return url, nil
}

// MarkReady flips a draft PR to ready-for-review.
func (c *CLIClient) MarkReady(ctx context.Context, prURL string) error {
	if _, err := c.run(ctx, "", "gh", "pr", "ready", prURL); err != nil {
		return fmt.Errorf("failed to mark PR ready: %w", err)
	}
	return nil
}

// PollChecks polls CI check status until it settles or the bounded timeout
// elapses. A timeout is reported, not treated as failure; the caller
// decides whether to proceed.
func (c *CLIClient) PollChecks(ctx context.Context, prURL string, timeout time.Duration) (CheckStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(checkPollInterval)
	defer ticker.Stop()

	for {
		out, err := c.run(ctx, "", "gh", "pr", "checks", prURL)
		if err == nil {
			return ChecksPass, nil
		}
		// gh exits non-zero while checks are pending or failing; look at
		// the output to tell them apart.
		if strings.Contains(out, "fail") || strings.Contains(err.Error(), "fail") {
			return ChecksFail, nil
		}

		if time.Now().After(deadline) {
			c.logger.Warn("CI checks for %s still pending after %s", prURL, timeout)
			return ChecksTimeout, nil
		}
		select {
		case <-ctx.Done():
			return ChecksTimeout, fmt.Errorf("check polling cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Merge merges the PR with the given strategy (merge, squash, rebase).
func (c *CLIClient) Merge(ctx context.Context, prURL, strategy string) error {
	if strategy == "" {
		strategy = "squash"
	}
	if _, err := c.run(ctx, "", "gh", "pr", "merge", prURL, "--"+strategy); err != nil {
		return fmt.Errorf("failed to merge PR %s: %w", prURL, err)
	}
	c.logger.Info("Merged PR %s (%s)", prURL, strategy)
	return nil
}
