// Package workspace manages per-agent isolated git checkouts.
//
// Each registered agent gets its own clone of the project repository,
// pinned to a base commit. Conflict detection compares the files each
// agent has touched relative to that base, so workspaces must never share
// a working tree.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"swarm/pkg/logx"
	"swarm/pkg/utils"
)

// Workspace is one agent's isolated checkout.
type Workspace struct {
	AgentID    string
	Path       string
	BaseCommit string
}

// Manager creates and releases agent workspaces under a common root.
type Manager struct {
	repoDir string
	rootDir string
	logger  *logx.Logger
}

// NewManager creates a workspace manager cloning from repoDir into rootDir.
func NewManager(repoDir, rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", rootDir, err)
	}
	return &Manager{
		repoDir: repoDir,
		rootDir: rootDir,
		logger:  logx.NewLogger("workspace"),
	}, nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w\nOutput: %s", strings.Join(args, " "), err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// Create clones the project repository into an isolated checkout for the
// agent and records the base commit.
func (m *Manager) Create(ctx context.Context, agentID string) (*Workspace, error) {
	path := filepath.Join(m.rootDir, utils.SanitizeIdentifier(agentID))
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("workspace for %s already exists at %s", agentID, path)
	}

	if _, err := m.git(ctx, m.rootDir, "clone", m.repoDir, path); err != nil {
		return nil, fmt.Errorf("failed to clone workspace for %s: %w", agentID, err)
	}

	base, err := m.git(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base commit for %s: %w", agentID, err)
	}

	m.logger.Info("Created workspace for %s at %s (base %.8s)", agentID, path, base)
	return &Workspace{AgentID: agentID, Path: path, BaseCommit: base}, nil
}

// Release removes an agent's checkout. Missing workspaces are a no-op so
// shutdown stays idempotent.
func (m *Manager) Release(agentID string) error {
	path := filepath.Join(m.rootDir, utils.SanitizeIdentifier(agentID))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to release workspace for %s: %w", agentID, err)
	}
	m.logger.Info("Released workspace for %s", agentID)
	return nil
}

// ChangedFiles returns the sorted set of file paths the agent has modified
// relative to its base commit: committed changes, staged and unstaged
// edits, plus untracked files.
func (m *Manager) ChangedFiles(ctx context.Context, ws *Workspace) ([]string, error) {
	seen := make(map[string]bool)

	diff, err := m.git(ctx, ws.Path, "diff", "--name-only", ws.BaseCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to diff workspace for %s: %w", ws.AgentID, err)
	}
	for _, line := range strings.Split(diff, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			seen[line] = true
		}
	}

	untracked, err := m.git(ctx, ws.Path, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("failed to list untracked files for %s: %w", ws.AgentID, err)
	}
	for _, line := range strings.Split(untracked, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			seen[line] = true
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// FileContent reads a file from the agent's working tree. A missing file
// returns empty content, matching how a deletion diffs against the base.
func (m *Manager) FileContent(ws *Workspace, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(ws.Path, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s in workspace %s: %w", relPath, ws.AgentID, err)
	}
	return string(data), nil
}

// BaseContent reads a file as it was at the workspace's base commit.
func (m *Manager) BaseContent(ctx context.Context, ws *Workspace, relPath string) (string, error) {
	content, err := m.git(ctx, ws.Path, "show", ws.BaseCommit+":"+relPath)
	if err != nil {
		// The file may not exist at the base (added by the agent).
		return "", nil
	}
	return content, nil
}

// CommitCount returns how many commits the agent has made past the base.
func (m *Manager) CommitCount(ctx context.Context, ws *Workspace) (int, error) {
	out, err := m.git(ctx, ws.Path, "rev-list", "--count", ws.BaseCommit+"..HEAD")
	if err != nil {
		return 0, fmt.Errorf("failed to count commits for %s: %w", ws.AgentID, err)
	}
	count := 0
	if _, err := fmt.Sscanf(out, "%d", &count); err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", out, err)
	}
	return count, nil
}

// InitTestRepo creates a git repository with one seed commit, for tests.
func InitTestRepo(dir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run := func(args ...string) error {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s failed: %w\nOutput: %s", strings.Join(args, " "), err, string(output))
		}
		return nil
	}

	if err := run("init", "--initial-branch=main"); err != nil {
		return err
	}
	if err := run("config", "user.email", "swarm@localhost"); err != nil {
		return err
	}
	if err := run("config", "user.name", "swarm"); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write seed file: %w", err)
	}
	if err := run("add", "."); err != nil {
		return err
	}
	return run("commit", "-m", "seed")
}
