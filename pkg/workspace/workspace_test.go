package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repoDir := t.TempDir()
	require.NoError(t, InitTestRepo(repoDir))

	mgr, err := NewManager(repoDir, t.TempDir())
	require.NoError(t, err)
	return mgr
}

func TestCreateAndReleaseWorkspace(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ws, err := mgr.Create(ctx, "developer")
	require.NoError(t, err)
	assert.Equal(t, "developer", ws.AgentID)
	assert.NotEmpty(t, ws.BaseCommit)
	assert.FileExists(t, filepath.Join(ws.Path, "README.md"))

	_, err = mgr.Create(ctx, "developer")
	assert.Error(t, err, "one workspace per agent")

	require.NoError(t, mgr.Release("developer"))
	assert.NoDirExists(t, ws.Path)
	require.NoError(t, mgr.Release("developer"), "release is idempotent")
}

func TestChangedFiles(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ws, err := mgr.Create(ctx, "developer")
	require.NoError(t, err)

	files, err := mgr.ChangedFiles(ctx, ws)
	require.NoError(t, err)
	assert.Empty(t, files, "fresh clone has no changes")

	// One edit, one untracked file.
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "README.md"), []byte("changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "new.go"), []byte("package new\n"), 0o644))

	files, err = mgr.ChangedFiles(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "new.go"}, files)
}

func TestFileAndBaseContent(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ws, err := mgr.Create(ctx, "developer")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "README.md"), []byte("edited\n"), 0o644))

	current, err := mgr.FileContent(ws, "README.md")
	require.NoError(t, err)
	assert.Equal(t, "edited\n", current)

	base, err := mgr.BaseContent(ctx, ws, "README.md")
	require.NoError(t, err)
	assert.Equal(t, "seed\n", base)

	missing, err := mgr.FileContent(ws, "gone.go")
	require.NoError(t, err)
	assert.Empty(t, missing, "a missing file reads as empty")

	added, err := mgr.BaseContent(ctx, ws, "added-later.go")
	require.NoError(t, err)
	assert.Empty(t, added, "a file absent at base reads as empty")
}

func TestIndexServesConflictViews(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	idx := NewIndex(mgr)

	_, err := idx.Create(ctx, "developer")
	require.NoError(t, err)
	_, err = idx.Create(ctx, "tester")
	require.NoError(t, err)

	devWS, err := idx.Get("developer")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(devWS.Path, "shared.go"), []byte("dev\n"), 0o644))
	testWS, err := idx.Get("tester")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(testWS.Path, "shared.go"), []byte("test\n"), 0o644))

	devFiles, err := idx.ChangedFiles(ctx, "developer")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared.go"}, devFiles)

	content, err := idx.FileContent("tester", "shared.go")
	require.NoError(t, err)
	assert.Equal(t, "test\n", content)

	require.NoError(t, idx.Release("developer"))
	_, err = idx.Get("developer")
	assert.Error(t, err)
	_, err = idx.ChangedFiles(ctx, "developer")
	assert.Error(t, err, "released workspaces are forgotten")
}
