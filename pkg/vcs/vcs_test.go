package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdapterLifecycle(t *testing.T) {
	f := NewFakeAdapter()
	ctx := context.Background()

	project := t.TempDir()
	path := filepath.Join(project, ".orch", "worktrees", "w1")

	wt, err := f.CreateWorktree(ctx, project, path, "agent/x-1", "main")
	require.NoError(t, err)
	assert.Equal(t, "agent/x-1", wt.Branch)
	assert.DirExists(t, path)

	_, err = f.CreateWorktree(ctx, project, path, "agent/y-2", "main")
	assert.Error(t, err, "duplicate worktree path must be rejected")

	f.SetDiff(path, "--- a/x\n+++ b/x\n")
	diff, err := f.Diff(ctx, project, path, "main")
	require.NoError(t, err)
	assert.Contains(t, diff, "+++ b/x")

	commit, err := f.CommitAll(ctx, project, path, "merge")
	require.NoError(t, err)
	assert.NotEmpty(t, commit)

	require.NoError(t, f.RemoveWorktree(ctx, project, path))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "removed worktree dir must be gone")

	_, err = f.Diff(ctx, project, path, "main")
	assert.ErrorIs(t, err, ErrWorktreeNotFound)
}
