package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/types"
)

// GitAdapter implements Adapter by shelling out to the git CLI.
type GitAdapter struct {
	locks *perProjectLock
}

// NewGitAdapter creates a GitAdapter.
func NewGitAdapter() *GitAdapter {
	return &GitAdapter{locks: newPerProjectLock()}
}

func (g *GitAdapter) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// CreateWorktree checks out baseRevision into path on a newly created
// branch; it fails if branch already exists.
func (g *GitAdapter) CreateWorktree(ctx context.Context, project, path, branch, baseRevision string) (types.Worktree, error) {
	unlock := g.locks.lock(project)
	defer unlock()

	if _, err := g.run(ctx, project, "worktree", "add", "-b", branch, path, baseRevision); err != nil {
		return types.Worktree{}, fmt.Errorf("create worktree: %w", err)
	}

	commit, err := g.run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return types.Worktree{}, fmt.Errorf("resolve head: %w", err)
	}

	return types.Worktree{
		Path:   path,
		Branch: branch,
		Commit: strings.TrimSpace(commit),
	}, nil
}

// RemoveWorktree removes path from project's worktree list and deletes its
// directory.
func (g *GitAdapter) RemoveWorktree(ctx context.Context, project, path string) error {
	unlock := g.locks.lock(project)
	defer unlock()

	if _, err := g.run(ctx, project, "worktree", "remove", "--force", path); err != nil {
		log.WithComponent("vcs").Error().Err(err).Msg("worktree remove failed, attempting prune")
		if _, pruneErr := g.run(ctx, project, "worktree", "prune"); pruneErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	return nil
}

// ListWorktrees lists every worktree registered against project.
func (g *GitAdapter) ListWorktrees(ctx context.Context, project string) ([]types.Worktree, error) {
	unlock := g.locks.lock(project)
	defer unlock()

	out, err := g.run(ctx, project, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	var result []types.Worktree
	var cur types.Worktree
	flush := func() {
		if cur.Path != "" {
			result = append(result, cur)
		}
		cur = types.Worktree{}
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "detached":
			cur.Detached = true
		}
	}
	flush()

	return result, nil
}

// Diff returns the unified diff of path against baseRevision.
func (g *GitAdapter) Diff(ctx context.Context, project, path, baseRevision string) (string, error) {
	out, err := g.run(ctx, path, "diff", baseRevision, "--", ".")
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return out, nil
}

// CommitAll stages every change under path and commits with message.
func (g *GitAdapter) CommitAll(ctx context.Context, project, path, message string) (string, error) {
	if _, err := g.run(ctx, path, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	if _, err := g.run(ctx, path, "commit", "-m", message, "--allow-empty"); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	commit, err := g.run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve commit: %w", err)
	}
	return strings.TrimSpace(commit), nil
}
