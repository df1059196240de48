package vcs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/orchestrator/pkg/types"
)

// FakeAdapter is an in-process Adapter used by tests that do not want to
// shell out to a real git binary. It still materializes each worktree as
// a plain directory so spawned processes have a working directory to
// chdir into.
type FakeAdapter struct {
	mu        sync.Mutex
	worktrees map[string]types.Worktree
	diffs     map[string]string
	commitSeq int
}

// NewFakeAdapter creates an empty FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		worktrees: make(map[string]types.Worktree),
		diffs:     make(map[string]string),
	}
}

// SetDiff preloads the diff FakeAdapter.Diff returns for path.
func (f *FakeAdapter) SetDiff(path, diff string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffs[path] = diff
}

func (f *FakeAdapter) CreateWorktree(_ context.Context, _, path, branch, baseRevision string) (types.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.worktrees {
		if w.Path == path {
			return types.Worktree{}, fmt.Errorf("worktree path already in use: %s", path)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return types.Worktree{}, fmt.Errorf("create worktree dir: %w", err)
	}

	wt := types.Worktree{Path: path, Branch: branch, Commit: baseRevision}
	f.worktrees[path] = wt
	return wt, nil
}

func (f *FakeAdapter) RemoveWorktree(_ context.Context, _, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.worktrees[path]; !ok {
		return ErrWorktreeNotFound
	}
	delete(f.worktrees, path)
	delete(f.diffs, path)
	return os.RemoveAll(path)
}

func (f *FakeAdapter) ListWorktrees(_ context.Context, _ string) ([]types.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]types.Worktree, 0, len(f.worktrees))
	for _, w := range f.worktrees {
		out = append(out, w)
	}
	return out, nil
}

func (f *FakeAdapter) Diff(_ context.Context, _, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.worktrees[path]; !ok {
		return "", ErrWorktreeNotFound
	}
	return f.diffs[path], nil
}

func (f *FakeAdapter) CommitAll(_ context.Context, _, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.worktrees[path]; !ok {
		return "", ErrWorktreeNotFound
	}
	f.commitSeq++
	return fmt.Sprintf("fakecommit-%04d", f.commitSeq), nil
}
