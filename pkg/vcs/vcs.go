// Package vcs is the only component that shells out to a revision-control
// command-line tool. It creates and removes working copies, lists
// worktrees, and computes diffs; every other component treats the
// filesystem as opaque except for its own configuration directory.
package vcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/orchestrator/pkg/types"
)

// Adapter creates/removes working copies, lists worktrees, and computes
// diffs against a base revision. GitAdapter serializes worktree creation,
// removal and listing per project to avoid VCS index races; Diff and
// CommitAll are not serialized.
type Adapter interface {
	// CreateWorktree checks out baseRevision into path on a new branch.
	CreateWorktree(ctx context.Context, project, path, branch, baseRevision string) (types.Worktree, error)
	// RemoveWorktree removes a previously created working copy.
	RemoveWorktree(ctx context.Context, project, path string) error
	// ListWorktrees lists every worktree known to project's repository.
	ListWorktrees(ctx context.Context, project string) ([]types.Worktree, error)
	// Diff returns the unified diff of path against baseRevision.
	Diff(ctx context.Context, project, path, baseRevision string) (string, error)
	// CommitAll stages every change under path and commits it with message,
	// returning the resulting commit id.
	CommitAll(ctx context.Context, project, path, message string) (string, error)
}

// perProjectLock serializes adapter calls against the same project's VCS
// index; concurrent worktree add/remove against one repository races on
// the index lock.
type perProjectLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPerProjectLock() *perProjectLock {
	return &perProjectLock{locks: make(map[string]*sync.Mutex)}
}

func (p *perProjectLock) lock(project string) func() {
	p.mu.Lock()
	l, ok := p.locks[project]
	if !ok {
		l = &sync.Mutex{}
		p.locks[project] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ErrWorktreeNotFound is returned when a worktree path is not known to the
// adapter.
var ErrWorktreeNotFound = fmt.Errorf("vcs: worktree not found")
