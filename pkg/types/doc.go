/*
Package types defines the core data structures shared across the
orchestrator: workers, worktrees, messages, coordination primitives,
and the consolidation/merge pipeline. These types are used by every
other package for state management, Transport Surface communication,
and scheduling logic.

# Architecture

The types package is the foundation of the orchestrator's data model.
It defines:

  - Worker identity and lifecycle (status, PID, worktree binding)
  - Inter-worker messaging (priority, delivery status, retries)
  - Coordination primitives (barriers, elections)
  - Diff/merge records (file metrics, quality scores, conflicts)
  - Consolidation lifecycle (preview, plan, result)

All types are designed to be:
  - Serializable (JSON, for both the registry mirror and Transport
    Surface responses)
  - Self-documenting (clear field names, minimal nesting)
  - Validated (typed string constants for every enum-like field)

# Core Types

The main types in this package are:

Worker Lifecycle:
  - Worker: a supervised agent process bound to one worktree
  - WorkerStatus: pending, active, terminating, completed, failed
  - TerminationReason: user_initiated, timeout, memory_limit, shutdown

Worktree:
  - Worktree: a VCS worktree's path, branch, and base commit

Messaging:
  - Message: a point-to-point or broadcast payload between workers
  - Priority: critical (0), high (1), normal (2), low (3)
  - MessageStatus: pending, delivered, retrying, failed

Coordination:
  - Barrier: an N-of-N rendezvous with a deadline
  - BarrierState: pending, complete, timeout
  - Election: plurality leader selection, one vote per voter
  - ElectionState: pending, completed, timeout

Consolidation:
  - Consolidation: one merge session over a set of worker worktrees
  - ConsolidationStatus: pending, analyzing, analyzed, ready, completed
  - MergePreview: per-file metrics/scores plus detected conflicts
  - FileMetrics / QualityScore: the scoring inputs and weighted total
  - Conflict / ConflictType: same-line, delete-modify, import-conflict,
    export-conflict, structural
  - Resolution / ResolutionAction: keep-ours, keep-theirs, merge,
    union, voting, manual, reject
  - MergePlan / PlanEntry: the deterministic per-path merge decision
  - MergeResult / MergeFailure: what Export actually wrote and committed

# Usage

Creating a Worker:

	worker := &types.Worker{
		ID:           uuid.New().String(),
		ProjectScope: "/srv/repo",
		WorktreePath: "/srv/repo/.orch/worktrees/worker-1",
		Branch:       "agent/worker-1",
		Status:       types.WorkerStatusPending,
		CreatedAt:    time.Now(),
	}

Creating a Message:

	msg := &types.Message{
		ID:       uuid.New().String(),
		Target:   worker.ID,
		Priority: types.PriorityHigh,
		Payload:  []byte(`{"instruction":"rebase onto main"}`),
		Status:   types.MessageStatusPending,
	}

Recording a Resolution:

	res := types.Resolution{
		Path:   "pkg/handler/handler.go",
		Action: types.ActionKeepTheirs,
	}

# State Machines

Workers follow a linear lifecycle with two terminal states:

	Pending → Active → Terminating → Completed
	   │         │                        ↑
	   └─────────┴───────── Failed ───────┘

Pending moves to Failed if the child process fails to start; Active
moves to Terminating once Supervisor.Terminate is called (by the
caller, the Resource Monitor, or a timeout); Terminating resolves to
Completed or Failed depending on the child's exit status.

Consolidations advance monotonically (see ConsolidationStatus.Before):

	Pending → Analyzing → Analyzed → Ready → Completed

A consolidation status only ever moves forward; Resolve cannot be
called again after Export without a fresh Consolidation record.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type WorkerStatus string
	  const (
	      WorkerStatusActive WorkerStatus = "active"
	  )

Optional Fields:

	Optional configurations use pointers or zero-value sentinels:
	  - Consolidation.Preview: nil until Analyze runs
	  - Consolidation.Plan: nil until Resolve runs
	  - Consolidation.Result: nil until Export runs

# Integration Points

This package integrates with:

  - pkg/registry: persists Worker records to a JSON mirror
  - pkg/supervisor: drives Worker through its status transitions
  - pkg/messagebus: persists and retries Message records
  - pkg/coordinator: resolves Barrier and Election records
  - pkg/consolidator: produces MergePreview/MergePlan/MergeResult
  - pkg/transport: serializes every type directly as JSON response bodies

# Thread Safety

All types in this package are plain data: read-safe when shared by
value, but mutation must be synchronized by the owning package (the
registry's mutex, the consolidator's mutex, and so on). None of these
types carry their own locks.

# See Also

  - pkg/registry for worker persistence
  - pkg/consolidator for the merge pipeline that produces most of the
    consolidation-related types
  - DESIGN.md for the grounding of each subsystem against this model
*/
package types
