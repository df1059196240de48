package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/registry"
	"github.com/cuemby/orchestrator/pkg/types"
	"github.com/cuemby/orchestrator/pkg/vcs"
)

func newHarness(t *testing.T) (*Supervisor, *registry.Registry, *vcs.FakeAdapter, string) {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := registry.New(t.TempDir(), broker)
	require.NoError(t, reg.Start())
	t.Cleanup(reg.Stop)

	adapter := vcs.NewFakeAdapter()
	sup := New(reg, adapter, broker, 0, 0)
	return sup, reg, adapter, t.TempDir()
}

func TestSpawnRunsToCompletion(t *testing.T) {
	sup, reg, _, project := newHarness(t)

	worker, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: project,
		Name:         "alpha test",
		BaseRevision: "main",
		Command:      "true",
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusActive, worker.Status)
	assert.Contains(t, worker.Branch, "agent/alpha-test-")

	require.Eventually(t, func() bool {
		w, ok := reg.Get(worker.ID)
		return ok && w.Status == types.WorkerStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w, _ := reg.Get(worker.ID)
	assert.Equal(t, 0, w.ExitCode)
	assert.Empty(t, w.ExitSignal)
}

func TestSpawnFailsExitNonZero(t *testing.T) {
	sup, reg, _, project := newHarness(t)

	worker, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: project,
		Name:         "bravo",
		BaseRevision: "main",
		Command:      "false",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w, ok := reg.Get(worker.ID)
		return ok && w.Status == types.WorkerStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	w, _ := reg.Get(worker.ID)
	assert.Equal(t, 1, w.ExitCode)
}

func TestCapacityExceeded(t *testing.T) {
	sup, _, _, project := newHarness(t)

	for i := 0; i < MaxActiveWorkers; i++ {
		_, err := sup.Spawn(context.Background(), SpawnRequest{
			ProjectScope: project,
			Name:         "w",
			BaseRevision: "main",
			Command:      "sleep",
			Args:         []string{"2"},
		})
		require.NoError(t, err)
	}

	_, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: project,
		Name:         "overflow",
		BaseRevision: "main",
		Command:      "true",
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestTerminateUnknownReturnsNotFound(t *testing.T) {
	sup, _, _, _ := newHarness(t)
	err := sup.Terminate(context.Background(), "does-not-exist", types.ReasonUserInitiated)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminateStopsProcessAndRemovesWorktree(t *testing.T) {
	sup, reg, adapter, project := newHarness(t)

	worker, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: project,
		Name:         "charlie",
		BaseRevision: "main",
		Command:      "sleep",
		Args:         []string{"30"},
	})
	require.NoError(t, err)

	require.NoError(t, sup.Terminate(context.Background(), worker.ID, types.ReasonUserInitiated))

	require.Eventually(t, func() bool {
		w, ok := reg.Get(worker.ID)
		return ok && w.Status == types.WorkerStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	w, _ := reg.Get(worker.ID)
	assert.Equal(t, string(types.ReasonUserInitiated), w.Cause)

	worktrees, _ := adapter.ListWorktrees(context.Background(), project)
	for _, wt := range worktrees {
		assert.NotEqual(t, worker.WorktreePath, wt.Path, "terminate should have removed the worktree")
	}
}

func TestSendWritesToChildStdin(t *testing.T) {
	sup, _, _, project := newHarness(t)

	worker, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: project,
		Name:         "delta",
		BaseRevision: "main",
		Command:      "cat",
	})
	require.NoError(t, err)

	require.NoError(t, sup.Send(worker.ID, "hello"))
	require.NoError(t, sup.Send(worker.ID, map[string]string{"kind": "ping"}))

	require.NoError(t, sup.Terminate(context.Background(), worker.ID, types.ReasonUserInitiated))

	assert.ErrorIs(t, sup.Send("does-not-exist", "x"), ErrNotFound)
}

func TestStdoutLinesBufferedAndPublished(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := registry.New(t.TempDir(), broker)
	require.NoError(t, reg.Start())
	t.Cleanup(reg.Stop)

	sub := broker.Subscribe(events.TopicWorkerStdout)

	sup := New(reg, vcs.NewFakeAdapter(), broker, 0, 0)
	worker, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: t.TempDir(),
		Name:         "echo",
		BaseRevision: "main",
		Command:      "echo",
		Args:         []string{"ready"},
	})
	require.NoError(t, err)

	select {
	case evt := <-sub:
		assert.Equal(t, "ready", evt.Message)
		assert.Equal(t, worker.ID, evt.Data["worker_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no stdout event observed")
	}

	require.Eventually(t, func() bool {
		stdout, _, err := sup.Logs(worker.ID, 0, 10)
		if err != nil {
			return false
		}
		return len(stdout) == 1 && stdout[0] == "ready"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExitEventCarriesCodeAndSignal(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := registry.New(t.TempDir(), broker)
	require.NoError(t, reg.Start())
	t.Cleanup(reg.Stop)

	sub := broker.Subscribe(events.TopicWorkerTerminated)

	sup := New(reg, vcs.NewFakeAdapter(), broker, 0, 0)
	worker, err := sup.Spawn(context.Background(), SpawnRequest{
		ProjectScope: t.TempDir(),
		Name:         "exitcode",
		BaseRevision: "main",
		Command:      "true",
	})
	require.NoError(t, err)

	select {
	case evt := <-sub:
		assert.Equal(t, "exit", evt.Message)
		assert.Equal(t, worker.ID, evt.Data["worker_id"])
		assert.Equal(t, "0", evt.Data["exit_code"])
		assert.Empty(t, evt.Data["exit_signal"])
	case <-time.After(2 * time.Second):
		t.Fatal("no exit event observed")
	}
}
