package registry

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	r := New(t.TempDir(), broker)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

func TestRegisterQueryUnregisterRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	w := &types.Worker{ID: "w1", Name: "alpha", Status: types.WorkerStatusActive, Branch: "agent/alpha-1"}
	r.Register(w)

	got, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name)

	assert.True(t, r.Unregister("w1"))

	_, ok = r.Get("w1")
	assert.False(t, ok)
}

func TestListFilters(t *testing.T) {
	r := newTestRegistry(t)

	r.Register(&types.Worker{ID: "w1", Status: types.WorkerStatusActive, Branch: "b1", WorktreePath: "/proj/.orch/worktrees/w1", ProjectScope: "/proj"})
	r.Register(&types.Worker{ID: "w2", Status: types.WorkerStatusCompleted, Branch: "b2", WorktreePath: "/proj/.orch/worktrees/w2", ProjectScope: "/proj"})

	assert.Len(t, r.ListByStatus(types.WorkerStatusActive), 1)
	assert.Len(t, r.ListByBranch("b2"), 1)
	assert.Len(t, r.ListByWorktreePrefix("/proj/.orch/worktrees"), 2)
	assert.Len(t, r.ListByProject("/proj"), 2)
}

func TestUpdateEmitsStatusChange(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&types.Worker{ID: "w1", Status: types.WorkerStatusActive})

	ok := r.Update("w1", func(w *types.Worker) {
		w.Status = types.WorkerStatusCompleted
		w.CompletedAt = time.Now()
	})
	require.True(t, ok)

	got, _ := r.Get("w1")
	assert.Equal(t, types.WorkerStatusCompleted, got.Status)

	assert.False(t, r.Update("does-not-exist", func(*types.Worker) {}))
}

func TestUpdateRejectsInvalidStatusOrTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&types.Worker{ID: "w1", Status: types.WorkerStatusActive})

	ok := r.Update("w1", func(w *types.Worker) {
		w.Status = types.WorkerStatus("bogus")
	})
	assert.False(t, ok)

	got, _ := r.Get("w1")
	assert.Equal(t, types.WorkerStatusActive, got.Status, "rejected patch must not mutate the stored record")

	ok = r.Update("w1", func(w *types.Worker) {
		w.CompletedAt = time.Unix(-5, 0)
	})
	assert.False(t, ok)

	got, _ = r.Get("w1")
	assert.True(t, got.CompletedAt.IsZero(), "rejected patch must not mutate the stored record")
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	r := New(dir, broker)
	require.NoError(t, r.Start())
	r.Register(&types.Worker{ID: "w1", Name: "alpha", Status: types.WorkerStatusActive})
	r.Stop()

	r2 := New(dir, broker)
	require.NoError(t, r2.Start())
	defer r2.Stop()

	got, ok := r2.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name)

	_, err := filepath.Abs(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
}

func TestPruneRemovesOldTerminalRecordsAtCeiling(t *testing.T) {
	r := newTestRegistry(t)

	old := time.Now().Add(-48 * time.Hour)
	for i := 0; i < pruneCeiling; i++ {
		r.Register(&types.Worker{
			ID:          fmt.Sprintf("w%04d", i),
			Status:      types.WorkerStatusCompleted,
			CompletedAt: old,
		})
	}

	// Registering the record that reaches the ceiling prunes the stale
	// terminal ones.
	assert.Less(t, len(r.List()), pruneCeiling)
}
