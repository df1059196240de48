package consolidator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/types"
	"github.com/cuemby/orchestrator/pkg/vcs"
)

func newTestConsolidator(t *testing.T) *Consolidator {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	adapter := vcs.NewFakeAdapter()
	dataDir := t.TempDir()
	c := New(dataDir, adapter, broker)
	require.NoError(t, c.Start())
	return c
}

const sameLineDiff = `diff --git a/shared.go b/shared.go
index 1111111..2222222 100644
--- a/shared.go
+++ b/shared.go
@@ -10,3 +10,4 @@
 func existing() {}
+func addedByWorker() {}
`

// battleRoyaleDiff returns a diff where every worker touches the same
// overlapping line range in shared.go.
func battleRoyaleDiff(workerTag string) string {
	return fmt.Sprintf(`diff --git a/shared.go b/shared.go
index 1111111..2222222 100644
--- a/shared.go
+++ b/shared.go
@@ -10,3 +10,4 @@
 func existing() {}
+func addedBy%s() {}
`, workerTag)
}

func seedWorktree(t *testing.T, adapter *vcs.FakeAdapter, project, path, diff string) {
	t.Helper()
	_, err := adapter.CreateWorktree(context.Background(), project, path, "agent/x", "master")
	require.NoError(t, err)
	adapter.SetDiff(path, diff)

	// Analyze reads file content from the worktree for Resolve/Export, so
	// lay a matching file on disk too.
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "shared.go"), []byte(diff), 0o644))
}

func TestAnalyzeDetectsSameLineConflicts(t *testing.T) {
	project := t.TempDir()
	adapter := vcs.NewFakeAdapter()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	c := New(t.TempDir(), adapter, broker)
	require.NoError(t, c.Start())

	pathA := filepath.Join(project, "wt-a")
	pathB := filepath.Join(project, "wt-b")
	seedWorktree(t, adapter, project, pathA, battleRoyaleDiff("A"))
	seedWorktree(t, adapter, project, pathB, battleRoyaleDiff("B"))

	con := c.Create(CreateRequest{
		ProjectScope: project,
		BaseRevision: "master",
		Participants: []Participant{
			{WorkerID: "worker-a", WorktreePath: pathA},
			{WorkerID: "worker-b", WorktreePath: pathB},
		},
	})

	preview, err := c.Analyze(context.Background(), con.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, preview.TotalFiles)
	assert.Equal(t, 1, preview.Conflicting)
	assert.Equal(t, 0, preview.AutoMergeable)
	require.Len(t, preview.Conflicts, 1)
	assert.Equal(t, types.ConflictSameLine, preview.Conflicts[0].Type)
}

func TestBattleRoyaleFiveWorkersKeepOursExports(t *testing.T) {
	project := t.TempDir()
	adapter := vcs.NewFakeAdapter()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	c := New(t.TempDir(), adapter, broker)
	require.NoError(t, c.Start())

	var participants []Participant
	tags := []string{"A", "B", "C", "D", "E"}
	for _, tag := range tags {
		path := filepath.Join(project, "wt-"+tag)
		seedWorktree(t, adapter, project, path, battleRoyaleDiff(tag))
		participants = append(participants, Participant{WorkerID: "worker-" + tag, WorktreePath: path})
	}

	con := c.Create(CreateRequest{ProjectScope: project, BaseRevision: "master", Participants: participants})

	preview, err := c.Analyze(context.Background(), con.ID)
	require.NoError(t, err)

	// 5 participants touching the same overlapping range -> C(5,2) = 10
	// pairwise same-line conflicts.
	assert.Len(t, preview.Conflicts, 10)
	assert.Equal(t, "voting", preview.RecommendedStrategy)

	plan, err := c.Resolve(context.Background(), con.ID, []types.Resolution{
		{Path: "shared.go", Action: types.ActionKeepOurs},
	})
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)

	result, err := c.Export(context.Background(), con.ID, "master-merged", "consolidate battle royale")
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{"shared.go"}, result.Merged)

	got, ok := c.Get(con.ID)
	require.True(t, ok)
	assert.Equal(t, types.ConsolidationStatusCompleted, got.Status)
}

func TestResolveBeforeAnalyzeReturnsNotReady(t *testing.T) {
	c := newTestConsolidator(t)
	con := c.Create(CreateRequest{ProjectScope: "/repo", BaseRevision: "master"})
	con.Preview = nil

	_, err := c.Resolve(context.Background(), con.ID, []types.Resolution{{Path: "missing.go", Action: types.ActionReject}})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRecommendStrategyRules(t *testing.T) {
	assert.Equal(t, "auto", recommendStrategy(nil))
	assert.Equal(t, "manual", recommendStrategy([]types.Conflict{{Type: types.ConflictDeleteModify}}))
	assert.Equal(t, "union", recommendStrategy([]types.Conflict{{Type: types.ConflictImportConflict}, {Type: types.ConflictExportConflict}}))
	assert.Equal(t, "voting", recommendStrategy([]types.Conflict{{Type: types.ConflictSameLine}, {Type: types.ConflictSameLine}}))
}

func TestConsolidationStatusMonotone(t *testing.T) {
	assert.True(t, types.ConsolidationStatusPending.Before(types.ConsolidationStatusAnalyzing))
	assert.True(t, types.ConsolidationStatusAnalyzing.Before(types.ConsolidationStatusAnalyzed))
	assert.True(t, types.ConsolidationStatusAnalyzed.Before(types.ConsolidationStatusReady))
	assert.True(t, types.ConsolidationStatusReady.Before(types.ConsolidationStatusCompleted))
	assert.False(t, types.ConsolidationStatusCompleted.Before(types.ConsolidationStatusReady))
}

func TestParticipantsSurviveRestart(t *testing.T) {
	project := t.TempDir()
	dataDir := t.TempDir()
	adapter := vcs.NewFakeAdapter()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	pathA := filepath.Join(project, "wt-a")
	pathB := filepath.Join(project, "wt-b")
	seedWorktree(t, adapter, project, pathA, battleRoyaleDiff("A"))
	seedWorktree(t, adapter, project, pathB, battleRoyaleDiff("B"))

	c := New(dataDir, adapter, broker)
	require.NoError(t, c.Start())
	con := c.Create(CreateRequest{
		ProjectScope: project,
		BaseRevision: "master",
		Participants: []Participant{
			{WorkerID: "worker-a", WorktreePath: pathA, Branch: "agent/a"},
			{WorkerID: "worker-b", WorktreePath: pathB, Branch: "agent/b"},
		},
	})

	// A fresh Consolidator over the same data dir must see the same
	// participants, so a pending consolidation can still be analyzed.
	c2 := New(dataDir, adapter, broker)
	require.NoError(t, c2.Start())

	preview, err := c2.Analyze(context.Background(), con.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.TotalFiles)
	require.Len(t, preview.Conflicts, 1)
	assert.Equal(t, types.ConflictSameLine, preview.Conflicts[0].Type)
}
