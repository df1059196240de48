package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/events"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return New(broker)
}

func TestBarrierCompletesWhenAllArrive(t *testing.T) {
	c := newTestCoordinator(t)
	id, resultC := c.CreateBarrier([]string{"a", "b", "c"}, time.Second)

	require.NoError(t, c.SignalBarrier(id, "a"))
	require.NoError(t, c.SignalBarrier(id, "b"))
	require.NoError(t, c.SignalBarrier(id, "c"))

	select {
	case res := <-resultC:
		assert.True(t, res.Success)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, res.Arrived)
	case <-time.After(time.Second):
		t.Fatal("barrier did not resolve")
	}
}

func TestBarrierTimeoutWithPartialArrival(t *testing.T) {
	c := newTestCoordinator(t)
	id, resultC := c.CreateBarrier([]string{"a", "b", "c"}, 50*time.Millisecond)

	require.NoError(t, c.SignalBarrier(id, "a"))

	select {
	case res := <-resultC:
		assert.False(t, res.Success)
		assert.Equal(t, []string{"a"}, res.Arrived)
	case <-time.After(time.Second):
		t.Fatal("barrier did not time out")
	}

	// subsequent signals are accepted but do not flip the outcome
	require.NoError(t, c.SignalBarrier(id, "b"))
}

func TestSignalBarrierIdempotent(t *testing.T) {
	c := newTestCoordinator(t)
	id, _ := c.CreateBarrier([]string{"a", "b"}, time.Second)

	require.NoError(t, c.SignalBarrier(id, "a"))
	require.NoError(t, c.SignalBarrier(id, "a"))
}

func TestElectionLexicographicTieBreak(t *testing.T) {
	c := newTestCoordinator(t)
	id, resultC := c.ConductElection([]string{"zebra", "alpha", "mango"}, 50*time.Millisecond)

	require.NoError(t, c.CastVote(id, "v1", "zebra"))
	require.NoError(t, c.CastVote(id, "v2", "alpha"))

	select {
	case res := <-resultC:
		assert.Equal(t, "alpha", res.Winner)
	case <-time.After(time.Second):
		t.Fatal("election did not resolve")
	}
}

func TestCastVoteRejectsRevote(t *testing.T) {
	c := newTestCoordinator(t)
	id, _ := c.ConductElection([]string{"a", "b"}, time.Second)

	require.NoError(t, c.CastVote(id, "v1", "a"))
	assert.Error(t, c.CastVote(id, "v1", "b"))
}

func TestPartitionRoundRobinDeterministic(t *testing.T) {
	task := map[string]any{"name": "build"}
	p1 := PartitionTask(task, 3, StrategyRoundRobin, "")
	p2 := PartitionTask(task, 3, StrategyRoundRobin, "")

	require.Len(t, p1, 3)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 3, p1[0].Task["totalPartitions"])
}

func TestPartitionHashFallsBackWithoutKey(t *testing.T) {
	task := map[string]any{"name": "build"}
	parts := PartitionTask(task, 2, StrategyHash, "missing-key")
	require.Len(t, parts, 2)
	assert.Equal(t, 0, parts[0].PartitionIndex)
	assert.Equal(t, 1, parts[1].PartitionIndex)
}

func TestPartitionHashWithKeyAssignsAllAgentsTheSamePartition(t *testing.T) {
	// With a present partition key, every task with that key hashes to the
	// same bucket, so all n agents share one PartitionIndex (only
	// AgentIndex distinguishes them) — a single logical shard of work
	// replicated across agents, not n independent shards. Same task, n,
	// and key must also hash deterministically across calls.
	task := map[string]any{"shard": "orders"}
	parts := PartitionTask(task, 4, StrategyHash, "shard")
	require.Len(t, parts, 4)

	for i, p := range parts {
		assert.Equal(t, i, p.AgentIndex)
		assert.Equal(t, parts[0].PartitionIndex, p.PartitionIndex)
		assert.Equal(t, 4, p.TotalPartitions)
	}

	again := PartitionTask(task, 4, StrategyHash, "shard")
	assert.Equal(t, parts, again)

	otherKey := PartitionTask(map[string]any{"shard": "invoices"}, 4, StrategyHash, "shard")
	assert.NotEqual(t, parts[0].PartitionIndex, otherKey[0].PartitionIndex,
		"different key values should usually land in a different bucket")
}
