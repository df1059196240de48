package coordinator

import (
	"fmt"
	"hash/fnv"
)

// Partition is one agent's slice of a partitioned task.
type Partition struct {
	PartitionID     string
	AgentIndex      int
	PartitionIndex  int
	TotalPartitions int
	Task            map[string]any
}

// Strategy names a partitioning algorithm.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyHash       Strategy = "hash"
)

// PartitionTask splits task into n partitions under strategy. This is a
// pure function: the same task, n, and strategy always produce the same
// result.
func PartitionTask(task map[string]any, n int, strategy Strategy, partitionKey string) []Partition {
	if n <= 0 {
		return nil
	}

	switch strategy {
	case StrategyHash:
		return partitionByHash(task, n, partitionKey)
	default:
		return partitionRoundRobin(task, n)
	}
}

func partitionRoundRobin(task map[string]any, n int) []Partition {
	out := make([]Partition, n)
	for i := 0; i < n; i++ {
		out[i] = buildPartition(task, i, i, n)
	}
	return out
}

func partitionByHash(task map[string]any, n int, partitionKey string) []Partition {
	value, ok := task[partitionKey]
	if !ok {
		return partitionRoundRobin(task, n)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(toHashString(value)))
	idx := int(h.Sum32()) % n
	if idx < 0 {
		idx += n
	}

	out := make([]Partition, n)
	for i := 0; i < n; i++ {
		out[i] = buildPartition(task, i, idx, n)
	}
	return out
}

func buildPartition(task map[string]any, agentIndex, partitionIndex, total int) Partition {
	merged := make(map[string]any, len(task)+2)
	for k, v := range task {
		merged[k] = v
	}
	merged["partitionIndex"] = partitionIndex
	merged["totalPartitions"] = total

	return Partition{
		PartitionID:     partitionIDFor(agentIndex, partitionIndex),
		AgentIndex:      agentIndex,
		PartitionIndex:  partitionIndex,
		TotalPartitions: total,
		Task:            merged,
	}
}

func partitionIDFor(agentIndex, partitionIndex int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	a := letters[agentIndex%len(letters)]
	p := letters[partitionIndex%len(letters)]
	return string([]byte{a, '-', p})
}

func toHashString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
