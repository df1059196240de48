// Package coordinator implements the three host-local coordination
// primitives: barrier synchronization, leader election by vote, and task
// partitioning.
package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/types"
)

// BarrierResult is the outcome delivered on a barrier's future.
type BarrierResult struct {
	Success bool
	Arrived []string
}

type barrierEntry struct {
	mu       sync.Mutex
	barrier  *types.Barrier
	resultC  chan BarrierResult
	resolved bool
}

// ElectionResult is the outcome delivered on an election's future.
type ElectionResult struct {
	Winner string
	Tally  map[string]int
}

type electionEntry struct {
	mu       sync.Mutex
	election *types.Election
	resultC  chan ElectionResult
	resolved bool
}

// Coordinator manages the set of live barriers and elections.
type Coordinator struct {
	broker *events.Broker

	mu        sync.Mutex
	barriers  map[string]*barrierEntry
	elections map[string]*electionEntry
}

// New creates a Coordinator publishing events to broker.
func New(broker *events.Broker) *Coordinator {
	return &Coordinator{
		broker:    broker,
		barriers:  make(map[string]*barrierEntry),
		elections: make(map[string]*electionEntry),
	}
}

// CreateBarrier registers a barrier over expected and returns its id along
// with a channel that receives the terminal result exactly once.
func (c *Coordinator) CreateBarrier(expected []string, timeout time.Duration) (string, <-chan BarrierResult) {
	id := uuid.NewString()
	expectedSet := toSet(expected)

	b := &types.Barrier{
		ID:        id,
		Expected:  expectedSet,
		Arrived:   make(map[string]bool),
		State:     types.BarrierStatePending,
		CreatedAt: time.Now(),
		Deadline:  time.Now().Add(timeout),
	}

	entry := &barrierEntry{barrier: b, resultC: make(chan BarrierResult, 1)}

	c.mu.Lock()
	c.barriers[id] = entry
	c.mu.Unlock()

	c.publish(events.TopicBarrierCreated, id, "created")

	time.AfterFunc(timeout, func() { c.resolveBarrierTimeout(id) })

	return id, entry.resultC
}

// SignalBarrier records worker as arrived at barrier id. Idempotent: a
// repeated signal from the same worker is a no-op.
func (c *Coordinator) SignalBarrier(id, worker string) error {
	c.mu.Lock()
	entry, ok := c.barriers[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: barrier not found: %s", id)
	}

	entry.mu.Lock()
	already := entry.barrier.Arrived[worker]
	if !already {
		entry.barrier.Arrived[worker] = true
	}
	complete := arrivedSatisfies(entry.barrier)
	entry.mu.Unlock()

	if !already {
		c.publish(events.TopicBarrierResolved, id, "signal")
	}

	if complete {
		c.resolveBarrierComplete(id)
	}
	return nil
}

func arrivedSatisfies(b *types.Barrier) bool {
	for expected := range b.Expected {
		if !b.Arrived[expected] {
			return false
		}
	}
	return true
}

func (c *Coordinator) resolveBarrierComplete(id string) {
	c.mu.Lock()
	entry, ok := c.barriers[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.resolved {
		entry.mu.Unlock()
		return
	}
	entry.resolved = true
	entry.barrier.State = types.BarrierStateComplete
	arrived := keys(entry.barrier.Arrived)
	entry.mu.Unlock()

	entry.resultC <- BarrierResult{Success: true, Arrived: arrived}
	close(entry.resultC)
	c.publish(events.TopicBarrierResolved, id, "completed")
	metrics.BarriersTotal.WithLabelValues("complete").Inc()
}

func (c *Coordinator) resolveBarrierTimeout(id string) {
	c.mu.Lock()
	entry, ok := c.barriers[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.resolved {
		entry.mu.Unlock()
		return
	}
	entry.resolved = true
	entry.barrier.State = types.BarrierStateTimeout
	arrived := keys(entry.barrier.Arrived)
	entry.mu.Unlock()

	entry.resultC <- BarrierResult{Success: false, Arrived: arrived}
	close(entry.resultC)
	c.publish(events.TopicBarrierResolved, id, "timeout")
	metrics.BarriersTotal.WithLabelValues("timeout").Inc()
}

// ConductElection registers an election over candidates and returns its id
// along with a channel that receives the terminal result exactly once.
func (c *Coordinator) ConductElection(candidates []string, timeout time.Duration) (string, <-chan ElectionResult) {
	id := uuid.NewString()

	e := &types.Election{
		ID:         id,
		Candidates: toSet(candidates),
		Votes:      make(map[string]string),
		State:      types.ElectionStatePending,
		CreatedAt:  time.Now(),
		Deadline:   time.Now().Add(timeout),
	}

	entry := &electionEntry{election: e, resultC: make(chan ElectionResult, 1)}

	c.mu.Lock()
	c.elections[id] = entry
	c.mu.Unlock()

	c.publish(events.TopicElectionCreated, id, "created")

	time.AfterFunc(timeout, func() { c.resolveElection(id, types.ElectionStateTimeout) })

	return id, entry.resultC
}

// CastVote records voter's vote for candidate in election id. A voter that
// has already voted is rejected.
func (c *Coordinator) CastVote(id, voter, candidate string) error {
	c.mu.Lock()
	entry, ok := c.elections[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: election not found: %s", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, voted := entry.election.Votes[voter]; voted {
		return fmt.Errorf("coordinator: voter %s already voted", voter)
	}
	entry.election.Votes[voter] = candidate
	return nil
}

func (c *Coordinator) resolveElection(id string, state types.ElectionState) {
	c.mu.Lock()
	entry, ok := c.elections[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.resolved {
		entry.mu.Unlock()
		return
	}
	entry.resolved = true
	entry.election.State = state

	tally := make(map[string]int)
	for _, candidate := range entry.election.Votes {
		tally[candidate]++
	}
	winner := pickWinner(tally, entry.election.Candidates)
	entry.election.Winner = winner
	entry.mu.Unlock()

	entry.resultC <- ElectionResult{Winner: winner, Tally: tally}
	close(entry.resultC)

	outcome := "completed"
	if state == types.ElectionStateTimeout {
		outcome = "timeout"
	}
	c.publish(events.TopicElectionResolved, id, outcome)
	metrics.ElectionsTotal.WithLabelValues(outcome).Inc()
}

// pickWinner returns the candidate with the most votes, breaking ties by
// lexicographically smallest candidate id. If no votes were cast, the
// lexicographically smallest candidate wins.
func pickWinner(tally map[string]int, candidates map[string]bool) string {
	names := keys(candidates)
	sort.Strings(names)

	best := ""
	bestVotes := -1
	for _, name := range names {
		v := tally[name]
		if v > bestVotes {
			best = name
			bestVotes = v
		}
	}
	return best
}

func (c *Coordinator) publish(topic events.Topic, id, detail string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(topic, detail, map[string]string{"id": id})
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
