package resourcemon

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/types"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples map[int]Sample
	err     map[int]error
}

func (f *fakeSampler) Sample(pid int) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.err[pid]; ok {
		return Sample{}, err
	}
	return f.samples[pid], nil
}

func (f *fakeSampler) set(pid int, s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.samples == nil {
		f.samples = make(map[int]Sample)
	}
	f.samples[pid] = s
}

func TestMonitorTriggersTerminationOnMemoryBreach(t *testing.T) {
	fs := &fakeSampler{}
	fs.set(42, Sample{MemoryBytes: 600 * 1024 * 1024, CPUPercent: 10})

	var terminated types.TerminationReason
	var mu sync.Mutex
	m := New(func(workerID string, reason types.TerminationReason) {
		mu.Lock()
		terminated = reason
		mu.Unlock()
	}, 0, 0)
	m.sampler = fs
	m.Track("w1", 42)

	m.sampleAll()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.ReasonMemoryLimit, terminated)
}

func TestMonitorStatsAggregation(t *testing.T) {
	fs := &fakeSampler{}
	fs.set(7, Sample{MemoryBytes: 100, CPUPercent: 5})

	m := New(func(string, types.TerminationReason) {}, 0, 0)
	m.sampler = fs
	m.Track("w1", 7)
	m.sampleAll()

	fs.set(7, Sample{MemoryBytes: 200, CPUPercent: 15})
	m.sampleAll()

	stats, ok := m.Stats("w1")
	require.True(t, ok)
	assert.Equal(t, uint64(200), stats.CurrentMemoryBytes)
	assert.Equal(t, uint64(200), stats.PeakMemoryBytes)
	assert.InDelta(t, 10, stats.AverageCPUPercent, 0.001)
	assert.GreaterOrEqual(t, stats.UptimeMillis, int64(0))
}

func TestUntrackRemovesSampler(t *testing.T) {
	fs := &fakeSampler{}
	fs.set(1, Sample{MemoryBytes: 1})
	m := New(func(string, types.TerminationReason) {}, 0, 0)
	m.sampler = fs
	m.Track("w1", 1)
	m.Untrack("w1")

	_, ok := m.Stats("w1")
	assert.False(t, ok)
}

func TestMonitorUntracksWhenProcessGone(t *testing.T) {
	fs := &fakeSampler{err: map[int]error{9: os.ErrNotExist}}
	m := New(func(string, types.TerminationReason) {}, 0, 0)
	m.sampler = fs
	m.Track("w1", 9)

	m.sampleAll()

	_, ok := m.Stats("w1")
	assert.False(t, ok)
}

func TestMonitorKeepsSamplingOnTransientError(t *testing.T) {
	fs := &fakeSampler{err: map[int]error{9: transientErr{}}}
	m := New(func(string, types.TerminationReason) {}, 0, 0)
	m.sampler = fs
	m.Track("w1", 9)

	m.sampleAll()

	_, ok := m.Stats("w1")
	assert.True(t, ok, "a transient read failure must not remove the sampler")
}

type transientErr struct{}

func (transientErr) Error() string { return "sample failed" }
