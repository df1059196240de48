// Package resourcemon periodically samples per-process memory and CPU
// usage for every active worker and triggers termination when a worker
// breaches the memory limit.
package resourcemon

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/types"
)

const (
	defaultSampleInterval  = 5 * time.Second
	rollingWindow          = 60
	defaultMemoryLimitByte = 512 * 1024 * 1024
)

// Sample is one point-in-time resource reading.
type Sample struct {
	MemoryBytes uint64
	CPUPercent  float64
	At          time.Time
}

// Stats is the aggregated view returned for a monitored worker.
type Stats struct {
	CurrentMemoryBytes uint64
	PeakMemoryBytes    uint64
	CurrentCPUPercent  float64
	AverageCPUPercent  float64
	UptimeMillis       int64
}

// Sampler reads a single process's current resource usage. Platform
// implementations live in resourcemon_linux.go / resourcemon_other.go.
type Sampler interface {
	Sample(pid int) (Sample, error)
}

// TerminateFunc is called when a worker's memory usage breaches the limit.
type TerminateFunc func(workerID string, reason types.TerminationReason)

type tracked struct {
	pid       int
	startedAt time.Time
	samples   []Sample
}

// Monitor samples every registered worker process on a fixed cadence.
type Monitor struct {
	sampler        Sampler
	terminate      TerminateFunc
	sampleInterval time.Duration
	memoryLimit    uint64

	mu       sync.Mutex
	tracking map[string]*tracked

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Monitor using the platform-appropriate Sampler, sampling
// every sampleInterval and terminating a worker whose resident memory
// exceeds memoryLimitBytes. A zero sampleInterval or memoryLimitBytes
// selects the package default (5s / 512MB).
func New(terminate TerminateFunc, sampleInterval time.Duration, memoryLimitBytes uint64) *Monitor {
	if sampleInterval <= 0 {
		sampleInterval = defaultSampleInterval
	}
	if memoryLimitBytes == 0 {
		memoryLimitBytes = defaultMemoryLimitByte
	}
	return &Monitor{
		sampler:        &platformSampler{},
		terminate:      terminate,
		sampleInterval: sampleInterval,
		memoryLimit:    memoryLimitBytes,
		tracking:       make(map[string]*tracked),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Track begins sampling pid under workerID.
func (m *Monitor) Track(workerID string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking[workerID] = &tracked{pid: pid, startedAt: time.Now()}
}

// Untrack stops sampling workerID, e.g. because its process exited.
func (m *Monitor) Untrack(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracking, workerID)
	metrics.WorkerMemoryBytes.DeleteLabelValues(workerID)
	metrics.WorkerCPUPercent.DeleteLabelValues(workerID)
}

// Start begins the sampling loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sampleAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sampleAll() {
	m.mu.Lock()
	targets := make(map[string]int, len(m.tracking))
	for id, t := range m.tracking {
		targets[id] = t.pid
	}
	m.mu.Unlock()

	for id, pid := range targets {
		sample, err := m.sampler.Sample(pid)
		if err != nil {
			if processGone(err) {
				m.Untrack(id)
			} else {
				log.WithComponent("resourcemon").Error().Err(err).Msg("sample failed")
			}
			continue
		}

		m.mu.Lock()
		t, ok := m.tracking[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		t.samples = append(t.samples, sample)
		if len(t.samples) > rollingWindow {
			t.samples = t.samples[len(t.samples)-rollingWindow:]
		}
		m.mu.Unlock()

		metrics.WorkerMemoryBytes.WithLabelValues(id).Set(float64(sample.MemoryBytes))
		metrics.WorkerCPUPercent.WithLabelValues(id).Set(sample.CPUPercent)

		if sample.MemoryBytes > m.memoryLimit {
			m.terminate(id, types.ReasonMemoryLimit)
		}
	}
}

// processGone reports whether a sampling error means the monitored
// process exited between samples (remove its sampler) rather than a
// transient read failure (keep sampling, just log).
func processGone(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}

// Stats returns the aggregated resource statistics for workerID.
func (m *Monitor) Stats(workerID string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracking[workerID]
	if !ok {
		return Stats{}, false
	}

	var stats Stats
	var cpuSum float64
	for _, s := range t.samples {
		if s.MemoryBytes > stats.PeakMemoryBytes {
			stats.PeakMemoryBytes = s.MemoryBytes
		}
		cpuSum += s.CPUPercent
	}
	if len(t.samples) > 0 {
		last := t.samples[len(t.samples)-1]
		stats.CurrentMemoryBytes = last.MemoryBytes
		stats.CurrentCPUPercent = last.CPUPercent
		stats.AverageCPUPercent = cpuSum / float64(len(t.samples))
	}
	stats.UptimeMillis = time.Since(t.startedAt).Milliseconds()
	return stats, true
}
