// Package registry maintains the durable, in-memory index of Worker
// records and mirrors it to a single JSON file, registry.json, in the
// data directory it is given.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/types"
)

const (
	pruneCeiling = 1000
	pruneAge     = 24 * time.Hour
)

// Registry is a single-writer, in-memory index of Worker records with a
// best-effort durable JSON mirror.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*types.Worker
	dirty   bool

	path   string
	broker *events.Broker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Registry that mirrors to <dataDir>/registry.json. broker
// may be nil if events are not needed.
func New(dataDir string, broker *events.Broker) *Registry {
	return &Registry{
		workers: make(map[string]*types.Worker),
		path:    filepath.Join(dataDir, "registry.json"),
		broker:  broker,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start loads any existing mirror from disk and begins the background
// persistence loop.
func (r *Registry) Start() error {
	if err := r.load(); err != nil {
		log.WithComponent("registry").Error().Err(err).Msg("failed to load registry mirror, starting empty")
	}
	go r.persistLoop()
	return nil
}

// Stop halts background persistence after flushing any pending write.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Register inserts or replaces a worker record and emits the appropriate
// lifecycle event.
func (r *Registry) Register(w *types.Worker) {
	r.mu.Lock()
	existing, had := r.workers[w.ID]
	r.workers[w.ID] = w
	r.dirty = true
	r.maybePruneLocked()
	r.mu.Unlock()

	r.publish(events.TopicWorkerRegistered, w.ID, "registered")
	if had && existing.Status != w.Status {
		r.publish(events.TopicWorkerStatusChange, w.ID, fmt.Sprintf("%s->%s", existing.Status, w.Status))
	}
	r.refreshGauge()
}

// Update applies patch to a copy of the existing record, validates the
// result, and only then commits it and emits `updated` (plus a status
// transition event when the status changed). Returns false if no such
// worker exists or if the patched record fails validation (an
// unrecognized status, or a set timestamp that is not strictly positive);
// in either rejection case the stored record is left untouched.
func (r *Registry) Update(id string, patch func(*types.Worker)) bool {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	candidate := *w
	patch(&candidate)
	if err := validateWorker(&candidate); err != nil {
		r.mu.Unlock()
		log.WithWorkerID(id).Warn().Err(err).Msg("rejected invalid registry update")
		return false
	}

	before := w.Status
	*w = candidate
	r.dirty = true
	r.mu.Unlock()

	r.publish(events.TopicWorkerUpdated, id, "updated")
	if before != w.Status {
		r.publish(events.TopicWorkerStatusChange, id, fmt.Sprintf("%s->%s", before, w.Status))
	}
	r.refreshGauge()
	return true
}

var validWorkerStatuses = map[types.WorkerStatus]bool{
	types.WorkerStatusPending:     true,
	types.WorkerStatusActive:      true,
	types.WorkerStatusTerminating: true,
	types.WorkerStatusCompleted:   true,
	types.WorkerStatusFailed:      true,
}

// validateWorker rejects an unrecognized status or a timestamp field that
// has been set to a non-positive instant; a zero (unset) timestamp is
// always permitted.
func validateWorker(w *types.Worker) error {
	if !validWorkerStatuses[w.Status] {
		return fmt.Errorf("registry: invalid status %q", w.Status)
	}
	for name, ts := range map[string]time.Time{
		"createdAt":   w.CreatedAt,
		"startedAt":   w.StartedAt,
		"completedAt": w.CompletedAt,
	} {
		if !ts.IsZero() && ts.Unix() <= 0 {
			return fmt.Errorf("registry: non-positive timestamp %s", name)
		}
	}
	return nil
}

// Unregister removes a worker record and emits `unregistered`.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.workers[id]
	if ok {
		delete(r.workers, id)
		r.dirty = true
	}
	r.mu.Unlock()

	if ok {
		r.publish(events.TopicWorkerPruned, id, "unregistered")
		r.refreshGauge()
	}
	return ok
}

// Get returns a copy of the worker record for id.
func (r *Registry) Get(id string) (types.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return types.Worker{}, false
	}
	return *w, true
}

// ListByStatus returns snapshots of all workers with the given status.
func (r *Registry) ListByStatus(status types.WorkerStatus) []types.Worker {
	return r.filter(func(w *types.Worker) bool { return w.Status == status })
}

// ListByBranch returns snapshots of all workers on the given branch.
func (r *Registry) ListByBranch(branch string) []types.Worker {
	return r.filter(func(w *types.Worker) bool { return w.Branch == branch })
}

// ListByWorktreePrefix returns snapshots of all workers whose worktree path
// has the given prefix, so nested paths are included.
func (r *Registry) ListByWorktreePrefix(prefix string) []types.Worker {
	return r.filter(func(w *types.Worker) bool { return strings.HasPrefix(w.WorktreePath, prefix) })
}

// ListByProject returns snapshots of all workers in the given project
// scope.
func (r *Registry) ListByProject(project string) []types.Worker {
	return r.filter(func(w *types.Worker) bool { return w.ProjectScope == project })
}

// List returns snapshots of every worker.
func (r *Registry) List() []types.Worker {
	return r.filter(func(*types.Worker) bool { return true })
}

func (r *Registry) filter(pred func(*types.Worker) bool) []types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if pred(w) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of workers with the given status.
func (r *Registry) Count(status types.WorkerStatus) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, w := range r.workers {
		if w.Status == status {
			n++
		}
	}
	return n
}

func (r *Registry) maybePruneLocked() {
	if len(r.workers) < pruneCeiling {
		return
	}
	cutoff := time.Now().Add(-pruneAge)
	for id, w := range r.workers {
		if !terminal(w.Status) {
			continue
		}
		completed := w.CompletedAt
		if completed.IsZero() {
			completed = time.Now()
		}
		if completed.Before(cutoff) {
			delete(r.workers, id)
		}
	}
}

func terminal(s types.WorkerStatus) bool {
	return s == types.WorkerStatusCompleted || s == types.WorkerStatusFailed
}

func (r *Registry) publish(topic events.Topic, workerID, detail string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(topic, detail, map[string]string{"worker_id": workerID})
}

func (r *Registry) refreshGauge() {
	r.mu.RLock()
	counts := map[types.WorkerStatus]int{}
	for _, w := range r.workers {
		counts[w.Status]++
	}
	r.mu.RUnlock()

	for _, s := range []types.WorkerStatus{
		types.WorkerStatusPending, types.WorkerStatusActive, types.WorkerStatusTerminating,
		types.WorkerStatusCompleted, types.WorkerStatusFailed,
	} {
		metrics.WorkersTotal.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (r *Registry) persistLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flushIfDirty()
		case <-r.stopCh:
			r.flushIfDirty()
			return
		}
	}
}

func (r *Registry) flushIfDirty() {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	snapshot := make([]*types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		snapshot = append(snapshot, w)
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.writeSnapshot(snapshot); err != nil {
		log.WithComponent("registry").Error().Err(err).Msg("failed to persist registry mirror")
	}
}

func (r *Registry) writeSnapshot(snapshot []*types.Worker) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry snapshot: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry file: %w", err)
	}

	var snapshot []*types.Worker
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// A corrupt load resets the in-memory map to empty without crashing.
		log.WithComponent("registry").Error().Err(err).Msg("registry mirror corrupt, resetting")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = make(map[string]*types.Worker, len(snapshot))
	for _, w := range snapshot {
		r.workers[w.ID] = w
	}
	return nil
}
