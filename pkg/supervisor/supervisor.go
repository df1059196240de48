// Package supervisor is the Worker Lifecycle & Isolation Engine: it spawns
// child processes inside VCS working copies, wires their stdio, enforces
// resource/time limits, and reclaims resources on exit or termination.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/registry"
	"github.com/cuemby/orchestrator/pkg/types"
	"github.com/cuemby/orchestrator/pkg/vcs"
)

const (
	// MaxActiveWorkers is the host-wide cap on concurrently active workers.
	MaxActiveWorkers = 10

	defaultWallClock = 30 * time.Minute
	terminationGrace = 5 * time.Second
	stdioBufferLines = 4000
	worktreeRootName = ".orch/worktrees"

	// retainedLogEntries bounds how many exited workers keep their stdio
	// buffers readable through Logs.
	retainedLogEntries = 200
)

// ErrCapacityExceeded is returned by Spawn when the active worker count is
// already at the host cap.
var ErrCapacityExceeded = fmt.Errorf("supervisor: capacity exceeded")

// ErrNotFound is returned by operations addressed to an unknown worker id.
var ErrNotFound = fmt.Errorf("supervisor: worker not found")

// ErrNoStdin is returned by Send when the child's stdin stream is closed.
var ErrNoStdin = fmt.Errorf("supervisor: no stdin")

// SpawnRequest describes a single worker to spawn.
type SpawnRequest struct {
	ProjectScope string
	Name         string
	Type         string
	BaseRevision string
	Branch       string
	Task         string
	Command      string
	Args         []string
	Env          map[string]string
}

type process struct {
	worker    *types.Worker
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdoutBuf *ringBuffer
	stderrBuf *ringBuffer
	timer     *time.Timer
	cancel    context.CancelFunc
	exited    chan struct{}
	mu        sync.Mutex
}

// Supervisor spawns, monitors, and terminates worker processes.
type Supervisor struct {
	registry *registry.Registry
	adapter  vcs.Adapter
	broker   *events.Broker

	sem       *semaphore.Weighted
	wallClock time.Duration

	mu      sync.Mutex
	workers map[string]*process

	// stdio buffers of exited workers, kept so Logs still serves
	// completed/failed workers; oldest entries are dropped past
	// retainedLogEntries.
	retained      map[string]*process
	retainedOrder []string

	worktreeRoot func(project string) string
}

// New creates a Supervisor bound to reg, adapter, and broker, capped at
// capacity concurrently active workers and terminating a worker that runs
// past wallClock. A zero capacity/wallClock selects the package default
// (10 workers / 30 minutes).
func New(reg *registry.Registry, adapter vcs.Adapter, broker *events.Broker, capacity int, wallClock time.Duration) *Supervisor {
	if capacity <= 0 {
		capacity = MaxActiveWorkers
	}
	if wallClock <= 0 {
		wallClock = defaultWallClock
	}
	return &Supervisor{
		registry:  reg,
		adapter:   adapter,
		broker:    broker,
		sem:       semaphore.NewWeighted(int64(capacity)),
		wallClock: wallClock,
		workers:   make(map[string]*process),
		retained:  make(map[string]*process),
		worktreeRoot: func(project string) string {
			return filepath.Join(project, worktreeRootName)
		},
	}
}

// Spawn reserves a capacity slot, creates a working copy, and starts the
// child process.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (types.Worker, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WorkerSpawnDuration)

	if !s.sem.TryAcquire(1) {
		return types.Worker{}, ErrCapacityExceeded
	}

	id := uuid.NewString()
	branch := req.Branch
	if branch == "" {
		branch = fmt.Sprintf("agent/%s-%s", slug(req.Name), id[:8])
	}
	worktreePath := filepath.Join(s.worktreeRoot(req.ProjectScope), id)

	worker := &types.Worker{
		ID:           id,
		Name:         req.Name,
		Type:         req.Type,
		Status:       types.WorkerStatusPending,
		ProjectScope: req.ProjectScope,
		BaseRevision: req.BaseRevision,
		Branch:       branch,
		WorktreePath: worktreePath,
		Task:         req.Task,
		CreatedAt:    time.Now(),
	}

	s.publishWith(events.TopicWorkerStatusChange, id, "spawning", map[string]string{
		"name":     req.Name,
		"worktree": worktreePath,
	})

	wt, err := s.adapter.CreateWorktree(ctx, req.ProjectScope, worktreePath, branch, req.BaseRevision)
	if err != nil {
		s.sem.Release(1)
		return types.Worker{}, fmt.Errorf("vcs_failure: %w", err)
	}
	worker.Branch = wt.Branch

	cmdName := req.Command
	if cmdName == "" {
		cmdName = "true"
	}
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, cmdName, req.Args...)
	cmd.Dir = worktreePath
	cmd.Env = buildEnv(id, worktreePath, req.Env)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		_ = s.adapter.RemoveWorktree(ctx, req.ProjectScope, worktreePath)
		s.sem.Release(1)
		return types.Worker{}, fmt.Errorf("spawn_failure: %w", err)
	}
	stdoutBuf := newRingBuffer(stdioBufferLines, func(line string) {
		s.publish(events.TopicWorkerStdout, id, line)
	})
	stderrBuf := newRingBuffer(stdioBufferLines, func(line string) {
		s.publish(events.TopicWorkerStderr, id, line)
	})
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		_ = s.adapter.RemoveWorktree(ctx, req.ProjectScope, worktreePath)
		s.sem.Release(1)
		worker.Status = types.WorkerStatusFailed
		worker.Error = err.Error()
		s.registry.Register(worker)
		s.publishWith(events.TopicWorkerTerminated, id, "spawn-failed", map[string]string{
			"error": err.Error(),
		})
		return types.Worker{}, fmt.Errorf("spawn_failure: %w", err)
	}

	worker.Status = types.WorkerStatusActive
	worker.PID = cmd.Process.Pid
	worker.StartedAt = time.Now()
	s.registry.Register(worker)
	metrics.WorkersSpawnedTotal.Inc()

	p := &process{worker: worker, cmd: cmd, stdin: stdin, stdoutBuf: stdoutBuf, stderrBuf: stderrBuf, cancel: cancel, exited: make(chan struct{})}
	p.timer = time.AfterFunc(s.wallClock, func() {
		_ = s.Terminate(context.Background(), id, types.ReasonTimeout)
	})

	s.mu.Lock()
	s.workers[id] = p
	s.mu.Unlock()

	s.publishWith(events.TopicWorkerStatusChange, id, "spawned", map[string]string{
		"pid":      strconv.Itoa(worker.PID),
		"worktree": worktreePath,
	})

	go s.wait(id, p)

	return *worker, nil
}

func (s *Supervisor) wait(id string, p *process) {
	err := p.cmd.Wait()
	close(p.exited)

	p.timer.Stop()
	p.cancel()

	s.mu.Lock()
	delete(s.workers, id)
	s.retained[id] = p
	s.retainedOrder = append(s.retainedOrder, id)
	for len(s.retainedOrder) > retainedLogEntries {
		delete(s.retained, s.retainedOrder[0])
		s.retainedOrder = s.retainedOrder[1:]
	}
	s.mu.Unlock()
	s.sem.Release(1)

	status := types.WorkerStatusCompleted
	cause := ""
	if err != nil {
		status = types.WorkerStatusFailed
		cause = err.Error()
	}
	exitCode, exitSignal := exitState(p.cmd.ProcessState)

	s.registry.Update(id, func(w *types.Worker) {
		w.Status = status
		w.CompletedAt = time.Now()
		w.ExitCode = exitCode
		w.ExitSignal = exitSignal
		if cause != "" {
			w.Error = cause
		}
	})
	if status == types.WorkerStatusFailed {
		metrics.WorkersTerminatedTotal.WithLabelValues("exit_failure").Inc()
	}
	s.publishWith(events.TopicWorkerTerminated, id, "exit", map[string]string{
		"exit_code":   strconv.Itoa(exitCode),
		"exit_signal": exitSignal,
	})
}

// exitState extracts the exit code and, when the process was killed,
// the terminating signal's name from a finished process's state.
func exitState(state *os.ProcessState) (int, string) {
	if state == nil {
		return -1, ""
	}
	code := state.ExitCode()
	signal := ""
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signal = ws.Signal().String()
	}
	return code, signal
}

// Terminate transitions a worker to terminating, signals the process
// gently then forcefully after a grace period, waits for exit, and removes
// the working copy. Repeated terminate on an unknown id returns
// ErrNotFound.
func (s *Supervisor) Terminate(ctx context.Context, id string, reason types.TerminationReason) error {
	s.mu.Lock()
	p, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.registry.Update(id, func(w *types.Worker) {
		w.Status = types.WorkerStatusTerminating
		w.Cause = string(reason)
	})
	s.publishWith(events.TopicWorkerStatusChange, id, "terminating", map[string]string{
		"reason": string(reason),
	})
	metrics.WorkersTerminatedTotal.WithLabelValues(string(reason)).Inc()

	if p.cmd.Process != nil {
		_ = signalProcess(p.cmd.Process.Pid)
	}

	select {
	case <-p.exited:
	case <-time.After(terminationGrace):
		if p.cmd.Process != nil {
			_ = killProcessGroup(p.cmd.Process.Pid)
		}
		<-p.exited
	}

	w, _ := s.registry.Get(id)
	_ = s.adapter.RemoveWorktree(ctx, w.ProjectScope, w.WorktreePath)

	return nil
}

// Send writes payload followed by a newline to the child's stdin. String
// payloads pass through verbatim; other shapes are serialized as JSON.
func (s *Supervisor) Send(id string, payload any) error {
	s.mu.Lock()
	p, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if p.stdin == nil {
		return ErrNoStdin
	}

	var line string
	if str, isStr := payload.(string); isStr {
		line = str
	} else {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		line = string(data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.stdin, line+"\n")
	if err != nil {
		return ErrNoStdin
	}
	return nil
}

// Logs returns up to count buffered stdout/stderr lines starting at
// offset. Buffers survive worker exit so completed and failed workers
// stay inspectable.
func (s *Supervisor) Logs(id string, offset, count int) ([]string, []string, error) {
	s.mu.Lock()
	p, ok := s.workers[id]
	if !ok {
		p, ok = s.retained[id]
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	return p.stdoutBuf.slice(offset, count), p.stderrBuf.slice(offset, count), nil
}

// ActiveCount returns the number of currently active (spawned) workers.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Shutdown terminates every active worker with reason shutdown and waits
// for them to exit.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.Terminate(ctx, id, types.ReasonShutdown)
		}(id)
	}
	wg.Wait()
}

func (s *Supervisor) publish(topic events.Topic, workerID, detail string) {
	s.publishWith(topic, workerID, detail, nil)
}

// publishWith publishes a worker event carrying the payload fields the
// streaming surface documents for it (name/worktree on spawning, pid on
// spawned, error on spawn failure, exit code/signal on exit).
func (s *Supervisor) publishWith(topic events.Topic, workerID, detail string, extra map[string]string) {
	if s.broker == nil {
		return
	}
	data := map[string]string{"worker_id": workerID}
	for k, v := range extra {
		data[k] = v
	}
	s.broker.Publish(topic, detail, data)
}

func buildEnv(id, worktreePath string, overlay map[string]string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+8)
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") {
			env = append(env, "PATH="+worktreePath+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			continue
		}
		env = append(env, kv)
	}
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"AGENT_ID="+id,
		"AGENT_WORKTREE="+worktreePath,
		"AGENT_ISOLATED=1",
		"AGENT_MODE=production",
	)
	return env
}

func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "worker"
	}
	return s
}

// ringBuffer is a bounded, thread-safe line buffer for captured stdio.
// Each complete line is also handed to onLine, which the Supervisor wires
// to the event broker so observers can stream a worker's output live.
type ringBuffer struct {
	mu     sync.Mutex
	lines  []string
	cap    int
	buf    strings.Builder
	onLine func(string)
}

func newRingBuffer(capacity int, onLine func(string)) *ringBuffer {
	return &ringBuffer{cap: capacity, onLine: onLine}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()

	r.buf.Write(p)
	var complete []string
	if strings.HasSuffix(r.buf.String(), "\n") {
		scanner := bufio.NewScanner(strings.NewReader(r.buf.String()))
		for scanner.Scan() {
			complete = append(complete, scanner.Text())
		}
		r.lines = append(r.lines, complete...)
		r.buf.Reset()
		if len(r.lines) > r.cap {
			r.lines = r.lines[len(r.lines)-r.cap:]
		}
	}
	r.mu.Unlock()

	if r.onLine != nil {
		for _, line := range complete {
			r.onLine(line)
		}
	}
	return len(p), nil
}

func (r *ringBuffer) slice(offset, count int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if offset >= len(r.lines) {
		return nil
	}
	end := offset + count
	if count <= 0 || end > len(r.lines) {
		end = len(r.lines)
	}
	out := make([]string, end-offset)
	copy(out, r.lines[offset:end])
	return out
}
