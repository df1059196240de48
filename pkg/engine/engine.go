// Package engine wires the five core subsystems — Registry, Worker
// Supervisor, Message Bus, Coordinator, and Consolidator — into a single
// process-lifetime object that the Transport Surface and cmd/orchestratord
// share. It is the one place allowed to know about every subsystem at
// once; nothing below it imports engine.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/orchestrator/pkg/consolidator"
	"github.com/cuemby/orchestrator/pkg/coordinator"
	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/messagebus"
	"github.com/cuemby/orchestrator/pkg/registry"
	"github.com/cuemby/orchestrator/pkg/resourcemon"
	"github.com/cuemby/orchestrator/pkg/supervisor"
	"github.com/cuemby/orchestrator/pkg/types"
	"github.com/cuemby/orchestrator/pkg/vcs"
)

// Config holds the tunables needed to assemble an Engine. A zero value for
// any numeric/duration field selects that subsystem's own package default.
type Config struct {
	DataDir string
	VCS     vcs.Adapter // nil selects a real GitAdapter

	MaxActiveWorkers int
	WorkerWallClock  time.Duration
	MemoryLimitBytes uint64
	SampleInterval   time.Duration

	MessageQueueCapacity int
	MessageMaxRetries    int
	MessageRetryBase     time.Duration
}

// Engine owns every subsystem's lifecycle: new, start, shutdown.
type Engine struct {
	Broker       *events.Broker
	Registry     *registry.Registry
	VCS          vcs.Adapter
	Supervisor   *supervisor.Supervisor
	Monitor      *resourcemon.Monitor
	MessageBus   *messagebus.Bus
	Coordinator  *coordinator.Coordinator
	Consolidator *consolidator.Consolidator
}

// New assembles an Engine but does not start any background loop.
func New(cfg Config) *Engine {
	adapter := cfg.VCS
	if adapter == nil {
		adapter = vcs.NewGitAdapter()
	}

	broker := events.NewBroker()
	reg := registry.New(cfg.DataDir, broker)
	sup := supervisor.New(reg, adapter, broker, cfg.MaxActiveWorkers, cfg.WorkerWallClock)

	e := &Engine{
		Broker:       broker,
		Registry:     reg,
		VCS:          adapter,
		Supervisor:   sup,
		Coordinator:  coordinator.New(broker),
		Consolidator: consolidator.New(cfg.DataDir, adapter, broker),
	}
	e.Monitor = resourcemon.New(e.terminateFromMonitor, cfg.SampleInterval, cfg.MemoryLimitBytes)
	e.MessageBus = messagebus.New(cfg.DataDir, reg, broker, messagebus.DelivererFunc(e.deliverToChild),
		cfg.MessageQueueCapacity, cfg.MessageMaxRetries, cfg.MessageRetryBase)
	return e
}

// Start brings up every subsystem in dependency order (leaves first) and
// subscribes the engine's own glue code — tracking worker PIDs with the
// Resource Monitor — to the event bus.
func (e *Engine) Start() error {
	e.Broker.Start()
	if err := e.Registry.Start(); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	if err := e.Consolidator.Start(); err != nil {
		return fmt.Errorf("start consolidator: %w", err)
	}
	if err := e.MessageBus.Start(); err != nil {
		return fmt.Errorf("start message bus: %w", err)
	}
	e.Monitor.Start()

	go e.watchLifecycle()

	return nil
}

// Shutdown cancels all timers, terminates every worker with reason
// shutdown, and flushes the registry and message bus, in the reverse of
// startup order.
func (e *Engine) Shutdown(ctx context.Context) {
	e.Supervisor.Shutdown(ctx)
	e.Monitor.Stop()
	e.MessageBus.Stop()
	e.Registry.Stop()
	e.Broker.Stop()
}

// watchLifecycle subscribes to worker events and keeps the Resource
// Monitor's tracked-process set in sync with the Supervisor's actual
// child processes.
func (e *Engine) watchLifecycle() {
	sub := e.Broker.Subscribe(events.TopicWorkerStatusChange, events.TopicWorkerTerminated)
	defer e.Broker.Unsubscribe(sub)

	for evt := range sub {
		workerID := evt.Data["worker_id"]
		if workerID == "" {
			continue
		}
		switch {
		case evt.Topic == events.TopicWorkerStatusChange && evt.Message == "spawned":
			if w, ok := e.Registry.Get(workerID); ok && w.PID > 0 {
				e.Monitor.Track(workerID, w.PID)
			}
		case evt.Topic == events.TopicWorkerTerminated:
			e.Monitor.Untrack(workerID)
		}
	}
}

// terminateFromMonitor is the resourcemon.TerminateFunc passed to the
// Monitor: a memory breach terminates the worker through the Supervisor.
func (e *Engine) terminateFromMonitor(workerID string, reason types.TerminationReason) {
	if err := e.Supervisor.Terminate(context.Background(), workerID, reason); err != nil {
		log.WithWorkerID(workerID).Error().Err(err).Msg("resource monitor failed to terminate worker")
	}
}

// deliverToChild is the Message Bus's default Deliverer: it forwards the
// message payload to the target worker's stdin via the Supervisor. A
// delivery is successful if the child's stdin accepts the write.
func (e *Engine) deliverToChild(msg *types.Message) (bool, error) {
	err := e.Supervisor.Send(msg.Target, msg.Payload)
	if err != nil {
		return false, err
	}
	return true, nil
}
