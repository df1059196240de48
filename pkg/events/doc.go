/*
Package events provides an in-memory event broker for the orchestrator's
pub/sub messaging.

The events package implements a lightweight event bus for broadcasting
lifecycle events to interested subscribers. It supports topic-filtered
subscriptions with asynchronous delivery, enabling loose coupling
between subsystems that would otherwise need direct references to each
other — every subsystem publishes to the same broker, and the engine's
resource-monitor glue and the Transport Surface's SSE stream consume it,
without knowing about one another.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │                 Broker                       │          │
	│  │  - In-memory event bus                       │          │
	│  │  - Per-subscriber topic filter (or all)      │          │
	│  │  - Buffered publish (256-event channel)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                  │          │
	│  │                                              │          │
	│  │  Publish(topic, msg, data) → events channel  │          │
	│  │       ↓                                      │          │
	│  │  run() broadcast loop                        │          │
	│  │       ↓                                      │          │
	│  │  Subscriber channels (one per Subscribe call)│          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Topics                          │          │
	│  │                                              │          │
	│  │  Worker:                                     │          │
	│  │    worker.registered, worker.updated         │          │
	│  │    worker.status_changed, worker.terminated  │          │
	│  │    worker.pruned                             │          │
	│  │    worker.stdout, worker.stderr (live stdio) │          │
	│  │                                              │          │
	│  │  Message Bus:                                │          │
	│  │    message.enqueued, message.delivered       │          │
	│  │    message.retrying, message.failed          │          │
	│  │                                              │          │
	│  │  Coordination:                               │          │
	│  │    barrier.created, barrier.resolved         │          │
	│  │    election.created, election.resolved       │          │
	│  │                                              │          │
	│  │  Consolidation:                              │          │
	│  │    consolidation.phase_changed               │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  Subscribers:                                              │
	│    pkg/engine:    tracks/untracks resourcemon sampling     │
	│    pkg/transport: streams to SSE /events clients           │
	└────────────────────────────────────────────────────────────┘

# Usage

Subscribing to specific topics:

	sub := broker.Subscribe(events.TopicWorkerTerminated, events.TopicWorkerPruned)
	defer broker.Unsubscribe(sub)

	for evt := range sub {
		fmt.Println(evt.Topic, evt.Message, evt.Data["worker_id"])
	}

Subscribing to every topic (pass none):

	all := broker.Subscribe()

Publishing:

	broker.Publish(events.TopicWorkerTerminated, "timeout",
		map[string]string{"worker_id": worker.ID})

# Delivery Semantics

Publish pushes events onto an internal channel buffered to 256 events,
which a single broadcast goroutine fans out. Publish blocks only while
that buffer is full, until the broadcast loop frees a slot or Stop is
called. A slow or dead subscriber only risks dropping its own events
(the per-subscriber channel is buffered and non-blocking on send) — it
never backs up the publisher or other subscribers.

# Lifecycle

Start must be called once before Publish is used. Stop ends the
broadcast loop and releases any blocked Publish; it does not close
subscriber channels, which are closed only by Unsubscribe.
Subscribe/Unsubscribe are safe to call concurrently with Publish.

# Integration Points

This package integrates with:

  - pkg/registry: publishes every worker status transition
  - pkg/supervisor: publishes spawn/terminate events
  - pkg/messagebus: publishes enqueue/delivery/retry/failure events
  - pkg/coordinator: publishes barrier and election resolution
  - pkg/consolidator: publishes consolidation phase transitions
  - pkg/engine: subscribes to worker status-change and termination
    events to wire resourcemon tracking to worker lifecycle
  - pkg/transport: re-exposes the broker as a Server-Sent Events stream,
    subscribing to every topic unless the client names a topic filter

# See Also

  - pkg/engine for the cross-subsystem subscription that keeps the
    Resource Monitor's tracked-process set in sync with the Supervisor
  - pkg/transport/events.go for the SSE bridge
*/
package events
