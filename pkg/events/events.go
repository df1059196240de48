// Package events provides a typed publish/subscribe broker used by every
// other component to announce state transitions (worker lifecycle, queue
// activity, coordination outcomes, consolidation progress) to interested
// listeners, including the Transport Surface's SSE stream.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic identifies the category of an event.
type Topic string

const (
	TopicWorkerRegistered   Topic = "worker.registered"
	TopicWorkerUpdated      Topic = "worker.updated"
	TopicWorkerStatusChange Topic = "worker.status_changed"
	TopicWorkerTerminated   Topic = "worker.terminated"
	TopicWorkerPruned       Topic = "worker.pruned"
	TopicWorkerStdout       Topic = "worker.stdout"
	TopicWorkerStderr       Topic = "worker.stderr"
	TopicMessageEnqueued    Topic = "message.enqueued"
	TopicMessageDelivered   Topic = "message.delivered"
	TopicMessageRetrying    Topic = "message.retrying"
	TopicMessageFailed      Topic = "message.failed"
	TopicBarrierCreated     Topic = "barrier.created"
	TopicBarrierResolved    Topic = "barrier.resolved"
	TopicElectionCreated    Topic = "election.created"
	TopicElectionResolved   Topic = "election.resolved"
	TopicConsolidationPhase Topic = "consolidation.phase_changed"
)

// Event is a single notification published to the broker.
type Event struct {
	ID        string
	Topic     Topic
	Timestamp time.Time
	Message   string
	Data      map[string]string
}

// Subscriber is a channel that receives events matching its subscription.
type Subscriber chan *Event

// Broker fans published events out to every interested subscriber. Each
// subscriber may filter to a subset of topics; subscribing with no topics
// receives everything.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]map[Topic]bool
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]map[Topic]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription, optionally filtered to a set of
// topics, and returns the channel events will arrive on.
func (b *Broker) Subscribe(topics ...Topic) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	filter := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		filter[t] = true
	}
	b.subscribers[sub] = filter
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to every matching subscriber. Each event
// gets a fresh ID and the current time as its Timestamp.
func (b *Broker) Publish(topic Topic, message string, data map[string]string) {
	event := &Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Message:   message,
		Data:      data,
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if len(filter) > 0 && !filter[event.Topic] {
			continue
		}
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
