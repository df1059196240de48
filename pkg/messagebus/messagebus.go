// Package messagebus routes durable, at-least-once messages through
// per-(worker, worktree) bounded priority queues, persisting each message
// to its own file until it reaches a terminal state.
package messagebus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/registry"
	"github.com/cuemby/orchestrator/pkg/types"
)

const (
	defaultQueueCapacity  = 1000
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 1 * time.Second
)

// ErrQueueFull is returned by Send when the target queue is at capacity.
var ErrQueueFull = fmt.Errorf("messagebus: queue full")

// Deliverer attempts to deliver a message and reports whether it
// succeeded. The default implementation forwards to the Worker
// Supervisor; out-of-band callers may instead call MarkDelivered/
// MarkFailed asynchronously.
type Deliverer interface {
	Deliver(msg *types.Message) (bool, error)
}

// DelivererFunc adapts a plain function to the Deliverer interface.
type DelivererFunc func(msg *types.Message) (bool, error)

func (f DelivererFunc) Deliver(msg *types.Message) (bool, error) { return f(msg) }

type queue struct {
	mu       sync.Mutex
	messages []*types.Message
	draining bool
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *queue) insertSorted(m *types.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, m)
	sort.SliceStable(q.messages, func(i, j int) bool {
		return q.messages[i].Priority < q.messages[j].Priority
	})
}

func (q *queue) peek() *types.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	return q.messages[0]
}

func (q *queue) popHead() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) > 0 {
		q.messages = q.messages[1:]
	}
}

// Bus is the Message Bus: a keyed set of per-(worker, worktree) priority
// queues, each drained by persistence-backed retry logic.
type Bus struct {
	reg       *registry.Registry
	broker    *events.Broker
	deliverer Deliverer
	dir       string

	queueCapacity  int
	maxRetries     int
	retryBaseDelay time.Duration

	mu     sync.Mutex
	queues map[string]*queue

	stopCh chan struct{}
}

// New creates a Bus persisting message files under dataDir/messages, with
// a per-queue capacity, retry ceiling, and exponential-backoff base delay.
// A zero queueCapacity/maxRetries/retryBaseDelay selects the package
// default (1000 / 3 / 1s).
func New(dataDir string, reg *registry.Registry, broker *events.Broker, deliverer Deliverer, queueCapacity int, maxRetries int, retryBaseDelay time.Duration) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = defaultRetryBaseDelay
	}
	return &Bus{
		reg:            reg,
		broker:         broker,
		deliverer:      deliverer,
		dir:            filepath.Join(dataDir, "messages"),
		queueCapacity:  queueCapacity,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		queues:         make(map[string]*queue),
		stopCh:         make(chan struct{}),
	}
}

func key(worktree, target string) string {
	if worktree == "" {
		worktree = "default"
	}
	return worktree + "|" + target
}

// Start rehydrates any non-terminal messages from disk into their queues.
func (b *Bus) Start() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create message dir: %w", err)
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, e.Name()))
		if err != nil {
			continue
		}
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Status == types.MessageStatusDelivered || msg.Status == types.MessageStatusFailed {
			_ = os.Remove(filepath.Join(b.dir, e.Name()))
			continue
		}
		q := b.queueFor(key(msg.Worktree, msg.Target))
		m := msg
		q.insertSorted(&m)
	}
	return nil
}

// Stop signals the bus to stop; in-flight retry timers still fire but take
// no further action once delivered/failed files are flushed.
func (b *Bus) Stop() {
	close(b.stopCh)
}

func (b *Bus) queueFor(k string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[k]
	if !ok {
		q = &queue{}
		b.queues[k] = q
	}
	return q
}

// Send creates a message and enqueues it for delivery, persisting it
// before the queued event is emitted.
func (b *Bus) Send(kind, source, target, worktree string, payload any, priority types.Priority, timeout time.Duration) (*types.Message, error) {
	k := key(worktree, target)
	q := b.queueFor(k)
	if q.len() >= b.queueCapacity {
		return nil, ErrQueueFull
	}

	msg := &types.Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		Target:    target,
		Worktree:  worktree,
		Payload:   payload,
		Priority:  priority,
		Status:    types.MessageStatusPending,
		CreatedAt: time.Now(),
		Timeout:   timeout,
	}

	if err := b.persist(msg); err != nil {
		return nil, fmt.Errorf("persistence_failure: %w", err)
	}

	q.insertSorted(msg)
	b.publish(events.TopicMessageEnqueued, msg)
	metrics.QueueDepth.WithLabelValues(target).Set(float64(q.len()))

	go b.drain(k, q)

	return msg, nil
}

// Broadcast sends payload to every active worker (optionally scoped to a
// worktree), excluding ids in exclude. Returns the messages successfully
// queued.
func (b *Bus) Broadcast(kind, source, worktree string, payload any, priority types.Priority, exclude map[string]bool) []*types.Message {
	var targets []types.Worker
	if worktree != "" {
		targets = b.reg.ListByWorktreePrefix(worktree)
	} else {
		targets = b.reg.ListByStatus(types.WorkerStatusActive)
	}

	var sent []*types.Message
	for _, w := range targets {
		if exclude[w.ID] {
			continue
		}
		msg, err := b.Send(kind, source, w.ID, worktree, payload, priority, 0)
		if err != nil {
			continue
		}
		sent = append(sent, msg)
	}
	return sent
}

func (b *Bus) drain(k string, q *queue) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		head := q.peek()
		if head == nil {
			return
		}

		if head.Status == types.MessageStatusDelivered || head.Status == types.MessageStatusFailed {
			q.popHead()
			continue
		}

		ok, err := b.deliverer.Deliver(head)
		if ok {
			head.Status = types.MessageStatusDelivered
			head.DeliveredAt = time.Now()
			_ = b.removeFile(head.ID)
			b.publish(events.TopicMessageDelivered, head)
			metrics.MessagesDeliveredTotal.Inc()
			q.popHead()
			continue
		}

		if err != nil {
			log.WithMessageID(head.ID).Error().Err(err).Int("retry_count", head.RetryCount).Msg("delivery attempt failed")
		}

		if head.RetryCount >= b.maxRetries {
			head.Status = types.MessageStatusFailed
			head.FailedAt = time.Now()
			head.Error = "max retries"
			_ = b.removeFile(head.ID)
			b.publish(events.TopicMessageFailed, head)
			metrics.MessagesFailedTotal.Inc()
			q.popHead()
			continue
		}

		head.RetryCount++
		head.Status = types.MessageStatusRetrying
		_ = b.persist(head)
		b.publish(events.TopicMessageRetrying, head)
		metrics.MessageRetriesTotal.Inc()

		delay := b.retryBaseDelay * time.Duration(1<<uint(head.RetryCount-1))
		time.AfterFunc(delay, func() {
			head.Status = types.MessageStatusPending
			b.drain(k, q)
		})
		return
	}
}

// MarkDelivered allows an asynchronous delivery subscriber to report
// success out of band.
func (b *Bus) MarkDelivered(msg *types.Message) {
	msg.Status = types.MessageStatusDelivered
	msg.DeliveredAt = time.Now()
	_ = b.removeFile(msg.ID)
	b.publish(events.TopicMessageDelivered, msg)
}

// MarkFailed allows an asynchronous delivery subscriber to report failure
// out of band.
func (b *Bus) MarkFailed(msg *types.Message, reason string) {
	msg.Status = types.MessageStatusFailed
	msg.FailedAt = time.Now()
	msg.Error = reason
	_ = b.removeFile(msg.ID)
	b.publish(events.TopicMessageFailed, msg)
}

// Stats returns message counts by status and kind, optionally scoped to a
// single worker.
func (b *Bus) Stats(workerID string) map[string]int {
	b.mu.Lock()
	queues := make(map[string]*queue, len(b.queues))
	for k, q := range b.queues {
		queues[k] = q
	}
	b.mu.Unlock()

	counts := make(map[string]int)
	for k, q := range queues {
		if workerID != "" && !hasTarget(k, workerID) {
			continue
		}
		q.mu.Lock()
		for _, m := range q.messages {
			counts[string(m.Status)]++
			counts["kind:"+m.Kind]++
		}
		q.mu.Unlock()
	}
	return counts
}

func hasTarget(k, workerID string) bool {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '|' {
			return k[i+1:] == workerID
		}
	}
	return false
}

func (b *Bus) persist(msg *types.Message) error {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	path := filepath.Join(b.dir, msg.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write message temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (b *Bus) removeFile(id string) error {
	err := os.Remove(filepath.Join(b.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *Bus) publish(topic events.Topic, msg *types.Message) {
	if b.broker == nil {
		return
	}
	b.broker.Publish(topic, string(msg.Kind), map[string]string{
		"message_id": msg.ID,
		"target":     msg.Target,
		"status":     string(msg.Status),
	})
}
