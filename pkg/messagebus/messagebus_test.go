package messagebus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/registry"
	"github.com/cuemby/orchestrator/pkg/types"
)

func newTestBus(t *testing.T, deliverer Deliverer) (*Bus, *registry.Registry) {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := registry.New(t.TempDir(), broker)
	require.NoError(t, reg.Start())
	t.Cleanup(reg.Stop)

	b := New(t.TempDir(), reg, broker, deliverer, 0, 0, 0)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)
	return b, reg
}

func TestSendAndDeliverSuccess(t *testing.T) {
	var delivered int32
	b, _ := newTestBus(t, DelivererFunc(func(*types.Message) (bool, error) {
		atomic.AddInt32(&delivered, 1)
		return true, nil
	}))

	msg, err := b.Send("ping", "orchestrator", "w1", "", "hello", types.PriorityNormal, 0)
	require.NoError(t, err)
	assert.Equal(t, types.MessageStatusPending, msg.Status)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&delivered) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueueOrderingPriorityThenFIFO(t *testing.T) {
	b, _ := newTestBus(t, DelivererFunc(func(*types.Message) (bool, error) {
		return false, nil // never delivers, so we can inspect ordering
	}))

	_, err := b.Send("a", "src", "w1", "", nil, types.PriorityLow, 0)
	require.NoError(t, err)
	_, err = b.Send("b", "src", "w1", "", nil, types.PriorityCritical, 0)
	require.NoError(t, err)
	_, err = b.Send("c", "src", "w1", "", nil, types.PriorityCritical, 0)
	require.NoError(t, err)

	q := b.queueFor(key("", "w1"))
	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.messages, 3)
	assert.Equal(t, "b", q.messages[0].Kind)
	assert.Equal(t, "c", q.messages[1].Kind)
	assert.Equal(t, "a", q.messages[2].Kind)
}

func TestRetryThenFail(t *testing.T) {
	b, _ := newTestBus(t, DelivererFunc(func(*types.Message) (bool, error) {
		return false, assertErr("delivery always fails")
	}))

	msg, err := b.Send("ping", "src", "w1", "", nil, types.PriorityNormal, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		q := b.queueFor(key("", "w1"))
		return q.len() == 0
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, 3, msg.RetryCount)
}

func TestQueueCapacityExceeded(t *testing.T) {
	b, _ := newTestBus(t, DelivererFunc(func(*types.Message) (bool, error) {
		return false, nil
	}))

	for i := 0; i < defaultQueueCapacity; i++ {
		_, err := b.Send("k", "src", "w1", "", nil, types.PriorityNormal, 0)
		require.NoError(t, err)
	}

	_, err := b.Send("overflow", "src", "w1", "", nil, types.PriorityNormal, 0)
	assert.ErrorIs(t, err, ErrQueueFull)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
