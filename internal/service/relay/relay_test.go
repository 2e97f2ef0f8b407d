package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"goblin-core/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu        sync.Mutex
	published []string // topic
	fail      bool
}

func (f *fakeProducer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.published = append(f.published, topic)
	return nil
}

func enqueue(t *testing.T, st *store.MemStore, topic string) {
	t.Helper()
	err := st.Atomic(context.Background(), []string{"u1"}, func(tx store.Tx) error {
		return tx.Outbox(topic, "u1", map[string]string{"x": "y"})
	})
	require.NoError(t, err)
}

func TestDrainPublishesAndMarksSent(t *testing.T) {
	st := store.NewMemStore(time.Second)
	producer := &fakeProducer{}
	svc := New(st, producer)
	ctx := context.Background()

	enqueue(t, st, "topic-a")
	enqueue(t, st, "topic-b")

	svc.Drain(ctx)

	assert.Equal(t, []string{"topic-a", "topic-b"}, producer.published)
	pending, err := st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// 投递失败的消息留在 PENDING, 下个周期重发。
func TestDrainKeepsFailedPending(t *testing.T) {
	st := store.NewMemStore(time.Second)
	producer := &fakeProducer{fail: true}
	svc := New(st, producer)
	ctx := context.Background()

	enqueue(t, st, "topic-a")
	svc.Drain(ctx)

	pending, err := st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// broker 恢复
	producer.fail = false
	svc.Drain(ctx)
	pending, err = st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainEmptyOutboxNoop(t *testing.T) {
	st := store.NewMemStore(time.Second)
	producer := &fakeProducer{}
	svc := New(st, producer)

	svc.Drain(context.Background())
	assert.Empty(t, producer.published)
}
