package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue(t *testing.T) {
	q := NewQueue(0)
	assert.NotNil(t, q)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, DefaultQueueSize, q.Cap())
}

func TestQueue_PublishTryPop(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Publish(context.Background(), Message{UpdateID: 1, Text: "hello"}))
	assert.Equal(t, 1, q.Len())

	msg, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Text)

	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestQueue_PreservesOrder(t *testing.T) {
	q := NewQueue(10)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Publish(context.Background(), Message{UpdateID: i}))
	}
	for i := int64(1); i <= 5; i++ {
		msg, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, msg.UpdateID)
	}
}

func TestQueue_PublishBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Publish(context.Background(), Message{UpdateID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, Message{UpdateID: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PopWaitsForPublisher(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Publish(context.Background(), Message{UpdateID: 7})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.UpdateID)
}

func TestQueue_PopCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_ConcurrentPublishers(t *testing.T) {
	q := NewQueue(200)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 10; j++ {
				_ = q.Publish(context.Background(), Message{UpdateID: base*10 + j})
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 100, q.Len())
}
