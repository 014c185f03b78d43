package bus

import (
	"context"
)

// DefaultQueueSize is the buffer used when NewQueue gets a non-positive size.
const DefaultQueueSize = 100

// Queue is the FIFO between the ingestion loop and the dispatch loop.
// It is the only structure shared by the two goroutines.
type Queue struct {
	ch chan Message
}

// NewQueue creates a queue backed by a buffered channel.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Publish enqueues msg, blocking while the buffer is full.
func (q *Queue) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPop returns the oldest message without blocking.
func (q *Queue) TryPop() (Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return Message{}, false
	}
}

// Pop blocks until a message is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the buffer size.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
