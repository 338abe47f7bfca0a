// Package queue defines the contract for enqueuing and consuming
// activity events.
//
// Websocket readers and the sweep only ever enqueue; a single dispatcher
// consumes, which keeps all registry and store mutation on one logical
// thread.
package queue

import (
	"context"
	"sync"

	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/metrics"
)

const defaultCapacity = 4096

// Activity is the payload type flowing through the queue.
type Activity = model.Activity

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event. Returns false if the queue is full or closed;
	// the caller treats a drop as a lost best-effort signal.
	Enqueue(ctx context.Context, a Activity) bool

	// Dequeue returns a channel receiving events in arrival order. The
	// channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Activity

	// Len returns the current queue depth.
	Len(ctx context.Context) int

	// Close stops the queue. After closing, Enqueue returns false and the
	// dequeue channel drains then closes.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Activity
	capacity int

	mu     sync.RWMutex
	closed bool
}

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of buffered events.
func WithCapacity(n int) Option {
	return func(q *InMemoryQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// NewInMemoryQueue creates an in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Activity, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds an event to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, a Activity) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordEventDropped()
		return false
	}

	select {
	case q.events <- a:
		metrics.UpdateQueueSize(len(q.events))
		return true
	case <-ctx.Done():
		metrics.RecordEventDropped()
		return false
	default:
		metrics.RecordEventDropped()
		return false
	}
}

// Dequeue returns a channel that receives events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Activity {
	out := make(chan Activity)
	go func() {
		defer close(out)
		for a := range q.events {
			select {
			case out <- a:
				metrics.UpdateQueueSize(len(q.events))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	return len(q.events)
}

// Close shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}
