package component

import (
	"context"

	"github.com/flowbroker/connector/internal/message"
)

// DefaultQueueDepth is the bounded input queue depth used when a component
// does not override it.
const DefaultQueueDepth = 5

// Queue is the bounded FIFO of Events a component group's instances share.
// Enqueue blocks until space frees up or ctx is done, giving backpressure
// without ever silently dropping a message.
// Queue satisfies timersvc.Enqueuer and cache.Owner, so the timer manager
// and cache service can deliver Timer/CacheExpiry events directly into it.
type Queue struct {
	ch chan message.Event
}

// NewQueue creates a Queue with the given bounded depth.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{ch: make(chan message.Event, depth)}
}

// Enqueue blocks until the queue has room or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, evt message.Event) error {
	select {
	case q.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth reports the number of events currently buffered, for metrics.
func (q *Queue) Depth() int { return len(q.ch) }

// Drain discards every buffered event without processing it, used by
// Cleanup during shutdown.
func (q *Queue) Drain() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
