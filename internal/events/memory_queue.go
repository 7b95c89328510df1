package events

import (
	"context"
	"sync"
	"time"

	"github.com/clsa/birch/internal/core"
)

// MemoryQueue implements core.ChangeQueue with a bounded channel. It is
// used in tests and when nothing outside the process consumes changes.
type MemoryQueue struct {
	queue  chan *core.Change
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding at most bufferSize changes.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryQueue{
		queue: make(chan *core.Change, bufferSize),
	}
}

// Enqueue adds a change without blocking. It returns ErrQueueFull when
// the buffer is exhausted.
func (q *MemoryQueue) Enqueue(ctx context.Context, change *core.Change) error {
	if err := validate(change); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	select {
	case q.queue <- change:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue returns up to batchSize changes in FIFO order.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.Change, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	changes := make([]*core.Change, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		select {
		case change, ok := <-q.queue:
			if !ok {
				return changes, nil
			}
			changes = append(changes, change)
		case <-ctx.Done():
			return changes, ctx.Err()
		default:
			return changes, nil
		}
	}
	return changes, nil
}

// Size returns the current number of queued changes.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close stops further enqueuing. Queued changes can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
