// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations.
// Close never closes the item channel, so a late Enqueue cannot panic.
type Queue struct {
	ch        chan crawler.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan crawler.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an item, blocking while the queue is full until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case <-q.done:
		return crawler.ErrQueueClosed
	default:
	}
	select {
	case <-q.done:
		return crawler.ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation and Close.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-q.done:
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	default:
	}
	select {
	case <-q.done:
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	}
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Buffered items are abandoned.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
