// Package queue provides the mutex-guarded deque used to hand packets from
// the network goroutines to the application goroutine.
package queue

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Queue is an ordered, goroutine-safe double-ended queue. Every method is
// atomic under one internal lock. Consumers may poll (Empty / PopFront) or
// sleep until work arrives (Wait / Ready).
type Queue[T any] struct {
	mu    sync.Mutex
	items deque.Deque[T]
	ready chan struct{} // closed while the queue is non-empty
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{})}
}

// PushBack adds an item to the back of the queue.
func (q *Queue[T]) PushBack(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(item)
	q.markReady()
}

// PushFront adds an item to the front of the queue.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushFront(item)
	q.markReady()
}

// PopFront removes and returns the item at the front.
// ok is false if the queue was empty.
func (q *Queue[T]) PopFront() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return item, false
	}
	item = q.items.PopFront()
	q.markDrained()
	return item, true
}

// PopBack removes and returns the item at the back.
// ok is false if the queue was empty.
func (q *Queue[T]) PopBack() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return item, false
	}
	item = q.items.PopBack()
	q.markDrained()
	return item, true
}

// Front returns the item at the front without removing it.
func (q *Queue[T]) Front() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return item, false
	}
	return q.items.Front(), true
}

// Back returns the item at the back without removing it.
func (q *Queue[T]) Back() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return item, false
	}
	return q.items.Back(), true
}

// Empty reports whether the queue has no items.
func (q *Queue[T]) Empty() bool {
	return q.Count() == 0
}

// Count returns the number of queued items.
func (q *Queue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear removes every item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Clear()
	q.markDrained()
}

// Ready returns a channel that is closed while the queue holds at least one
// item. The channel is replaced once the queue drains, so callers must fetch
// it again after every wake-up.
func (q *Queue[T]) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

// Wait blocks until the queue is non-empty or ctx is done. With several
// consumers another one may win the race, so a following PopFront can
// still report ok == false.
func (q *Queue[T]) Wait(ctx context.Context) error {
	select {
	case <-q.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markReady and markDrained keep ready in sync with the item count.
// Callers hold q.mu.
func (q *Queue[T]) markReady() {
	if q.items.Len() == 1 {
		close(q.ready)
	}
}

func (q *Queue[T]) markDrained() {
	if q.items.Len() == 0 && isClosed(q.ready) {
		q.ready = make(chan struct{})
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
