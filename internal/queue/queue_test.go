package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOAtBothEnds(t *testing.T) {
	q := New[int]()
	q.PushBack(2)
	q.PushBack(3)
	q.PushFront(1)

	assert.Equal(t, 3, q.Count())
	front, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, 1, front)
	back, ok := q.Back()
	require.True(t, ok)
	assert.Equal(t, 3, back)

	v, ok := q.PopBack()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	v, ok = q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.True(t, q.Empty())
}

func TestEmptyQueue(t *testing.T) {
	q := New[string]()

	_, ok := q.PopFront()
	assert.False(t, ok)
	_, ok = q.PopBack()
	assert.False(t, ok)
	_, ok = q.Front()
	assert.False(t, ok)
	_, ok = q.Back()
	assert.False(t, ok)
	assert.Zero(t, q.Count())
}

func TestClear(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.PushBack(i)
	}
	q.Clear()
	assert.True(t, q.Empty())

	select {
	case <-q.Ready():
		t.Fatal("Ready must not fire on a cleared queue")
	default:
	}
}

func TestWaitWakesOnPush(t *testing.T) {
	q := New[int]()

	done := make(chan error, 1)
	go func() {
		done <- q.Wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Wait returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.PushBack(7)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after PushBack")
	}

	v, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestWaitHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitReturnsImmediatelyWhenNonEmpty(t *testing.T) {
	q := New[int]()
	q.PushFront(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A non-empty queue is ready even with a cancelled context; either
	// outcome of the select is acceptable, but it must not block.
	_ = q.Wait(ctx)
	assert.Equal(t, 1, q.Count())
}

// TestConcurrentProducersConsumers checks that T producers pushing M items
// each and several consumers (some blocking, some polling) pop exactly T*M
// distinct items and leave the queue empty.
func TestConcurrentProducersConsumers(t *testing.T) {
	const (
		producers = 8
		perThread = 2000
		consumers = 6
		total     = producers * perThread
	)

	q := New[int]()
	var popped atomic.Int64
	seen := make([]atomic.Bool, total)
	var dup atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		blocking := c%2 == 0
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for popped.Load() < total {
				if blocking {
					if err := q.Wait(ctx); err != nil {
						return
					}
				}
				v, ok := q.PopFront()
				if !ok {
					continue
				}
				if seen[v].Swap(true) {
					dup.Add(1)
				}
				if popped.Add(1) == total {
					cancel()
				}
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perThread; i++ {
				q.PushBack(p*perThread + i)
			}
		}(p)
	}
	pwg.Wait()

	finished := make(chan struct{})
	go func() {
		cwg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatalf("consumers stuck after popping %d of %d", popped.Load(), total)
	}

	assert.Equal(t, int64(total), popped.Load())
	assert.Zero(t, dup.Load())
	assert.True(t, q.Empty())
	for i := range seen {
		if !seen[i].Load() {
			t.Fatalf("item %d never popped", i)
		}
	}
}
