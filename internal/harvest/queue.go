// Package harvest provides the concurrency primitives behind a harvest
// run: a bounded in-memory queue, a dynamically growable task pool and a
// cancellable sleep used for retry backoff.
package harvest

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrItemTooLarge is returned by Put when a single item exceeds the
// queue's memory ceiling. This is a configuration problem: the queue must
// never silently truncate or drop an item to make it fit.
var ErrItemTooLarge = errors.New("harvest: item exceeds queue memory ceiling")

// Item is anything that can travel through a MemQueue. Implementations
// report an estimate of their in-memory payload size so the queue can
// enforce its memory ceiling.
type Item interface {
	EstimatedBytes() int
}

// Sentinel is the completion marker a producer enqueues as its final
// action. It carries no payload and is consumed only by the drain loop's
// producer bookkeeping.
type Sentinel struct{}

// EstimatedBytes implements Item. A sentinel occupies a count slot but no
// tracked memory.
func (Sentinel) EstimatedBytes() int { return 0 }

// MemQueue is a FIFO queue bounded both by item count and by the
// cumulative estimated byte size of enqueued items. The byte bound keeps
// memory flat under bursty fan-out where thousands of individually cheap
// items would otherwise pile up. Put blocks while either bound is
// exhausted; Get blocks while the queue is empty.
type MemQueue struct {
	items  chan Item
	mem    *semaphore.Weighted
	maxMem int64
}

// NewMemQueue creates a queue holding at most maxSize items totalling at
// most maxMemBytes estimated bytes.
func NewMemQueue(maxSize int, maxMemBytes int64) *MemQueue {
	if maxSize <= 0 {
		panic(fmt.Sprintf("harvest: invalid queue size %d", maxSize))
	}
	if maxMemBytes <= 0 {
		panic(fmt.Sprintf("harvest: invalid queue memory ceiling %d", maxMemBytes))
	}
	return &MemQueue{
		items:  make(chan Item, maxSize),
		mem:    semaphore.NewWeighted(maxMemBytes),
		maxMem: maxMemBytes,
	}
}

// Put enqueues item, blocking until both a count slot and enough tracked
// memory are available, or ctx is cancelled. An item whose estimated size
// exceeds the memory ceiling outright is rejected with ErrItemTooLarge.
func (q *MemQueue) Put(ctx context.Context, item Item) error {
	size := int64(item.EstimatedBytes())
	if size > q.maxMem {
		return fmt.Errorf("%w: %d > %d", ErrItemTooLarge, size, q.maxMem)
	}

	if err := q.mem.Acquire(ctx, size); err != nil {
		return err
	}

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		q.mem.Release(size)
		return ctx.Err()
	}
}

// Get dequeues the oldest item, blocking until one is available or ctx is
// cancelled. The item's tracked memory is released on return.
func (q *MemQueue) Get(ctx context.Context) (Item, error) {
	select {
	case item := <-q.items:
		q.mem.Release(int64(item.EstimatedBytes()))
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of items currently queued.
func (q *MemQueue) Len() int {
	return len(q.items)
}
