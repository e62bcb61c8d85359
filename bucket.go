// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// queue is a FIFO intrusive doubly-linked list of *Handle with a
// sentinel head node, so push/pop never special-case the empty list.
// Callers hold the owning bucket's mutex for every operation.
type queue struct {
	head *Handle // sentinel; only its next/prev fields are meaningful
}

func newQueue() queue {
	h := &Handle{}
	h.next, h.prev = h, h
	return queue{head: h}
}

func (q *queue) empty() bool {
	return q.head.next == q.head
}

func (q *queue) pushBack(h *Handle) {
	h.prev = q.head.prev
	h.next = q.head
	h.prev.next = h
	q.head.prev = h
}

func (q *queue) popFront() *Handle {
	if q.empty() {
		return nil
	}
	h := q.head.next
	q.remove(h)
	return h
}

func (q *queue) remove(h *Handle) {
	h.prev.next = h.next
	h.next.prev = h.prev
	h.next, h.prev = nil, nil
}

func (q *queue) len() int {
	n := 0
	for v := q.head.next; v != q.head; v = v.next {
		n++
	}
	return n
}

func (q *queue) forEach(f func(*Handle)) {
	for v := q.head.next; v != q.head; v = v.next {
		f(v)
	}
}

// bucket is one of the wheel's N slots: two FIFO queues (due, pending)
// guarded by a single mutex. Lock scope is intentionally small, list
// splicing only, so producers (submitters, the recurrence callback) and
// the single consumer (the driver) never block each other for long.
type bucket struct {
	mu      sync.Mutex
	due     queue
	pending queue
}

func newBucket() *bucket {
	return &bucket{due: newQueue(), pending: newQueue()}
}

// add enqueues h to due if it has no rounds left to wait through, else to
// pending. Safe under concurrent producers.
func (b *bucket) add(h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.remainingRounds.Load() <= 0 {
		b.due.pushBack(h)
	} else {
		b.pending.pushBack(h)
	}
}

// expireDue drains the due queue, skipping canceled entries and entries
// whose deadline somehow still lies in the future (a defensive guard
// against re-insertion races), and dispatches the rest to a bounded
// parallel pool of width maxParallel. It awaits every launched execution
// before returning. recur is invoked (outside the bucket's lock) for any
// handle that reports it should be re-added for another recurrence.
func (b *bucket) expireDue(ctx context.Context, now time.Duration, maxParallel int, onUnhandled func(*Handle, error), recur func(*Handle)) {
	sem := semaphore.NewWeighted(int64(maxParallel)) // fresh per tick, bounds this pass's fan-out only
	g, gctx := errgroup.WithContext(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return
		default:
		}

		b.mu.Lock()
		h := b.due.popFront()
		b.mu.Unlock()
		if h == nil {
			break
		}
		if h.Canceled() || h.Deadline() > now {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// cancel observed while waiting for a free slot: put h back so
			// it is still reported by unprocessed()
			b.mu.Lock()
			b.due.pushBack(h)
			b.mu.Unlock()
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if h.expire(gctx, onUnhandled) {
				recur(h)
			}
			return nil
		})
	}
	_ = g.Wait() // Task.Run errors are handled inside expire, never propagated here
}

// age snapshots the pending queue's length L, then dequeues up to L
// entries: canceled ones are dropped, the rest have remainingRounds
// decremented and move to due once it reaches zero, else are re-enqueued
// to pending. Bounding by the initial snapshot prevents re-processing
// entries inserted into pending during this very pass by a concurrent
// submitter. (Recurrence adds come from expireDue, which has returned
// before age starts.)
func (b *bucket) age(ctx context.Context) {
	b.mu.Lock()
	l := b.pending.len()
	b.mu.Unlock()

	for i := 0; i < l; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		h := b.pending.popFront()
		if h == nil {
			b.mu.Unlock()
			break
		}
		if h.Canceled() {
			b.mu.Unlock()
			continue
		}
		if h.remainingRounds.Add(-1) <= 0 {
			b.due.pushBack(h)
		} else {
			b.pending.pushBack(h)
		}
		b.mu.Unlock()
	}
}

// unprocessed yields every entry remaining in both queues, pending
// first, for Timer.Stop to gather.
func (b *bucket) unprocessed() []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Handle
	b.pending.forEach(func(h *Handle) { out = append(out, h) })
	b.due.forEach(func(h *Handle) { out = append(out, h) })
	return out
}
