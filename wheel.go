// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"context"
	"time"
)

// wheel is the ring of buckets and the single logical driver that
// advances it. It has no public surface of its own; Timer is the facade.
type wheel struct {
	cfg     Config
	clock   *clock
	buckets []*bucket
	mask    uint64

	tick int64 // cfg.TickInterval in nanoseconds

	onUnhandled func(*Handle, error)

	lastObserved time.Duration // clock.now() as of the previous tick, for backward-clock detection
}

func newWheel(cfg Config, clk *clock, onUnhandled func(*Handle, error)) *wheel {
	buckets := make([]*bucket, cfg.BucketCount)
	for i := range buckets {
		buckets[i] = newBucket()
	}
	return &wheel{
		cfg:         cfg,
		clock:       clk,
		buckets:     buckets,
		mask:        cfg.mask(),
		tick:        int64(cfg.TickInterval),
		onUnhandled: onUnhandled,
	}
}

// position computes (remainingRounds, bucketIndex) for a deadline D
// (elapsed duration since clock reference, already millisecond-aligned)
// given the driver is currently on tick k. This is the formula shared by
// insertion and recurrence:
//
//	calc          = D / tick
//	remaining     = max(0, (calc-k) / bucketCount)
//	bucketIndex   = max(calc, k) & mask
//
// The max(calc,k) guard ensures a deadline that has already passed still
// lands in the currently-processed bucket rather than in the past.
func (w *wheel) position(deadline time.Duration, k int64) (remaining int64, idx uint64) {
	calc := int64(deadline) / w.tick
	if calc > k {
		remaining = (calc - k) / int64(w.cfg.BucketCount)
	}
	pos := calc
	if k > pos {
		pos = k
	}
	idx = uint64(pos) & w.mask
	return remaining, idx
}

// insert places h into its computed bucket for the driver's current
// tick k, (re)computing remainingRounds from h's current deadline.
func (w *wheel) insert(h *Handle, k int64) {
	remaining, idx := w.position(h.Deadline(), k)
	h.remainingRounds.Store(remaining)
	w.buckets[idx].add(h)
}

// recurrence is invoked (outside any bucket lock) after a recurring
// handle finishes executing and reports it should run again:
//
//  1. deadline += interval
//  2. recompute (remainingRounds, bucketIndex) from the current tick k
//  3. decrement recurringRounds
//  4. re-add to the selected bucket
//
// If this decrement makes recurringRounds hit zero, this was the
// handle's last scheduled recurrence: the pending-count slot is released
// now, since tryExpire() in Handle.expire only fires that release for
// handles that were already non-recurring going in.
func (w *wheel) recurrence(h *Handle, k int64) {
	newDeadline := h.Deadline() + h.Interval()
	h.deadline.Store(int64(newDeadline))

	remaining, idx := w.position(newDeadline, k)
	h.remainingRounds.Store(remaining)

	if h.recurringRounds.Add(-1) == 0 {
		h.release()
	}

	w.buckets[idx].add(h)
}

// tickOnce processes bucket k&mask for tick k: expire its due entries
// (bounded parallel fan-out), then age its pending entries. Aging runs
// strictly after expiration completes, so any entry that transitions
// from pending to due this tick fires on the next revolution, not this
// one, the classical hashed-wheel lazy round-counting order.
func (w *wheel) tickOnce(ctx context.Context, k int64) {
	now := w.clock.now()
	w.checkClock(now, k)
	b := w.buckets[uint64(k)&w.mask]
	b.expireDue(ctx, now, w.cfg.MaxParallelExpirations, w.onUnhandled, func(h *Handle) {
		w.recurrence(h, k)
	})
	b.age(ctx)
}

// checkClock logs anything about this tick's timing that a healthy driver
// shouldn't see: the clock reporting less elapsed time than it did on a
// previous tick, or this tick landing so late that one or more ticks were
// effectively skipped.
func (w *wheel) checkClock(now time.Duration, k int64) {
	if w.lastObserved != 0 && now < w.lastObserved {
		if WARNon() {
			WARN("wheel: clock went backward by %s at tick %d\n", w.lastObserved-now, k)
		}
	}
	w.lastObserved = now

	target := time.Duration((k + 1) * w.tick) // tick k runs once (k+1)*tick has elapsed
	if lag := now - target; lag > time.Duration(w.tick) {
		if DBGon() {
			DBG("wheel: tick %d ran %s behind schedule, %d tick(s) lost\n",
				k, lag, int64(lag)/w.tick)
		}
	}
}

// run is the main driver loop, ticks 0, 1, 2, .... It sleeps until each
// tick's target deadline, cooperatively honoring ctx, and never begins
// tick k+1 before tick k's expire+age pair has returned.
func (w *wheel) run(ctx context.Context) {
	var k int64
	for {
		targetNanos := (k + 1) * w.tick
		if !w.sleepUntil(ctx, time.Duration(targetNanos)) {
			return
		}
		w.tickOnce(ctx, k)
		k++
	}
}

// sleepUntil blocks until the clock has elapsed at least target since the
// reference instant, rounded up to the next whole millisecond, or until
// ctx is canceled. Returns false if ctx fired first.
func (w *wheel) sleepUntil(ctx context.Context, target time.Duration) bool {
	for {
		remaining := roundUpMillis(target - w.clock.now())
		if remaining <= 0 {
			return true
		}
		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// unprocessed gathers every handle still queued across all buckets,
// pending then due, bucket order 0..N-1, the order Timer.Stop returns.
func (w *wheel) unprocessed() []*Handle {
	var out []*Handle
	for _, b := range w.buckets {
		out = append(out, b.unprocessed()...)
	}
	return out
}
