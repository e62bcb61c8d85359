// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HandleState is the lifecycle state of a Handle. Transitions are
// one-way: None -> Canceled or None -> Expired, plus Expired -> Canceled
// when a task returns an error after observing the run context's
// cancellation. A handle never returns to None.
type HandleState int32

const (
	// StateNone is the initial state of a live, not-yet-fired handle.
	StateNone HandleState = iota
	// StateCanceled means Cancel won the race to terminate the handle, or
	// its task returned an error after observing the run context's
	// cancellation.
	StateCanceled
	// StateExpired means the handle fired (for a recurring handle, its
	// final firing) without being canceled first.
	StateExpired
)

func (s HandleState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCanceled:
		return "canceled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Handle is the timeout handle: one entity per scheduled task. Mutable
// fields are atomics with monotonic transition rules; only the wheel's
// driver mutates remainingRounds and deadline, while state and
// recurringRounds may be mutated by either the driver or a canceler.
//
// A live Handle is intrusively linked into exactly one bucket queue at a
// time (see bucket.go); next/prev are only ever touched while holding
// that bucket's lock.
type Handle struct {
	id uint64

	task Task

	deadline        atomic.Int64 // nanoseconds since the clock reference
	interval        atomic.Int64 // original requested delay, for recurrences
	remainingRounds atomic.Int64
	recurringRounds atomic.Int64
	state           atomic.Int32

	next, prev *Handle // intrusive queue links; guarded by the owning bucket's mutex

	releaseOnce sync.Once
	onRelease   func()
}

// newHandle constructs a Handle in StateNone, owned by no bucket yet.
func newHandle(id uint64, task Task, deadline, interval time.Duration, recurring int) *Handle {
	h := &Handle{id: id, task: task}
	h.deadline.Store(int64(deadline))
	h.interval.Store(int64(interval))
	h.recurringRounds.Store(int64(recurring))
	return h
}

// ID returns the handle's submission-order-increasing identifier.
func (h *Handle) ID() uint64 { return h.id }

// Task returns the user task this handle was submitted with.
func (h *Handle) Task() Task { return h.task }

// Deadline returns the handle's current deadline, as an elapsed duration
// since the timer's clock reference.
func (h *Handle) Deadline() time.Duration {
	return time.Duration(h.deadline.Load())
}

// Interval returns the originally requested delay (or, for a recurring
// handle that has fired at least once, the delay used for its next
// recurrence).
func (h *Handle) Interval() time.Duration {
	return time.Duration(h.interval.Load())
}

// RemainingRounds returns the number of full wheel revolutions this
// handle must still wait through before its bucket will expire it.
func (h *Handle) RemainingRounds() int64 {
	return h.remainingRounds.Load()
}

// RecurringRounds returns the number of additional executions scheduled
// after the next one.
func (h *Handle) RecurringRounds() int64 {
	return h.recurringRounds.Load()
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// Expired reports whether the handle has fired (terminally, for
// non-recurring handles; after its last firing, for recurring ones).
func (h *Handle) Expired() bool {
	return h.State() == StateExpired
}

// Canceled reports whether the handle is in StateCanceled.
func (h *Handle) Canceled() bool {
	return h.State() == StateCanceled
}

// Cancel atomically transitions the handle from None to Canceled. It
// returns true on the first successful transition, false if the handle
// was already terminal (either Canceled or Expired). Cancel has no
// effect on an already-running task: the cancellation is cooperative,
// observed through the ctx passed to Task.Run.
//
// A successful Cancel releases the handle's admission-control slot
// immediately, same as a final expiration would.
func (h *Handle) Cancel() bool {
	ok := h.state.CompareAndSwap(int32(StateNone), int32(StateCanceled))
	if ok {
		h.release()
	}
	return ok
}

// tryExpire attempts the None -> Expired transition. Only the driver
// calls this, and only for a handle whose firing will be its last
// (recurringRounds == 0). Returns true if this call won the transition.
func (h *Handle) tryExpire() bool {
	return h.state.CompareAndSwap(int32(StateNone), int32(StateExpired))
}

// isTerminal reports whether the handle has already left StateNone.
func (h *Handle) isTerminal() bool {
	return HandleState(h.state.Load()) != StateNone
}

// release fires the admission-control completion hook exactly once,
// however many times a recurring handle's expire is subsequently called.
func (h *Handle) release() {
	h.releaseOnce.Do(func() {
		if h.onRelease != nil {
			h.onRelease()
		}
	})
}

// expire is invoked by the bucket when this entry is dispatched. It is
// idempotent against an already-terminal handle, runs the user task, and
// reports whether the wheel should re-add it for another recurrence.
//
// Marking a non-recurring handle Expired before running its task (rather
// than after) ensures a concurrent Cancel issued during execution returns
// false and never double-releases the pending-count slot.
func (h *Handle) expire(ctx context.Context, onUnhandled func(*Handle, error)) (rearm bool) {
	if h.isTerminal() {
		return false
	}

	recurring := h.recurringRounds.Load() > 0
	if !recurring {
		if !h.tryExpire() {
			return false // lost the race to a concurrent Cancel
		}
		h.release()
	}

	err := h.task.Run(ctx, h)
	if err != nil {
		if ctx.Err() != nil {
			// cooperative cancellation: task observed the run cancel token
			if h.state.CompareAndSwap(int32(StateNone), int32(StateCanceled)) {
				h.release()
			} else {
				// a non-recurring handle was marked Expired (and released)
				// before its task ran
				h.state.CompareAndSwap(int32(StateExpired), int32(StateCanceled))
			}
		} else if onUnhandled != nil {
			onUnhandled(h, err)
		}
	}

	return recurring && !h.Canceled()
}
