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

// timerState is the lifecycle of a Timer: None -> Started -> Shutdown.
// Like HandleState, transitions are one-way and CAS-guarded.
type timerState int32

const (
	timerNone timerState = iota
	timerStarted
	timerShutdown
)

// Timer is a hashed wheel timeout scheduler: tasks are submitted with a
// delay (and, optionally, a recurrence count), and dispatched from a
// single internal driver goroutine once their deadline elapses.
//
// A Timer must be started with Run before any submitted task can fire,
// and stopped with Stop to release its driver goroutine. It is safe for
// concurrent use by multiple goroutines.
type Timer struct {
	cfg   Config
	clock *clock
	wheel *wheel

	state timerState32 // wraps atomic.Int32 for the timerState enum

	nextID  atomic.Uint64
	pending atomic.Int64 // outstanding (not yet released) timeouts

	unhandledMu sync.RWMutex
	unhandled   func(*Handle, error)

	cancel context.CancelFunc
	done   chan struct{}
}

// timerState32 is a tiny named wrapper so Timer.state reads naturally at
// call sites (h.state.Load() elsewhere in the package already established
// this convention for Handle).
type timerState32 struct{ v atomic.Int32 }

func (s *timerState32) Load() timerState { return timerState(s.v.Load()) }
func (s *timerState32) CompareAndSwap(old, next timerState) bool {
	return s.v.CompareAndSwap(int32(old), int32(next))
}

// NewTimer builds a Timer from cfg. The returned Timer is not yet running;
// call Run to start its driver goroutine.
func NewTimer(cfg Config) *Timer {
	t := &Timer{
		cfg:   cfg,
		clock: newClock(),
	}
	t.unhandled = t.logUnhandled
	t.wheel = newWheel(cfg, t.clock, t.reportUnhandled)
	return t
}

// SetUnhandledExceptionHandler installs the callback invoked when a
// Task.Run returns a non-nil error that was not a cooperative
// cancellation (i.e. ctx.Err() was nil on return). The default handler
// logs the error via the package's ERR logger. fn may be nil to disable
// reporting.
func (t *Timer) SetUnhandledExceptionHandler(fn func(h *Handle, err error)) {
	t.unhandledMu.Lock()
	defer t.unhandledMu.Unlock()
	if fn == nil {
		t.unhandled = func(*Handle, error) {}
		return
	}
	t.unhandled = fn
}

func (t *Timer) reportUnhandled(h *Handle, err error) {
	t.unhandledMu.RLock()
	fn := t.unhandled
	t.unhandledMu.RUnlock()
	fn(h, err)
}

func (t *Timer) logUnhandled(h *Handle, err error) {
	if ERRon() {
		ERR("hwtimer: task %d returned unhandled error: %v\n", h.ID(), err)
	}
}

// Run starts the Timer's driver goroutine. A second call while already
// started is a no-op and returns nil; a call after Stop returns
// ErrInvalidState.
func (t *Timer) Run(ctx context.Context) error {
	if t.state.CompareAndSwap(timerNone, timerStarted) {
		runCtx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		t.done = make(chan struct{})
		go func() {
			defer close(t.done)
			t.wheel.run(runCtx)
		}()
		return nil
	}
	if t.state.Load() == timerStarted {
		return nil
	}
	return ErrInvalidState
}

// Submit schedules task to run after delay has elapsed. If recurring is
// > 0, the task is re-armed for that many additional executions after its
// first firing, each delay after the interval originally requested.
// recurring == 0 means fire once.
//
// Submit enforces admission control: if Config.MaxPendingTimeouts is
// nonzero and the number of outstanding (unreleased) timeouts has reached
// that limit, Submit returns ErrRejected and no handle. A timeout's
// admission slot is freed exactly once, regardless of how many times a
// recurring task executes: on cancellation, when a non-recurring handle
// fires, or when a recurring handle is re-armed for its final firing.
//
// delay <= 0 is accepted: the task becomes due on the wheel's very next
// tick rather than firing synchronously from within Submit.
func (t *Timer) Submit(task Task, delay time.Duration, recurring int) (*Handle, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if t.state.Load() != timerStarted {
		return nil, ErrInvalidState
	}
	if recurring < 0 {
		return nil, ErrInvalidConfiguration
	}
	if delay < 0 {
		delay = 0
	}

	if t.cfg.MaxPendingTimeouts > 0 {
		for {
			cur := t.pending.Load()
			if cur >= int64(t.cfg.MaxPendingTimeouts) {
				if WARNon() {
					WARN("hwtimer: rejecting submission, %d pending timeouts at the %d limit\n",
						cur, t.cfg.MaxPendingTimeouts)
				}
				return nil, ErrRejected
			}
			if t.pending.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	}

	deadline := roundUpMillis(t.clock.deadlineFrom(delay))
	id := t.nextID.Add(1)
	h := newHandle(id, task, deadline, roundUpMillis(delay), recurring)
	if t.cfg.MaxPendingTimeouts > 0 {
		h.onRelease = func() { t.pending.Add(-1) }
	}
	t.wheel.insert(h, t.currentTick())
	return h, nil
}

// currentTick derives the driver's current logical tick k purely from
// elapsed clock time, so Submit (called from any goroutine) can compute a
// consistent bucket placement without coordinating with the driver.
func (t *Timer) currentTick() int64 {
	return int64(t.clock.now()) / int64(t.cfg.TickInterval)
}

// Stop transitions the Timer to its terminal Shutdown state, halts the
// driver goroutine, and returns every handle left unprocessed (neither
// expired nor canceled) across the wheel, pending entries first, then due
// entries, in bucket order 0..N-1. Calling Stop more than once returns an
// empty slice on the second and subsequent calls.
func (t *Timer) Stop() []*Handle {
	if !t.state.CompareAndSwap(timerStarted, timerShutdown) {
		// never started, or already shut down
		t.state.CompareAndSwap(timerNone, timerShutdown)
		return nil
	}
	t.cancel()
	<-t.done
	var left []*Handle
	for _, h := range t.wheel.unprocessed() {
		if !h.isTerminal() { // canceled handles stay queued until visited
			left = append(left, h)
		}
	}
	return left
}
