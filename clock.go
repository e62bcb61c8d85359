// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"time"

	"github.com/intuitivelabs/timestamp"
)

// clock is the monotonic time source shared by a Wheel and its Timer
// facade. now() never regresses: it is derived from timestamp.TS, a
// monotonic high-resolution timestamp, never from wall-clock time.
//
// All deadlines in this package are expressed as a time.Duration elapsed
// since the clock's reference point (the instant newClock captured it),
// millisecond-aligned per the rounding helpers below.
type clock struct {
	ref timestamp.TS
}

// newClock captures the reference instant.
func newClock() *clock {
	return &clock{ref: timestamp.Now()}
}

// now returns the elapsed duration since the clock's reference instant.
func (c *clock) now() time.Duration {
	return timestamp.Now().Sub(c.ref)
}

// deadlineFrom returns now()+delay, the coordinate a Submit call converts
// a relative delay into before handing it to the wheel.
func (c *clock) deadlineFrom(delay time.Duration) time.Duration {
	return c.now() + delay
}

// roundUpMillis rounds d up to the next whole millisecond. Every
// deadline stored on a handle passes through this so that bucket index
// arithmetic (which divides by a millisecond-granular tick) never sees a
// sub-millisecond remainder silently truncated.
func roundUpMillis(d time.Duration) time.Duration {
	const ms = time.Millisecond
	if d <= 0 {
		return 0
	}
	if r := d % ms; r != 0 {
		return d - r + ms
	}
	return d
}
