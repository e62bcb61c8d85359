// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import "context"

// Task is the single operation the wheel dispatches when a Handle's
// deadline comes due. The wheel never inspects the returned error beyond
// distinguishing a cooperative cancellation (ctx.Err() on return) from
// any other failure (reported via the timer's unhandled-exception hook).
//
// Run must not block for anything close to tickInterval*maxParallel, or
// it will starve its bucket's parallel slots: the wheel is a dispatcher,
// not an executor.
type Task interface {
	Run(ctx context.Context, h *Handle) error
}

// TaskFunc adapts a plain function to Task, the way http.HandlerFunc
// adapts a function to http.Handler. Surface-level adapters that do more
// (single-result futures, void callbacks, lazy recurring sequences) are
// external collaborators built on top of this and out of scope here.
type TaskFunc func(ctx context.Context, h *Handle) error

// Run calls f.
func (f TaskFunc) Run(ctx context.Context, h *Handle) error {
	return f(ctx, h)
}
