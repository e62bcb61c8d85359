// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"github.com/intuitivelabs/slog"
)

// Log is the package-wide logger. Replace its level via slog.SetLevel()
// before calling Run on a Timer to change verbosity, e.g.:
//
//	slog.SetLevel(&hwtimer.Log, slog.LDBG)
var Log slog.Log

func init() {
	slog.SetLevel(&Log, slog.LWARN)
}

// DBG logs a debug-level message, gated by DBGon().
func DBG(f string, a ...interface{}) {
	Log.DBG(f, a...)
}

// ERR logs an error-level message, gated by ERRon().
func ERR(f string, a ...interface{}) {
	Log.ERR(f, a...)
}

// WARN logs a warning-level message, gated by WARNon().
func WARN(f string, a ...interface{}) {
	Log.WARN(f, a...)
}

// BUG logs an internal-invariant-violation message. Never fatal: the
// driver logs and keeps running rather than tearing down the wheel.
func BUG(f string, a ...interface{}) {
	Log.BUG(f, a...)
}

// PANIC logs and panics. Reserved for invariant violations that leave the
// wheel's internal lists in an inconsistent state (corruption, not a
// recoverable user error).
func PANIC(f string, a ...interface{}) {
	Log.PANIC(f, a...)
}

// DBGon returns true if debug-level logging is enabled.
func DBGon() bool { return Log.DBGon() }

// ERRon returns true if error-level logging is enabled.
func ERRon() bool { return Log.ERRon() }

// WARNon returns true if warning-level logging is enabled.
func WARNon() bool { return Log.WARNon() }
