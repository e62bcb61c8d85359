// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"fmt"
	"time"
)

const (
	defaultTickInterval   = 100 * time.Millisecond
	defaultBucketCount    = 512
	defaultMaxParallelExp = 16

	maxBucketCount  = 1 << 30
	maxPendingCap   = 1_000_000
	maxParallelExps = 128
	maxWheelSpan    = 60 * time.Second
)

// Config is the immutable-after-build configuration of a Timer. Build one
// with NewConfig; the zero value is not valid.
type Config struct {
	TickInterval           time.Duration
	BucketCount            int
	MaxPendingTimeouts     int
	MaxParallelExpirations int
}

// Option mutates a Config under construction. Unknown/omitted options
// fall back to the defaults documented on each With* option.
type Option func(*Config)

// WithTickInterval sets the wheel's tick duration. Must be >= 1ms and a
// whole number of milliseconds; default 100ms.
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) { c.TickInterval = d }
}

// WithBucketCount sets the number of wheel buckets. Silently rounded up
// to the next power of two, capped at 2^30; default 512.
func WithBucketCount(n int) Option {
	return func(c *Config) { c.BucketCount = n }
}

// WithMaxPendingTimeouts caps the number of concurrently outstanding
// timeouts. 0 (the default) means unlimited.
func WithMaxPendingTimeouts(n int) Option {
	return func(c *Config) { c.MaxPendingTimeouts = n }
}

// WithMaxParallelExpirations bounds how many due timeouts a single
// bucket dispatches concurrently on one tick. Capped at 128; default 16.
func WithMaxParallelExpirations(n int) Option {
	return func(c *Config) { c.MaxParallelExpirations = n }
}

// NewConfig builds and validates a Config. This is the entire
// builder/validator surface: it has no knowledge of CLI flags, env vars,
// or DI wiring, only the configuration contract spec'd for the wheel.
func NewConfig(opts ...Option) (Config, error) {
	c := Config{
		TickInterval:           defaultTickInterval,
		BucketCount:            defaultBucketCount,
		MaxPendingTimeouts:     0,
		MaxParallelExpirations: defaultMaxParallelExp,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if c.TickInterval < time.Millisecond {
		return Config{}, fmt.Errorf("%w: tick_interval must be >= 1ms, got %s",
			ErrInvalidConfiguration, c.TickInterval)
	}
	if c.TickInterval%time.Millisecond != 0 {
		return Config{}, fmt.Errorf("%w: tick_interval must be a whole number of milliseconds, got %s",
			ErrInvalidConfiguration, c.TickInterval)
	}

	if c.BucketCount < 1 {
		return Config{}, fmt.Errorf("%w: bucket_count must be positive, got %d",
			ErrInvalidConfiguration, c.BucketCount)
	}
	c.BucketCount = nextPowerOfTwo(c.BucketCount)
	if c.BucketCount > maxBucketCount {
		c.BucketCount = maxBucketCount
	}

	if c.MaxPendingTimeouts < 0 {
		return Config{}, fmt.Errorf("%w: max_pending_timeouts must be >= 0, got %d",
			ErrInvalidConfiguration, c.MaxPendingTimeouts)
	}
	if c.MaxPendingTimeouts > maxPendingCap {
		c.MaxPendingTimeouts = maxPendingCap
	}

	if c.MaxParallelExpirations < 1 {
		return Config{}, fmt.Errorf("%w: max_parallel_expirations must be positive, got %d",
			ErrInvalidConfiguration, c.MaxParallelExpirations)
	}
	if c.MaxParallelExpirations > maxParallelExps {
		c.MaxParallelExpirations = maxParallelExps
	}

	span := c.TickInterval * time.Duration(c.BucketCount)
	if span > maxWheelSpan {
		return Config{}, fmt.Errorf("%w: tick_interval x bucket_count = %s exceeds the %s wheel span limit",
			ErrInvalidConfiguration, span, maxWheelSpan)
	}

	return c, nil
}

// mask returns bucket_count - 1, used to index the wheel via masking
// instead of modulo since bucket_count is always a power of two.
func (c Config) mask() uint64 {
	return uint64(c.BucketCount) - 1
}

// nextPowerOfTwo returns the smallest power of two >= n (n >= 1).
func nextPowerOfTwo(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
