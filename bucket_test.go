package hwtimer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestHandle(id uint64, remainingRounds int64) *Handle {
	h := newHandle(id, TaskFunc(func(ctx context.Context, h *Handle) error {
		return nil
	}), 0, 0, 0)
	h.remainingRounds.Store(remainingRounds)
	return h
}

func TestBucketAddRoutesByRemainingRounds(t *testing.T) {
	b := newBucket()
	due := newTestHandle(1, 0)
	pending := newTestHandle(2, 3)

	b.add(due)
	b.add(pending)

	if b.due.len() != 1 {
		t.Fatalf("due queue len = %d, want 1\n", b.due.len())
	}
	if b.pending.len() != 1 {
		t.Fatalf("pending queue len = %d, want 1\n", b.pending.len())
	}
}

func TestBucketAgeMovesToDoAtZeroRounds(t *testing.T) {
	b := newBucket()
	h := newTestHandle(1, 1)
	b.add(h)

	b.age(context.Background())
	if b.pending.len() != 0 {
		t.Fatalf("pending queue len = %d after rounds exhausted, want 0\n", b.pending.len())
	}
	if b.due.len() != 1 {
		t.Fatalf("due queue len = %d after rounds exhausted, want 1\n", b.due.len())
	}
}

func TestBucketAgeLeavesNonZeroRoundsPending(t *testing.T) {
	b := newBucket()
	h := newTestHandle(1, 2)
	b.add(h)

	b.age(context.Background())
	if b.pending.len() != 1 {
		t.Fatalf("pending queue len = %d, want 1\n", b.pending.len())
	}
	if h.RemainingRounds() != 1 {
		t.Fatalf("RemainingRounds() = %d, want 1\n", h.RemainingRounds())
	}
}

func TestBucketAgeDropsCanceled(t *testing.T) {
	b := newBucket()
	h := newTestHandle(1, 5)
	h.Cancel()
	b.add(h)

	b.age(context.Background())
	if b.pending.len() != 0 || b.due.len() != 0 {
		t.Fatalf("a canceled pending handle should be dropped, not re-queued\n")
	}
}

func TestBucketExpireDueRunsAllAndSkipsCanceled(t *testing.T) {
	b := newBucket()
	var ran int32

	live := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}), 0, 0, 0)
	canceled := newHandle(2, TaskFunc(func(ctx context.Context, h *Handle) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}), 0, 0, 0)
	canceled.Cancel()

	b.add(live)
	b.add(canceled)

	b.expireDue(context.Background(), time.Hour, 4, nil, func(*Handle) {
		t.Fatalf("recur callback invoked for a non-recurring handle\n")
	})

	if ran != 1 {
		t.Fatalf("ran = %d, want 1 (canceled entry must be skipped)\n", ran)
	}
	if !b.due.empty() {
		t.Fatalf("due queue not drained after expireDue\n")
	}
}

func TestBucketExpireDueRespectsParallelCap(t *testing.T) {
	b := newBucket()
	const n = 50
	var inFlight, maxSeen int32

	for i := 0; i < n; i++ {
		h := newHandle(uint64(i), TaskFunc(func(ctx context.Context, h *Handle) error {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if cur <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}), 0, 0, 0)
		b.add(h)
	}

	b.expireDue(context.Background(), time.Hour, 4, nil, func(*Handle) {})

	if maxSeen > 4 {
		t.Fatalf("max concurrent expirations = %d, want <= 4\n", maxSeen)
	}
}

func TestBucketUnprocessedOrdersPendingBeforeDue(t *testing.T) {
	b := newBucket()
	due := newTestHandle(1, 0)
	pending := newTestHandle(2, 3)
	b.add(due)
	b.add(pending)

	got := b.unprocessed()
	if len(got) != 2 {
		t.Fatalf("unprocessed() returned %d handles, want 2\n", len(got))
	}
	if got[0].ID() != pending.ID() || got[1].ID() != due.ID() {
		t.Fatalf("unprocessed() order = [%d, %d], want pending before due\n", got[0].ID(), got[1].ID())
	}
}
