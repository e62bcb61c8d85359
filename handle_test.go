package hwtimer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHandleCancelBeforeExpirePreventsRun(t *testing.T) {
	ran := false
	h := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		ran = true
		return nil
	}), time.Second, 0, 0)

	if !h.Cancel() {
		t.Fatalf("Cancel() = false on a fresh handle, want true\n")
	}
	if !h.Canceled() {
		t.Fatalf("Canceled() = false after a successful Cancel\n")
	}
	if rearm := h.expire(context.Background(), nil); rearm {
		t.Fatalf("expire() on a canceled handle reported rearm = true\n")
	}
	if ran {
		t.Fatalf("task ran after its handle was canceled\n")
	}
}

func TestHandleCancelAfterExpireLoses(t *testing.T) {
	h := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		return nil
	}), time.Second, 0, 0)

	h.expire(context.Background(), nil)
	if h.Cancel() {
		t.Fatalf("Cancel() = true after the handle already expired\n")
	}
	if !h.Expired() {
		t.Fatalf("Expired() = false after a completed non-recurring expire()\n")
	}
}

func TestHandleReleaseFiresExactlyOnce(t *testing.T) {
	releases := 0
	h := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		return nil
	}), time.Second, 0, 2)
	h.onRelease = func() { releases++ }

	h.expire(context.Background(), nil) // recurring=2 -> no release yet
	if releases != 0 {
		t.Fatalf("release fired during a non-final recurrence (releases=%d)\n", releases)
	}
	h.recurringRounds.Store(0)
	h.expire(context.Background(), nil)
	h.release() // idempotent: as if the wheel called it from recurrence()
	h.release()
	if releases != 1 {
		t.Fatalf("releases = %d, want exactly 1\n", releases)
	}
}

func TestHandleExpireReportsRecurrence(t *testing.T) {
	h := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		return nil
	}), time.Second, time.Second, 3)

	if rearm := h.expire(context.Background(), nil); !rearm {
		t.Fatalf("expire() with recurringRounds=3 reported rearm = false\n")
	}
	if h.isTerminal() {
		t.Fatalf("a recurring handle went terminal after one firing\n")
	}
}

func TestHandleExpireCooperativeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		return ctx.Err()
	}), time.Second, 0, 0)

	h.expire(ctx, func(h *Handle, err error) {
		t.Fatalf("onUnhandled called for a cooperative cancellation: %v\n", err)
	})
	if !h.Canceled() {
		t.Fatalf("State() = %s, want canceled after a ctx-canceled task error\n", h.State())
	}
}

func TestHandleExpireReportsUnhandledError(t *testing.T) {
	boom := errors.New("boom")
	var reported error
	h := newHandle(1, TaskFunc(func(ctx context.Context, h *Handle) error {
		return boom
	}), time.Second, 0, 0)

	h.expire(context.Background(), func(h *Handle, err error) {
		reported = err
	})
	if !errors.Is(reported, boom) {
		t.Fatalf("reported error = %v, want %v\n", reported, boom)
	}
	if !h.Expired() {
		t.Fatalf("a failing non-recurring task should still leave the handle Expired\n")
	}
}
