package clock_test

import (
	"testing"
	"time"

	"pkt.systems/quiesce/internal/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterFires(t *testing.T) {
	t.Parallel()

	select {
	case <-clock.Real{}.After(5 * time.Millisecond):
	case <-time.After(500 * time.Millisecond):
		t.Fatal("After never fired")
	}
}

func TestRealSinceTracksNow(t *testing.T) {
	t.Parallel()

	start := clock.Real{}.Now()
	clock.Real{}.Sleep(5 * time.Millisecond)
	if elapsed := (clock.Real{}).Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("Since reported too little elapsed time: %v", elapsed)
	}
}

func TestManualAdvanceDeliversDueWaiters(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(1000, 0))
	short := m.After(100 * time.Millisecond)
	long := m.After(time.Second)

	m.Advance(100 * time.Millisecond)
	select {
	case <-short:
	default:
		t.Fatal("short waiter should have fired")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}
	if m.Waiters() != 1 {
		t.Fatalf("expected one pending waiter, got %d", m.Waiters())
	}

	m.Advance(time.Second)
	select {
	case <-long:
	default:
		t.Fatal("long waiter should have fired")
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(1000, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero-duration After should fire immediately")
	}
}

func TestManualSinceUsesManualTime(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(1000, 0))
	start := m.Now()
	m.Advance(250 * time.Millisecond)
	if d := m.Since(start); d != 250*time.Millisecond {
		t.Fatalf("expected 250ms elapsed, got %v", d)
	}
}
