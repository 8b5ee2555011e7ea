package deadline_test

import (
	"testing"
	"time"

	"pkt.systems/quiesce/internal/deadline"
)

var epoch = time.Unix(1_700_000_000, 0).UTC()

func TestStartQuietCappedByHard(t *testing.T) {
	t.Parallel()

	s := deadline.Start(epoch, 5*time.Second, 2*time.Second)
	if s.Quiet != s.Hard {
		t.Fatalf("quiet %v should be capped at hard %v", s.Quiet, s.Hard)
	}
	if got := s.Hard.Sub(s.StartedAt); got != 2*time.Second {
		t.Fatalf("hard offset = %v, want 2s", got)
	}
}

func TestExtendAdvancesAndCaps(t *testing.T) {
	t.Parallel()

	s := deadline.Start(epoch, time.Second, 2*time.Second)

	s = deadline.Extend(s, epoch.Add(500*time.Millisecond), time.Second)
	if want := epoch.Add(1500 * time.Millisecond); !s.Quiet.Equal(want) {
		t.Fatalf("quiet = %v, want %v", s.Quiet, want)
	}

	// Admissions near the hard cutoff no longer move the quiet cutoff past it.
	s = deadline.Extend(s, epoch.Add(1900*time.Millisecond), time.Second)
	if !s.Quiet.Equal(s.Hard) {
		t.Fatalf("quiet = %v, want hard %v", s.Quiet, s.Hard)
	}

	// Once at the hard cutoff, further extensions are no-ops.
	s = deadline.Extend(s, epoch.Add(3*time.Second), time.Second)
	if !s.Quiet.Equal(s.Hard) {
		t.Fatalf("quiet moved past hard: %v > %v", s.Quiet, s.Hard)
	}
}

func TestExtendNeverRegresses(t *testing.T) {
	t.Parallel()

	s := deadline.Start(epoch, time.Second, 10*time.Second)
	s = deadline.Extend(s, epoch.Add(3*time.Second), time.Second)
	advanced := s.Quiet

	// A stale extension computed from an earlier now must not pull the
	// quiet cutoff backward.
	s = deadline.Extend(s, epoch.Add(time.Second), time.Second)
	if s.Quiet.Before(advanced) {
		t.Fatalf("quiet regressed from %v to %v", advanced, s.Quiet)
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	s := deadline.Start(epoch, time.Second, 2*time.Second)
	if deadline.Expired(s, epoch.Add(999*time.Millisecond)) {
		t.Fatal("expired before the quiet cutoff")
	}
	if !deadline.Expired(s, epoch.Add(time.Second)) {
		t.Fatal("not expired exactly at the quiet cutoff")
	}

	s = deadline.Extend(s, epoch.Add(1900*time.Millisecond), time.Second)
	if !deadline.Expired(s, epoch.Add(2*time.Second)) {
		t.Fatal("not expired at the hard cutoff")
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	s := deadline.Start(epoch, time.Second, 2*time.Second)
	if got := deadline.Next(s, epoch.Add(400*time.Millisecond)); got != 600*time.Millisecond {
		t.Fatalf("next = %v, want 600ms", got)
	}
	if got := deadline.Next(s, epoch.Add(5*time.Second)); got != 0 {
		t.Fatalf("next past expiry = %v, want 0", got)
	}
}

func TestZeroQuietPeriodExpiresImmediately(t *testing.T) {
	t.Parallel()

	s := deadline.Start(epoch, 0, 2*time.Second)
	if !deadline.Expired(s, epoch) {
		t.Fatal("zero quiet period should expire at start")
	}
}
