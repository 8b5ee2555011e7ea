// Package deadline holds the shutdown deadline arithmetic: a restartable
// quiet-period cutoff capped by a fixed hard cutoff. Everything here is a
// pure function over State so the tricky parts (capping, monotonicity) are
// unit-testable without timers or goroutines.
package deadline

import "time"

// State carries the deadlines governing one drain.
type State struct {
	// StartedAt is the instant shutdown was initiated. It never changes.
	StartedAt time.Time
	// Quiet is the restartable cutoff: it moves forward on every admission
	// observed while draining, but never past Hard.
	Quiet time.Time
	// Hard is StartedAt plus the configured timeout. It never moves.
	Hard time.Time
}

// Start computes the initial deadlines for a drain beginning at now.
func Start(now time.Time, quietPeriod, timeout time.Duration) State {
	s := State{
		StartedAt: now,
		Quiet:     now.Add(quietPeriod),
		Hard:      now.Add(timeout),
	}
	if s.Quiet.After(s.Hard) {
		s.Quiet = s.Hard
	}
	return s
}

// Extend advances the quiet cutoff to now+quietPeriod, capped at the hard
// cutoff. The quiet cutoff is monotonically non-decreasing: an extension
// computed from a stale now never pulls it backward.
func Extend(s State, now time.Time, quietPeriod time.Duration) State {
	quiet := now.Add(quietPeriod)
	if quiet.After(s.Hard) {
		quiet = s.Hard
	}
	if quiet.After(s.Quiet) {
		s.Quiet = quiet
	}
	return s
}

// Expired reports whether either cutoff has been reached.
func Expired(s State, now time.Time) bool {
	return !now.Before(s.Quiet) || !now.Before(s.Hard)
}

// Next returns the duration until the earliest cutoff, used to arm the drain
// watcher's timer. It returns zero when a cutoff has already been reached.
func Next(s State, now time.Time) time.Duration {
	earliest := s.Quiet
	if s.Hard.Before(earliest) {
		earliest = s.Hard
	}
	d := earliest.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
