// Package clock abstracts the time source so deadline arithmetic and the
// drain watcher can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the lifecycle coordinator.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
	Since(t time.Time) time.Duration
}

// Real implements Clock on top of the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Since reports the elapsed time relative to Now.
func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}
