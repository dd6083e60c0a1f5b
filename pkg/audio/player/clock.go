package player

import "time"

// Clock abstracts wall time so the scheduler can be driven deterministically
// in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc arranges for f to run in its own goroutine after d has
	// elapsed. The returned Timer can cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing if it has not fired yet.
	Stop() bool
}

// realClock delegates to the time package.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// SystemClock returns a Clock backed by real wall time.
func SystemClock() Clock { return realClock{} }
