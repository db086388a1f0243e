// Package clock abstracts time so that retry backoff and credential expiry can
// be tested without sleeping.
package clock

import "time"

// Clock is the subset of time the pipelines depend on.
type Clock interface {
	Now() time.Time
	// After delivers the current time on the returned channel once d elapses.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
