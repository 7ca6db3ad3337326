// Package clock provides an injectable time source so the scheduler and token
// expiry checks can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the fleet controller depends on
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
