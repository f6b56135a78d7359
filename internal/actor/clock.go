package actor

import "time"

// Clock provides a testable time source. Reducers never call a Clock; runtimes
// do, and inject timestamps through inputs.
type Clock interface {
	Now() time.Time
}

// RealClock is a Clock backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
