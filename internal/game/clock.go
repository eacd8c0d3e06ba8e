package game

import "time"

// Clock produces the engine's notion of "now". All deadline checks derive
// from the value passed in; nothing below the tick driver reads the wall
// clock, which keeps every transition replayable in tests.
type Clock func() time.Time

// WallClock is the production clock.
func WallClock() time.Time { return time.Now() }

// FixedClock returns a clock pinned to t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
