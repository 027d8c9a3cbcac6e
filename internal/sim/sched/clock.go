package sched

import "time"

// Clock reports elapsed simulation time since the world epoch. The
// scheduler never reads the wall clock; whoever constructs it decides
// what time means.
type Clock interface {
	Now() time.Duration
}

// ManualClock is a hand-advanced clock for tests and offline tools.
type ManualClock struct {
	t time.Duration
}

func (c *ManualClock) Now() time.Duration      { return c.t }
func (c *ManualClock) Advance(d time.Duration) { c.t += d }
func (c *ManualClock) Set(d time.Duration)     { c.t = d }
