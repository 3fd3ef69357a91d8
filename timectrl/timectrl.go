package timectrl

import (
	"time"
)

// SimClock is an interface for accessing simulation time. Components that only
// need "what time is it in the simulation" depend on this rather than on the
// concrete Clock, which keeps them testable with a fixed clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Step returns the current step index.
	Step() int
}

// Clock is the authoritative notion of simulation time. Time is discrete: the
// clock sits on a step index and every step covers StepDuration of simulated
// time, during which all environmental layers are constant.
//
// Clock has no lock of its own. It is owned by an Environment and callers
// must hold that Environment's lock for every call.
type Clock struct {
	start    time.Time
	duration time.Duration
	location *time.Location

	step int
}

// NewClock constructs a clock positioned on step 0 at start. A nil location
// defaults to UTC; a non-positive duration defaults to one day, the natural
// step for daily oceanographic layers.
func NewClock(start time.Time, stepDuration time.Duration, loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	if stepDuration <= 0 {
		stepDuration = 24 * time.Hour
	}
	return &Clock{
		start:    start.In(loc),
		duration: stepDuration,
		location: loc,
	}
}

// Step returns the current step index. It starts at 0 and only grows.
func (c *Clock) Step() int {
	return c.step
}

// Now returns the start time of the current step. Implements SimClock.
func (c *Clock) Now() time.Time {
	return c.TimeAt(c.step)
}

// TimeAt returns the start time of an arbitrary step.
func (c *Clock) TimeAt(step int) time.Time {
	return c.start.Add(time.Duration(step) * c.duration).In(c.location)
}

// StepDuration returns the simulated length of one step.
func (c *Clock) StepDuration() time.Duration {
	return c.duration
}

// Location returns the time zone used when reporting times.
func (c *Clock) Location() *time.Location {
	return c.location
}

// StartTime returns the time of step 0.
func (c *Clock) StartTime() time.Time {
	return c.start
}

// Advance moves the clock to the next step.
func (c *Clock) Advance() {
	c.step++
}

// FixedClock is a SimClock frozen on a given step. Useful in tests.
type FixedClock struct {
	At    time.Time
	Index int
}

// Now implements SimClock.
func (f FixedClock) Now() time.Time { return f.At }

// Step implements SimClock.
func (f FixedClock) Step() int { return f.Index }
