// Package clock provides the single wall-clock seam the rest of the engine
// depends on, so tests can drive time deterministically instead of sprinkling
// time.Now()/time.Sleep() through business logic.
package clock

import "time"

// Clock is implemented by the OS-backed clock in production and by Fake in
// tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the production Clock, backed directly by the time package.
type System struct{}

// New returns the OS-backed Clock.
func New() Clock { return System{} }

func (System) Now() time.Time          { return time.Now() }
func (System) Sleep(d time.Duration)   { time.Sleep(d) }
