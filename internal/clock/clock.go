// Package clock abstracts the wall clock so that expiration and
// settlement timestamps can be driven from tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns the real UTC clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }
