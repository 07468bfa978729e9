package domain

import "time"

// Clock abstracts the time source so engines can be tested against a fixed
// instant. All engine decisions that depend on "now" go through a Clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the wall clock (UTC).
func SystemClock() Clock { return systemClock{} }
