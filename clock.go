package identity

import "time"

// Clock abstracts "now" so expiry and lockout windows are deterministic
// under test. Every time computation in the engine goes through it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation used by default.
func SystemClock() Clock { return systemClock{} }
