package quest

import (
	"time"

	"github.com/google/uuid"
)

// Env supplies identifiers and timestamps. A zero Env falls back to random
// UUIDs and the wall clock.
type Env struct {
	NewID func() string
	Now   func() time.Time
}

// DefaultEnv returns the production Env.
func DefaultEnv() Env {
	return Env{NewID: uuid.NewString, Now: time.Now}
}

func (e Env) id() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

// now always reports UTC truncated to milliseconds so timestamps survive a
// JSON round trip unchanged.
func (e Env) now() time.Time {
	clock := e.Now
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().Truncate(time.Millisecond)
}
