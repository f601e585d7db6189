// Package limiter pauses remote writes after repeated failures so a recovering
// service is not hammered by every queued change at once.
package limiter

import (
	"time"
)

// Limiter is an outage gate keyed by call class.
type Limiter interface {
	// Allow reports whether a call may proceed and, if not, how long until it may.
	Allow(key string) (bool, time.Duration)
	// Success resets the failure streak for key.
	Success(key string)
	// Failure records a failed call; it reports whether the gate closed.
	Failure(key string) (bool, time.Duration)
}
