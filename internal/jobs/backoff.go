package jobs

import (
	"math"
	"time"
)

// ComputeBackoff returns the delay before the next attempt of a job whose
// base_backoff is baseBackoff and which has just made its attempts-th
// attempt. The formula is exactly base_backoff^attempts seconds — no cap,
// no jitter. Unlike a capped/jittered backoff, this lets a caller choose
// base_backoff to produce a predictable retry schedule, which is what the
// exact-value assertions in backoff_test.go check.
func ComputeBackoff(baseBackoff float64, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	seconds := math.Pow(baseBackoff, float64(attempts))
	return time.Duration(seconds * float64(time.Second))
}
