package outbox

import "time"

const (
	baseDelay = 5 * time.Second
	maxDelay  = 60 * time.Second

	// DefaultMaxRetries is the authoritative retry cap stamped on every
	// queued message at enqueue time.
	DefaultMaxRetries = 5
)

// Delay returns the backoff window before retry number retryCount
// (1-based). The sequence is 5s, 10s, 20s, 40s, then capped at 60s.
func Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		return baseDelay
	}
	exp := retryCount - 1
	if exp > 5 {
		exp = 5
	}
	d := baseDelay << uint(exp)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// retryEligible reports whether a failed message's backoff window has
// elapsed at time now.
func retryEligible(retryCount int, lastRetryAt int64, now time.Time) bool {
	if lastRetryAt == 0 {
		return true
	}
	elapsed := now.Sub(time.UnixMilli(lastRetryAt))
	return elapsed >= Delay(retryCount)
}
