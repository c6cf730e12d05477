package syncqueue

import (
	"math"
	"time"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	// MaxRetries is the number of failed attempts an operation may accumulate
	// and still be retried. The attempt after that is final, so an operation
	// that always fails runs MaxRetries+1 times.
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy mirrors the queue defaults used by the service config.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// NextDelay returns InitialDelay * BackoffFactor^retryCount, clamped to MaxDelay.
// retryCount is the count after the failed attempt has been recorded.
func (r RetryPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(retryCount))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	d := time.Duration(delay)
	if d <= 0 {
		d = r.InitialDelay
	}
	return d
}

// Exhausted reports whether an operation with retryCount failures must be
// moved to the failed set.
func (r RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount > r.MaxRetries
}
