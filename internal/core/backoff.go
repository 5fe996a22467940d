package core

import (
	"math"
	"math/rand/v2"
	"time"
)

// Retry policy defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// RetryPolicy controls how a failing job is retried. RetryDelay is the
// base of the exponential backoff; MaxDelay, when set, caps the delay;
// Jitter randomizes it within [0.5x, 1.5x] to avoid synchronized
// retries.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultRetryPolicy returns the engine default: 3 retries on a 1s
// exponential base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// CalculateBackoff returns the wait before retry attempt n (1-indexed):
// RetryDelay * 2^(attempt-1), capped at MaxDelay when set. A nil policy
// falls back to the defaults.
func CalculateBackoff(policy *RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := DefaultRetryDelay
	var maxDelay time.Duration
	jitter := false
	if policy != nil {
		if policy.RetryDelay > 0 {
			base = policy.RetryDelay
		}
		maxDelay = policy.MaxDelay
		jitter = policy.Jitter
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if jitter {
		// 0.5x to 1.5x
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}

	return delay
}
