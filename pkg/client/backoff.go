package client

import (
	"math"
	"time"
)

// RetryPolicy bounds the reconnection behaviour after an unplanned
// disconnect. Delays grow exponentially per attempt up to MaxBackoff and
// reset to InitialBackoff after a successful reconnect.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the reconnection defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// DelayFor returns the backoff before retry number attempt, counting
// from zero.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt))
	if delay > float64(p.MaxBackoff) || delay < 0 {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}
