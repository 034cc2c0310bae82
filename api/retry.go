package api

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls how the executor retries transient failures.
// It is a plain value so tests can shrink the intervals to nothing.
type RetryPolicy struct {
	// MaxAttempts is the total number of dispatch attempts, including
	// the first one. Values below 1 are treated as 1.
	MaxAttempts int

	// InitialInterval seeds the exponential backoff curve.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff sleep.
	MaxInterval time.Duration

	// Multiplier grows the interval between attempts.
	Multiplier float64

	// RandomizationFactor jitters each interval to avoid thundering
	// herds of bots retrying in lockstep.
	RandomizationFactor float64
}

// DefaultRetryPolicy returns the retry settings used unless a caller
// overrides them: 4 attempts, 500ms initial backoff doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         4,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.3,
	}
}

// attempts returns the normalized attempt budget.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// newBackOff builds the interval source for one request's retry loop.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor >= 0 {
		b.RandomizationFactor = p.RandomizationFactor
	}
	b.Reset()
	return b
}
