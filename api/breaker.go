package api

import (
	"fmt"
	"sync"
	"time"
)

// breakerState is the circuit state for one site endpoint.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker fails fast when a site's endpoint is unresponsive, instead
// of burning the whole retry budget on every call. It opens after a
// run of consecutive transport failures, then allows a probe after
// the reset timeout.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	state         breakerState
	consecutive   int
	lastFailure   time.Time
	halfOpenCount int
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and probes again after resetTimeout.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      2,
	}
}

// Allow reports whether a request may go out.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = breakerHalfOpen
			b.halfOpenCount = 1
			return true
		}
		return false
	case breakerHalfOpen:
		if b.halfOpenCount < b.halfOpenMax {
			b.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the circuit after a successful probe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	if b.state == breakerHalfOpen {
		b.state = breakerClosed
		b.halfOpenCount = 0
	}
}

// RecordFailure counts a transport failure, opening the circuit once
// the threshold is crossed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	b.lastFailure = time.Now()

	switch b.state {
	case breakerClosed:
		if b.consecutive >= b.failureThreshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.halfOpenCount = 0
	}
}

// errOpen builds the fail-fast error surfaced while the circuit is
// open.
func (b *Breaker) errOpen(site string) error {
	b.mu.Lock()
	retryAt := b.lastFailure.Add(b.resetTimeout)
	failures := b.consecutive
	b.mu.Unlock()

	return fmt.Errorf("%s endpoint unavailable after %d consecutive failures, retry after %s",
		site, failures, retryAt.Format(time.RFC3339))
}
