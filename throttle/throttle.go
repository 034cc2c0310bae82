// Package throttle enforces a minimum delay between outgoing requests
// to a wiki site. The delay adapts to server-reported replication lag
// (the maxlag mechanism): it grows when the server is struggling and
// decays back toward a configured floor after a streak of fast
// responses.
package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mwbot-go/mwbot/metrics"
)

// Options configures a Throttle.
type Options struct {
	// MinDelay is the floor for the inter-request interval.
	MinDelay time.Duration

	// MaxDelay caps the interval regardless of reported lag.
	MaxDelay time.Duration

	// MaxWait bounds how long a single Wait call may block.
	// Zero means wait indefinitely (until the context is done).
	MaxWait time.Duration

	// DecayFactor shrinks the delay multiplicatively once DecayAfter
	// consecutive fast responses have been observed.
	DecayFactor float64

	// DecayAfter is the length of the fast-response streak required
	// before the delay starts decaying.
	DecayAfter int
}

// DefaultOptions returns conservative bot defaults.
func DefaultOptions() Options {
	return Options{
		MinDelay:    10 * time.Millisecond,
		MaxDelay:    120 * time.Second,
		MaxWait:     5 * time.Minute,
		DecayFactor: 0.9,
		DecayAfter:  5,
	}
}

// TimeoutError reports that a Wait call exceeded the configured
// maximum wait. Callers should abort the operation rather than stall.
type TimeoutError struct {
	SiteKey string
	Waited  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("throttle wait for %s exceeded %s", e.SiteKey, e.Waited)
}

// Throttle is a process-wide rate limiter keyed by site. Each key gets
// its own token bucket so independent sites never block each other.
type Throttle struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	sites map[string]*siteState
}

type siteState struct {
	limiter      *rate.Limiter
	delay        time.Duration
	lastDispatch time.Time
	fastStreak   int
}

// New creates a Throttle. A nil logger falls back to slog.Default.
func New(opts Options, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = DefaultOptions().MinDelay
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = DefaultOptions().MaxDelay
	}
	if opts.DecayFactor <= 0 || opts.DecayFactor >= 1 {
		opts.DecayFactor = DefaultOptions().DecayFactor
	}
	if opts.DecayAfter <= 0 {
		opts.DecayAfter = DefaultOptions().DecayAfter
	}
	return &Throttle{
		opts:   opts,
		logger: logger,
		sites:  make(map[string]*siteState),
	}
}

// site returns the state for key, creating it at the floor delay.
func (t *Throttle) site(key string) *siteState {
	s, ok := t.sites[key]
	if !ok {
		s = &siteState{
			delay:   t.opts.MinDelay,
			limiter: rate.NewLimiter(rate.Every(t.opts.MinDelay), 1),
		}
		t.sites[key] = s
	}
	return s
}

// Wait blocks until the minimum inter-request interval for key has
// elapsed since the last dispatch. It returns a *TimeoutError if the
// configured MaxWait is exceeded, or the context error if ctx is done
// first.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	t.mu.Lock()
	limiter := t.site(key).limiter
	t.mu.Unlock()

	if limiter.Tokens() < 1 {
		metrics.RecordThrottleWait(key)
	}

	if t.opts.MaxWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, t.opts.MaxWait)
		defer cancel()

		if err := limiter.Wait(waitCtx); err != nil {
			// The limiter also fails fast when the required wait would
			// overrun the deadline; either way the caller sees a
			// timeout unless the parent context was done first.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{SiteKey: key, Waited: t.opts.MaxWait}
		}
		return nil
	}

	return limiter.Wait(ctx)
}

// RecordDispatch timestamps an outgoing request for key.
func (t *Throttle) RecordDispatch(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.site(key).lastDispatch = time.Now()
}

// ReportLag grows the minimum delay for key in proportion to the
// server-reported lag, capped at MaxDelay. It also resets the
// fast-response streak.
func (t *Throttle) ReportLag(key string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.site(key)
	s.fastStreak = 0
	metrics.RecordLagReport(key)

	next := s.delay * 2
	if lag > next {
		next = lag
	}
	if next > t.opts.MaxDelay {
		next = t.opts.MaxDelay
	}
	if next <= s.delay {
		// Already at the ceiling.
		return
	}

	s.delay = next
	s.limiter.SetLimit(rate.Every(next))
	metrics.SetThrottleDelay(key, next.Seconds())
	t.logger.Warn("server lag reported, slowing down",
		"site", key,
		"lag", lag,
		"delay", next)
}

// ReportFast records a fast, lag-free response for key. After
// DecayAfter consecutive fast responses the delay decays
// multiplicatively toward the floor.
func (t *Throttle) ReportFast(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.site(key)
	s.fastStreak++
	if s.fastStreak < t.opts.DecayAfter || s.delay <= t.opts.MinDelay {
		return
	}

	next := time.Duration(float64(s.delay) * t.opts.DecayFactor)
	if next < t.opts.MinDelay {
		next = t.opts.MinDelay
	}
	s.delay = next
	s.limiter.SetLimit(rate.Every(next))
	metrics.SetThrottleDelay(key, next.Seconds())
}

// Delay returns the current minimum inter-request interval for key.
func (t *Throttle) Delay(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.site(key).delay
}

// LastDispatch returns the timestamp of the most recent dispatch for
// key, or the zero time if none has been recorded.
func (t *Throttle) LastDispatch(key string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.site(key).lastDispatch
}
