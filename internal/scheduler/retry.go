package scheduler

import (
	"time"

	"plume/internal/config"
)

// RetryPolicy is the one place retry arithmetic lives. The scheduler
// and the reconciler both consult it, so an intent backs off the same
// way no matter which loop touched it last.
type RetryPolicy struct {
	maxAttempts    int
	base           time.Duration
	max            time.Duration
	rateLimitRetry time.Duration
}

// NewRetryPolicy builds the policy from the scheduler section.
func NewRetryPolicy(cfg config.SchedulerConfig) *RetryPolicy {
	return &RetryPolicy{
		maxAttempts:    cfg.MaxAttempts,
		base:           cfg.RetryBackoffBase(),
		max:            cfg.RetryBackoffMax(),
		rateLimitRetry: cfg.RateLimitRetry(),
	}
}

// Backoff returns the wait before the given retry attempt. Exponential
// from the base, capped at the ceiling. The shift is clamped so large
// attempt counts cannot overflow the duration.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	d := p.base << shift
	if d > p.max || d <= 0 {
		d = p.max
	}
	return d
}

// NextRetry returns the earliest time the given attempt should run.
func (p *RetryPolicy) NextRetry(now time.Time, attempt int) time.Time {
	return now.Add(p.Backoff(attempt))
}

// Exhausted reports whether the attempt budget is spent.
func (p *RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.maxAttempts
}

// RateLimitRetry is how far a rate-limited intent is pushed back. Flat,
// not exponential: the cap clears with time, not with patience growth.
func (p *RetryPolicy) RateLimitRetry() time.Duration {
	return p.rateLimitRetry
}
