// Package ratelimit enforces the rolling-window posting cap. Confirmed
// posts are counted from the decision store; intents admitted but not yet
// confirmed hold an in-flight reservation. Admission check and
// reservation happen under one lock, so the cap cannot be overshot by
// concurrent workers.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"plume/internal/config"
	"plume/internal/logging"
	"plume/internal/types"
)

// PostCounter is the read-only view of the decision store the limiter
// needs.
type PostCounter interface {
	// CountInWindow returns how many intents became platform-visible
	// since the cutoff.
	CountInWindow(since time.Time) (int, error)
}

// Limiter is the rolling-window rate limiter.
type Limiter struct {
	mu       sync.Mutex
	counter  PostCounter
	maxPosts int
	window   time.Duration
	reserved map[string]time.Time
	now      func() time.Time
}

// New creates a limiter over the given post counter.
func New(counter PostCounter, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		counter:  counter,
		maxPosts: cfg.MaxPosts,
		window:   cfg.Window(),
		reserved: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetPolicy replaces the cap and window, for config hot reload.
func (l *Limiter) SetPolicy(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxPosts = cfg.MaxPosts
	l.window = cfg.Window()
	logging.RateLimit("policy updated: %d posts per %v", l.maxPosts, l.window)
}

// Admit reserves a posting slot for the intent. It returns
// types.ErrRateLimited when confirmed posts plus in-flight reservations
// already fill the window. The reservation must be resolved with Commit
// or Cancel.
func (l *Limiter) Admit(decisionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reserved[decisionID]; ok {
		// Already holding a slot; admitting again is harmless.
		return nil
	}

	since := l.now().Add(-l.window)
	confirmed, err := l.counter.CountInWindow(since)
	if err != nil {
		return fmt.Errorf("rate limit admission: %w", err)
	}

	// Reservations are held until Commit or Cancel resolves them, even
	// past the window edge: an execution that outlives the window may
	// still produce a platform-visible post, and that post would land
	// inside the current window.
	if confirmed+len(l.reserved) >= l.maxPosts {
		logging.RateLimit("admission refused for %s: %d confirmed + %d in flight >= cap %d",
			decisionID, confirmed, len(l.reserved), l.maxPosts)
		return types.ErrRateLimited
	}

	l.reserved[decisionID] = l.now()
	return nil
}

// Commit releases the reservation once the intent is platform-visible in
// the store (posted or awaiting confirmation), where CountInWindow takes
// over the accounting.
func (l *Limiter) Commit(decisionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, decisionID)
}

// Cancel releases the reservation for an intent that never became
// platform-visible (rejected, requeued before submission).
func (l *Limiter) Cancel(decisionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, decisionID)
}

// InFlight returns the current reservation count, for the status command.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reserved)
}
