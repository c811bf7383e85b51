// Package browser owns the pool of authenticated browsing contexts used
// to drive the platform UI. Each session wraps one incognito page on a
// shared Chrome instance; the pool bounds concurrency, orders acquisition
// by priority, and retires sessions that report stuck.
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"plume/internal/types"
)

// Health is the state a borrower reports when returning a session.
type Health int

const (
	// HealthHealthy: the session behaved; return it to the pool.
	HealthHealthy Health = iota
	// HealthDegraded: usable but suspicious (slow loads, odd DOM).
	// Returned to the pool but counted against aggregate health.
	HealthDegraded
	// HealthStuck: the session is wedged. Destroyed, never reused.
	HealthStuck
)

func (h Health) String() string {
	switch h {
	case HealthDegraded:
		return "degraded"
	case HealthStuck:
		return "stuck"
	default:
		return "healthy"
	}
}

// Session is one authenticated browsing context. It is owned by the pool
// and borrowed by exactly one intent at a time.
type Session struct {
	ID        string
	page      *rod.Page
	capture   *NetworkCapture
	holder    string
	createdAt time.Time
	lastUsed  time.Time
}

func newSession(page *rod.Page) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		page:      page,
		capture:   &NetworkCapture{},
		createdAt: now,
		lastUsed:  now,
	}
}

// NewDetached returns a session with no backing page. Fake drivers and
// tests use it; Page() returns nil and the capture buffer still works
// via Inject.
func NewDetached() *Session { return newSession(nil) }

// Page returns the underlying rod page. Nil in tests that use a fake
// session factory.
func (s *Session) Page() *rod.Page { return s.page }

// Capture returns the session's network capture buffer.
func (s *Session) Capture() *NetworkCapture { return s.capture }

// Holder returns the decision id currently borrowing the session.
func (s *Session) Holder() string { return s.holder }

func (s *Session) close() {
	s.capture.Disarm()
	if s.page != nil {
		_ = s.page.Close()
	}
}

// NetworkCapture buffers the platform's own network responses observed
// on a session. The executor arms it before submitting; the extractor
// snapshots it at progressive checkpoints, because the confirming
// response often arrives seconds after the submit click.
type NetworkCapture struct {
	mu        sync.Mutex
	responses []types.CapturedResponse
	filter    string
	cancel    context.CancelFunc
}

// Arm clears the buffer and begins capturing responses whose URL
// contains the filter substring. Bodies are fetched best-effort; a
// response whose body cannot be read is still recorded for its URL.
func (c *NetworkCapture) Arm(ctx context.Context, page *rod.Page, filter string) error {
	c.Disarm()

	c.mu.Lock()
	c.responses = nil
	c.filter = filter
	c.mu.Unlock()

	if page == nil {
		return nil
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return err
	}

	capCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	capturePage := page.Context(capCtx)
	wait := capturePage.EachEvent(func(ev *proto.NetworkResponseReceived) {
		if ev.Response == nil {
			return
		}
		url := ev.Response.URL
		if filter != "" && !strings.Contains(url, filter) {
			return
		}
		body := ""
		if res, err := (proto.NetworkGetResponseBody{RequestID: ev.RequestID}).Call(capturePage); err == nil {
			body = res.Body
		}
		c.mu.Lock()
		c.responses = append(c.responses, types.CapturedResponse{
			URL:        url,
			Status:     ev.Response.Status,
			Body:       body,
			ReceivedAt: time.Now(),
		})
		c.mu.Unlock()
	})
	go wait()
	return nil
}

// Disarm stops the capture goroutine. The buffer stays readable: the
// extractor keeps snapshotting it after the executor hands the session
// over.
func (c *NetworkCapture) Disarm() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of the captured responses so far.
func (c *NetworkCapture) Snapshot() []types.CapturedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.CapturedResponse, len(c.responses))
	copy(out, c.responses)
	return out
}

// Inject appends a response directly, for tests.
func (c *NetworkCapture) Inject(r types.CapturedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
}

var _ types.ResponseLog = (*NetworkCapture)(nil)
