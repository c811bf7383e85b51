package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"plume/internal/config"
	"plume/internal/logging"
	"plume/internal/types"
)

// Priority orders waiters when the pool is saturated.
type Priority int

const (
	// PriorityRecovery yields to fresh posting work until the waiter
	// ages past the promotion threshold.
	PriorityRecovery Priority = iota
	// PriorityPosting is the normal priority for scheduled posts.
	PriorityPosting
)

func (p Priority) String() string {
	if p == PriorityRecovery {
		return "recovery"
	}
	return "posting"
}

// SessionFactory creates a new authenticated session. Production pools
// use the rod-backed factory; tests inject their own.
type SessionFactory func(ctx context.Context) (*Session, error)

type acquireResult struct {
	session *Session
	err     error
}

type waiter struct {
	priority Priority
	holder   string
	enqueued time.Time
	result   chan acquireResult
}

// Pool is a bounded set of browser sessions. Acquire blocks until a
// session is free or the deadline passes; Release returns or destroys
// the session depending on reported health. Consecutive stuck releases
// shrink the effective capacity down to a floor of one, on the theory
// that a wedged platform gets worse, not better, under more load.
type Pool struct {
	cfg     config.PoolConfig
	factory SessionFactory

	mu           sync.Mutex
	idle         []*Session
	inUse        map[string]*Session
	waiters      []*waiter
	live         int
	effectiveCap int
	stuckStreak  int
	closed       bool

	browser *rod.Browser

	created   int
	destroyed int
	acquired  int
	timedOut  int
	stuck     int
}

// NewPool creates a pool that launches sessions on a shared Chrome
// instance. The browser connection is established lazily on the first
// Acquire so that construction never blocks on Chrome startup.
func NewPool(cfg config.PoolConfig, platform config.PlatformConfig) *Pool {
	p := &Pool{
		cfg:          cfg,
		inUse:        make(map[string]*Session),
		effectiveCap: cfg.Capacity,
	}
	p.factory = func(ctx context.Context) (*Session, error) {
		return p.launchSession(ctx, platform)
	}
	return p
}

// NewPoolWithFactory creates a pool with a custom session factory.
func NewPoolWithFactory(cfg config.PoolConfig, factory SessionFactory) *Pool {
	return &Pool{
		cfg:          cfg,
		factory:      factory,
		inUse:        make(map[string]*Session),
		effectiveCap: cfg.Capacity,
	}
}

// Acquire blocks until a session is available. If ctx carries no
// deadline the pool's default timeout applies. Waiters are served in
// priority order; recovery waiters are promoted after they age past
// the configured threshold so reconciliation is delayed, not starved.
// Returns ErrSessionExhausted when the deadline passes first.
func (p *Pool) Acquire(ctx context.Context, priority Priority, holder string) (*Session, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DefaultTimeout())
		defer cancel()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("acquire: pool is shut down")
	}

	if s := p.popIdleLocked(); s != nil {
		p.checkoutLocked(s, holder)
		p.mu.Unlock()
		return s, nil
	}

	if p.live < p.effectiveCap {
		p.live++
		p.mu.Unlock()
		s, err := p.factory(ctx)
		p.mu.Lock()
		if err != nil {
			p.live--
			p.dispatchLocked()
			p.mu.Unlock()
			return nil, fmt.Errorf("create session: %w", err)
		}
		p.created++
		p.checkoutLocked(s, holder)
		p.mu.Unlock()
		logging.Pool("session %s created for %s", s.ID, holder)
		return s, nil
	}

	w := &waiter{
		priority: priority,
		holder:   holder,
		enqueued: time.Now(),
		result:   make(chan acquireResult, 1),
	}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	logging.PoolDebug("pool saturated, %s waiting at %s priority", holder, priority)

	select {
	case res := <-w.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.session, nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiterLocked(w)
		p.timedOut++
		p.mu.Unlock()
		if !removed {
			// A session was dispatched concurrently with the timeout.
			// Hand it straight back so it is not leaked.
			go func() {
				if res := <-w.result; res.session != nil {
					p.Release(res.session, HealthHealthy)
				}
			}()
		}
		logging.Pool("acquire timed out for %s (%s priority)", holder, priority)
		return nil, fmt.Errorf("acquire for %s: %w", holder, types.ErrSessionExhausted)
	}
}

// Release returns a session to the pool. Healthy and degraded sessions
// go back to the idle set; stuck sessions are destroyed and never
// reused. Replenishment is lazy: a destroyed session is only replaced
// when a later Acquire needs it.
func (p *Pool) Release(s *Session, health Health) {
	if s == nil {
		return
	}

	p.mu.Lock()
	delete(p.inUse, s.ID)
	s.holder = ""
	s.lastUsed = time.Now()

	switch health {
	case HealthStuck:
		p.live--
		p.destroyed++
		p.stuck++
		p.stuckStreak++
		if p.stuckStreak >= p.cfg.StuckShrinkThreshold && p.effectiveCap > 1 {
			p.effectiveCap--
			p.stuckStreak = 0
			logging.Pool("effective capacity shrunk to %d after repeated stuck sessions", p.effectiveCap)
		}
		p.dispatchLocked()
		p.mu.Unlock()
		logging.Pool("session %s destroyed (stuck)", s.ID)
		s.close()
		return
	case HealthHealthy:
		p.stuckStreak = 0
	case HealthDegraded:
		// Counted against the streak only when it turns into stuck.
	}

	if p.closed || p.live > p.effectiveCap {
		// Over capacity after a shrink: retire instead of pooling.
		p.live--
		p.destroyed++
		p.mu.Unlock()
		s.close()
		return
	}

	p.idle = append(p.idle, s)
	p.dispatchLocked()
	p.mu.Unlock()
}

// CriticalTimeout is the extended budget for identifier-critical
// operations, where cancellation risks a post with no identifier.
func (p *Pool) CriticalTimeout() time.Duration {
	return p.cfg.CriticalTimeout()
}

// Stats reports pool counters for the status command.
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"capacity":           p.cfg.Capacity,
		"effective_capacity": p.effectiveCap,
		"idle":               len(p.idle),
		"in_use":             len(p.inUse),
		"waiting":            len(p.waiters),
		"created":            p.created,
		"destroyed":          p.destroyed,
		"acquired":           p.acquired,
		"timed_out":          p.timedOut,
		"stuck":              p.stuck,
	}
}

// Shutdown fails pending waiters, closes every pooled session and the
// shared browser. In-use sessions are closed as their borrowers release
// them.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	browser := p.browser
	p.browser = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.result <- acquireResult{err: fmt.Errorf("acquire for %s: pool is shut down", w.holder)}
	}
	for _, s := range idle {
		s.close()
	}
	if browser != nil {
		_ = browser.Close()
	}
	logging.Pool("pool shut down, %d sessions closed, %d waiters failed", len(idle), len(waiters))
}

func (p *Pool) popIdleLocked() *Session {
	if len(p.idle) == 0 {
		return nil
	}
	s := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return s
}

func (p *Pool) checkoutLocked(s *Session, holder string) {
	s.holder = holder
	s.lastUsed = time.Now()
	p.inUse[s.ID] = s
	p.acquired++
}

// dispatchLocked hands idle sessions (or free capacity) to waiters.
// Creation for a waiter happens off-lock; the waiter's buffered result
// channel means delivery never blocks even if it already timed out.
func (p *Pool) dispatchLocked() {
	for len(p.waiters) > 0 {
		if s := p.popIdleLocked(); s != nil {
			w := p.takeWaiterLocked()
			p.checkoutLocked(s, w.holder)
			w.result <- acquireResult{session: s}
			continue
		}
		if p.live < p.effectiveCap {
			w := p.takeWaiterLocked()
			p.live++
			go p.createFor(w)
			continue
		}
		return
	}
}

func (p *Pool) createFor(w *waiter) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DefaultTimeout())
	defer cancel()
	s, err := p.factory(ctx)

	p.mu.Lock()
	if err != nil {
		p.live--
		p.dispatchLocked()
		p.mu.Unlock()
		w.result <- acquireResult{err: fmt.Errorf("create session: %w", err)}
		return
	}
	p.created++
	p.checkoutLocked(s, w.holder)
	p.mu.Unlock()
	w.result <- acquireResult{session: s}
}

// takeWaiterLocked removes and returns the best waiter: posting before
// recovery, except that a recovery waiter older than the aging
// threshold is treated as posting priority. Ties go to the earliest
// enqueued.
func (p *Pool) takeWaiterLocked() *waiter {
	now := time.Now()
	best := 0
	for i := 1; i < len(p.waiters); i++ {
		if p.effectivePriority(p.waiters[i], now) > p.effectivePriority(p.waiters[best], now) {
			best = i
		} else if p.effectivePriority(p.waiters[i], now) == p.effectivePriority(p.waiters[best], now) &&
			p.waiters[i].enqueued.Before(p.waiters[best].enqueued) {
			best = i
		}
	}
	w := p.waiters[best]
	p.waiters = append(p.waiters[:best], p.waiters[best+1:]...)
	return w
}

func (p *Pool) effectivePriority(w *waiter, now time.Time) Priority {
	if w.priority == PriorityRecovery && now.Sub(w.enqueued) >= p.cfg.AgingThreshold() {
		return PriorityPosting
	}
	return w.priority
}

func (p *Pool) removeWaiterLocked(target *waiter) bool {
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// launchSession opens an incognito page on the shared browser, sizing
// the viewport and navigating to the platform base URL.
func (p *Pool) launchSession(ctx context.Context, platform config.PlatformConfig) (*Session, error) {
	browser, err := p.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: platform.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             p.cfg.ViewportWidth,
		Height:            p.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.PoolDebug("set viewport: %v", err)
	}

	if err := page.Timeout(p.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("load %s: %w", platform.BaseURL, err)
	}

	return newSession(page), nil
}

// ensureBrowser connects to an existing Chrome via DebuggerURL or
// launches one. The connection is shared by every session and outlives
// the acquire that triggered it, so it is not bound to ctx.
func (p *Pool) ensureBrowser(_ context.Context) (*rod.Browser, error) {
	p.mu.Lock()
	if p.browser != nil {
		b := p.browser
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(p.cfg.Headless)
		if p.cfg.ChromeBin != "" {
			launch = launch.Bin(p.cfg.ChromeBin)
		}
		url, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	p.mu.Lock()
	if p.browser != nil {
		// Another Acquire won the race; use its connection.
		b := p.browser
		p.mu.Unlock()
		_ = browser.Close()
		return b, nil
	}
	p.browser = browser
	p.mu.Unlock()
	logging.Pool("browser connected at %s", controlURL)
	return browser, nil
}
