// Package scheduler runs the posting loop: fetch due intents, admit
// them past the rate limiter, borrow a session, and drive the
// execute-extract pipeline. All durable state changes go through the
// decision store's conditional transitions, so concurrent workers and
// the recovery sweep can never both act on one intent.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"plume/internal/browser"
	"plume/internal/config"
	"plume/internal/extract"
	"plume/internal/logging"
	"plume/internal/types"
	"plume/internal/walog"
)

// DecisionStore is the slice of the store the scheduler needs.
type DecisionStore interface {
	DueIntents(now time.Time, limit int) ([]*types.PostIntent, error)
	TransitionStatus(decisionID string, from types.StatusCode, to types.IntentStatus) (bool, error)
	SetIdentifier(decisionID, identifier string, confidence types.Confidence) error
	SetLastURL(decisionID, url string) error
	ReturnToQueue(decisionID string, attempts int, notBefore time.Time) (bool, error)
	Reschedule(decisionID string, notBefore time.Time) (bool, error)
	RecordOutcome(o types.PostOutcome) error
}

// SessionPool is the slice of the browser pool the scheduler needs.
type SessionPool interface {
	Acquire(ctx context.Context, priority browser.Priority, holder string) (*browser.Session, error)
	Release(s *browser.Session, health browser.Health)
	CriticalTimeout() time.Duration
}

// ActionRunner performs the UI interaction for one intent.
type ActionRunner interface {
	Execute(ctx context.Context, s *browser.Session, intent *types.PostIntent) (*types.RawConfirmation, error)
}

// IdentifierExtractor resolves raw submission signals to an identifier.
type IdentifierExtractor interface {
	Extract(ctx context.Context, raw *types.RawConfirmation, probe extract.Prober, intent *types.PostIntent) (extract.Outcome, error)
}

// Admitter is the rate limiter surface.
type Admitter interface {
	Admit(decisionID string) error
	Commit(decisionID string)
	Cancel(decisionID string)
}

// AheadLog is the write-ahead log surface the scheduler needs.
type AheadLog interface {
	Append(decisionID, payloadHash string) error
	MarkVerified(decisionID string) error
}

// Scheduler owns the worker loop.
type Scheduler struct {
	cfg       config.SchedulerConfig
	platform  config.PlatformConfig
	store     DecisionStore
	pool      SessionPool
	runner    ActionRunner
	extractor IdentifierExtractor
	limiter   Admitter
	wal       AheadLog
	retry     *RetryPolicy

	// proberFor builds the listing prober for a borrowed session.
	// Overridden in tests.
	proberFor func(s *browser.Session) extract.Prober

	mu       sync.Mutex
	inFlight map[string]bool
	counters map[string]int
}

// New wires the scheduler.
func New(cfg config.SchedulerConfig, platform config.PlatformConfig, store DecisionStore, pool SessionPool, runner ActionRunner, extractor IdentifierExtractor, limiter Admitter, wal AheadLog) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		platform:  platform,
		store:     store,
		pool:      pool,
		runner:    runner,
		extractor: extractor,
		limiter:   limiter,
		wal:       wal,
		retry:     NewRetryPolicy(cfg),
		inFlight:  make(map[string]bool),
		counters:  make(map[string]int),
	}
	s.proberFor = func(sess *browser.Session) extract.Prober {
		return extract.NewSessionProber(sess, platform)
	}
	return s
}

// Retry exposes the shared policy so the reconciler uses the same
// arithmetic.
func (s *Scheduler) Retry() *RetryPolicy { return s.retry }

// Run blocks until ctx is cancelled: one fetcher feeding N workers.
func (s *Scheduler) Run(ctx context.Context) error {
	work := make(chan *types.PostIntent)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		ticker := time.NewTicker(s.cfg.PollInterval())
		defer ticker.Stop()
		for {
			s.fetch(ctx, work)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for intent := range work {
				s.Process(ctx, intent)
				s.mu.Lock()
				delete(s.inFlight, intent.DecisionID)
				s.mu.Unlock()
			}
			return nil
		})
	}

	logging.Scheduler("posting loop started: %d workers, poll %s", s.cfg.Workers, s.cfg.PollInterval())
	return g.Wait()
}

// fetch pushes due intents to the workers, skipping ones already being
// processed in this run.
func (s *Scheduler) fetch(ctx context.Context, work chan<- *types.PostIntent) {
	due, err := s.store.DueIntents(time.Now(), s.cfg.FetchLimit)
	if err != nil {
		logging.Scheduler("fetch due intents: %v", err)
		return
	}
	for _, intent := range due {
		s.mu.Lock()
		if s.inFlight[intent.DecisionID] {
			s.mu.Unlock()
			continue
		}
		s.inFlight[intent.DecisionID] = true
		s.mu.Unlock()

		select {
		case work <- intent:
		case <-ctx.Done():
			s.mu.Lock()
			delete(s.inFlight, intent.DecisionID)
			s.mu.Unlock()
			return
		}
	}
}

// Process runs the full pipeline for one due intent. Ordering is load
// bearing: admission first (cheap, reversible), then the session, then
// the durable write-ahead record, and only after all three the
// conditional claim and the UI interaction.
func (s *Scheduler) Process(ctx context.Context, intent *types.PostIntent) {
	id := intent.DecisionID

	if err := s.limiter.Admit(id); err != nil {
		if errors.Is(err, types.ErrRateLimited) {
			s.count("rate_limited")
			logging.Scheduler("%s rate limited, rescheduled", id)
			if _, err := s.store.Reschedule(id, time.Now().Add(s.retry.RateLimitRetry())); err != nil {
				logging.Scheduler("reschedule %s: %v", id, err)
			}
			return
		}
		logging.Scheduler("admit %s: %v", id, err)
		return
	}

	session, err := s.pool.Acquire(ctx, browser.PriorityPosting, id)
	if err != nil {
		// Pool pressure is not the intent's fault: the reservation is
		// returned and the intent stays due for the next poll.
		s.limiter.Cancel(id)
		s.count("pool_exhausted")
		logging.Scheduler("acquire for %s: %v", id, err)
		return
	}

	if err := s.wal.Append(id, walog.PayloadHash(intent.Segments)); err != nil {
		// Without a durable record a crash mid-submit would lose the
		// post. Do not touch the platform.
		s.limiter.Cancel(id)
		s.pool.Release(session, browser.HealthHealthy)
		logging.Scheduler("wal append for %s: %v", id, err)
		return
	}

	claimed, err := s.store.TransitionStatus(id, types.StatusQueued, types.Posting())
	if err != nil || !claimed {
		// Another worker or process owns it. The write-ahead record is
		// harmless: the reconciler resolves it against the store.
		s.limiter.Cancel(id)
		s.pool.Release(session, browser.HealthHealthy)
		if err != nil {
			logging.Scheduler("claim %s: %v", id, err)
		}
		return
	}

	s.count("claimed")
	// The critical budget covers extraction too: the capture buffer is
	// armed on this context and must stay live through the checkpoints.
	execCtx, cancel := context.WithTimeout(ctx, s.pool.CriticalTimeout())
	defer cancel()
	raw, execErr := s.runner.Execute(execCtx, session, intent)
	if raw == nil {
		raw = &types.RawConfirmation{DecisionID: id}
	}

	if raw.FinalURL != "" {
		if err := s.store.SetLastURL(id, raw.FinalURL); err != nil {
			logging.Scheduler("record last url for %s: %v", id, err)
		}
	}

	health := browser.HealthHealthy
	defer func() { s.pool.Release(session, health) }()

	switch {
	case execErr == nil:
		s.resolve(execCtx, session, intent, raw)

	case types.IsFatal(execErr):
		// The platform rejected the content. Definitive: record the
		// failure and close out the write-ahead record.
		s.fail(id, execErr.Error())
		s.limiter.Cancel(id)
		s.markVerified(id)

	case raw.Submitted:
		// The submit click happened, then something broke. Resubmitting
		// could double-post; extraction is the only safe move.
		logging.Scheduler("%s errored after submit (%v), resolving by extraction", id, execErr)
		if types.NeedsNewSession(execErr) {
			health = browser.HealthStuck
		}
		s.resolve(execCtx, session, intent, raw)

	default:
		// Nothing reached the platform. Retry is safe.
		if types.NeedsNewSession(execErr) {
			health = browser.HealthStuck
		} else {
			health = browser.HealthDegraded
		}
		s.limiter.Cancel(id)
		s.markVerified(id)
		s.requeue(intent, execErr)
	}
}

// resolve runs extraction for a submitted intent and routes the result.
// The intent is in posting status and the submission is presumed to
// have reached the platform.
func (s *Scheduler) resolve(ctx context.Context, session *browser.Session, intent *types.PostIntent, raw *types.RawConfirmation) {
	id := intent.DecisionID
	out, err := s.extractor.Extract(ctx, raw, s.proberFor(session), intent)

	switch {
	case err == nil && out.Confidence.Sufficient():
		if err := s.store.SetIdentifier(id, out.Identifier, out.Confidence); err != nil {
			logging.Scheduler("set identifier for %s: %v", id, err)
		}
		if ok, err := s.store.TransitionStatus(id, types.StatusPosting, types.Posted(out.Confidence)); err != nil || !ok {
			logging.Scheduler("transition %s to posted: ok=%v err=%v", id, ok, err)
			return
		}
		s.markVerified(id)
		s.limiter.Commit(id)
		s.recordOutcome(types.PostOutcome{
			DecisionID: id,
			Identifier: out.Identifier,
			Confidence: out.Confidence,
			Strategy:   out.Strategy,
			RecordedAt: time.Now(),
		})
		s.count("posted")
		logging.Scheduler("%s posted as %s (%s, %s)", id, out.Identifier, out.Strategy, out.Confidence)

	case err == nil:
		// A low-confidence identifier is a hint, not a confirmation.
		// Park the intent; the reconciler settles it.
		if err := s.store.SetIdentifier(id, out.Identifier, out.Confidence); err != nil {
			logging.Scheduler("set identifier hint for %s: %v", id, err)
		}
		s.park(id)

	default:
		if !errors.Is(err, types.ErrExtractionAmbiguous) {
			logging.Scheduler("extract %s: %v", id, err)
		}
		s.park(id)
	}
}

// park moves a submitted-but-unconfirmed intent to awaiting
// confirmation. The reservation is committed: the post may exist, so
// the rolling window must count it.
func (s *Scheduler) park(id string) {
	if ok, err := s.store.TransitionStatus(id, types.StatusPosting, types.AwaitingConfirmation()); err != nil || !ok {
		logging.Scheduler("park %s: ok=%v err=%v", id, ok, err)
		return
	}
	s.limiter.Commit(id)
	s.count("awaiting")
	logging.Scheduler("%s awaiting confirmation", id)
}

// requeue sends a failed-before-submit intent back to the queue with
// backoff, or fails it when the attempt budget is spent.
func (s *Scheduler) requeue(intent *types.PostIntent, cause error) {
	id := intent.DecisionID
	attempts := intent.Attempts + 1
	if s.retry.Exhausted(attempts) {
		s.fail(id, cause.Error())
		return
	}
	notBefore := s.retry.NextRetry(time.Now(), attempts)
	if ok, err := s.store.ReturnToQueue(id, attempts, notBefore); err != nil || !ok {
		logging.Scheduler("requeue %s: ok=%v err=%v", id, ok, err)
		return
	}
	s.count("retried")
	logging.Scheduler("%s returned to queue, attempt %d, not before %s", id, attempts, notBefore.Format(time.RFC3339))
}

func (s *Scheduler) fail(id, reason string) {
	if ok, err := s.store.TransitionStatus(id, types.StatusPosting, types.Failed(reason)); err != nil || !ok {
		logging.Scheduler("fail %s: ok=%v err=%v", id, ok, err)
		return
	}
	s.recordOutcome(types.PostOutcome{
		DecisionID: id,
		Err:        reason,
		Strategy:   types.StrategyNone,
		RecordedAt: time.Now(),
	})
	s.count("failed")
	logging.Scheduler("%s failed: %s", id, reason)
}

func (s *Scheduler) markVerified(id string) {
	if err := s.wal.MarkVerified(id); err != nil {
		logging.Scheduler("mark verified %s: %v", id, err)
	}
}

func (s *Scheduler) recordOutcome(o types.PostOutcome) {
	if err := s.store.RecordOutcome(o); err != nil {
		logging.Scheduler("record outcome %s: %v", o.DecisionID, err)
	}
}

func (s *Scheduler) count(key string) {
	s.mu.Lock()
	s.counters[key]++
	s.mu.Unlock()
}

// Stats reports loop counters for the status command.
func (s *Scheduler) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}
