// Package recovery owns the reconciliation sweep: it settles
// write-ahead records the posting loop never closed (crash, timeout)
// and escalates intents that have sat unresolved too long. It never
// resubmits anything. Its only moves are post-hoc extraction, store
// transitions, and alerts.
package recovery

import (
	"context"
	"time"

	"plume/internal/browser"
	"plume/internal/config"
	"plume/internal/extract"
	"plume/internal/logging"
	"plume/internal/types"
	"plume/internal/walog"
)

// DecisionStore is the slice of the store the reconciler needs.
type DecisionStore interface {
	GetIntent(decisionID string) (*types.PostIntent, error)
	AwaitingSince(olderThan time.Time) ([]*types.PostIntent, error)
	TransitionStatus(decisionID string, from types.StatusCode, to types.IntentStatus) (bool, error)
	SetIdentifier(decisionID, identifier string, confidence types.Confidence) error
	RecordOutcome(o types.PostOutcome) error
}

// AheadLog is the write-ahead log surface the reconciler needs.
type AheadLog interface {
	Unverified(olderThan time.Time) []walog.Record
	MarkVerified(decisionID string) error
	Compact() error
}

// SessionPool is the slice of the browser pool the reconciler needs.
type SessionPool interface {
	Acquire(ctx context.Context, priority browser.Priority, holder string) (*browser.Session, error)
	Release(s *browser.Session, health browser.Health)
}

// PostHocExtractor resolves identifiers without a capture buffer.
type PostHocExtractor interface {
	ExtractPostHoc(ctx context.Context, probe extract.Prober, intent *types.PostIntent) (extract.Outcome, error)
}

// AlertSink receives escalations. The default sink logs; operators plug
// in their own.
type AlertSink interface {
	Escalate(e types.Escalation)
}

// LogSink is the default alert sink.
type LogSink struct{}

func (LogSink) Escalate(e types.Escalation) {
	logging.Recovery("ESCALATION: intent %s unresolved for %ds (last state %s)",
		e.DecisionID, e.AgeSeconds, e.LastKnownState)
}

// compactEvery is the sweep count between write-ahead log compactions.
const compactEvery = 12

// Reconciler runs the sweep.
type Reconciler struct {
	cfg       config.RecoveryConfig
	platform  config.PlatformConfig
	store     DecisionStore
	wal       AheadLog
	pool      SessionPool
	extractor PostHocExtractor
	sink      AlertSink

	proberFor func(s *browser.Session) extract.Prober
	now       func() time.Time

	lastEscalated map[string]time.Time
	sweeps        int
}

// New wires the reconciler. A nil sink gets the logging default.
func New(cfg config.RecoveryConfig, platform config.PlatformConfig, store DecisionStore, wal AheadLog, pool SessionPool, extractor PostHocExtractor, sink AlertSink) *Reconciler {
	if sink == nil {
		sink = LogSink{}
	}
	r := &Reconciler{
		cfg:           cfg,
		platform:      platform,
		store:         store,
		wal:           wal,
		pool:          pool,
		extractor:     extractor,
		sink:          sink,
		now:           time.Now,
		lastEscalated: make(map[string]time.Time),
	}
	r.proberFor = func(s *browser.Session) extract.Prober {
		return extract.NewSessionProber(s, platform)
	}
	return r
}

// Run sweeps on a fixed interval until ctx is cancelled. The sweep runs
// concurrently with the posting loop; every intent mutation goes through
// a conditional transition, so the two can never double-act.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval())
	defer ticker.Stop()
	logging.Recovery("reconciler started: sweep every %s, grace %s, escalate after %s",
		r.cfg.SweepInterval(), r.cfg.GracePeriod(), r.cfg.EscalationAfter())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	now := r.now()
	timer := logging.StartTimer(logging.CategoryRecovery, "sweep")
	defer timer.Stop()

	r.reconcileWAL(ctx, now)
	r.escalate(now)

	r.sweeps++
	if r.sweeps%compactEvery == 0 {
		if err := r.wal.Compact(); err != nil {
			logging.Recovery("wal compact: %v", err)
		}
	}
}

// reconcileWAL settles every unverified record older than the grace
// period against the decision store.
func (r *Reconciler) reconcileWAL(ctx context.Context, now time.Time) {
	records := r.wal.Unverified(now.Add(-r.cfg.GracePeriod()))
	if len(records) == 0 {
		return
	}
	logging.Recovery("%d unverified write-ahead records past grace", len(records))

	// One recovery session serves the whole pass; acquired only when a
	// record actually needs extraction.
	var session *browser.Session
	defer func() {
		if session != nil {
			r.pool.Release(session, browser.HealthHealthy)
		}
	}()

	for _, rec := range records {
		intent, err := r.store.GetIntent(rec.DecisionID)
		if err != nil {
			logging.Recovery("load intent %s: %v", rec.DecisionID, err)
			continue
		}
		if intent == nil {
			logging.Recovery("write-ahead record %s has no intent; leaving for inspection", rec.DecisionID)
			continue
		}

		switch intent.Status.Code {
		case types.StatusPosted, types.StatusFailed:
			// The store already settled; the record just never got its
			// marker.
			r.markVerified(intent.DecisionID)

		case types.StatusQueued:
			// Crash before the claim: nothing was submitted, the intent
			// will be picked up again by the posting loop.
			r.markVerified(intent.DecisionID)

		case types.StatusPosting, types.StatusAwaitingConfirmation:
			if session == nil {
				session, err = r.pool.Acquire(ctx, browser.PriorityRecovery, "recovery")
				if err != nil {
					logging.Recovery("acquire recovery session: %v", err)
					return
				}
			}
			r.recoverIntent(ctx, session, intent)
		}
	}
}

// recoverIntent attempts post-hoc extraction for an intent whose
// submission outcome is unknown.
func (r *Reconciler) recoverIntent(ctx context.Context, session *browser.Session, intent *types.PostIntent) {
	id := intent.DecisionID
	from := intent.Status.Code

	out, err := r.extractor.ExtractPostHoc(ctx, r.proberFor(session), intent)
	if err != nil {
		// Still ambiguous. A posting intent is parked as awaiting so the
		// escalation clock starts; an awaiting one just keeps waiting.
		if from == types.StatusPosting {
			if ok, terr := r.store.TransitionStatus(id, from, types.AwaitingConfirmation()); terr != nil || !ok {
				logging.Recovery("park %s: ok=%v err=%v", id, ok, terr)
			}
		}
		logging.RecoveryDebug("post-hoc extraction for %s: %v", id, err)
		return
	}

	if !out.Confidence.Sufficient() {
		if serr := r.store.SetIdentifier(id, out.Identifier, out.Confidence); serr != nil {
			logging.Recovery("store hint for %s: %v", id, serr)
		}
		if from == types.StatusPosting {
			if ok, terr := r.store.TransitionStatus(id, from, types.AwaitingConfirmation()); terr != nil || !ok {
				logging.Recovery("park %s: ok=%v err=%v", id, ok, terr)
			}
		}
		return
	}

	if serr := r.store.SetIdentifier(id, out.Identifier, out.Confidence); serr != nil {
		logging.Recovery("set identifier for %s: %v", id, serr)
	}
	ok, err := r.store.TransitionStatus(id, from, types.Posted(out.Confidence))
	if err != nil || !ok {
		// The posting loop got there first. Fine: the record will be
		// settled on the next pass against the new status.
		logging.Recovery("transition %s to posted: ok=%v err=%v", id, ok, err)
		return
	}
	r.markVerified(id)
	if rerr := r.store.RecordOutcome(types.PostOutcome{
		DecisionID: id,
		Identifier: out.Identifier,
		Confidence: out.Confidence,
		Strategy:   out.Strategy,
		RecordedAt: r.now(),
	}); rerr != nil {
		logging.Recovery("record outcome %s: %v", id, rerr)
	}
	logging.Recovery("%s recovered as %s (%s, %s)", id, out.Identifier, out.Strategy, out.Confidence)
}

// escalate alerts on intents that have been awaiting confirmation past
// the threshold. Age is measured from the park time, so the hint
// refreshes recoverIntent writes on each sweep cannot reset the clock.
// The intent's status is never changed here: an escalated intent is a
// human's problem, not a machine's guess.
func (r *Reconciler) escalate(now time.Time) {
	intents, err := r.store.AwaitingSince(now.Add(-r.cfg.EscalationAfter()))
	if err != nil {
		logging.Recovery("list awaiting intents: %v", err)
		return
	}
	overdue := make(map[string]bool, len(intents))
	for _, intent := range intents {
		overdue[intent.DecisionID] = true
		if last, ok := r.lastEscalated[intent.DecisionID]; ok && now.Sub(last) < r.cfg.EscalationAfter() {
			continue
		}
		r.lastEscalated[intent.DecisionID] = now
		parked := intent.CompletedAt
		if parked.IsZero() {
			parked = intent.UpdatedAt
		}
		r.sink.Escalate(types.Escalation{
			DecisionID:     intent.DecisionID,
			AgeSeconds:     int64(now.Sub(parked).Seconds()),
			LastKnownState: intent.Status.Code,
			EmittedAt:      now,
		})
	}
	// An intent that resolved or escaped the awaiting state no longer
	// needs a dedupe entry. Still-overdue intents always reappear in the
	// query, so dropping the rest keeps the map bounded.
	for id := range r.lastEscalated {
		if !overdue[id] {
			delete(r.lastEscalated, id)
		}
	}
}

func (r *Reconciler) markVerified(id string) {
	if err := r.wal.MarkVerified(id); err != nil {
		logging.Recovery("mark verified %s: %v", id, err)
	}
}
