package store

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"plume/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.EnqueueIntent(&types.PostIntent{
		DecisionID: id,
		Segments:   []string{"post body for " + id},
		Kind:       types.KindSingle,
	})
	if err != nil {
		t.Fatalf("EnqueueIntent(%s): %v", id, err)
	}
}

func TestEnqueueAndGet(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")

	intent, err := s.GetIntent("d1")
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if intent.Status.Code != types.StatusQueued {
		t.Errorf("status = %s, want queued", intent.Status.Code)
	}
	if len(intent.Segments) != 1 || intent.Segments[0] != "post body for d1" {
		t.Errorf("segments round-trip broken: %v", intent.Segments)
	}

	// Duplicate decision ids are rejected.
	if err := s.EnqueueIntent(&types.PostIntent{
		DecisionID: "d1", Segments: []string{"x"}, Kind: types.KindSingle,
	}); err == nil {
		t.Error("duplicate enqueue accepted")
	}
}

func TestDueIntentsRespectsSchedule(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.EnqueueIntent(&types.PostIntent{
		DecisionID: "future", Segments: []string{"later"}, Kind: types.KindSingle,
		ScheduledAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	enqueue(t, s, "ready")

	due, err := s.DueIntents(now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("DueIntents: %v", err)
	}
	if len(due) != 1 || due[0].DecisionID != "ready" {
		t.Fatalf("due = %v", due)
	}
}

func TestTransitionStatusConditional(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")

	ok, err := s.TransitionStatus("d1", types.StatusQueued, types.Posting())
	if err != nil || !ok {
		t.Fatalf("queued->posting: ok=%v err=%v", ok, err)
	}

	// Wrong source status loses cleanly, no error.
	ok, err = s.TransitionStatus("d1", types.StatusQueued, types.Posting())
	if err != nil {
		t.Fatalf("second transition errored: %v", err)
	}
	if ok {
		t.Error("transition from stale status succeeded")
	}

	ok, err = s.TransitionStatus("d1", types.StatusPosting, types.Posted(types.ConfidenceHigh))
	if err != nil || !ok {
		t.Fatalf("posting->posted: ok=%v err=%v", ok, err)
	}

	intent, err := s.GetIntent("d1")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Status.Code != types.StatusPosted || intent.Status.Confidence != types.ConfidenceHigh {
		t.Errorf("final status = %+v", intent.Status)
	}

	// Terminal statuses cannot be a transition source.
	if _, err := s.TransitionStatus("d1", types.StatusPosted, types.Queued()); err == nil {
		t.Error("transition out of terminal status accepted")
	}
}

func TestTransitionRejectsInvalidTarget(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")

	if _, err := s.TransitionStatus("d1", types.StatusQueued, types.Posted(types.ConfidenceLow)); err == nil {
		t.Error("posted(low) accepted at store boundary")
	}
	if _, err := s.TransitionStatus("d1", types.StatusQueued, types.IntentStatus{Code: types.StatusFailed}); err == nil {
		t.Error("failed without reason accepted at store boundary")
	}
}

// TestSingleFlight drives many concurrent claimants at one queued intent;
// the conditional transition must admit exactly one.
func TestSingleFlight(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")

	const claimants = 16
	var wg sync.WaitGroup
	wins := make(chan string, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.TransitionStatus("d1", types.StatusQueued, types.Posting())
			if err != nil {
				t.Errorf("claimant %d: %v", n, err)
				return
			}
			if ok {
				wins <- "won"
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d claimants won the queued->posting edge, want exactly 1", won)
	}
}

func TestReturnToQueueAndReschedule(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")

	if ok, _ := s.TransitionStatus("d1", types.StatusQueued, types.Posting()); !ok {
		t.Fatal("claim failed")
	}

	notBefore := time.Now().Add(30 * time.Second)
	ok, err := s.ReturnToQueue("d1", 2, notBefore)
	if err != nil || !ok {
		t.Fatalf("ReturnToQueue: ok=%v err=%v", ok, err)
	}

	intent, _ := s.GetIntent("d1")
	if intent.Status.Code != types.StatusQueued || intent.Attempts != 2 {
		t.Errorf("requeued intent = status %s attempts %d", intent.Status.Code, intent.Attempts)
	}

	// Not due until the backoff expires.
	due, _ := s.DueIntents(time.Now(), 10)
	if len(due) != 0 {
		t.Error("backed-off intent reported due")
	}
	due, _ = s.DueIntents(notBefore.Add(time.Second), 10)
	if len(due) != 1 {
		t.Error("intent not due after backoff expiry")
	}

	// Reschedule only touches queued intents.
	ok, err = s.Reschedule("d1", time.Now().Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("Reschedule: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.TransitionStatus("d1", types.StatusQueued, types.Posting()); !ok {
		t.Fatal("reclaim failed")
	}
	if ok, _ := s.Reschedule("d1", time.Now()); ok {
		t.Error("Reschedule touched a posting intent")
	}
}

func TestCountInWindow(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"p1", "p2", "a1", "q1"} {
		enqueue(t, s, id)
	}
	for _, id := range []string{"p1", "p2", "a1"} {
		if ok, _ := s.TransitionStatus(id, types.StatusQueued, types.Posting()); !ok {
			t.Fatalf("claim %s failed", id)
		}
	}
	s.TransitionStatus("p1", types.StatusPosting, types.Posted(types.ConfidenceHigh))
	s.TransitionStatus("p2", types.StatusPosting, types.Posted(types.ConfidenceMedium))
	// Awaiting-confirmation posts count: they may exist on the platform.
	s.TransitionStatus("a1", types.StatusPosting, types.AwaitingConfirmation())

	count, err := s.CountInWindow(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountInWindow: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3 (2 posted + 1 awaiting)", count)
	}

	count, _ = s.CountInWindow(time.Now().Add(time.Minute))
	if count != 0 {
		t.Errorf("future window count = %d, want 0", count)
	}
}

func TestAwaitingSince(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")
	s.TransitionStatus("d1", types.StatusQueued, types.Posting())
	s.TransitionStatus("d1", types.StatusPosting, types.AwaitingConfirmation())

	stale, err := s.AwaitingSince(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].DecisionID != "d1" {
		t.Fatalf("AwaitingSince = %v", stale)
	}

	fresh, _ := s.AwaitingSince(time.Now().Add(-time.Hour))
	if len(fresh) != 0 {
		t.Error("fresh awaiting intent reported stale")
	}
}

// TestAwaitingSinceKeyedOnParkTime pins the escalation clock to the park
// transition: identifier updates after parking bump updated_at but must
// not push the intent back under the cutoff.
func TestAwaitingSinceKeyedOnParkTime(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")
	s.TransitionStatus("d1", types.StatusQueued, types.Posting())
	s.TransitionStatus("d1", types.StatusPosting, types.AwaitingConfirmation())

	// A sweep just refreshed the hint, touching updated_at.
	if err := s.SetIdentifier("d1", "42", types.ConfidenceLow); err != nil {
		t.Fatal(err)
	}
	parked := time.Now().Add(-2 * time.Hour)
	if _, err := s.DB().Exec(
		"UPDATE intents SET completed_at = ? WHERE decision_id = ?",
		parked.UnixMilli(), "d1",
	); err != nil {
		t.Fatal(err)
	}

	stale, err := s.AwaitingSince(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].DecisionID != "d1" {
		t.Fatalf("AwaitingSince = %v, want the long-parked intent", stale)
	}
	if got := stale[0].CompletedAt; got.Sub(parked).Abs() > time.Second {
		t.Errorf("CompletedAt = %v, want ~%v", got, parked)
	}
}

// TestParkKeepsHintConfidence: a below-grade extraction stores its hint
// before the intent is parked; the park transition must not erase the
// hint's grade.
func TestParkKeepsHintConfidence(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")
	s.TransitionStatus("d1", types.StatusQueued, types.Posting())

	if err := s.SetIdentifier("d1", "42", types.ConfidenceLow); err != nil {
		t.Fatal(err)
	}
	ok, err := s.TransitionStatus("d1", types.StatusPosting, types.AwaitingConfirmation())
	if err != nil || !ok {
		t.Fatalf("park: ok=%v err=%v", ok, err)
	}

	intent, err := s.GetIntent("d1")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Identifier != "42" || intent.Status.Confidence != types.ConfidenceLow {
		t.Errorf("parked intent = identifier %q confidence %s, want hint preserved",
			intent.Identifier, intent.Status.Confidence)
	}

	// The posted transition still owns the column.
	s.TransitionStatus("d1", types.StatusAwaitingConfirmation, types.Posted(types.ConfidenceHigh))
	intent, _ = s.GetIntent("d1")
	if intent.Status.Confidence != types.ConfidenceHigh {
		t.Errorf("posted confidence = %s, want high", intent.Status.Confidence)
	}
}

func TestOutcomeImmutable(t *testing.T) {
	s := newTestStore(t)

	first := types.PostOutcome{
		DecisionID: "d1",
		Identifier: "1001",
		Confidence: types.ConfidenceHigh,
		Strategy:   types.StrategyNetwork,
	}
	if err := s.RecordOutcome(first); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	// A later conflicting write is silently ignored.
	second := first
	second.Identifier = "9999"
	second.Confidence = types.ConfidenceLow
	if err := s.RecordOutcome(second); err != nil {
		t.Fatalf("second RecordOutcome: %v", err)
	}

	got, err := s.GetOutcome("d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Identifier != "1001" || got.Confidence != types.ConfidenceHigh {
		t.Errorf("outcome mutated: %+v", got)
	}
	if got.Strategy != types.StrategyNetwork {
		t.Errorf("strategy = %s", got.Strategy)
	}

	missing, err := s.GetOutcome("ghost")
	if err != nil || missing != nil {
		t.Errorf("missing outcome: %v, %v", missing, err)
	}
}

func TestSetLastURLAndIdentifier(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")

	if err := s.SetLastURL("d1", "https://platform.example/bot/status/42"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetIdentifier("d1", "42", types.ConfidenceHigh); err != nil {
		t.Fatal(err)
	}

	intent, _ := s.GetIntent("d1")
	if intent.LastURL == "" || intent.Identifier != "42" {
		t.Errorf("intent = lastURL %q identifier %q", intent.LastURL, intent.Identifier)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "d1")
	enqueue(t, s, "d2")
	s.TransitionStatus("d1", types.StatusQueued, types.Posting())

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats["intents_queued"] != 1 || stats["intents_posting"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestIntentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := &types.PostIntent{
		DecisionID:  "rt1",
		Segments:    []string{"first part", "second part"},
		Kind:        types.KindThread,
		ScheduledAt: time.Now().Add(time.Hour).Truncate(time.Millisecond),
		Status:      types.Queued(),
	}
	if err := s.EnqueueIntent(want); err != nil {
		t.Fatalf("EnqueueIntent: %v", err)
	}

	got, err := s.GetIntent("rt1")
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	ignore := cmpopts.IgnoreFields(types.PostIntent{}, "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(want, got, ignore, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("intent round-trip mismatch (-want +got):\n%s", diff)
	}
}
