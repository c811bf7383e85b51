package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"plume/internal/types"
)

// EnqueueIntent inserts a new intent in the queued state. The decision id
// must be unique; re-enqueueing an existing id is an error, not an
// update, because an intent's lifecycle is append-only.
func (s *Store) EnqueueIntent(intent *types.PostIntent) error {
	if intent.Status.Code == "" {
		intent.Status = types.Queued()
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	if intent.Status.Code != types.StatusQueued {
		return fmt.Errorf("intent %s: must be enqueued as queued, got %s", intent.DecisionID, intent.Status.Code)
	}

	segments, err := json.Marshal(intent.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	now := time.Now()
	scheduled := intent.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO intents (decision_id, segments, kind, target_id, scheduled_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.DecisionID, string(segments), string(intent.Kind), intent.TargetID,
		scheduled.UnixMilli(), string(types.StatusQueued), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue intent %s: %w", intent.DecisionID, err)
	}
	return nil
}

// GetIntent loads a single intent by decision id. Returns nil without
// error when no intent exists, so callers can treat a dangling reference
// as data, not failure.
func (s *Store) GetIntent(decisionID string) (*types.PostIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(intentSelect+" WHERE decision_id = ?", decisionID)
	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return intent, err
}

// DueIntents returns queued intents whose scheduled time has passed,
// oldest first. Claiming is the caller's job: nothing here is reserved,
// the conditional queued->posting transition is what wins the intent.
func (s *Store) DueIntents(now time.Time, limit int) ([]*types.PostIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		intentSelect+" WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at ASC LIMIT ?",
		string(types.StatusQueued), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntents(rows)
}

// AwaitingSince returns awaiting-confirmation intents parked before the
// cutoff. Age is measured from completed_at, which is stamped once at the
// park transition: later identifier or hint updates touch updated_at but
// never this clock.
func (s *Store) AwaitingSince(olderThan time.Time) ([]*types.PostIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		intentSelect+" WHERE status = ? AND completed_at <= ? ORDER BY completed_at ASC",
		string(types.StatusAwaitingConfirmation), olderThan.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntents(rows)
}

// TransitionStatus atomically moves an intent from one status to another.
// It returns false (with no error) when the intent was not in the
// expected source status, which is how concurrent workers lose the race
// cleanly. This conditional update is the single-flight primitive: at
// most one caller can ever win a given from->to edge.
func (s *Store) TransitionStatus(decisionID string, from types.StatusCode, to types.IntentStatus) (bool, error) {
	if err := to.Validate(); err != nil {
		return false, fmt.Errorf("transition %s: %w", decisionID, err)
	}
	if from == types.StatusPosted || from == types.StatusFailed {
		return false, fmt.Errorf("transition %s: %s is terminal", decisionID, from)
	}

	now := time.Now().UnixMilli()
	var completedAt interface{}
	if to.Code == types.StatusPosted || to.Code == types.StatusAwaitingConfirmation {
		completedAt = now
	}
	// Only the posted transition carries a meaningful confidence. Other
	// transitions leave the column alone so a stored hint grade survives
	// parking.
	var confidence interface{}
	if to.Code == types.StatusPosted {
		confidence = to.Confidence.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE intents
		SET status = ?, confidence = COALESCE(?, confidence), error = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE decision_id = ? AND status = ?`,
		string(to.Code), confidence, to.Reason, completedAt, now,
		decisionID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition %s %s->%s: %w", decisionID, from, to.Code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetIdentifier records the platform identifier on the intent row.
// Usually called together with the transition to posted.
func (s *Store) SetIdentifier(decisionID, identifier string, confidence types.Confidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE intents SET identifier = ?, confidence = ?, updated_at = ? WHERE decision_id = ?",
		identifier, confidence.String(), time.Now().UnixMilli(), decisionID,
	)
	return err
}

// SetLastURL stores the last URL observed during submission so post-hoc
// extraction can still try the URL strategy after a crash.
func (s *Store) SetLastURL(decisionID, url string) error {
	if url == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE intents SET last_url = ? WHERE decision_id = ?",
		url, decisionID,
	)
	return err
}

// ReturnToQueue moves a posting intent back to queued with an updated
// attempt counter and a not-before time (the retry backoff). Conditional
// on the intent still being in posting.
func (s *Store) ReturnToQueue(decisionID string, attempts int, notBefore time.Time) (bool, error) {
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE intents
		SET status = ?, attempts = ?, scheduled_at = ?, updated_at = ?
		WHERE decision_id = ? AND status = ?`,
		string(types.StatusQueued), attempts, notBefore.UnixMilli(), now,
		decisionID, string(types.StatusPosting),
	)
	if err != nil {
		return false, fmt.Errorf("requeue %s: %w", decisionID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Reschedule pushes a queued intent's not-before time forward, used when
// admission is refused by the rate limiter. Conditional on queued so it
// can never disturb an in-flight execution.
func (s *Store) Reschedule(decisionID string, notBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE intents SET scheduled_at = ?, updated_at = ?
		WHERE decision_id = ? AND status = ?`,
		notBefore.UnixMilli(), time.Now().UnixMilli(),
		decisionID, string(types.StatusQueued),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountInWindow counts intents that became platform-visible since the
// cutoff. Awaiting-confirmation intents count too: their post may well
// exist on the platform, so the rate limiter must assume it does.
func (s *Store) CountInWindow(since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM intents
		WHERE status IN (?, ?) AND completed_at >= ?`,
		string(types.StatusPosted), string(types.StatusAwaitingConfirmation), since.UnixMilli(),
	).Scan(&count)
	return count, err
}

const intentSelect = `
	SELECT decision_id, segments, kind, target_id, scheduled_at, status,
	       confidence, identifier, error, attempts, last_url, completed_at, created_at, updated_at
	FROM intents`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*types.PostIntent, error) {
	var (
		intent                        types.PostIntent
		segments, kind, status        string
		confidence                    string
		scheduledAt, created, updated int64
		completedAt                   sql.NullInt64
	)
	err := row.Scan(
		&intent.DecisionID, &segments, &kind, &intent.TargetID, &scheduledAt,
		&status, &confidence, &intent.Identifier, &intent.Status.Reason,
		&intent.Attempts, &intent.LastURL, &completedAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(segments), &intent.Segments); err != nil {
		return nil, fmt.Errorf("intent %s: corrupt segments: %w", intent.DecisionID, err)
	}
	intent.Kind = types.IntentKind(kind)
	intent.Status.Code = types.StatusCode(status)
	conf, err := types.ParseConfidence(confidence)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", intent.DecisionID, err)
	}
	intent.Status.Confidence = conf
	if intent.Status.Code != types.StatusFailed {
		intent.Status.Reason = ""
	}
	intent.ScheduledAt = time.UnixMilli(scheduledAt)
	if completedAt.Valid {
		intent.CompletedAt = time.UnixMilli(completedAt.Int64)
	}
	intent.CreatedAt = time.UnixMilli(created)
	intent.UpdatedAt = time.UnixMilli(updated)
	return &intent, nil
}

func scanIntents(rows *sql.Rows) ([]*types.PostIntent, error) {
	var out []*types.PostIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}
