package store

import (
	"database/sql"
	"fmt"
	"time"

	"plume/internal/types"
)

// RecordOutcome persists the outcome for an intent. Outcomes are
// immutable: the first write wins and later writes for the same decision
// id are ignored, so a scheduler worker and a reconciler sweep racing on
// the same intent can never rewrite history.
func (s *Store) RecordOutcome(o types.PostOutcome) error {
	if o.DecisionID == "" {
		return fmt.Errorf("outcome missing decision id")
	}
	recorded := o.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO outcomes (decision_id, identifier, confidence, strategy, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO NOTHING`,
		o.DecisionID, o.Identifier, o.Confidence.String(), string(o.Strategy), o.Err, recorded.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.DecisionID, err)
	}
	return nil
}

// GetOutcome loads the outcome for a decision id, or nil if none exists.
func (s *Store) GetOutcome(decisionID string) (*types.PostOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o          types.PostOutcome
		confidence string
		strategy   string
		recorded   int64
	)
	err := s.db.QueryRow(`
		SELECT decision_id, identifier, confidence, strategy, error, recorded_at
		FROM outcomes WHERE decision_id = ?`, decisionID,
	).Scan(&o.DecisionID, &o.Identifier, &confidence, &strategy, &o.Err, &recorded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conf, err := types.ParseConfidence(confidence)
	if err != nil {
		return nil, fmt.Errorf("outcome %s: %w", decisionID, err)
	}
	o.Confidence = conf
	o.Strategy = types.ExtractionStrategy(strategy)
	o.RecordedAt = time.UnixMilli(recorded)
	return &o, nil
}
