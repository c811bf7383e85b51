package config

import (
	"fmt"
	"time"
)

// RecoveryConfig configures the reconciliation sweep.
type RecoveryConfig struct {
	// SweepIntervalMinutes is the cadence of the background sweep,
	// independent of the scheduler's own loop.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`

	// GracePeriodMinutes is how old an unverified write-ahead record must
	// be before the sweep reconciles it. Young records are usually still
	// in flight.
	GracePeriodMinutes int `yaml:"grace_period_minutes"`

	// EscalationAfterMinutes is how long an intent may sit unresolved
	// before an alert is emitted.
	EscalationAfterMinutes int `yaml:"escalation_after_minutes"`
}

// DefaultRecoveryConfig returns sensible defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		SweepIntervalMinutes:   5,
		GracePeriodMinutes:     10,
		EscalationAfterMinutes: 60,
	}
}

// Validate checks the recovery section.
func (r *RecoveryConfig) Validate() error {
	if r.SweepIntervalMinutes < 1 {
		return fmt.Errorf("sweep_interval_minutes must be >= 1")
	}
	if r.GracePeriodMinutes < 1 {
		return fmt.Errorf("grace_period_minutes must be >= 1")
	}
	if r.EscalationAfterMinutes < r.GracePeriodMinutes {
		return fmt.Errorf("escalation_after_minutes must be >= grace_period_minutes")
	}
	return nil
}

// SweepInterval returns the sweep cadence.
func (r *RecoveryConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// GracePeriod returns the reconciliation grace period.
func (r *RecoveryConfig) GracePeriod() time.Duration {
	return time.Duration(r.GracePeriodMinutes) * time.Minute
}

// EscalationAfter returns the escalation threshold.
func (r *RecoveryConfig) EscalationAfter() time.Duration {
	return time.Duration(r.EscalationAfterMinutes) * time.Minute
}
