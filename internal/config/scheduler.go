package config

import (
	"fmt"
	"time"
)

// SchedulerConfig configures the posting loop and the shared retry
// policy consumed by both the scheduler and the reconciler.
type SchedulerConfig struct {
	Workers        int `yaml:"workers"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	FetchLimit     int `yaml:"fetch_limit"`

	// Retry policy.
	MaxAttempts        int `yaml:"max_attempts"`
	RetryBackoffBaseMs int `yaml:"retry_backoff_base_ms"`
	RetryBackoffMaxMs  int `yaml:"retry_backoff_max_ms"`

	// RateLimitRetryMs is how far a rate-limited intent is pushed before
	// the fetcher considers it again.
	RateLimitRetryMs int `yaml:"rate_limit_retry_ms"`
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:            2,
		PollIntervalMs:     5000,
		FetchLimit:         10,
		MaxAttempts:        4,
		RetryBackoffBaseMs: 5000,
		RetryBackoffMaxMs:  300000,
		RateLimitRetryMs:   60000,
	}
}

// Validate checks the scheduler section.
func (s *SchedulerConfig) Validate() error {
	if s.Workers < 1 {
		return fmt.Errorf("scheduler workers must be >= 1")
	}
	if s.PollIntervalMs < 100 {
		return fmt.Errorf("poll_interval_ms must be >= 100")
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if s.RetryBackoffBaseMs < 1 {
		return fmt.Errorf("retry_backoff_base_ms must be >= 1")
	}
	if s.RetryBackoffMaxMs < s.RetryBackoffBaseMs {
		return fmt.Errorf("retry_backoff_max_ms must be >= retry_backoff_base_ms")
	}
	return nil
}

// PollInterval returns the fetcher cadence.
func (s *SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// RetryBackoffBase returns the exponential backoff base.
func (s *SchedulerConfig) RetryBackoffBase() time.Duration {
	return time.Duration(s.RetryBackoffBaseMs) * time.Millisecond
}

// RetryBackoffMax returns the backoff ceiling.
func (s *SchedulerConfig) RetryBackoffMax() time.Duration {
	return time.Duration(s.RetryBackoffMaxMs) * time.Millisecond
}

// RateLimitRetry returns the requeue delay after a rate-limit rejection.
func (s *SchedulerConfig) RateLimitRetry() time.Duration {
	return time.Duration(s.RateLimitRetryMs) * time.Millisecond
}
