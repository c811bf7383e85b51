package config

import (
	"fmt"
	"time"
)

// ExecutorConfig configures platform interaction.
type ExecutorConfig struct {
	// ElementTimeoutMs bounds each DOM lookup before it is classified as
	// a transient failure.
	ElementTimeoutMs int `yaml:"element_timeout_ms"`

	// SubmitSettleMs is the short pause after the submit click before the
	// executor reads the page URL. This is not the confirmation wait: the
	// extractor owns the progressive checkpoints.
	SubmitSettleMs int `yaml:"submit_settle_ms"`

	// TypeDelayMs slows keystroke injection slightly so the platform's
	// input handlers keep up.
	TypeDelayMs int `yaml:"type_delay_ms"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ElementTimeoutMs: 10000,
		SubmitSettleMs:   1500,
		TypeDelayMs:      20,
	}
}

// Validate checks the executor section.
func (e *ExecutorConfig) Validate() error {
	if e.ElementTimeoutMs < 100 {
		return fmt.Errorf("element_timeout_ms must be >= 100")
	}
	if e.SubmitSettleMs < 0 {
		return fmt.Errorf("submit_settle_ms must be >= 0")
	}
	return nil
}

// ElementTimeout returns the per-lookup budget.
func (e *ExecutorConfig) ElementTimeout() time.Duration {
	return time.Duration(e.ElementTimeoutMs) * time.Millisecond
}

// SubmitSettle returns the post-click settle pause.
func (e *ExecutorConfig) SubmitSettle() time.Duration {
	return time.Duration(e.SubmitSettleMs) * time.Millisecond
}
