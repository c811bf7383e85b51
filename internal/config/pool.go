package config

import (
	"fmt"
	"time"
)

// PoolConfig configures the browser session pool.
type PoolConfig struct {
	// Capacity is the hard upper bound on concurrent sessions, and
	// therefore on concurrent UI actions.
	Capacity int `yaml:"capacity"`

	// DefaultTimeoutMs bounds ordinary operations; identifier-critical
	// operations get DefaultTimeout * CriticalTimeoutFactor, because
	// cancelling one of those risks a post with no recorded identifier.
	DefaultTimeoutMs      int `yaml:"default_timeout_ms"`
	CriticalTimeoutFactor int `yaml:"critical_timeout_factor"`

	// AgingThresholdMs is how long a recovery-priority waiter queues
	// before it is promoted past fresh posting work.
	AgingThresholdMs int `yaml:"aging_threshold_ms"`

	// StuckShrinkThreshold is the number of consecutive stuck releases
	// after which the effective capacity drops by one (floor 1).
	StuckShrinkThreshold int `yaml:"stuck_shrink_threshold"`

	// Browser launch settings.
	Headless            bool   `yaml:"headless"`
	DebuggerURL         string `yaml:"debugger_url"`
	ChromeBin           string `yaml:"chrome_bin"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Capacity:              3,
		DefaultTimeoutMs:      30000,
		CriticalTimeoutFactor: 5,
		AgingThresholdMs:      60000,
		StuckShrinkThreshold:  3,
		Headless:              true,
		NavigationTimeoutMs:   30000,
		ViewportWidth:         1280,
		ViewportHeight:        900,
	}
}

// Validate checks the pool section.
func (p *PoolConfig) Validate() error {
	if p.Capacity < 1 {
		return fmt.Errorf("pool capacity must be >= 1")
	}
	if p.DefaultTimeoutMs < 1000 {
		return fmt.Errorf("pool default_timeout_ms must be >= 1000")
	}
	if p.CriticalTimeoutFactor < 1 {
		return fmt.Errorf("critical_timeout_factor must be >= 1")
	}
	if p.StuckShrinkThreshold < 1 {
		return fmt.Errorf("stuck_shrink_threshold must be >= 1")
	}
	return nil
}

// DefaultTimeout returns the ordinary operation budget.
func (p *PoolConfig) DefaultTimeout() time.Duration {
	return time.Duration(p.DefaultTimeoutMs) * time.Millisecond
}

// CriticalTimeout returns the extended budget for identifier-critical
// operations.
func (p *PoolConfig) CriticalTimeout() time.Duration {
	return p.DefaultTimeout() * time.Duration(p.CriticalTimeoutFactor)
}

// AgingThreshold returns the waiter promotion threshold.
func (p *PoolConfig) AgingThreshold() time.Duration {
	return time.Duration(p.AgingThresholdMs) * time.Millisecond
}

// NavigationTimeout returns the page navigation budget.
func (p *PoolConfig) NavigationTimeout() time.Duration {
	return time.Duration(p.NavigationTimeoutMs) * time.Millisecond
}
