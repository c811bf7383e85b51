package config

import (
	"fmt"
	"time"
)

// RateLimitConfig configures the rolling-window posting cap.
type RateLimitConfig struct {
	// MaxPosts is the cap per rolling window.
	MaxPosts int `yaml:"max_posts"`
	// WindowMinutes is the rolling window length.
	WindowMinutes int `yaml:"window_minutes"`
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPosts:      10,
		WindowMinutes: 60,
	}
}

// Validate checks the rate-limit section.
func (r *RateLimitConfig) Validate() error {
	if r.MaxPosts < 1 {
		return fmt.Errorf("rate_limit max_posts must be >= 1")
	}
	if r.WindowMinutes < 1 {
		return fmt.Errorf("rate_limit window_minutes must be >= 1")
	}
	return nil
}

// Window returns the rolling window as a duration.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}
