package config

import (
	"fmt"
	"time"
)

// ExtractionConfig configures the identifier extraction chain. Both
// schedules are progressive by design: a missed confirmation is usually
// platform-side indexing lag, not failure, so later attempts wait longer
// rather than giving up sooner.
type ExtractionConfig struct {
	// NetworkCheckpointsMs are the points (relative to submission) at
	// which the capture buffer is re-examined for the confirming
	// response. First match wins.
	NetworkCheckpointsMs []int `yaml:"network_checkpoints_ms"`

	// ScrapeDelaysMs are the waits before each profile-listing scrape
	// attempt. The attempt count is the length of the slice.
	ScrapeDelaysMs []int `yaml:"scrape_delays_ms"`

	// RecentMatchLimit caps how many listing entries are considered when
	// matching by content.
	RecentMatchLimit int `yaml:"recent_match_limit"`
}

// DefaultExtractionConfig returns the baseline schedules.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		NetworkCheckpointsMs: []int{2000, 5000, 10000, 20000},
		ScrapeDelaysMs:       []int{3000, 8000, 13000, 18000, 25000},
		RecentMatchLimit:     20,
	}
}

// Validate checks the extraction section.
func (e *ExtractionConfig) Validate() error {
	if len(e.NetworkCheckpointsMs) == 0 {
		return fmt.Errorf("network_checkpoints_ms must not be empty")
	}
	if len(e.ScrapeDelaysMs) == 0 {
		return fmt.Errorf("scrape_delays_ms must not be empty")
	}
	for i := 1; i < len(e.NetworkCheckpointsMs); i++ {
		if e.NetworkCheckpointsMs[i] <= e.NetworkCheckpointsMs[i-1] {
			return fmt.Errorf("network_checkpoints_ms must be strictly increasing")
		}
	}
	if e.RecentMatchLimit < 1 {
		return fmt.Errorf("recent_match_limit must be >= 1")
	}
	return nil
}

// NetworkCheckpoints returns the checkpoint schedule as durations.
func (e *ExtractionConfig) NetworkCheckpoints() []time.Duration {
	return msDurations(e.NetworkCheckpointsMs)
}

// ScrapeDelays returns the scrape schedule as durations.
func (e *ExtractionConfig) ScrapeDelays() []time.Duration {
	return msDurations(e.ScrapeDelaysMs)
}

func msDurations(ms []int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, m := range ms {
		out[i] = time.Duration(m) * time.Millisecond
	}
	return out
}
