package config

import (
	"fmt"
	"regexp"
	"strings"
)

// PlatformConfig describes the target platform's UI surface: URLs,
// selectors, and the patterns used to recognise post identifiers. The
// selectors are configuration because the platform ships DOM redesigns
// without notice; URL structure is the most redesign-stable signal.
type PlatformConfig struct {
	BaseURL    string `yaml:"base_url"`
	ComposeURL string `yaml:"compose_url"`
	// ProfileURLTemplate receives the account handle.
	ProfileURLTemplate string `yaml:"profile_url_template"`
	// StatusURLTemplate receives a post identifier.
	StatusURLTemplate string `yaml:"status_url_template"`
	Handle            string `yaml:"handle"`

	// Selectors for the compose flow.
	SelectorComposeBox  string `yaml:"selector_compose_box"`
	SelectorSubmit      string `yaml:"selector_submit"`
	SelectorReplyBox    string `yaml:"selector_reply_box"`
	SelectorAddSegment  string `yaml:"selector_add_segment"`
	SelectorErrorBanner string `yaml:"selector_error_banner"`
	SelectorPostLink    string `yaml:"selector_post_link"`

	// StatusURLPattern extracts a post identifier from a canonical URL.
	// Must contain exactly one capture group.
	StatusURLPattern string `yaml:"status_url_pattern"`
	// CreateResponsePattern matches the platform's own create-confirmation
	// network response and captures the identifier.
	CreateResponsePattern string `yaml:"create_response_pattern"`
	// CreateEndpointSubstring filters which network responses are worth
	// matching at all.
	CreateEndpointSubstring string `yaml:"create_endpoint_substring"`

	// MaxPostLength is the platform's per-post character limit, enforced
	// at the point of submission.
	MaxPostLength int `yaml:"max_post_length"`
}

// DefaultPlatformConfig targets a conventional micro-posting UI layout.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		BaseURL:                 "https://platform.example",
		ComposeURL:              "https://platform.example/compose/post",
		ProfileURLTemplate:      "https://platform.example/%s",
		StatusURLTemplate:       "https://platform.example/%s/status/%s",
		SelectorComposeBox:      "[data-testid='postTextarea']",
		SelectorSubmit:          "[data-testid='postButton']",
		SelectorReplyBox:        "[data-testid='replyTextarea']",
		SelectorAddSegment:      "[data-testid='addPostButton']",
		SelectorErrorBanner:     "[data-testid='toastError']",
		SelectorPostLink:        "article a[href*='/status/']",
		StatusURLPattern:        `/status/(\d+)`,
		CreateResponsePattern:   `"(?:rest_id|id_str)"\s*:\s*"(\d+)"`,
		CreateEndpointSubstring: "CreatePost",
		MaxPostLength:           280,
	}
}

// Validate checks the platform section.
func (p *PlatformConfig) Validate() error {
	if p.BaseURL == "" || p.ComposeURL == "" {
		return fmt.Errorf("platform base_url and compose_url required")
	}
	if !strings.Contains(p.ProfileURLTemplate, "%s") {
		return fmt.Errorf("profile_url_template must contain %%s for the handle")
	}
	if p.MaxPostLength < 1 {
		return fmt.Errorf("max_post_length must be >= 1")
	}
	for name, pattern := range map[string]string{
		"status_url_pattern":      p.StatusURLPattern,
		"create_response_pattern": p.CreateResponsePattern,
	} {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if re.NumSubexp() != 1 {
			return fmt.Errorf("%s must have exactly one capture group", name)
		}
	}
	return nil
}

// ProfileURL returns the account's own listing URL.
func (p *PlatformConfig) ProfileURL() string {
	return fmt.Sprintf(p.ProfileURLTemplate, p.Handle)
}

// StatusURL returns the canonical URL of one of the account's posts.
func (p *PlatformConfig) StatusURL(identifier string) string {
	return fmt.Sprintf(p.StatusURLTemplate, p.Handle, identifier)
}

// StatusURLRegexp returns the compiled identifier pattern. Call only
// after Validate.
func (p *PlatformConfig) StatusURLRegexp() *regexp.Regexp {
	return regexp.MustCompile(p.StatusURLPattern)
}

// CreateResponseRegexp returns the compiled network-response pattern.
func (p *PlatformConfig) CreateResponseRegexp() *regexp.Regexp {
	return regexp.MustCompile(p.CreateResponsePattern)
}
