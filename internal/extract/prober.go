package extract

import (
	"context"
	"fmt"

	"plume/internal/browser"
	"plume/internal/config"
)

// SessionProber fetches the profile listing through a borrowed browser
// session. Each call re-navigates so the listing reflects the platform's
// current index, not a cached render.
type SessionProber struct {
	session  *browser.Session
	platform config.PlatformConfig
}

// NewSessionProber wraps a session for listing scrapes. The caller keeps
// ownership of the session and releases it to the pool afterwards.
func NewSessionProber(s *browser.Session, platform config.PlatformConfig) *SessionProber {
	return &SessionProber{session: s, platform: platform}
}

func (p *SessionProber) ProfileHTML(ctx context.Context) (string, error) {
	page := p.session.Page()
	if page == nil {
		return "", fmt.Errorf("session has no page")
	}
	page = page.Context(ctx)

	url := p.platform.ProfileURL()
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("profile load: %w", err)
	}
	// Wait for at least one rendered post before reading the DOM; the
	// listing hydrates after the document load event.
	if _, err := page.Element(p.platform.SelectorPostLink); err != nil {
		return "", fmt.Errorf("listing entries: %w", err)
	}
	return page.HTML()
}

var _ Prober = (*SessionProber)(nil)
