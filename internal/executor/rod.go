package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"plume/internal/browser"
	"plume/internal/config"
)

// RodDriver performs the UI steps against a live page. Every lookup is
// bounded by the configured element timeout so a redesigned DOM shows up
// as a classified transient error, not a hang.
type RodDriver struct {
	cfg      config.ExecutorConfig
	platform config.PlatformConfig
}

// NewRodDriver creates the production driver.
func NewRodDriver(cfg config.ExecutorConfig, platform config.PlatformConfig) *RodDriver {
	return &RodDriver{cfg: cfg, platform: platform}
}

func (d *RodDriver) page(ctx context.Context, s *browser.Session) *rod.Page {
	return s.Page().Context(ctx)
}

func (d *RodDriver) OpenComposer(ctx context.Context, s *browser.Session) error {
	p := d.page(ctx, s)
	if err := p.Timeout(d.cfg.ElementTimeout()).Navigate(d.platform.ComposeURL); err != nil {
		return fmt.Errorf("navigate to composer: %w", err)
	}
	if err := p.Timeout(d.cfg.ElementTimeout()).WaitLoad(); err != nil {
		return fmt.Errorf("composer load: %w", err)
	}
	if _, err := p.Timeout(d.cfg.ElementTimeout()).Element(d.platform.SelectorComposeBox); err != nil {
		return fmt.Errorf("compose box %q: %w", d.platform.SelectorComposeBox, err)
	}
	return nil
}

func (d *RodDriver) OpenTarget(ctx context.Context, s *browser.Session, targetID string) error {
	p := d.page(ctx, s)
	url := d.platform.StatusURL(targetID)
	if err := p.Timeout(d.cfg.ElementTimeout()).Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := p.Timeout(d.cfg.ElementTimeout()).WaitLoad(); err != nil {
		return fmt.Errorf("target load: %w", err)
	}
	box, err := p.Timeout(d.cfg.ElementTimeout()).Element(d.platform.SelectorReplyBox)
	if err != nil {
		return fmt.Errorf("reply box %q: %w", d.platform.SelectorReplyBox, err)
	}
	return box.Click(proto.InputMouseButtonLeft, 1)
}

func (d *RodDriver) EnterSegment(ctx context.Context, s *browser.Session, index int, text string) error {
	p := d.page(ctx, s)

	if index > 0 {
		add, err := p.Timeout(d.cfg.ElementTimeout()).Element(d.platform.SelectorAddSegment)
		if err != nil {
			return fmt.Errorf("add-segment control %q: %w", d.platform.SelectorAddSegment, err)
		}
		if err := add.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("add segment: %w", err)
		}
	}

	boxes, err := p.Timeout(d.cfg.ElementTimeout()).Elements(d.platform.SelectorComposeBox)
	if err != nil || len(boxes) == 0 {
		// Reply flows expose a differently tagged box.
		box, rerr := p.Timeout(d.cfg.ElementTimeout()).Element(d.platform.SelectorReplyBox)
		if rerr != nil {
			return fmt.Errorf("no compose box for segment %d: %w", index, err)
		}
		return d.typeInto(box, text)
	}
	// Thread drafts stack boxes; the newest is the active one.
	return d.typeInto(boxes[len(boxes)-1], text)
}

func (d *RodDriver) typeInto(el *rod.Element, text string) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	// A brief pause lets the platform's input handlers attach before
	// text lands.
	time.Sleep(time.Duration(d.cfg.TypeDelayMs) * time.Millisecond)
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	return nil
}

func (d *RodDriver) Submit(ctx context.Context, s *browser.Session) error {
	p := d.page(ctx, s)
	btn, err := p.Timeout(d.cfg.ElementTimeout()).Element(d.platform.SelectorSubmit)
	if err != nil {
		return fmt.Errorf("submit control %q: %w", d.platform.SelectorSubmit, err)
	}
	return btn.Click(proto.InputMouseButtonLeft, 1)
}

func (d *RodDriver) CurrentURL(s *browser.Session) string {
	info, err := s.Page().Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// RejectionBanner probes briefly for the platform's error toast. Absence
// is the normal case, so the probe timeout is short and independent from
// the element timeout.
func (d *RodDriver) RejectionBanner(s *browser.Session) (string, bool) {
	el, err := s.Page().Timeout(time.Second).Element(d.platform.SelectorErrorBanner)
	if err != nil {
		return "", false
	}
	text, err := el.Text()
	if err != nil || text == "" {
		return "", false
	}
	return text, true
}

var _ Driver = (*RodDriver)(nil)
