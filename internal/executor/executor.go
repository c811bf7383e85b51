// Package executor drives the platform UI for one intent at a time:
// open the compose surface, type the payload, submit, and report every
// signal observed along the way. It never decides whether the post
// succeeded; that is the extractor's job.
package executor

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"plume/internal/browser"
	"plume/internal/config"
	"plume/internal/logging"
	"plume/internal/types"
)

// Driver abstracts the individual UI steps so tests can run the full
// execute flow without a browser. RodDriver is the production
// implementation.
type Driver interface {
	// OpenComposer navigates the session to the compose surface.
	OpenComposer(ctx context.Context, s *browser.Session) error
	// OpenTarget navigates to the post being replied to and focuses its
	// reply box.
	OpenTarget(ctx context.Context, s *browser.Session, targetID string) error
	// EnterSegment types one payload segment. For threads, index > 0
	// adds a chained segment to the draft before typing.
	EnterSegment(ctx context.Context, s *browser.Session, index int, text string) error
	// Submit activates the submit control. After Submit returns without
	// error the payload may have reached the platform even if every
	// later step fails.
	Submit(ctx context.Context, s *browser.Session) error
	// CurrentURL reports the page URL after submission settles.
	CurrentURL(s *browser.Session) string
	// RejectionBanner reports the platform's error banner text, if one
	// is showing.
	RejectionBanner(s *browser.Session) (string, bool)
}

// Hooks are sequencing points around each UI action. Observers such as
// the follower snapshotter attach here so their reads are ordered
// against posting activity.
type Hooks struct {
	BeforeAction   func(intent *types.PostIntent)
	ActionComplete func(intent *types.PostIntent, raw *types.RawConfirmation, err error)
}

// Executor performs the compose-and-submit interaction for an intent on
// a borrowed session.
type Executor struct {
	cfg      config.ExecutorConfig
	platform config.PlatformConfig
	driver   Driver
	hooks    Hooks
}

// New creates an executor with the production rod driver.
func New(cfg config.ExecutorConfig, platform config.PlatformConfig) *Executor {
	return NewWithDriver(cfg, platform, &RodDriver{cfg: cfg, platform: platform})
}

// NewWithDriver creates an executor with a custom driver, for tests.
func NewWithDriver(cfg config.ExecutorConfig, platform config.PlatformConfig, driver Driver) *Executor {
	return &Executor{cfg: cfg, platform: platform, driver: driver}
}

// SetHooks installs the action hooks. Call before the first Execute.
func (e *Executor) SetHooks(h Hooks) { e.hooks = h }

// Execute runs the full interaction for one intent. It always returns a
// RawConfirmation, even alongside an error: partial signal (an armed
// capture buffer, a final URL, the submitted flag) is exactly what the
// extractor and the reconciler need when the interaction went sideways.
//
// The returned error is classified: *types.FatalError for platform
// rejections, *types.TransientError otherwise, with NeedsNewSession set
// when the failing session should be discarded.
func (e *Executor) Execute(ctx context.Context, s *browser.Session, intent *types.PostIntent) (*types.RawConfirmation, error) {
	raw := &types.RawConfirmation{
		DecisionID: intent.DecisionID,
		Responses:  s.Capture(),
	}

	if e.hooks.BeforeAction != nil {
		e.hooks.BeforeAction(intent)
	}
	var finalErr error
	defer func() {
		if e.hooks.ActionComplete != nil {
			e.hooks.ActionComplete(intent, raw, finalErr)
		}
	}()

	// Length is enforced here, at the point of submission, not at
	// enqueue time: the configured limit may have changed since the
	// intent was queued.
	for i, seg := range intent.Segments {
		if n := utf8.RuneCountInString(seg); n > e.platform.MaxPostLength {
			finalErr = &types.FatalError{
				Op:     "length check",
				Reason: fmt.Sprintf("segment %d is %d chars, platform limit is %d", i, n, e.platform.MaxPostLength),
			}
			return raw, finalErr
		}
	}

	// Arm the capture before any UI step so the confirming response
	// cannot slip past between submit and observation.
	if err := s.Capture().Arm(ctx, s.Page(), e.platform.CreateEndpointSubstring); err != nil {
		logging.Executor("capture arm failed for %s: %v", intent.DecisionID, err)
	}

	timer := logging.StartTimer(logging.CategoryExecutor, fmt.Sprintf("execute %s", intent.DecisionID))
	defer timer.Stop()

	if intent.Kind == types.KindReply {
		if err := e.driver.OpenTarget(ctx, s, intent.TargetID); err != nil {
			finalErr = &types.TransientError{Op: "open target", NeedsNewSession: true, Err: err}
			return raw, finalErr
		}
	} else {
		if err := e.driver.OpenComposer(ctx, s); err != nil {
			finalErr = &types.TransientError{Op: "open composer", NeedsNewSession: true, Err: err}
			return raw, finalErr
		}
	}

	for i, seg := range intent.Segments {
		if err := e.driver.EnterSegment(ctx, s, i, seg); err != nil {
			finalErr = &types.TransientError{Op: fmt.Sprintf("enter segment %d", i), Err: err}
			return raw, finalErr
		}
	}

	if err := e.driver.Submit(ctx, s); err != nil {
		// The click itself failed; the draft never left the composer.
		finalErr = &types.TransientError{Op: "submit", Err: err}
		return raw, finalErr
	}
	raw.Submitted = true
	raw.SubmittedAt = time.Now()

	select {
	case <-time.After(e.cfg.SubmitSettle()):
	case <-ctx.Done():
		// The payload is already in flight. Report what was observed;
		// the caller must treat the outcome as unknown, not failed.
		raw.FinalURL = e.driver.CurrentURL(s)
		finalErr = &types.TransientError{Op: "post-submit settle", Err: ctx.Err()}
		return raw, finalErr
	}

	if reason, ok := e.driver.RejectionBanner(s); ok {
		finalErr = &types.FatalError{Op: "submit", Reason: reason}
		logging.Executor("platform rejected %s: %s", intent.DecisionID, reason)
		return raw, finalErr
	}

	raw.FinalURL = e.driver.CurrentURL(s)
	logging.ExecutorDebug("submitted %s, final url %s", intent.DecisionID, raw.FinalURL)
	return raw, nil
}
