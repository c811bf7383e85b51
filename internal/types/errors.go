package types

import (
	"errors"
	"fmt"
)

// Automation errors are classified, returned values. Nothing in the
// automation layer retries on its own; the scheduler's policy layer makes
// every retry and backoff decision from the classification alone.

// TransientError marks an interaction failure worth retrying. When
// NeedsNewSession is set the session that produced it should not be
// reused (navigation wedged, context corrupted).
type TransientError struct {
	Op              string
	NeedsNewSession bool
	Err             error
}

func (e *TransientError) Error() string {
	scope := "same session"
	if e.NeedsNewSession {
		scope = "new session"
	}
	return fmt.Sprintf("transient automation error in %s (retry %s): %v", e.Op, scope, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a platform rejection of the content itself. No retry:
// resubmitting the same payload will be rejected again.
type FatalError struct {
	Op     string
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal automation error in %s: %s", e.Op, e.Reason)
}

// Sentinel errors consumed by the scheduler's policy layer.
var (
	// ErrExtractionAmbiguous: no extraction strategy matched. The intent
	// enters awaiting-confirmation; it is not a terminal failure.
	ErrExtractionAmbiguous = errors.New("no identifier extraction strategy matched")

	// ErrRateLimited: the rolling-window posting cap is reached. The
	// intent stays queued and is rescheduled.
	ErrRateLimited = errors.New("posting rate cap reached")

	// ErrSessionExhausted: the session pool is saturated and the caller's
	// wait budget expired. Back off; do not fail the intent.
	ErrSessionExhausted = errors.New("session pool exhausted")
)

// IsRetryable reports whether the error is a transient automation error.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether the platform rejected the content outright.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// NeedsNewSession reports whether the failing session should be discarded
// before retrying.
func NeedsNewSession(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return te.NeedsNewSession
	}
	return false
}
