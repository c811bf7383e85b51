// Package types holds the shared domain types for plume: post intents,
// outcomes, statuses, and the automation error taxonomy. It has no
// dependencies on the automation or storage layers so every other
// package can import it freely.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Confidence grades the evidence behind a captured platform identifier.
// Ordering matters: a Posted status requires ConfidenceMedium or better.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "none"
	}
}

// ParseConfidence converts a stored string back into a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh, nil
	case "medium":
		return ConfidenceMedium, nil
	case "low":
		return ConfidenceLow, nil
	case "none", "":
		return ConfidenceNone, nil
	}
	return ConfidenceNone, fmt.Errorf("unknown confidence: %q", s)
}

// Sufficient reports whether the confidence is strong enough to mark an
// intent posted.
func (c Confidence) Sufficient() bool {
	return c >= ConfidenceMedium
}

// IntentKind distinguishes the three publish shapes.
type IntentKind string

const (
	KindSingle IntentKind = "single"
	KindReply  IntentKind = "reply"
	KindThread IntentKind = "thread"
)

// ValidKind reports whether k is a known intent kind.
func ValidKind(k IntentKind) bool {
	switch k {
	case KindSingle, KindReply, KindThread:
		return true
	}
	return false
}

// StatusCode is the discriminant of an IntentStatus.
type StatusCode string

const (
	StatusQueued               StatusCode = "queued"
	StatusPosting              StatusCode = "posting"
	StatusPosted               StatusCode = "posted"
	StatusAwaitingConfirmation StatusCode = "awaiting_confirmation"
	StatusFailed               StatusCode = "failed"
)

// IntentStatus is a tagged status variant. Confidence is meaningful only
// for StatusPosted, Reason only for StatusFailed. Construct values through
// the helpers below so invalid combinations never reach the store.
type IntentStatus struct {
	Code       StatusCode
	Confidence Confidence
	Reason     string
}

func Queued() IntentStatus  { return IntentStatus{Code: StatusQueued} }
func Posting() IntentStatus { return IntentStatus{Code: StatusPosting} }

// Posted requires confidence medium or high; lower grades must go through
// AwaitingConfirmation instead.
func Posted(c Confidence) IntentStatus {
	return IntentStatus{Code: StatusPosted, Confidence: c}
}

func AwaitingConfirmation() IntentStatus {
	return IntentStatus{Code: StatusAwaitingConfirmation}
}

func Failed(reason string) IntentStatus {
	return IntentStatus{Code: StatusFailed, Reason: reason}
}

// Terminal reports whether the status can never transition again.
func (s IntentStatus) Terminal() bool {
	return s.Code == StatusPosted || s.Code == StatusFailed
}

// Validate enforces the variant rules at the store boundary.
func (s IntentStatus) Validate() error {
	switch s.Code {
	case StatusQueued, StatusPosting, StatusAwaitingConfirmation:
		if s.Confidence != ConfidenceNone {
			return fmt.Errorf("status %s cannot carry confidence", s.Code)
		}
		if s.Reason != "" {
			return fmt.Errorf("status %s cannot carry a failure reason", s.Code)
		}
	case StatusPosted:
		if !s.Confidence.Sufficient() {
			return fmt.Errorf("posted requires confidence >= medium, got %s", s.Confidence)
		}
	case StatusFailed:
		if s.Reason == "" {
			return fmt.Errorf("failed status requires a reason")
		}
	default:
		return fmt.Errorf("unknown status code: %q", s.Code)
	}
	return nil
}

func (s IntentStatus) String() string {
	switch s.Code {
	case StatusPosted:
		return fmt.Sprintf("posted(%s)", s.Confidence)
	case StatusFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return string(s.Code)
	}
}

// PostIntent is one logical request to publish a post, reply, or thread.
// The decision store owns the record; the scheduler transitions its status.
type PostIntent struct {
	DecisionID  string
	Segments    []string
	Kind        IntentKind
	TargetID    string // platform id of the post being replied to
	ScheduledAt time.Time
	Status      IntentStatus
	Identifier  string // platform-assigned id once captured
	Attempts    int
	LastURL     string    // last URL observed during submission, for post-hoc extraction
	CompletedAt time.Time // set once when the intent becomes platform-visible (posted or parked)
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks structural invariants before the intent enters the store.
func (p *PostIntent) Validate() error {
	if p.DecisionID == "" {
		return fmt.Errorf("intent missing decision id")
	}
	if !ValidKind(p.Kind) {
		return fmt.Errorf("intent %s: unknown kind %q", p.DecisionID, p.Kind)
	}
	if len(p.Segments) == 0 {
		return fmt.Errorf("intent %s: no payload segments", p.DecisionID)
	}
	if p.Kind != KindThread && len(p.Segments) != 1 {
		return fmt.Errorf("intent %s: kind %s requires exactly one segment", p.DecisionID, p.Kind)
	}
	if p.Kind == KindReply && p.TargetID == "" {
		return fmt.Errorf("intent %s: reply requires a target id", p.DecisionID)
	}
	return p.Status.Validate()
}

// ExtractionStrategy names which layer of the extractor chain produced an
// identifier.
type ExtractionStrategy string

const (
	StrategyNetwork     ExtractionStrategy = "network"
	StrategyURL         ExtractionStrategy = "url"
	StrategyProfile     ExtractionStrategy = "profile_scrape"
	StrategyContentHash ExtractionStrategy = "content_hash"
	StrategyNone        ExtractionStrategy = "none"
)

// ConfidenceFor maps a strategy to the confidence its match earns. The
// mapping is fixed: confidence is decided by which strategy matched first
// and is never upgraded afterwards.
func ConfidenceFor(s ExtractionStrategy) Confidence {
	switch s {
	case StrategyNetwork, StrategyURL:
		return ConfidenceHigh
	case StrategyProfile:
		return ConfidenceMedium
	case StrategyContentHash:
		return ConfidenceLow
	}
	return ConfidenceNone
}

// PostOutcome records the result of one intent. Immutable once written.
type PostOutcome struct {
	DecisionID string
	Identifier string
	Confidence Confidence
	Strategy   ExtractionStrategy
	Err        string
	RecordedAt time.Time
}

// CapturedResponse is one platform network response observed during or
// after submission.
type CapturedResponse struct {
	URL        string
	Status     int
	Body       string
	ReceivedAt time.Time
}

// ResponseLog provides point-in-time access to the live capture buffer.
// The extractor snapshots it again at each checkpoint because the
// confirming response may arrive seconds after the submit click.
type ResponseLog interface {
	Snapshot() []CapturedResponse
}

// RawConfirmation carries every signal the executor observed, however
// partial. It is handed to the extractor even when the interaction itself
// reported an error, because the post may have been accepted regardless.
type RawConfirmation struct {
	DecisionID  string
	Submitted   bool // the submit control was activated; resubmission is no longer safe
	FinalURL    string
	Responses   ResponseLog
	SubmittedAt time.Time
}

// Escalation is the alert emitted when an unresolved intent crosses the
// escalation threshold.
type Escalation struct {
	DecisionID     string
	AgeSeconds     int64
	LastKnownState StatusCode
	EmittedAt      time.Time
}
