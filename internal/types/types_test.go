package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfidenceOrdering(t *testing.T) {
	if !(ConfidenceNone < ConfidenceLow && ConfidenceLow < ConfidenceMedium && ConfidenceMedium < ConfidenceHigh) {
		t.Fatal("confidence ordering broken")
	}
	if ConfidenceLow.Sufficient() {
		t.Error("low confidence must not be sufficient for posted")
	}
	if !ConfidenceMedium.Sufficient() || !ConfidenceHigh.Sufficient() {
		t.Error("medium and high confidence must be sufficient for posted")
	}
}

func TestParseConfidenceRoundTrip(t *testing.T) {
	for _, c := range []Confidence{ConfidenceNone, ConfidenceLow, ConfidenceMedium, ConfidenceHigh} {
		got, err := ParseConfidence(c.String())
		if err != nil {
			t.Fatalf("ParseConfidence(%q): %v", c.String(), err)
		}
		if got != c {
			t.Errorf("ParseConfidence(%q) = %v, want %v", c.String(), got, c)
		}
	}
	if _, err := ParseConfidence("definitely"); err == nil {
		t.Error("expected error for unknown confidence")
	}
}

func TestConfidenceForStrategy(t *testing.T) {
	tests := []struct {
		strategy ExtractionStrategy
		want     Confidence
	}{
		{StrategyNetwork, ConfidenceHigh},
		{StrategyURL, ConfidenceHigh},
		{StrategyProfile, ConfidenceMedium},
		{StrategyContentHash, ConfidenceLow},
		{StrategyNone, ConfidenceNone},
	}
	for _, tt := range tests {
		if got := ConfidenceFor(tt.strategy); got != tt.want {
			t.Errorf("ConfidenceFor(%s) = %s, want %s", tt.strategy, got, tt.want)
		}
	}
}

func TestIntentStatusValidate(t *testing.T) {
	tests := []struct {
		name    string
		status  IntentStatus
		wantErr bool
	}{
		{"queued", Queued(), false},
		{"posting", Posting(), false},
		{"awaiting", AwaitingConfirmation(), false},
		{"posted high", Posted(ConfidenceHigh), false},
		{"posted medium", Posted(ConfidenceMedium), false},
		{"posted low rejected", Posted(ConfidenceLow), true},
		{"posted none rejected", Posted(ConfidenceNone), true},
		{"failed with reason", Failed("platform rejected"), false},
		{"failed without reason", IntentStatus{Code: StatusFailed}, true},
		{"queued with confidence", IntentStatus{Code: StatusQueued, Confidence: ConfidenceHigh}, true},
		{"unknown code", IntentStatus{Code: "exploded"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.status.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntentStatusTerminal(t *testing.T) {
	if Queued().Terminal() || Posting().Terminal() || AwaitingConfirmation().Terminal() {
		t.Error("non-terminal statuses reported terminal")
	}
	if !Posted(ConfidenceHigh).Terminal() || !Failed("x").Terminal() {
		t.Error("terminal statuses reported non-terminal")
	}
}

func TestPostIntentValidate(t *testing.T) {
	base := func() *PostIntent {
		return &PostIntent{
			DecisionID: "d1",
			Segments:   []string{"hello"},
			Kind:       KindSingle,
			Status:     Queued(),
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid intent rejected: %v", err)
	}

	missing := base()
	missing.DecisionID = ""
	if err := missing.Validate(); err == nil {
		t.Error("missing decision id accepted")
	}

	reply := base()
	reply.Kind = KindReply
	if err := reply.Validate(); err == nil {
		t.Error("reply without target accepted")
	}
	reply.TargetID = "1001"
	if err := reply.Validate(); err != nil {
		t.Errorf("valid reply rejected: %v", err)
	}

	multi := base()
	multi.Segments = []string{"a", "b"}
	if err := multi.Validate(); err == nil {
		t.Error("multi-segment single accepted")
	}
	multi.Kind = KindThread
	if err := multi.Validate(); err != nil {
		t.Errorf("valid thread rejected: %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	transient := &TransientError{Op: "submit", Err: fmt.Errorf("element not found")}
	wrapped := fmt.Errorf("execute intent: %w", transient)

	if !IsRetryable(wrapped) {
		t.Error("wrapped transient error not recognised as retryable")
	}
	if NeedsNewSession(wrapped) {
		t.Error("same-session transient flagged as needing new session")
	}

	stuck := fmt.Errorf("execute: %w", &TransientError{Op: "navigate", NeedsNewSession: true, Err: errors.New("timeout")})
	if !NeedsNewSession(stuck) {
		t.Error("new-session transient not recognised")
	}

	fatal := fmt.Errorf("execute: %w", &FatalError{Op: "submit", Reason: "duplicate content"})
	if IsRetryable(fatal) {
		t.Error("fatal error reported retryable")
	}
	if !IsFatal(fatal) {
		t.Error("fatal error not recognised")
	}
}
