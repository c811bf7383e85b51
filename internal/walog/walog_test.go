package walog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAppendAndVerify(t *testing.T) {
	l, _ := openTestLog(t)

	if err := l.Append("d1", PayloadHash([]string{"hello"})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append("d2", PayloadHash([]string{"world"})); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got := len(l.Unverified(time.Time{})); got != 2 {
		t.Fatalf("unverified = %d, want 2", got)
	}

	if err := l.MarkVerified("d1"); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	recs := l.Unverified(time.Time{})
	if len(recs) != 1 || recs[0].DecisionID != "d2" {
		t.Fatalf("unverified after verify = %+v", recs)
	}

	// Verifying twice is a no-op, verifying an unknown id errors.
	if err := l.MarkVerified("d1"); err != nil {
		t.Errorf("second MarkVerified: %v", err)
	}
	if err := l.MarkVerified("ghost"); err == nil {
		t.Error("MarkVerified on unknown id should error")
	}
}

func TestReplayAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append("d1", "h1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("d2", "h2"); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkVerified("d1"); err != nil {
		t.Fatal(err)
	}
	l.Close()

	// Simulates the crash-recovery path: state must come back from the
	// file alone.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	recs := reopened.Unverified(time.Time{})
	if len(recs) != 1 || recs[0].DecisionID != "d2" || recs[0].PayloadHash != "h2" {
		t.Fatalf("replayed state = %+v", recs)
	}
}

func TestReplayToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append("d1", "h1"); err != nil {
		t.Fatal(err)
	}
	l.Close()

	// A crash mid-write leaves a truncated final line.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"event":"begin","decision_id":"d2","payl`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with torn tail: %v", err)
	}
	defer reopened.Close()

	recs := reopened.Unverified(time.Time{})
	if len(recs) != 1 || recs[0].DecisionID != "d1" {
		t.Fatalf("torn tail corrupted replay: %+v", recs)
	}
}

func TestUnverifiedCutoff(t *testing.T) {
	l, _ := openTestLog(t)
	if err := l.Append("d1", "h1"); err != nil {
		t.Fatal(err)
	}

	// The record was created just now, so an old cutoff excludes it.
	if got := len(l.Unverified(time.Now().Add(-time.Hour))); got != 0 {
		t.Errorf("young record returned for old cutoff: %d", got)
	}
	if got := len(l.Unverified(time.Now().Add(time.Hour))); got != 1 {
		t.Errorf("record missing for future cutoff: %d", got)
	}
}

func TestCompactDropsVerified(t *testing.T) {
	l, path := openTestLog(t)
	for _, id := range []string{"d1", "d2", "d3"} {
		if err := l.Append(id, "h-"+id); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.MarkVerified("d1"); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkVerified("d3"); err != nil {
		t.Fatal(err)
	}

	if err := l.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "d1") || strings.Contains(string(data), "d3") {
		t.Error("compacted file retains verified records")
	}
	if !strings.Contains(string(data), "d2") {
		t.Error("compacted file lost live record")
	}

	// The log must remain appendable after compaction.
	if err := l.Append("d4", "h4"); err != nil {
		t.Fatalf("append after compact: %v", err)
	}
	if got := len(l.Unverified(time.Time{})); got != 2 {
		t.Errorf("unverified after compact+append = %d, want 2", got)
	}
}

func TestPayloadHashStable(t *testing.T) {
	a := PayloadHash([]string{"one", "two"})
	b := PayloadHash([]string{"one", "two"})
	if a != b {
		t.Error("hash not deterministic")
	}
	if PayloadHash([]string{"one two"}) == a {
		t.Error("segment boundaries must affect the hash")
	}
	if PayloadHash([]string{" one ", "two"}) != a {
		t.Error("surrounding whitespace must not affect the hash")
	}
}
