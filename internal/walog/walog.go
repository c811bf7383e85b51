// Package walog implements the durable write-ahead log for post
// submissions. Every record is appended and fsynced before any
// platform-visible action, so a crash between submission and
// confirmation always leaves enough evidence to reconcile against the
// platform afterwards.
//
// The log is a local append-only JSONL file. State is rebuilt by replay
// on open; a "verified" entry for a decision id supersedes its "begin"
// entry. Compact rewrites the file keeping only live records.
package walog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"plume/internal/logging"
)

// Record is one write-ahead entry for a pending submission.
type Record struct {
	DecisionID  string    `json:"decision_id"`
	PayloadHash string    `json:"payload_hash"`
	CreatedAt   time.Time `json:"created_at"`
	Verified    bool      `json:"-"`
}

type entry struct {
	Event       string    `json:"event"` // begin | verified
	DecisionID  string    `json:"decision_id"`
	PayloadHash string    `json:"payload_hash,omitempty"`
	At          time.Time `json:"at"`
}

// Log is the append-only write-ahead log, keyed by decision id.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	records map[string]*Record
}

// Open opens (creating if needed) the log at path and replays it.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}

	l := &Log{path: path, records: make(map[string]*Record)}
	if err := l.replay(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	l.file = file

	logging.Store("write-ahead log open: %s (%d live records)", path, len(l.unverifiedLocked(time.Time{})))
	return l, nil
}

func (l *Log) replay() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("replay wal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// A torn final line from a crash is expected; anything else
			// is worth a warning but must not block recovery.
			logging.Get(logging.CategoryStore).Warn("wal line %d unreadable: %v", line, err)
			continue
		}
		switch e.Event {
		case "begin":
			l.records[e.DecisionID] = &Record{
				DecisionID:  e.DecisionID,
				PayloadHash: e.PayloadHash,
				CreatedAt:   e.At,
			}
		case "verified":
			if rec, ok := l.records[e.DecisionID]; ok {
				rec.Verified = true
			}
		}
	}
	return scanner.Err()
}

// Append durably records that a submission for the intent is about to
// happen. It returns only after the entry is fsynced. Appending the same
// decision id again reopens it (a retry after a safe abort).
func (l *Log) Append(decisionID, payloadHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if err := l.writeLocked(entry{Event: "begin", DecisionID: decisionID, PayloadHash: payloadHash, At: now}); err != nil {
		return err
	}
	l.records[decisionID] = &Record{DecisionID: decisionID, PayloadHash: payloadHash, CreatedAt: now}
	return nil
}

// MarkVerified records that the submission's outcome is settled: either a
// confirmed identifier with sufficient confidence, or a definitive
// negative signal (platform rejection, nothing ever submitted).
func (l *Log) MarkVerified(decisionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[decisionID]
	if !ok {
		return fmt.Errorf("wal: no record for %s", decisionID)
	}
	if rec.Verified {
		return nil
	}
	if err := l.writeLocked(entry{Event: "verified", DecisionID: decisionID, At: time.Now().UTC()}); err != nil {
		return err
	}
	rec.Verified = true
	return nil
}

func (l *Log) writeLocked(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	return nil
}

// Unverified returns records created before the cutoff that have no
// verified marker. A zero cutoff returns all unverified records.
func (l *Log) Unverified(olderThan time.Time) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unverifiedLocked(olderThan)
}

func (l *Log) unverifiedLocked(olderThan time.Time) []Record {
	var out []Record
	for _, rec := range l.records {
		if rec.Verified {
			continue
		}
		if !olderThan.IsZero() && !rec.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Compact rewrites the log keeping only unverified records. Safe to call
// periodically; the write is atomic via rename.
func (l *Log) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmp := l.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("wal compact: %w", err)
	}

	kept := make(map[string]*Record)
	for id, rec := range l.records {
		if rec.Verified {
			continue
		}
		e := entry{Event: "begin", DecisionID: rec.DecisionID, PayloadHash: rec.PayloadHash, At: rec.CreatedAt}
		data, err := json.Marshal(e)
		if err != nil {
			file.Close()
			return err
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			return fmt.Errorf("wal compact write: %w", err)
		}
		kept[id] = rec
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("wal compact sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("wal compact rename: %w", err)
	}
	reopened, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("wal reopen after compact: %w", err)
	}
	l.file = reopened
	l.records = kept

	logging.StoreDebug("wal compacted: %d live records", len(kept))
	return nil
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// PayloadHash produces the canonical hash of an intent payload used to
// match write-ahead records against observed platform content.
func PayloadHash(segments []string) string {
	h := sha256.New()
	for _, s := range segments {
		h.Write([]byte(strings.TrimSpace(s)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
