// Package journal records swap lifecycle events in a hash-chained,
// append-only log.
//
// Each entry is chained to its predecessor by SHA-256, so an operator can
// prove after the fact how a swap reached its terminal state and that no
// transition was inserted or removed.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType categorizes a journal entry.
type EventType string

const (
	EventTransition EventType = "TRANSITION"
	EventEscrow     EventType = "ESCROW"
	EventRetry      EventType = "RETRY"
)

// Entry is an immutable, hash-chained journal record.
type Entry struct {
	Sequence    uint64            `json:"sequence"`
	SwapID      string            `json:"swap_id"`
	Type        EventType         `json:"type"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
	ContentHash string            `json:"content_hash"`
	PrevHash    string            `json:"prev_hash"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Journal is an append-only, hash-chained event log shared by all swaps a
// coordinator drives.
type Journal struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

func New() *Journal {
	return &Journal{
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

type hashInput struct {
	Seq    uint64            `json:"seq"`
	SwapID string            `json:"swap_id"`
	Type   EventType         `json:"type"`
	From   string            `json:"from"`
	To     string            `json:"to"`
	Detail map[string]string `json:"detail"`
	Prev   string            `json:"prev"`
}

func contentHash(in hashInput) (string, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal journal entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append adds an entry. Returns the sequence number.
func (j *Journal) Append(swapID string, typ EventType, from, to string, detail map[string]string) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := uint64(len(j.entries)) + 1
	hash, err := contentHash(hashInput{seq, swapID, typ, from, to, detail, j.headHash})
	if err != nil {
		return 0, err
	}

	j.entries = append(j.entries, Entry{
		Sequence:    seq,
		SwapID:      swapID,
		Type:        typ,
		From:        from,
		To:          to,
		Detail:      detail,
		ContentHash: hash,
		PrevHash:    j.headHash,
		Timestamp:   j.clock(),
	})
	j.headHash = hash
	return seq, nil
}

// EntriesFor returns every entry recorded for one swap, in order.
func (j *Journal) EntriesFor(swapID string) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Entry
	for _, e := range j.entries {
		if e.SwapID == swapID {
			out = append(out, e)
		}
	}
	return out
}

// Length returns the number of entries.
func (j *Journal) Length() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Head returns the current head hash.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headHash
}

// Verify walks the full chain and reports the first break, if any.
func (j *Journal) Verify() (bool, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prev := "genesis"
	for i, e := range j.entries {
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := contentHash(hashInput{e.Sequence, e.SwapID, e.Type, e.From, e.To, e.Detail, e.PrevHash})
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return true, "chain verified"
}
