// Package journal records one entry per completed pipeline session.
//
// The journal is an append-only history of what was heard and what was
// answered. It exists for debugging and for the "what did I ask earlier"
// kind of inspection; the pipeline never reads it back. Three stores are
// provided: [MemoryStore] for tests and ephemeral runs, [FileStore] for JSON
// lines on disk, and the postgres subpackage for a shared database.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("journal: store closed")

// Outcome values describe how a session ended.
const (
	OutcomeCompleted = "completed"
	OutcomeNoSpeech  = "no_speech"
	OutcomeAborted   = "aborted"
)

// Entry is the journal record of one session.
type Entry struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Outcome   string    `json:"outcome"`

	WakePhrase     string  `json:"wake_phrase"`
	WakeConfidence float64 `json:"wake_confidence"`

	// Transcript fields are empty when recognition failed.
	Transcript           string  `json:"transcript"`
	Engine               string  `json:"engine,omitempty"`
	TranscriptConfidence float64 `json:"transcript_confidence"`

	Intent   string            `json:"intent,omitempty"`
	Entities map[string]string `json:"entities,omitempty"`
	Success  bool              `json:"success"`
	Message  string            `json:"message"`

	CaptureDuration    time.Duration `json:"capture_duration"`
	RecognitionLatency time.Duration `json:"recognition_latency"`
	TotalDuration      time.Duration `json:"total_duration"`
}

// Store persists journal entries. Implementations must be safe for concurrent
// use.
type Store interface {
	// Append adds one entry.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Close releases the store.
	Close() error
}

// DefaultMemoryCapacity bounds a [MemoryStore] created with capacity <= 0.
const DefaultMemoryCapacity = 256

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the most recent entries in memory. Once full, the oldest
// entry is discarded.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	closed   bool
}

// NewMemoryStore returns a MemoryStore holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.entries) == s.capacity {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, e)
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.entries, limit), nil
}

// Close implements [Store].
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// newestFirst returns up to limit entries from the tail of entries in reverse
// order. A limit <= 0 returns all of them.
func newestFirst(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out
}
