// Package chat keeps the in-memory conversation history.
package chat

import (
	"sync"
	"time"

	"github.com/huddle-live/huddle/internal/domain"
)

// DefaultBufferSize is the default number of entries to keep in memory.
const DefaultBufferSize = 100

type Kind string

const (
	KindMessage Kind = "message"
	KindFile    Kind = "file"
)

// Entry is one chat message or shared file reference.
// Payload encoding stays with the external collaborator; we only
// carry the opaque ref.
type Entry struct {
	From     domain.PeerID `json:"from"`
	FromName string        `json:"from_name"`
	Kind     Kind          `json:"kind"`
	Body     string        `json:"body,omitempty"`
	FileName string        `json:"file_name,omitempty"`
	FileSize int64         `json:"file_size,omitempty"`
	FileRef  string        `json:"file_ref,omitempty"`
	At       time.Time     `json:"at"`
}

// Log is a bounded append-only history. Oldest entries are dropped
// once the buffer is full.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultBufferSize
	}
	return &Log{max: max}
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
