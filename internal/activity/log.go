// Package activity provides the append-only, time-ordered log of domain
// events for one broadcast session.
package activity

import (
	"sync"
	"time"

	"kanzelcast/internal/types"
)

// Activity is one entry in a session's log. Entries are never mutated or
// deleted after Append.
type Activity struct {
	Timestamp time.Time          `json:"timestamp"`
	Type      types.ActivityType `json:"type"`
	Message   string             `json:"message,omitempty"`
}

// Log is an append-only activity log. Safe for concurrent use. Timestamps
// are strictly non-decreasing in append order, so the read contract
// (ordering by timestamp) always reflects transition order.
type Log struct {
	mu      sync.RWMutex
	entries []Activity

	// now is swappable for tests.
	now func() time.Time
}

// NewLog creates an empty activity log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Restore rebuilds a log from previously exported entries, keeping their
// original timestamps. Entries are copied.
func Restore(entries []Activity) *Log {
	l := NewLog()
	l.entries = make([]Activity, len(entries))
	copy(l.entries, entries)
	return l
}

// Append records one activity with the current timestamp and returns it.
// If the clock reads earlier than the last entry, the last entry's
// timestamp is reused so ordering never inverts.
func (l *Log) Append(t types.ActivityType, message string) Activity {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	if n := len(l.entries); n > 0 && ts.Before(l.entries[n-1].Timestamp) {
		ts = l.entries[n-1].Timestamp
	}

	entry := Activity{Timestamp: ts, Type: t, Message: message}
	l.entries = append(l.entries, entry)
	return entry
}

// All returns a copy of every entry in append order.
func (l *Log) All() []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Activity, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry, or false if the log is empty.
func (l *Log) Last() (Activity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Activity{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// ByType returns every entry of the given type in append order.
func (l *Log) ByType(t types.ActivityType) []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Activity
	for _, e := range l.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Since returns every entry with Timestamp >= cutoff in append order.
func (l *Log) Since(cutoff time.Time) []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Activity
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
