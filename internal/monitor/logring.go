package monitor

import (
	"sync"
	"time"

	"github.com/dshills/furnace/internal/process"
)

// Log levels assigned to captured output lines.
const (
	// LevelInfo tags stdout lines.
	LevelInfo = "info"
	// LevelError tags stderr lines.
	LevelError = "error"
)

// levelFor maps a stream to its log level.
func levelFor(stream process.StreamID) string {
	if stream == process.Stderr {
		return LevelError
	}
	return LevelInfo
}

// LogEntry is one captured output line from a monitored process.
type LogEntry struct {
	// Time is when the line was read.
	Time time.Time

	// Stream is the originating stream.
	Stream process.StreamID

	// Level is "info" for stdout, "error" for stderr.
	Level string

	// Line is the output line without its trailing newline.
	Line string
}

// LogRing is a bounded ring buffer of log entries. When full, the
// oldest entry is evicted.
type LogRing struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// NewLogRing creates a ring buffer with the given capacity.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, evicting the oldest when full.
func (r *LogRing) Append(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.head + r.count) % r.capacity
	r.entries[idx] = e

	if r.count < r.capacity {
		r.count++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

// Last returns up to limit of the most recent entries in chronological
// order. A non-positive limit returns everything retained.
func (r *LogRing) Last(limit int) []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]LogEntry, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		idx := (r.head + start + i) % r.capacity
		out[i] = r.entries[idx]
	}
	return out
}

// Len returns the number of retained entries.
func (r *LogRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear empties the buffer.
func (r *LogRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}
