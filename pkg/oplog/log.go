// Package oplog provides the ordered, append-only operation log that every
// console operation reports into.
//
// Entries are immutable once appended. The only bulk mutation is Clear,
// which resets the sequence to empty.
package oplog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Class classifies a log entry.
type Class string

const (
	// ClassInfo is a neutral progress or status message.
	ClassInfo Class = "info"
	// ClassSuccess marks a settled operation that succeeded.
	ClassSuccess Class = "success"
	// ClassError marks a rejected or failed operation.
	ClassError Class = "error"
)

// TimestampLayout is the wall-clock layout used for Entry.Timestamp.
const TimestampLayout = "15:04:05"

// Entry is a single log record.
type Entry struct {
	// ID is unique per entry: creation time in milliseconds plus a random tiebreaker.
	ID string `json:"id"`
	// Timestamp is the human-readable wall-clock creation time.
	Timestamp string `json:"time"`
	// Time is the exact creation time.
	Time time.Time `json:"-"`
	// Class is the entry classification.
	Class Class `json:"type"`
	// Body is plain text, possibly interleaved with complete JSON fragments.
	Body string `json:"content"`
}

// Log is an in-memory ordered sequence of entries.
// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	subs    map[int]func(Entry)
	nextSub int

	// deliver serializes append+notify so subscribers observe entries in log order.
	deliver sync.Mutex

	now func() time.Time
}

// New creates an empty log.
func New() *Log {
	return &Log{
		subs: make(map[int]func(Entry)),
		now:  time.Now,
	}
}

// Append adds an entry with the given body and class and returns it.
// An empty class is recorded as ClassInfo.
func (l *Log) Append(body string, class Class) Entry {
	if class == "" {
		class = ClassInfo
	}

	l.deliver.Lock()
	defer l.deliver.Unlock()

	now := l.now()
	entry := Entry{
		ID:        newEntryID(now),
		Timestamp: now.Format(TimestampLayout),
		Time:      now,
		Class:     class,
		Body:      body,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	subs := make([]func(Entry), 0, len(l.subs))
	for i := 0; i < l.nextSub; i++ {
		if fn, ok := l.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}

	return entry
}

// Info appends an info entry.
func (l *Log) Info(body string) Entry { return l.Append(body, ClassInfo) }

// Success appends a success entry.
func (l *Log) Success(body string) Entry { return l.Append(body, ClassSuccess) }

// Error appends an error entry.
func (l *Log) Error(body string) Entry { return l.Append(body, ClassError) }

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry.
func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Clear removes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Subscribe registers fn to be called, in log order, for every entry appended
// after the call. The returned function removes the subscription.
func (l *Log) Subscribe(fn func(Entry)) (cancel func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func newEntryID(t time.Time) string {
	tiebreak := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
	return fmt.Sprintf("%d-%s", t.UnixMilli(), tiebreak)
}
