// Package transcript holds the call transcript model: immutable entries, the
// append-only buffer that accumulates them and the short live-caption view.
package transcript

import "sync"

type Speaker string

const SpeakerLocal Speaker = "local"

// RecentCaptionsSize bounds the live caption view.
const RecentCaptionsSize = 5

// Entry is one finalized recognition result. TimestampSeconds is relative to
// call join time, not wall clock.
type Entry struct {
	TimestampSeconds int     `json:"timestamp"`
	Speaker          Speaker `json:"speaker"`
	Text             string  `json:"text"`
}

// Buffer is the append-only, unbounded transcript of one call.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Last returns the most recent entry, if any.
func (b *Buffer) Last() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Entries returns a copy in append order.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Captions keeps the last RecentCaptionsSize entries for live display.
type Captions struct {
	mu    sync.RWMutex
	items []Entry
}

func NewCaptions() *Captions {
	return &Captions{items: make([]Entry, 0, RecentCaptionsSize)}
}

func (c *Captions) Push(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == RecentCaptionsSize {
		copy(c.items, c.items[1:])
		c.items = c.items[:RecentCaptionsSize-1]
	}
	c.items = append(c.items, e)
}

// Snapshot returns the captions oldest first.
func (c *Captions) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.items))
	copy(out, c.items)
	return out
}
